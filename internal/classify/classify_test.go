package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jward/understory/internal/symtab"
)

func TestClassify_ContextMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		ctx  symtab.SyntacticContext
		want DependencyKind
	}{
		{symtab.ContextInherit, KindInheritance},
		{symtab.ContextCall, KindCall},
		{symtab.ContextAnnotation, KindTypeAnnotation},
		{symtab.ContextAssign, KindAssignment},
		{symtab.ContextAttr, KindAttributeAccess},
		{symtab.ContextImport, KindImport},
		{symtab.ContextOther, KindOther},
		{symtab.SyntacticContext("unknown"), KindOther},
	}
	for _, tc := range cases {
		got := Classify(symtab.Occurrence{Context: tc.ctx})
		assert.Equal(t, tc.want, got, string(tc.ctx))
	}
}
