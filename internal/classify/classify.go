// Package classify maps resolved references to dependency edge kinds.
package classify

import "github.com/jward/understory/internal/symtab"

// DependencyKind labels why one symbol depends on another.
type DependencyKind string

const (
	KindImport          DependencyKind = "import"
	KindCall            DependencyKind = "call"
	KindInheritance     DependencyKind = "inheritance"
	KindTypeAnnotation  DependencyKind = "type_annotation"
	KindAssignment      DependencyKind = "assignment"
	KindAttributeAccess DependencyKind = "attribute_access"
	KindOther           DependencyKind = "other"
)

// Classify derives the edge kind from the innermost syntactic construct the
// occurrence was found in. The context was recorded at extraction time, so
// this stays a pure lookup.
func Classify(occ symtab.Occurrence) DependencyKind {
	return FromContext(occ.Context)
}

// FromContext maps a syntactic context to its edge kind.
func FromContext(ctx symtab.SyntacticContext) DependencyKind {
	switch ctx {
	case symtab.ContextInherit:
		return KindInheritance
	case symtab.ContextCall:
		return KindCall
	case symtab.ContextAnnotation:
		return KindTypeAnnotation
	case symtab.ContextAssign:
		return KindAssignment
	case symtab.ContextAttr:
		return KindAttributeAccess
	case symtab.ContextImport:
		return KindImport
	default:
		return KindOther
	}
}
