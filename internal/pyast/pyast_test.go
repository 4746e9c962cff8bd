package pyast

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_ValidSource(t *testing.T) {
	t.Parallel()

	src := []byte("def greet(name):\n    return name\n")
	tree, err := NewParser().Parse(context.Background(), src)
	require.NoError(t, err)
	defer tree.Close()

	root := tree.Root()
	assert.Equal(t, "module", root.Type())
	assert.False(t, root.HasError())

	fn := root.NamedChild(0)
	require.NotNil(t, fn)
	assert.Equal(t, "function_definition", fn.Type())

	name := fn.ChildByFieldName("name")
	require.NotNil(t, name)
	assert.Equal(t, "greet", name.Content(src))

	r := NodeRange(name)
	assert.Equal(t, 1, r.Start.Line)
	assert.Equal(t, 4, r.Start.Col)
	assert.True(t, r.Contains(r.StartByte))
	assert.False(t, r.Contains(r.EndByte))
}

func TestParser_SyntaxError(t *testing.T) {
	t.Parallel()

	src := []byte("def broken(:\n    pass\n")
	tree, err := NewParser().Parse(context.Background(), src)
	require.Error(t, err)
	require.Nil(t, tree)

	var synErr *SyntaxError
	require.True(t, errors.As(err, &synErr))
	assert.Equal(t, 1, synErr.Line)
}

func TestParser_EmptySource(t *testing.T) {
	t.Parallel()

	tree, err := NewParser().Parse(context.Background(), []byte(""))
	require.NoError(t, err)
	defer tree.Close()
	assert.Equal(t, 0, int(tree.Root().NamedChildCount()))
}

func TestParser_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewParser().Parse(ctx, []byte("x = 1\n"))
	require.Error(t, err)
}
