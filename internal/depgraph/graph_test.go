package depgraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/understory/internal/classify"
	"github.com/jward/understory/internal/pyast"
	"github.com/jward/understory/internal/resolve"
	"github.com/jward/understory/internal/symtab"
	"github.com/jward/understory/internal/workspace"
)

func buildGraph(t *testing.T, files map[string]string) (*symtab.WorkspaceIndex, *Graph) {
	t.Helper()
	parser := pyast.NewParser()
	var indexes []*symtab.FileIndex
	for path, src := range files {
		content := []byte(src)
		file := workspace.File{
			ID:   workspace.FileID(path),
			Path: path,
			Hash: workspace.HashBytes(content),
			Size: int64(len(content)),
		}
		tree, err := parser.Parse(context.Background(), content)
		if err != nil {
			indexes = append(indexes, symtab.NewUnindexed(file, err))
			continue
		}
		indexes = append(indexes, symtab.IndexFile(file, tree))
		tree.Close()
	}
	ws := symtab.Merge(indexes)
	r := resolve.New(ws, resolve.NewWorkspaceModules(ws))
	g, err := Build(context.Background(), ws, r.ResolveFile, Options{})
	require.NoError(t, err)
	return ws, g
}

func moduleLevel(t *testing.T, ws *symtab.WorkspaceIndex, file, name string) *symtab.Symbol {
	t.Helper()
	fi, ok := ws.File(workspace.FileID(file))
	require.True(t, ok, "file %s", file)
	sym, ok := fi.Scope(symtab.ModuleScopeID).Lookup(name)
	require.True(t, ok, "symbol %s in %s", name, file)
	return sym
}

// === Build semantics ===

func TestBuild_Determinism(t *testing.T) {
	t.Parallel()

	files := map[string]string{
		"a.py": "def helper():\n    pass\n",
		"b.py": "from a import helper\n\nhelper()\nhelper()\n",
		"c.py": "from missing import thing\n\nx = [v for v in range(3)]\n",
	}

	_, g1 := buildGraph(t, files)
	_, g2 := buildGraph(t, files)

	v1, v2 := g1.View(), g2.View()
	assert.Equal(t, v1.Nodes, v2.Nodes)
	assert.Equal(t, v1.Edges, v2.Edges)
}

func TestBuild_InheritanceClassification(t *testing.T) {
	t.Parallel()

	ws, g := buildGraph(t, map[string]string{
		"zoo.py": `class Animal:
    pass

class Dog(Animal):
    pass
`,
	})

	dog := moduleLevel(t, ws, "zoo.py", "Dog")
	animal := moduleLevel(t, ws, "zoo.py", "Animal")

	deps := g.DependenciesOf(dog.ID)
	require.Len(t, deps, 1)
	assert.Equal(t, animal.ID, deps[0].To)
	assert.Equal(t, classify.KindInheritance, deps[0].Kind)
}

func TestBuild_UnresolvedImportScenario(t *testing.T) {
	t.Parallel()

	ws, g := buildGraph(t, map[string]string{
		"m.py": "from missing_pkg import helper\n\nhelper()\n",
	})

	// the local binding exists despite the failed import
	helper := moduleLevel(t, ws, "m.py", "helper")
	require.NotNil(t, helper.Import)

	// the import edge targets a synthetic external symbol
	fi, _ := ws.File("m.py")
	var importEdge *Edge
	for _, e := range g.DependenciesOf(fi.ModuleSym) {
		if e.Kind == classify.KindImport {
			importEdge = e
		}
	}
	require.NotNil(t, importEdge)
	ext, ok := g.Symbol(importEdge.To)
	require.True(t, ok)
	assert.True(t, ext.External)
	assert.Equal(t, symtab.KindModule, ext.Kind)

	m := g.Manifest()
	require.Len(t, m.UnresolvedImports, 1)
	assert.Equal(t, "missing_pkg", m.UnresolvedImports[0].Module)
	assert.Equal(t, "helper", m.UnresolvedImports[0].Member)
	assert.True(t, m.Degraded())
}

func TestBuild_TwoFileShadowingHasNoCrossEdges(t *testing.T) {
	t.Parallel()

	_, g := buildGraph(t, map[string]string{
		"one.py": "def f():\n    x = 1\n    return x\n",
		"two.py": "def g():\n    x = 2\n    return x\n",
	})

	for _, ve := range g.View().Edges {
		from, ok := g.Symbol(ve.From)
		require.True(t, ok)
		to, ok := g.Symbol(ve.To)
		require.True(t, ok)
		assert.Equal(t, from.File, to.File,
			"unexpected cross-file edge %s -> %s", ve.From, ve.To)
	}
}

func TestBuild_SelfEdgesAndDeclarations(t *testing.T) {
	t.Parallel()

	ws, g := buildGraph(t, map[string]string{
		"m.py": `def quiet():
    pass

def loop():
    loop()
`,
	})

	quiet := moduleLevel(t, ws, "m.py", "quiet")
	loop := moduleLevel(t, ws, "m.py", "loop")

	// a declaration alone produces no reference to itself
	assert.Empty(t, g.DependenciesOf(quiet.ID))
	assert.Empty(t, g.DependentsOf(quiet.ID))

	// recursion is a real edge, but not a use by anyone else
	deps := g.DependenciesOf(loop.ID)
	require.Len(t, deps, 1)
	assert.Equal(t, loop.ID, deps[0].To)

	unusedIDs := map[symtab.SymbolID]bool{}
	for _, sym := range g.UnusedSymbols() {
		unusedIDs[sym.ID] = true
	}
	assert.True(t, unusedIDs[quiet.ID])
	assert.True(t, unusedIDs[loop.ID])
}

func TestBuild_ImportInsideFunctionOwnsTheEdge(t *testing.T) {
	t.Parallel()

	ws, g := buildGraph(t, map[string]string{
		"util.py": "def tool():\n    pass\n",
		"m.py": `def lazy():
    from util import tool
    return tool()
`,
	})

	lazy := moduleLevel(t, ws, "m.py", "lazy")
	tool := moduleLevel(t, ws, "util.py", "tool")

	kinds := map[classify.DependencyKind]symtab.SymbolID{}
	for _, e := range g.DependenciesOf(lazy.ID) {
		kinds[e.Kind] = e.To
	}
	assert.Equal(t, tool.ID, kinds[classify.KindImport])
	assert.Equal(t, tool.ID, kinds[classify.KindCall])
}

// === Invariants ===

func TestGraph_TransposeInvariant(t *testing.T) {
	t.Parallel()

	_, g := buildGraph(t, map[string]string{
		"c.py": "def core():\n    pass\n",
		"b.py": "from c import core\n\ndef helper():\n    core()\n",
		"a.py": "from b import helper\n\ndef main():\n    helper()\n",
	})

	for id := range g.symbols {
		for _, e := range g.DependenciesOf(id) {
			assert.Contains(t, g.DependentsOf(e.To), e)
		}
		for _, e := range g.DependentsOf(id) {
			assert.Contains(t, g.DependenciesOf(e.From), e)
		}
	}
}

func TestGraph_PathBetween(t *testing.T) {
	t.Parallel()

	ws, g := buildGraph(t, map[string]string{
		"c.py": "def core():\n    pass\n",
		"b.py": "from c import core\n\ndef helper():\n    core()\n",
		"a.py": "from b import helper\n\ndef main():\n    helper()\n",
	})

	main := moduleLevel(t, ws, "a.py", "main")
	helper := moduleLevel(t, ws, "b.py", "helper")
	core := moduleLevel(t, ws, "c.py", "core")

	path := g.PathBetween(main.ID, core.ID)
	require.Len(t, path, 2)
	assert.Equal(t, main.ID, path[0].From)
	assert.Equal(t, helper.ID, path[0].To)
	assert.Equal(t, helper.ID, path[1].From)
	assert.Equal(t, core.ID, path[1].To)

	// dependencies point one way only
	assert.Nil(t, g.PathBetween(core.ID, main.ID))

	// a symbol reaches itself through the empty path
	selfPath := g.PathBetween(main.ID, main.ID)
	require.NotNil(t, selfPath)
	assert.Empty(t, selfPath)

	assert.Nil(t, g.PathBetween("ghost", core.ID))
}

// === Reports ===

func TestGraph_UnusedAndHotspots(t *testing.T) {
	t.Parallel()

	ws, g := buildGraph(t, map[string]string{
		"a.py": "def helper():\n    pass\n\ndef lonely():\n    pass\n",
		"b.py": "from a import helper\n\nhelper()\nhelper()\n",
	})

	helper := moduleLevel(t, ws, "a.py", "helper")
	lonely := moduleLevel(t, ws, "a.py", "lonely")

	unused := g.UnusedSymbols()
	require.Len(t, unused, 1)
	assert.Equal(t, lonely.ID, unused[0].ID)

	hot := g.Hotspots(1)
	require.Len(t, hot, 1)
	assert.Equal(t, helper.ID, hot[0].Symbol.ID)
	// two calls plus the import itself
	assert.Equal(t, 3, hot[0].References)

	used, ok := g.Symbol(helper.ID)
	require.True(t, ok)
	assert.True(t, used.Flags.Used)
}

func TestBuild_UsedFlagStaysOnGraphCopies(t *testing.T) {
	t.Parallel()

	ws, g := buildGraph(t, map[string]string{
		"a.py": "def helper():\n    pass\n",
		"b.py": "from a import helper\n\nhelper()\n",
	})

	helper := moduleLevel(t, ws, "a.py", "helper")
	assert.False(t, helper.Flags.Used, "assembly must not write through to the index")

	node, ok := g.Symbol(helper.ID)
	require.True(t, ok)
	assert.True(t, node.Flags.Used)
	assert.NotSame(t, helper, node)
}

func TestBuild_Cancelled(t *testing.T) {
	t.Parallel()

	parser := pyast.NewParser()
	content := []byte("x = 1\ny = x\n")
	file := workspace.File{ID: "m.py", Path: "m.py", Hash: workspace.HashBytes(content)}
	tree, err := parser.Parse(context.Background(), content)
	require.NoError(t, err)
	fi := symtab.IndexFile(file, tree)
	tree.Close()

	ws := symtab.Merge([]*symtab.FileIndex{fi})
	r := resolve.New(ws, resolve.NewWorkspaceModules(ws))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Build(ctx, ws, r.ResolveFile, Options{})
	require.Error(t, err)
}
