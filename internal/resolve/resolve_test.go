package resolve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/understory/internal/pyast"
	"github.com/jward/understory/internal/symtab"
	"github.com/jward/understory/internal/workspace"
)

// buildWorkspace indexes the given files and returns a resolver over them.
func buildWorkspace(t *testing.T, files map[string]string) (*symtab.WorkspaceIndex, *Resolver) {
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
	return ws, New(ws, NewWorkspaceModules(ws))
}

func moduleLevel(t *testing.T, ws *symtab.WorkspaceIndex, file, name string) *symtab.Symbol {
	t.Helper()
	fi, ok := ws.File(workspace.FileID(file))
	require.True(t, ok, "file %s", file)
	sym, ok := fi.Scope(symtab.ModuleScopeID).Lookup(name)
	require.True(t, ok, "symbol %s in %s", name, file)
	return sym
}

// === Same-file resolution ===

func TestFindReferences_SameFileCall(t *testing.T) {
	t.Parallel()

	ws, r := buildWorkspace(t, map[string]string{
		"app.py": `def helper():
    pass

def main():
    helper()
`,
	})

	helper := moduleLevel(t, ws, "app.py", "helper")
	refs, err := r.FindReferences(context.Background(), helper.ID)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, workspace.FileID("app.py"), refs[0].Occurrence.File)
	assert.Equal(t, symtab.ContextCall, refs[0].Occurrence.Context)
	assert.Equal(t, 5, refs[0].Occurrence.Range.Start.Line)
}

func TestFindReferences_ClassInstantiation(t *testing.T) {
	t.Parallel()

	ws, r := buildWorkspace(t, map[string]string{
		"app.py": `class Greeter:
    pass

g = Greeter()
`,
	})

	greeter := moduleLevel(t, ws, "app.py", "Greeter")
	refs, err := r.FindReferences(context.Background(), greeter.ID)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, symtab.ContextCall, refs[0].Occurrence.Context)
}

func TestFindReferences_ZeroIsAnAnswer(t *testing.T) {
	t.Parallel()

	ws, r := buildWorkspace(t, map[string]string{
		"app.py": "def lonely():\n    pass\n",
	})

	lonely := moduleLevel(t, ws, "app.py", "lonely")
	refs, err := r.FindReferences(context.Background(), lonely.ID)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestFindReferences_UnknownSymbol(t *testing.T) {
	t.Parallel()

	_, r := buildWorkspace(t, map[string]string{"a.py": "x = 1\n"})
	_, err := r.FindReferences(context.Background(), symtab.SymbolID("nope"))
	require.ErrorIs(t, err, ErrUnknownSymbol)
}

// === Cross-file resolution ===

func TestFindReferences_CrossFileImport(t *testing.T) {
	t.Parallel()

	ws, r := buildWorkspace(t, map[string]string{
		"a.py": "def helper():\n    pass\n",
		"b.py": "from a import helper\n\nhelper()\n",
	})

	helper := moduleLevel(t, ws, "a.py", "helper")
	refs, err := r.FindReferences(context.Background(), helper.ID)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, workspace.FileID("b.py"), refs[0].Occurrence.File)
}

func TestFindReferences_AliasedImport(t *testing.T) {
	t.Parallel()

	ws, r := buildWorkspace(t, map[string]string{
		"a.py": "def helper():\n    pass\n",
		"c.py": "from a import helper as h\n\nh()\nh()\n",
	})

	helper := moduleLevel(t, ws, "a.py", "helper")
	refs, err := r.FindReferences(context.Background(), helper.ID)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	for _, ref := range refs {
		assert.Equal(t, workspace.FileID("c.py"), ref.Occurrence.File)
		assert.Equal(t, "h", ref.Occurrence.Name)
	}
}

func TestFindReferences_ChainedReexport(t *testing.T) {
	t.Parallel()

	ws, r := buildWorkspace(t, map[string]string{
		"a.py": "def helper():\n    pass\n",
		"b.py": "from a import helper\n",
		"c.py": "from b import helper\n\nhelper()\n",
	})

	target := moduleLevel(t, ws, "a.py", "helper")
	refs, err := r.FindReferences(context.Background(), target.ID)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, workspace.FileID("c.py"), refs[0].Occurrence.File)
}

func TestFindReferences_TwoFileShadowing(t *testing.T) {
	t.Parallel()

	ws, r := buildWorkspace(t, map[string]string{
		"one.py": `def f():
    x = 1
    return x
`,
		"two.py": `def g():
    x = 2
    return x
`,
	})

	oneFi, _ := ws.File("one.py")
	var oneX *symtab.Symbol
	for _, s := range oneFi.Scopes {
		if s.Kind == symtab.ScopeFunction {
			sym, ok := s.Lookup("x")
			require.True(t, ok)
			oneX = sym
		}
	}
	require.NotNil(t, oneX)

	refs, err := r.FindReferences(context.Background(), oneX.ID)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, workspace.FileID("one.py"), refs[0].Occurrence.File)
}

// === Scope rules ===

func TestResolver_ClassScopeInvisibleToMethods(t *testing.T) {
	t.Parallel()

	ws, r := buildWorkspace(t, map[string]string{
		"m.py": `limit = 10

class C:
    limit = 5

    def m(self):
        return limit
`,
	})

	modLimit := moduleLevel(t, ws, "m.py", "limit")
	refs, err := r.FindReferences(context.Background(), modLimit.ID)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, 7, refs[0].Occurrence.Range.Start.Line)

	fi, _ := ws.File("m.py")
	var classLimit *symtab.Symbol
	for _, s := range fi.Scopes {
		if s.Kind == symtab.ScopeClass {
			sym, ok := s.Lookup("limit")
			require.True(t, ok)
			classLimit = sym
		}
	}
	require.NotNil(t, classLimit)
	refs, err = r.FindReferences(context.Background(), classLimit.ID)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestResolver_ClassBodySeesItsOwnScope(t *testing.T) {
	t.Parallel()

	ws, r := buildWorkspace(t, map[string]string{
		"m.py": `class D:
    size = 2
    doubled = size * 2
`,
	})

	fi, _ := ws.File("m.py")
	var size *symtab.Symbol
	for _, s := range fi.Scopes {
		if s.Kind == symtab.ScopeClass {
			sym, ok := s.Lookup("size")
			require.True(t, ok)
			size = sym
		}
	}
	require.NotNil(t, size)

	refs, err := r.FindReferences(context.Background(), size.ID)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, 3, refs[0].Occurrence.Range.Start.Line)
}

func TestResolver_GlobalRedirect(t *testing.T) {
	t.Parallel()

	ws, r := buildWorkspace(t, map[string]string{
		"m.py": `state = 0

def reset():
    global state
    state = 99
`,
	})

	state := moduleLevel(t, ws, "m.py", "state")
	refs, err := r.FindReferences(context.Background(), state.ID)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, symtab.AccessWrite, refs[0].Occurrence.Access)
}

func TestResolver_ComprehensionReachesEnclosing(t *testing.T) {
	t.Parallel()

	ws, r := buildWorkspace(t, map[string]string{
		"m.py": `factor = 2
data = [1, 2]
scaled = [v * factor for v in data]
`,
	})

	factor := moduleLevel(t, ws, "m.py", "factor")
	refs, err := r.FindReferences(context.Background(), factor.ID)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, 3, refs[0].Occurrence.Range.Start.Line)
}

// === ResolveFile ===

func TestResolveFile_RecordsBuiltinsAndUnresolved(t *testing.T) {
	t.Parallel()

	_, r := buildWorkspace(t, map[string]string{
		"m.py": "print(mystery)\n",
	})

	res, err := r.ResolveFile(context.Background(), "m.py")
	require.NoError(t, err)
	assert.Empty(t, res.References)
	require.Len(t, res.Unresolved, 2)

	byName := map[string]UnresolvedRef{}
	for _, u := range res.Unresolved {
		byName[u.Occurrence.Name] = u
	}
	assert.True(t, byName["print"].Builtin)
	assert.False(t, byName["mystery"].Builtin)
}

func TestResolveFile_UnresolvedImportYieldsExternalTarget(t *testing.T) {
	t.Parallel()

	ws, r := buildWorkspace(t, map[string]string{
		"m.py": "from missing_pkg import helper\n\nhelper()\n",
	})

	res, err := r.ResolveFile(context.Background(), "m.py")
	require.NoError(t, err)

	require.Len(t, res.Imports, 1)
	imp := res.Imports[0]
	assert.True(t, imp.External)
	assert.Equal(t, symtab.ExternalSymbolID("missing_pkg.helper"), imp.Target)
	assert.True(t, res.Consulted.Modules["missing_pkg"])

	// the local binding still exists and the call resolves to it
	helper := moduleLevel(t, ws, "m.py", "helper")
	require.Len(t, res.References, 1)
	assert.Equal(t, helper.ID, res.References[0].Target)
}

func TestResolveFile_ConsultsImportedFiles(t *testing.T) {
	t.Parallel()

	ws, r := buildWorkspace(t, map[string]string{
		"a.py": "def helper():\n    pass\n",
		"b.py": "from a import helper\n\nhelper()\n",
	})

	res, err := r.ResolveFile(context.Background(), "b.py")
	require.NoError(t, err)

	fiA, _ := ws.File("a.py")
	hash, ok := res.Consulted.Files["a.py"]
	require.True(t, ok)
	assert.Equal(t, fiA.File.Hash, hash)

	helper := moduleLevel(t, ws, "a.py", "helper")
	require.Len(t, res.Imports, 1)
	assert.Equal(t, helper.ID, res.Imports[0].Target)
	assert.False(t, res.Imports[0].External)
}

func TestResolveFile_ModuleBindingFollowsToModuleSymbol(t *testing.T) {
	t.Parallel()

	ws, r := buildWorkspace(t, map[string]string{
		"pkg/__init__.py": "",
		"pkg/mod.py":      "def tool():\n    pass\n",
		"use.py":          "import pkg.mod\n\nthing = pkg\n",
	})

	res, err := r.ResolveFile(context.Background(), "use.py")
	require.NoError(t, err)

	pkgInit, _ := ws.File("pkg/__init__.py")
	require.Len(t, res.References, 1)
	assert.Equal(t, pkgInit.ModuleSym, res.References[0].Target)

	// the import edge targets pkg.mod, not the root package
	pkgMod, _ := ws.File("pkg/mod.py")
	require.Len(t, res.Imports, 1)
	assert.Equal(t, pkgMod.ModuleSym, res.Imports[0].Target)
}

func TestResolveFile_Cancelled(t *testing.T) {
	t.Parallel()

	_, r := buildWorkspace(t, map[string]string{"m.py": "x = 1\ny = x\n"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.ResolveFile(ctx, "m.py")
	require.ErrorIs(t, err, context.Canceled)
}

// === Module resolution ===

func TestWorkspaceModules_DottedAndRelative(t *testing.T) {
	t.Parallel()

	ws, _ := buildWorkspace(t, map[string]string{
		"pkg/__init__.py": "",
		"pkg/mod.py":      "x = 1\n",
		"pkg/sub/deep.py": "y = 2\n",
		"top.py":          "z = 3\n",
	})
	m := NewWorkspaceModules(ws)

	cases := []struct {
		module string
		from   workspace.FileID
		want   workspace.FileID
		ok     bool
	}{
		{"pkg.mod", "top.py", "pkg/mod.py", true},
		{"pkg", "top.py", "pkg/__init__.py", true},
		{".mod", "pkg/__init__.py", "pkg/mod.py", true},
		{"..mod", "pkg/sub/deep.py", "pkg/mod.py", true},
		{".", "pkg/mod.py", "pkg/__init__.py", true},
		{".anything", "top.py", "", false},
		{"missing", "top.py", "", false},
		{"", "top.py", "", false},
	}
	for _, tc := range cases {
		got, ok := m.ResolveImport(tc.module, tc.from)
		assert.Equal(t, tc.ok, ok, tc.module)
		if tc.ok {
			assert.Equal(t, tc.want, got, tc.module)
		}
	}
}

func TestWorkspaceModules_PackageBeatsModule(t *testing.T) {
	t.Parallel()

	ws, _ := buildWorkspace(t, map[string]string{
		"pkg/__init__.py":      "",
		"pkg/dual.py":          "a = 1\n",
		"pkg/dual/__init__.py": "b = 2\n",
	})
	m := NewWorkspaceModules(ws)

	got, ok := m.ResolveImport("pkg.dual", "x.py")
	require.True(t, ok)
	assert.Equal(t, workspace.FileID("pkg/dual/__init__.py"), got)
}
