package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashBytes_StableAndContentSensitive(t *testing.T) {
	t.Parallel()
	a := HashBytes([]byte("x = 1\n"))
	b := HashBytes([]byte("x = 1\n"))
	c := HashBytes([]byte("x = 2\n"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, string(a), 64)
	assert.Len(t, a.Short(), 8)
}

func TestModuleName_LayoutVariants(t *testing.T) {
	t.Parallel()
	cases := []struct {
		id   FileID
		want string
	}{
		{"app.py", "app"},
		{"pkg/mod.py", "pkg.mod"},
		{"pkg/sub/deep.py", "pkg.sub.deep"},
		{"pkg/__init__.py", "pkg"},
		{"pkg/sub/__init__.py", "pkg.sub"},
		{"__init__.py", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ModuleName(tc.id), "ModuleName(%q)", tc.id)
	}
}

func TestPackagePath_RootAndNested(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "", PackagePath("app.py"))
	assert.Equal(t, "pkg", PackagePath("pkg/mod.py"))
	assert.Equal(t, "pkg/sub", PackagePath("pkg/sub/__init__.py"))
}

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	abs := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func TestDirRegistry_DiscoversPythonFilesSorted(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "b.py", "y = 2\n")
	writeFile(t, dir, "a.py", "x = 1\n")
	writeFile(t, dir, "pkg/mod.py", "z = 3\n")
	writeFile(t, dir, "notes.txt", "not python\n")

	reg := NewDirRegistry(dir)
	files, err := reg.Files(context.Background())
	require.NoError(t, err)

	var ids []FileID
	for _, f := range files {
		ids = append(ids, f.ID)
	}
	assert.Equal(t, []FileID{"a.py", "b.py", "pkg/mod.py"}, ids)
	for _, f := range files {
		assert.NotEmpty(t, f.Hash)
		assert.Greater(t, f.Size, int64(0))
	}
}

func TestDirRegistry_SkipsHiddenAndArtifactDirs(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "keep.py", "pass\n")
	writeFile(t, dir, ".hidden/skip.py", "pass\n")
	writeFile(t, dir, "__pycache__/skip.py", "pass\n")
	writeFile(t, dir, "node_modules/skip.py", "pass\n")

	reg := NewDirRegistry(dir)
	files, err := reg.Files(context.Background())
	require.NoError(t, err)

	require.Len(t, files, 1)
	assert.Equal(t, FileID("keep.py"), files[0].ID)
}

func TestDirRegistry_ExcludePatterns(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "app.py", "pass\n")
	writeFile(t, dir, "gen/schema_pb2.py", "pass\n")
	writeFile(t, dir, "tests/test_app.py", "pass\n")

	reg := NewDirRegistry(dir, "gen", "test_*.py")
	files, err := reg.Files(context.Background())
	require.NoError(t, err)

	require.Len(t, files, 1)
	assert.Equal(t, FileID("app.py"), files[0].ID)
}

func TestDirRegistry_ReadMissingFileReportsUnavailable(t *testing.T) {
	t.Parallel()
	reg := NewDirRegistry(t.TempDir())

	_, err := reg.Read(context.Background(), "gone.py")
	require.Error(t, err)

	var unavailable *FileUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, FileID("gone.py"), unavailable.ID)
}

func TestDirRegistry_ReadReturnsContent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "m.py", "value = 41\n")

	reg := NewDirRegistry(dir)
	content, err := reg.Read(context.Background(), "m.py")
	require.NoError(t, err)
	assert.Equal(t, "value = 41\n", string(content))
}
