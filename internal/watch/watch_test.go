package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/understory/internal/workspace"
)

// newTestWatcher starts a watcher over root whose batches land on the
// returned channel. The watcher is stopped when the test ends.
func newTestWatcher(t *testing.T, root string, opts ...Option) (*Watcher, <-chan []workspace.Change) {
	t.Helper()
	batches := make(chan []workspace.Change, 16)
	handler := func(changes []workspace.Change) {
		batches <- changes
	}
	opts = append([]Option{WithDebounce(50 * time.Millisecond)}, opts...)
	w, err := New(root, handler, opts...)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w, batches
}

// collectChanges accumulates batches until distinct files have been seen,
// keeping the last change per file. Within a single batch every file must
// appear at most once.
func collectChanges(t *testing.T, batches <-chan []workspace.Change, distinct int) map[workspace.FileID]workspace.Change {
	t.Helper()
	seen := make(map[workspace.FileID]workspace.Change)
	deadline := time.After(5 * time.Second)
	for len(seen) < distinct {
		select {
		case batch := <-batches:
			inBatch := make(map[workspace.FileID]bool, len(batch))
			for _, c := range batch {
				if inBatch[c.ID] {
					t.Fatalf("file %s appears twice in one batch", c.ID)
				}
				inBatch[c.ID] = true
				seen[c.ID] = c
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %d distinct changes, saw %d", distinct, len(seen))
		}
	}
	return seen
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

// =============================================================================
// Construction & Lifecycle
// =============================================================================

func TestNew_ValidatesInput(t *testing.T) {
	t.Parallel()
	handler := func([]workspace.Change) {}

	_, err := New(t.TempDir(), nil)
	require.Error(t, err)

	_, err = New(filepath.Join(t.TempDir(), "missing"), handler)
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "plain.py")
	require.NoError(t, os.WriteFile(file, []byte("x = 1\n"), 0o644))
	_, err = New(file, handler)
	require.Error(t, err)
}

func TestStart_SecondCallFails(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	w, _ := newTestWatcher(t, root)
	assert.Equal(t, root, w.Root())

	err := w.Start(context.Background())
	require.Error(t, err)
}

func TestStop_Idempotent(t *testing.T) {
	t.Parallel()
	w, _ := newTestWatcher(t, t.TempDir())
	w.Stop()
	w.Stop()
}

// =============================================================================
// Change Batching
// =============================================================================

func TestWatcher_ReportsCreatedAndModifiedFiles(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	_, batches := newTestWatcher(t, root)

	writeFile(t, root, "a.py", "x = 1\n")
	writeFile(t, root, "a.py", "x = 2\n")
	writeFile(t, root, "b.py", "y = 1\n")

	seen := collectChanges(t, batches, 2)
	require.Contains(t, seen, workspace.FileID("a.py"))
	require.Contains(t, seen, workspace.FileID("b.py"))
	assert.False(t, seen["a.py"].Removed)
	assert.False(t, seen["b.py"].Removed)
	assert.Empty(t, seen["a.py"].Hash)
}

func TestWatcher_ReportsRemovedFiles(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "gone.py", "x = 1\n")
	_, batches := newTestWatcher(t, root)

	require.NoError(t, os.Remove(filepath.Join(root, "gone.py")))

	seen := collectChanges(t, batches, 1)
	require.Contains(t, seen, workspace.FileID("gone.py"))
	assert.True(t, seen["gone.py"].Removed)
}

func TestWatcher_RenameRemovesOldPath(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFile(t, root, "old.py", "x = 1\n")
	_, batches := newTestWatcher(t, root)

	require.NoError(t, os.Rename(filepath.Join(root, "old.py"), filepath.Join(root, "new.py")))

	seen := collectChanges(t, batches, 2)
	assert.True(t, seen["old.py"].Removed)
	assert.False(t, seen["new.py"].Removed)
}

func TestWatcher_IgnoresForeignFiles(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "__pycache__"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "generated"), 0o755))
	_, batches := newTestWatcher(t, root, WithExcludes("generated"))

	writeFile(t, root, "__pycache__/junk.py", "x = 1\n")
	writeFile(t, root, "generated/gen.py", "x = 1\n")
	writeFile(t, root, "notes.txt", "plain text\n")
	writeFile(t, root, "real.py", "x = 1\n")

	seen := collectChanges(t, batches, 1)
	require.Contains(t, seen, workspace.FileID("real.py"))
	assert.Len(t, seen, 1)
}

func TestWatcher_FollowsNewDirectories(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	_, batches := newTestWatcher(t, root)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0o755))
	// Give the create event time to register the new directory.
	time.Sleep(300 * time.Millisecond)
	writeFile(t, root, "pkg/mod.py", "x = 1\n")

	seen := collectChanges(t, batches, 1)
	require.Contains(t, seen, workspace.FileID("pkg/mod.py"))
}

func TestStop_FlushesPendingBatch(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	w, batches := newTestWatcher(t, root, WithDebounce(10*time.Second))

	writeFile(t, root, "late.py", "x = 1\n")
	// Let the event reach the watcher before stopping; the debounce window
	// is far longer than the test, so only the stop flush can deliver it.
	time.Sleep(300 * time.Millisecond)
	w.Stop()

	seen := collectChanges(t, batches, 1)
	require.Contains(t, seen, workspace.FileID("late.py"))
}
