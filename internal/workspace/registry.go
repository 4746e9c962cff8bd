package workspace

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// Registry enumerates workspace files and serves their content. It is the
// engine's only window onto the filesystem, so tests can substitute an
// in-memory implementation.
type Registry interface {
	// Root returns the workspace root directory.
	Root() string

	// Files enumerates all Python files in the workspace with their current
	// content hashes, sorted by FileID.
	Files(ctx context.Context) ([]File, error)

	// Read returns the current content of a file. A missing or unreadable
	// file yields a *FileUnavailableError.
	Read(ctx context.Context, id FileID) ([]byte, error)
}

// DirRegistry is the filesystem-backed Registry. Discovery prefers
// git ls-files so .gitignore is respected, falling back to a directory walk
// that skips hidden directories and common build artifacts.
type DirRegistry struct {
	root     string
	excludes []string
}

// NewDirRegistry creates a registry rooted at the given directory.
// Exclude patterns are matched with path.Match against workspace-relative
// paths and against individual path segments.
func NewDirRegistry(root string, excludes ...string) *DirRegistry {
	return &DirRegistry{root: root, excludes: excludes}
}

func (r *DirRegistry) Root() string {
	return r.root
}

var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
}

// Files discovers and hashes every Python file under the root.
func (r *DirRegistry) Files(ctx context.Context) ([]File, error) {
	rels, err := r.gitListFiles()
	if err != nil {
		// Not a git repo or git unavailable.
		rels, err = r.walkListFiles()
		if err != nil {
			return nil, err
		}
	}

	files := make([]File, 0, len(rels))
	for _, rel := range rels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.excluded(rel) {
			continue
		}
		abs := filepath.Join(r.root, filepath.FromSlash(rel))
		content, err := os.ReadFile(abs)
		if err != nil {
			// The file vanished between discovery and read; skip it here and
			// let Read report FileUnavailable if anything asks for it later.
			continue
		}
		files = append(files, File{
			ID:   FileID(rel),
			Path: abs,
			Hash: HashBytes(content),
			Size: int64(len(content)),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	return files, nil
}

// Read serves a file's current content by id.
func (r *DirRegistry) Read(_ context.Context, id FileID) ([]byte, error) {
	abs := filepath.Join(r.root, filepath.FromSlash(string(id)))
	content, err := os.ReadFile(abs)
	if err != nil {
		return nil, &FileUnavailableError{ID: id, Err: err}
	}
	return content, nil
}

// gitListFiles uses git ls-files to discover tracked and untracked (but not
// ignored) Python files under the root.
func (r *DirRegistry) gitListFiles() ([]string, error) {
	// --cached: tracked files, --others: untracked files,
	// --exclude-standard: respect .gitignore, .git/info/exclude, global excludes.
	cmd := exec.Command("git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = r.root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git ls-files: %w", err)
	}

	var rels []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasSuffix(line, ".py") {
			continue
		}
		rels = append(rels, filepath.ToSlash(line))
	}
	return rels, nil
}

// walkListFiles discovers files by walking the filesystem, used as a fallback
// when git is not available.
func (r *DirRegistry) walkListFiles() ([]string, error) {
	var rels []string
	err := filepath.WalkDir(r.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if p != r.root && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), ".py") {
			return nil
		}
		rel, err := filepath.Rel(r.root, p)
		if err != nil {
			return err
		}
		rels = append(rels, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}
	return rels, nil
}

// excluded reports whether a relative path matches any exclude pattern.
func (r *DirRegistry) excluded(rel string) bool {
	for _, pat := range r.excludes {
		if ok, _ := path.Match(pat, rel); ok {
			return true
		}
		for _, seg := range strings.Split(rel, "/") {
			if ok, _ := path.Match(pat, seg); ok {
				return true
			}
		}
	}
	return false
}
