// Package workspace models the set of source files one analysis run operates
// on: stable file identities, content hashing, enumeration, and change
// notifications. It owns no analysis state; everything downstream keys off
// the (FileID, Hash) pairs produced here.
package workspace

import (
	"crypto/sha256"
	"fmt"
	"path"
	"strings"
)

// FileID identifies a file by its workspace-relative slash-separated path.
// IDs are stable across runs as long as the file does not move.
type FileID string

// Hash is the hex-encoded SHA-256 of a file's content. Two files with equal
// hashes never require re-analysis.
type Hash string

// File is an opaque, stably identified unit of source text.
type File struct {
	ID   FileID
	Path string // absolute path on disk
	Hash Hash
	Size int64
}

// Change notifies the engine that a file's content changed or that the file
// was added or removed. Hash is empty when Removed is true.
type Change struct {
	ID      FileID
	Hash    Hash
	Removed bool
}

// HashBytes computes the content hash used for change detection.
func HashBytes(content []byte) Hash {
	return Hash(fmt.Sprintf("%x", sha256.Sum256(content)))
}

// Short returns the leading 8 hex digits of the hash, used in symbol ids.
func (h Hash) Short() string {
	if len(h) < 8 {
		return string(h)
	}
	return string(h[:8])
}

// FileUnavailableError reports a file that could not be read. Callers record
// it in the build manifest and continue; it never aborts a workspace run.
type FileUnavailableError struct {
	ID  FileID
	Err error
}

func (e *FileUnavailableError) Error() string {
	return fmt.Sprintf("file unavailable: %s: %v", e.ID, e.Err)
}

func (e *FileUnavailableError) Unwrap() error {
	return e.Err
}

// ModuleName converts a file id to its dotted Python module path.
// "pkg/mod.py" becomes "pkg.mod" and "pkg/__init__.py" becomes "pkg".
// The root __init__.py maps to the empty module name.
func ModuleName(id FileID) string {
	p := strings.TrimSuffix(string(id), ".py")
	p = strings.TrimSuffix(p, "/__init__")
	if p == "__init__" {
		return ""
	}
	return strings.ReplaceAll(p, "/", ".")
}

// PackagePath returns the directory portion of a file id, used as the base
// for relative import resolution. The root directory is "".
func PackagePath(id FileID) string {
	dir := path.Dir(string(id))
	if dir == "." {
		return ""
	}
	return dir
}
