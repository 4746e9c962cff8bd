package resolve

import (
	"path"
	"strings"

	"github.com/jward/understory/internal/symtab"
	"github.com/jward/understory/internal/workspace"
)

// ModuleResolver maps a module path as written in an import statement,
// leading dots included, to the workspace file defining that module.
type ModuleResolver interface {
	ResolveImport(module string, fromFile workspace.FileID) (workspace.FileID, bool)

	// Canonical returns the absolute dotted module path the written form
	// denotes from the importing file, or "" when the written form cannot
	// name any module (relative import escaping the workspace root).
	Canonical(module string, fromFile workspace.FileID) string
}

// WorkspaceModules resolves module paths against the merged index: `pkg.mod`
// matches either `pkg/mod.py` or `pkg/mod/__init__.py`, with the package
// form winning when both exist.
type WorkspaceModules struct {
	ws *symtab.WorkspaceIndex
}

// NewWorkspaceModules builds the workspace-backed module resolver.
func NewWorkspaceModules(ws *symtab.WorkspaceIndex) *WorkspaceModules {
	return &WorkspaceModules{ws: ws}
}

// ResolveImport resolves absolute and relative module paths. One leading dot
// anchors at the importing file's package, each further dot walks one package
// up. A relative import from a top-level module resolves to nothing.
func (m *WorkspaceModules) ResolveImport(module string, fromFile workspace.FileID) (workspace.FileID, bool) {
	name := m.Canonical(module, fromFile)
	if name == "" {
		return "", false
	}
	return m.ws.ModuleFile(name)
}

// Canonical converts a written module path to its absolute dotted form.
func (m *WorkspaceModules) Canonical(module string, fromFile workspace.FileID) string {
	dots := 0
	for dots < len(module) && module[dots] == '.' {
		dots++
	}
	rest := module[dots:]

	if dots == 0 {
		return rest
	}

	base := path.Dir(string(fromFile))
	if base == "." {
		base = ""
	}
	for i := 1; i < dots; i++ {
		if base == "" {
			return ""
		}
		base = path.Dir(base)
		if base == "." {
			base = ""
		}
	}

	name := strings.ReplaceAll(base, "/", ".")
	if rest != "" {
		if name == "" {
			return ""
		}
		name = name + "." + rest
	}
	return name
}
