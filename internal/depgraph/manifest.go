package depgraph

import (
	"time"

	"github.com/jward/understory/internal/workspace"
)

// UnresolvedRef is a manifest record for an occurrence that resolved to no
// workspace symbol.
type UnresolvedRef struct {
	File    workspace.FileID `json:"file"`
	Name    string           `json:"name"`
	Line    int              `json:"line"`
	Builtin bool             `json:"builtin,omitempty"`
}

// UnresolvedImport is a manifest record for an import that could not be
// resolved inside the workspace. The graph still carries the edge, pointed
// at a synthetic external symbol.
type UnresolvedImport struct {
	File   workspace.FileID `json:"file"`
	Module string           `json:"module"`
	Member string           `json:"member,omitempty"`
	Line   int              `json:"line"`
}

// Manifest summarizes one build: what went in, what came out, and every
// degradation that occurred along the way. A build never aborts for the
// conditions recorded here.
type Manifest struct {
	BuildID   string        `json:"build_id"`
	CreatedAt time.Time     `json:"created_at"`
	Duration  time.Duration `json:"duration"`

	Files      int `json:"files"`
	Symbols    int `json:"symbols"`
	Edges      int `json:"edges"`
	References int `json:"references"`

	Unindexed         []workspace.FileID `json:"unindexed,omitempty"`
	Unavailable       []workspace.FileID `json:"unavailable,omitempty"`
	UnresolvedRefs    []UnresolvedRef    `json:"unresolved_refs,omitempty"`
	UnresolvedImports []UnresolvedImport `json:"unresolved_imports,omitempty"`
}

// Degraded reports whether the build hit any missing, unparseable, or
// unresolvable input.
func (m Manifest) Degraded() bool {
	return len(m.Unindexed) > 0 || len(m.Unavailable) > 0 ||
		len(m.UnresolvedImports) > 0
}
