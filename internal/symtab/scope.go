package symtab

import "github.com/jward/understory/internal/pyast"

// ScopeKind is the lexical region kind. Comprehension scopes resolve like
// function scopes; class scopes are invisible to lookups that do not start
// directly inside them.
type ScopeKind string

const (
	ScopeModule        ScopeKind = "module"
	ScopeClass         ScopeKind = "class"
	ScopeFunction      ScopeKind = "function"
	ScopeComprehension ScopeKind = "comprehension"
)

// ScopeID indexes into FileIndex.Scopes. Scopes never cross files.
type ScopeID int

// ModuleScopeID is the root scope of every file.
const ModuleScopeID ScopeID = 0

// NoScope is the parent of the module scope.
const NoScope ScopeID = -1

// Scope is one lexical region of a file.
type Scope struct {
	ID     ScopeID     `json:"id"`
	Kind   ScopeKind   `json:"kind"`
	Parent ScopeID     `json:"parent"`
	Name   string      `json:"name,omitempty"`
	Range  pyast.Range `json:"range"`
	// Owner is the symbol whose definition introduced the scope, or the
	// nearest enclosing definition for scopes that carry no symbol of
	// their own (lambdas, comprehensions). References found in this scope
	// produce edges originating at Owner.
	Owner SymbolID `json:"owner"`

	// Symbols maps each name to its single symbol in this scope.
	Symbols map[string]*Symbol `json:"-"`
	// Globals and Nonlocals hold names declared by global / nonlocal
	// statements anywhere in the scope body.
	Globals   map[string]bool `json:"-"`
	Nonlocals map[string]bool `json:"-"`
}

func newScope(id ScopeID, kind ScopeKind, parent ScopeID, name string, rng pyast.Range, owner SymbolID) *Scope {
	return &Scope{
		ID:        id,
		Kind:      kind,
		Parent:    parent,
		Name:      name,
		Range:     rng,
		Owner:     owner,
		Symbols:   make(map[string]*Symbol),
		Globals:   make(map[string]bool),
		Nonlocals: make(map[string]bool),
	}
}

// Lookup returns the symbol bound to name directly in this scope.
func (s *Scope) Lookup(name string) (*Symbol, bool) {
	sym, ok := s.Symbols[name]
	return sym, ok
}
