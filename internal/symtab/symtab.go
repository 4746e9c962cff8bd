// Package symtab builds the per-file symbol index: the scope tree, the symbols
// declared in each scope, and the occurrence table that later phases use as the
// lexical candidate index. A workspace-wide view is produced by Merge.
package symtab

import (
	"fmt"

	"github.com/jward/understory/internal/pyast"
	"github.com/jward/understory/internal/workspace"
)

// SymbolID identifies one symbol across the whole workspace. IDs are minted
// from the file, its content hash, and walk-order sequence numbers, so two
// runs over identical content produce identical IDs and a changed file never
// reuses an old ID for a recreated declaration.
type SymbolID string

// MintSymbolID builds the canonical id string.
func MintSymbolID(file workspace.FileID, hash workspace.Hash, scope ScopeID, seq int) SymbolID {
	return SymbolID(fmt.Sprintf("%s@%s:%d:%d", file, hash.Short(), scope, seq))
}

// ExternalSymbolID identifies the synthetic stand-in for a module that could
// not be resolved inside the workspace.
func ExternalSymbolID(module string) SymbolID {
	return SymbolID("extern:" + module)
}

// SymbolKind classifies what a name is bound to.
type SymbolKind string

const (
	KindFunction  SymbolKind = "function"
	KindClass     SymbolKind = "class"
	KindVariable  SymbolKind = "variable"
	KindTypeAlias SymbolKind = "typealias"
	KindParameter SymbolKind = "parameter"
	KindModule    SymbolKind = "module"
)

// SymbolFlags records binding facts about a symbol. Used is filled in during
// graph assembly, all other flags during indexing.
type SymbolFlags struct {
	// Declared marks symbols introduced by an explicit declaration form:
	// def, class, import, parameter, or an annotated assignment.
	Declared bool `json:"declared,omitempty"`
	// Bound marks symbols that receive a value somewhere. Annotation-only
	// declarations (`x: int`) are declared but never bound.
	Bound bool `json:"bound,omitempty"`
	// Reassigned is set on the second and later bindings of the same name
	// in the same scope. Rebinding never mints a new symbol.
	Reassigned bool `json:"reassigned,omitempty"`
	// Used is set when any resolved reference or edge targets the symbol.
	Used bool `json:"used,omitempty"`
	// GlobalDecl marks bindings redirected to module scope by a `global`
	// declaration; NonlocalDecl likewise for `nonlocal`.
	GlobalDecl   bool `json:"global_decl,omitempty"`
	NonlocalDecl bool `json:"nonlocal_decl,omitempty"`
}

// ImportRef is the import metadata carried by an import-binding symbol.
type ImportRef struct {
	// Module is the dotted module path as written, without leading dots.
	Module string `json:"module"`
	// Dots counts leading dots of a relative import, zero for absolute.
	Dots int `json:"dots,omitempty"`
	// Member is the imported name for `from m import member`, empty for
	// plain `import m`.
	Member string `json:"member,omitempty"`
	// Aliased records an `as` alias. A plain `import a.b` binds the root
	// package name `a`; with an alias the binding follows `a.b` directly.
	Aliased bool `json:"aliased,omitempty"`
	// Range spans the import statement, used as the import edge location.
	Range pyast.Range `json:"range"`
}

// Symbol is a named binding in one scope. One symbol exists per visible name
// per scope.
type Symbol struct {
	ID        SymbolID         `json:"id"`
	Name      string           `json:"name"`
	Kind      SymbolKind       `json:"kind"`
	File      workspace.FileID `json:"file"`
	Scope     ScopeID          `json:"scope"`
	Range     pyast.Range      `json:"range"`
	NameRange pyast.Range      `json:"name_range"`
	Doc       string           `json:"doc,omitempty"`
	Flags     SymbolFlags      `json:"flags"`
	// Import is non-nil when the symbol is an import binding.
	Import *ImportRef `json:"import,omitempty"`
	// External marks synthetic stand-ins for unresolvable import targets.
	External bool `json:"external,omitempty"`
}

// IsParameter reports whether the symbol is a function parameter.
func (s *Symbol) IsParameter() bool { return s.Kind == KindParameter }

// ModuleVisible reports whether the symbol is bound at module scope and so
// reachable from other files through imports.
func (s *Symbol) ModuleVisible() bool { return s.Scope == ModuleScopeID && !s.External }

// NewExternalModule mints the synthetic symbol standing in for an
// unresolvable import target. It belongs to no file and no scope.
func NewExternalModule(module string) *Symbol {
	return &Symbol{
		ID:       ExternalSymbolID(module),
		Name:     module,
		Kind:     KindModule,
		External: true,
	}
}

// AccessKind says how an occurrence touches the name.
type AccessKind string

const (
	AccessRead  AccessKind = "read"
	AccessWrite AccessKind = "write"
	AccessOther AccessKind = "other"
)

// SyntacticContext is the innermost classifiable construct enclosing an
// occurrence, recorded at extraction time so classification stays a pure
// lookup.
type SyntacticContext string

const (
	ContextCall       SyntacticContext = "call"       // callee position
	ContextInherit    SyntacticContext = "inherit"    // class base list
	ContextAnnotation SyntacticContext = "annotation" // type annotation
	ContextAssign     SyntacticContext = "assign"     // assignment, either side
	ContextAttr       SyntacticContext = "attribute"  // attribute access base
	ContextImport     SyntacticContext = "import"     // import statement
	ContextOther      SyntacticContext = "other"
)

// Occurrence is one identifier use in lexical position. Definition name
// tokens and attribute member names are never occurrences.
//
// Scope is where name lookup starts. Owner, when set, attributes the
// occurrence to a specific symbol instead of the scope's owner: a superclass
// list, decorator, annotation, or default value evaluates in the enclosing
// scope but belongs to the symbol being defined.
type Occurrence struct {
	Name    string           `json:"name"`
	File    workspace.FileID `json:"file"`
	Scope   ScopeID          `json:"scope"`
	Owner   SymbolID         `json:"owner,omitempty"`
	Range   pyast.Range      `json:"range"`
	Access  AccessKind       `json:"access"`
	Context SyntacticContext `json:"context"`
}
