package understory

import (
	"github.com/jward/understory/internal/classify"
	"github.com/jward/understory/internal/depgraph"
	"github.com/jward/understory/internal/pyast"
	"github.com/jward/understory/internal/resolve"
	"github.com/jward/understory/internal/symtab"
	"github.com/jward/understory/internal/workspace"
)

// Public type aliases for internal types used in the Engine API. These are
// Go type aliases (=) — identical to the internal types at compile time.
// External consumers use these names; no conversion is needed.

type FileID = workspace.FileID
type Hash = workspace.Hash
type Change = workspace.Change
type Registry = workspace.Registry
type Position = pyast.Position
type Range = pyast.Range
type Symbol = symtab.Symbol
type SymbolID = symtab.SymbolID
type SymbolKind = symtab.SymbolKind
type Occurrence = symtab.Occurrence
type Reference = resolve.Reference
type DependencyKind = classify.DependencyKind
type Edge = depgraph.Edge
type View = depgraph.View
type Node = depgraph.Node
type ViewEdge = depgraph.ViewEdge
type Manifest = depgraph.Manifest
type HotSpot = depgraph.HotSpot

// Symbol kinds.
const (
	SymbolFunction  = symtab.KindFunction
	SymbolClass     = symtab.KindClass
	SymbolVariable  = symtab.KindVariable
	SymbolTypeAlias = symtab.KindTypeAlias
	SymbolParameter = symtab.KindParameter
	SymbolModule    = symtab.KindModule
)

// Dependency kinds.
const (
	KindImport          = classify.KindImport
	KindCall            = classify.KindCall
	KindInheritance     = classify.KindInheritance
	KindTypeAnnotation  = classify.KindTypeAnnotation
	KindAssignment      = classify.KindAssignment
	KindAttributeAccess = classify.KindAttributeAccess
	KindOther           = classify.KindOther
)
