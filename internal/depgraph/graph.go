// Package depgraph assembles and queries the symbol dependency graph: which
// symbols each symbol references, and which symbols reference it.
package depgraph

import (
	"github.com/jward/understory/internal/classify"
	"github.com/jward/understory/internal/resolve"
	"github.com/jward/understory/internal/symtab"
)

// Edge is one directed dependency, aggregating every reference that produced
// it. Edges are keyed (from, to, kind); a second reference with the same key
// joins the existing edge.
type Edge struct {
	From       symtab.SymbolID         `json:"from"`
	To         symtab.SymbolID         `json:"to"`
	Kind       classify.DependencyKind `json:"kind"`
	References []resolve.Reference     `json:"references"`
}

type edgeKey struct {
	from symtab.SymbolID
	to   symtab.SymbolID
	kind classify.DependencyKind
}

// Graph is the symbol dependency graph. The dependents adjacency is the
// transpose of the dependencies adjacency; both are maintained only inside
// addEdge so they cannot drift apart. A built graph is immutable and safe
// for concurrent queries.
type Graph struct {
	symbols  map[symtab.SymbolID]*symtab.Symbol
	edges    map[edgeKey]*Edge
	deps     map[symtab.SymbolID][]*Edge
	rdeps    map[symtab.SymbolID][]*Edge
	manifest Manifest
}

func newGraph() *Graph {
	return &Graph{
		symbols: make(map[symtab.SymbolID]*symtab.Symbol),
		edges:   make(map[edgeKey]*Edge),
		deps:    make(map[symtab.SymbolID][]*Edge),
		rdeps:   make(map[symtab.SymbolID][]*Edge),
	}
}

// addSymbol records a node. The graph stores its own copy of the symbol:
// Used is per-build state, while the workspace index shares its symbols
// across cached file indexes and earlier snapshots.
func (g *Graph) addSymbol(sym *symtab.Symbol) {
	if _, ok := g.symbols[sym.ID]; !ok {
		c := *sym
		g.symbols[sym.ID] = &c
	}
}

// addEdge inserts or extends the (from, to, kind) edge. This is the single
// mutation path for both adjacency maps.
func (g *Graph) addEdge(from, to symtab.SymbolID, kind classify.DependencyKind, refs ...resolve.Reference) {
	k := edgeKey{from: from, to: to, kind: kind}
	if e, ok := g.edges[k]; ok {
		e.References = append(e.References, refs...)
		return
	}
	e := &Edge{From: from, To: to, Kind: kind, References: refs}
	g.edges[k] = e
	g.deps[from] = append(g.deps[from], e)
	g.rdeps[to] = append(g.rdeps[to], e)
	if from != to {
		if target, ok := g.symbols[to]; ok && !target.External {
			target.Flags.Used = true
		}
	}
}

// Symbol looks up a node.
func (g *Graph) Symbol(id symtab.SymbolID) (*symtab.Symbol, bool) {
	sym, ok := g.symbols[id]
	return sym, ok
}

// SymbolCount reports the number of nodes, synthetic externals included.
func (g *Graph) SymbolCount() int { return len(g.symbols) }

// EdgeCount reports the number of distinct (from, to, kind) edges.
func (g *Graph) EdgeCount() int { return len(g.edges) }

// DependenciesOf returns the outgoing edges of a symbol. Unknown ids yield
// nil; absence is an answer, not an error.
func (g *Graph) DependenciesOf(id symtab.SymbolID) []*Edge {
	return g.deps[id]
}

// DependentsOf returns the incoming edges of a symbol.
func (g *Graph) DependentsOf(id symtab.SymbolID) []*Edge {
	return g.rdeps[id]
}

// Manifest returns the build manifest.
func (g *Graph) Manifest() Manifest { return g.manifest }

// PathBetween returns a shortest chain of dependency edges from one symbol
// to another, or nil when no path exists. Each symbol is visited at most
// once; a nil result is an answer, not an error.
func (g *Graph) PathBetween(from, to symtab.SymbolID) []*Edge {
	if _, ok := g.symbols[from]; !ok {
		return nil
	}
	if _, ok := g.symbols[to]; !ok {
		return nil
	}
	if from == to {
		return []*Edge{}
	}

	visited := map[symtab.SymbolID]bool{from: true}
	parent := make(map[symtab.SymbolID]*Edge)
	queue := []symtab.SymbolID{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.deps[cur] {
			if visited[e.To] {
				continue
			}
			visited[e.To] = true
			parent[e.To] = e
			if e.To == to {
				return unwindPath(parent, from, to)
			}
			queue = append(queue, e.To)
		}
	}
	return nil
}

func unwindPath(parent map[symtab.SymbolID]*Edge, from, to symtab.SymbolID) []*Edge {
	var path []*Edge
	for cur := to; cur != from; {
		e := parent[cur]
		path = append(path, e)
		cur = e.From
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
