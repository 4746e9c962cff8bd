package depgraph

import (
	"sort"

	"github.com/jward/understory/internal/classify"
	"github.com/jward/understory/internal/pyast"
	"github.com/jward/understory/internal/symtab"
	"github.com/jward/understory/internal/workspace"
)

// Node is the serializable form of one symbol.
type Node struct {
	ID       symtab.SymbolID   `json:"id"`
	Name     string            `json:"name"`
	Kind     symtab.SymbolKind `json:"kind"`
	File     workspace.FileID  `json:"file,omitempty"`
	Range    pyast.Range       `json:"range"`
	External bool              `json:"external,omitempty"`
}

// ViewEdge is the serializable form of one edge.
type ViewEdge struct {
	From           symtab.SymbolID         `json:"from"`
	To             symtab.SymbolID         `json:"to"`
	Kind           classify.DependencyKind `json:"kind"`
	ReferenceCount int                     `json:"reference_count"`
}

// View is the ordered, serializable representation of a graph. Output
// formats are the exporter's concern; the view fixes only the ordering and
// the fields.
type View struct {
	Manifest Manifest   `json:"manifest"`
	Nodes    []Node     `json:"nodes"`
	Edges    []ViewEdge `json:"edges"`
}

// View produces nodes sorted by id and edges sorted by (from, to, kind).
func (g *Graph) View() *View {
	v := &View{Manifest: g.manifest}

	v.Nodes = make([]Node, 0, len(g.symbols))
	for _, sym := range g.symbols {
		v.Nodes = append(v.Nodes, Node{
			ID:       sym.ID,
			Name:     sym.Name,
			Kind:     sym.Kind,
			File:     sym.File,
			Range:    sym.Range,
			External: sym.External,
		})
	}
	sort.Slice(v.Nodes, func(i, j int) bool { return v.Nodes[i].ID < v.Nodes[j].ID })

	v.Edges = make([]ViewEdge, 0, len(g.edges))
	for _, e := range g.edges {
		v.Edges = append(v.Edges, ViewEdge{
			From:           e.From,
			To:             e.To,
			Kind:           e.Kind,
			ReferenceCount: len(e.References),
		})
	}
	sort.Slice(v.Edges, func(i, j int) bool {
		a, b := v.Edges[i], v.Edges[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Kind < b.Kind
	})
	return v
}
