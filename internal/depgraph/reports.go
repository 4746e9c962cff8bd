package depgraph

import (
	"sort"
	"strings"

	"github.com/jward/understory/internal/symtab"
)

// UnusedSymbols lists module-visible symbols nothing else references.
// Zero references is a legitimate, reportable state. Module symbols, dunder
// names, import bindings, and synthetic externals are skipped; references
// resolve through bindings to their targets, so a binding never collects
// edges of its own.
func (g *Graph) UnusedSymbols() []*symtab.Symbol {
	var out []*symtab.Symbol
	for id, sym := range g.symbols {
		if !sym.ModuleVisible() || sym.Kind == symtab.KindModule || sym.Import != nil {
			continue
		}
		if strings.HasPrefix(sym.Name, "__") && strings.HasSuffix(sym.Name, "__") {
			continue
		}
		referenced := false
		for _, e := range g.rdeps[id] {
			if e.From != id {
				referenced = true
				break
			}
		}
		if !referenced {
			out = append(out, sym)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Range.StartByte != b.Range.StartByte {
			return a.Range.StartByte < b.Range.StartByte
		}
		return a.ID < b.ID
	})
	return out
}

// HotSpot pairs a symbol with the number of references targeting it.
type HotSpot struct {
	Symbol     *symtab.Symbol `json:"symbol"`
	References int            `json:"references"`
}

// Hotspots ranks symbols by incoming reference count, self-references
// excluded. A non-positive limit returns every referenced symbol.
func (g *Graph) Hotspots(limit int) []HotSpot {
	var out []HotSpot
	for id, sym := range g.symbols {
		n := 0
		for _, e := range g.rdeps[id] {
			if e.From != id {
				n += len(e.References)
			}
		}
		if n > 0 {
			out = append(out, HotSpot{Symbol: sym, References: n})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].References != out[j].References {
			return out[i].References > out[j].References
		}
		return out[i].Symbol.ID < out[j].Symbol.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
