package understory

import (
	"context"
	"fmt"

	"github.com/jward/understory/internal/cache"
	"github.com/jward/understory/internal/depgraph"
	"github.com/jward/understory/internal/resolve"
	"github.com/jward/understory/internal/symtab"
	"github.com/jward/understory/internal/workspace"
)

// Queries run against the most recent successful build. They are safe to call
// concurrently with each other and with an in-flight rebuild, which keeps
// serving the previous snapshot until it completes. Absence is an answer:
// unknown symbols yield empty results, not errors.

func (e *Engine) querySnapshot() (*snapshot, error) {
	snap := e.currentSnapshot()
	if snap == nil {
		return nil, ErrNoBuild
	}
	return snap, nil
}

// View returns the serializable form of the current graph.
func (e *Engine) View() (*depgraph.View, error) {
	snap, err := e.querySnapshot()
	if err != nil {
		return nil, err
	}
	return snap.graph.View(), nil
}

// Manifest returns the current build's manifest.
func (e *Engine) Manifest() (depgraph.Manifest, error) {
	snap, err := e.querySnapshot()
	if err != nil {
		return depgraph.Manifest{}, err
	}
	return snap.graph.Manifest(), nil
}

// Symbol looks up one symbol by id. A nil result with nil error means the id
// names nothing in the current build.
func (e *Engine) Symbol(id symtab.SymbolID) (*symtab.Symbol, error) {
	snap, err := e.querySnapshot()
	if err != nil {
		return nil, err
	}
	sym, _ := snap.graph.Symbol(id)
	return sym, nil
}

// Symbols returns every indexed symbol in lexical id order.
func (e *Engine) Symbols() ([]*symtab.Symbol, error) {
	snap, err := e.querySnapshot()
	if err != nil {
		return nil, err
	}
	ids := snap.ws.SortedSymbolIDs()
	out := make([]*symtab.Symbol, 0, len(ids))
	for _, id := range ids {
		if sym, ok := snap.ws.Symbol(id); ok {
			out = append(out, sym)
		}
	}
	return out, nil
}

// SymbolsNamed returns every symbol with the given name, in file order.
func (e *Engine) SymbolsNamed(name string) ([]*symtab.Symbol, error) {
	snap, err := e.querySnapshot()
	if err != nil {
		return nil, err
	}
	var out []*symtab.Symbol
	for _, id := range snap.ws.FileIDs() {
		fi, ok := snap.ws.File(id)
		if !ok || fi.Unindexed {
			continue
		}
		for _, sym := range fi.Symbols {
			if sym.Name == name {
				out = append(out, sym)
			}
		}
	}
	return out, nil
}

// SymbolAt resolves the symbol under a source position: the definition whose
// name token spans it, or the target of the reference spanning it. Lines are
// 1-based, columns 0-based. A nil result with nil error means no symbol is
// there.
func (e *Engine) SymbolAt(ctx context.Context, id workspace.FileID, line, col int) (*symtab.Symbol, error) {
	snap, err := e.querySnapshot()
	if err != nil {
		return nil, err
	}
	fi, ok := snap.ws.File(id)
	if !ok {
		return nil, fmt.Errorf("understory: unknown file %s", id)
	}
	if fi.Unindexed {
		return nil, nil
	}

	for _, sym := range fi.Symbols {
		if sym.NameRange.ContainsPos(line, col) {
			return sym, nil
		}
	}

	res, err := e.resolution(ctx, snap, id)
	if err != nil {
		return nil, err
	}
	for _, ref := range res.References {
		if ref.Occurrence.Range.ContainsPos(line, col) {
			sym, _ := snap.graph.Symbol(ref.Target)
			return sym, nil
		}
	}
	return nil, nil
}

// References finds every reference to a symbol across the workspace, using
// the two-phase search: candidate files by name, then exact re-resolution of
// each candidate occurrence.
func (e *Engine) References(ctx context.Context, id symtab.SymbolID) ([]resolve.Reference, error) {
	snap, err := e.querySnapshot()
	if err != nil {
		return nil, err
	}
	return snap.resolver.FindReferences(ctx, id)
}

// DependenciesOf returns the outgoing edges of a symbol.
func (e *Engine) DependenciesOf(id symtab.SymbolID) ([]*depgraph.Edge, error) {
	snap, err := e.querySnapshot()
	if err != nil {
		return nil, err
	}
	return snap.graph.DependenciesOf(id), nil
}

// DependentsOf returns the incoming edges of a symbol.
func (e *Engine) DependentsOf(id symtab.SymbolID) ([]*depgraph.Edge, error) {
	snap, err := e.querySnapshot()
	if err != nil {
		return nil, err
	}
	return snap.graph.DependentsOf(id), nil
}

// PathBetween returns a shortest dependency chain between two symbols, or nil
// when none exists.
func (e *Engine) PathBetween(from, to symtab.SymbolID) ([]*depgraph.Edge, error) {
	snap, err := e.querySnapshot()
	if err != nil {
		return nil, err
	}
	return snap.graph.PathBetween(from, to), nil
}

// UnusedSymbols lists module-visible symbols nothing else references.
func (e *Engine) UnusedSymbols() ([]*symtab.Symbol, error) {
	snap, err := e.querySnapshot()
	if err != nil {
		return nil, err
	}
	return snap.graph.UnusedSymbols(), nil
}

// Hotspots lists the most-referenced symbols, largest first.
func (e *Engine) Hotspots(limit int) ([]depgraph.HotSpot, error) {
	snap, err := e.querySnapshot()
	if err != nil {
		return nil, err
	}
	return snap.graph.Hotspots(limit), nil
}

// resolution returns the cached resolution of one file in the given
// snapshot, computing and caching it if the build's entry was evicted.
func (e *Engine) resolution(ctx context.Context, snap *snapshot, id workspace.FileID) (*resolve.FileResolution, error) {
	f, ok := snap.files[id]
	if !ok {
		return nil, fmt.Errorf("understory: unknown file %s", id)
	}
	key := cache.Key{File: id, Hash: f.Hash, Kind: cache.KindResolve}
	return e.resolved.GetOrCompute(ctx, key, func(ctx context.Context) (*resolve.FileResolution, []cache.Input, error) {
		res, err := snap.resolver.ResolveFile(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		return res, consultedInputs(res.Consulted), nil
	})
}

// CacheStats reports hit and miss counts for both per-file caches.
type CacheStats struct {
	IndexHits      uint64
	IndexMisses    uint64
	IndexEntries   int
	ResolveHits    uint64
	ResolveMisses  uint64
	ResolveEntries int
}

// Stats returns cache statistics accumulated since the Engine was created.
func (e *Engine) Stats() CacheStats {
	s := CacheStats{
		IndexEntries:   e.indexes.Len(),
		ResolveEntries: e.resolved.Len(),
	}
	s.IndexHits, s.IndexMisses = e.indexes.Stats()
	s.ResolveHits, s.ResolveMisses = e.resolved.Stats()
	return s
}
