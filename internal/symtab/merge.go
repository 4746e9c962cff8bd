package symtab

import (
	"sort"

	"github.com/jward/understory/internal/workspace"
)

// WorkspaceIndex is the merged view over every file index. It is built once
// per run and read concurrently; nothing mutates it after Merge returns.
type WorkspaceIndex struct {
	files   map[workspace.FileID]*FileIndex
	modules map[string]workspace.FileID
	symbols map[SymbolID]*Symbol
	names   map[string][]workspace.FileID
	order   []workspace.FileID
}

// Merge aggregates per-file indexes deterministically: files are processed in
// path order regardless of the order they were produced in.
func Merge(indexes []*FileIndex) *WorkspaceIndex {
	sorted := make([]*FileIndex, len(indexes))
	copy(sorted, indexes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].File.ID < sorted[j].File.ID })

	w := &WorkspaceIndex{
		files:   make(map[workspace.FileID]*FileIndex, len(sorted)),
		modules: make(map[string]workspace.FileID),
		symbols: make(map[SymbolID]*Symbol),
		names:   make(map[string][]workspace.FileID),
	}
	for _, fi := range sorted {
		w.files[fi.File.ID] = fi
		w.order = append(w.order, fi.File.ID)
		if fi.Module != "" {
			w.modules[fi.Module] = fi.File.ID
		}
		if fi.Unindexed {
			continue
		}
		for _, sym := range fi.Symbols {
			w.symbols[sym.ID] = sym
		}
		occNames := make([]string, 0, len(fi.Occurrences))
		for name := range fi.Occurrences {
			occNames = append(occNames, name)
		}
		sort.Strings(occNames)
		for _, name := range occNames {
			w.names[name] = append(w.names[name], fi.File.ID)
		}
	}
	return w
}

// File returns the index of one file.
func (w *WorkspaceIndex) File(id workspace.FileID) (*FileIndex, bool) {
	fi, ok := w.files[id]
	return fi, ok
}

// FileIDs returns every indexed file id in path order.
func (w *WorkspaceIndex) FileIDs() []workspace.FileID {
	return w.order
}

// Symbol looks up a symbol by id.
func (w *WorkspaceIndex) Symbol(id SymbolID) (*Symbol, bool) {
	sym, ok := w.symbols[id]
	return sym, ok
}

// SortedSymbolIDs returns every symbol id in lexical order, the iteration
// order for deterministic graph assembly.
func (w *WorkspaceIndex) SortedSymbolIDs() []SymbolID {
	ids := make([]SymbolID, 0, len(w.symbols))
	for id := range w.symbols {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// SymbolCount reports the number of indexed symbols.
func (w *WorkspaceIndex) SymbolCount() int {
	return len(w.symbols)
}

// ModuleFile maps a dotted module name to the file defining it.
func (w *WorkspaceIndex) ModuleFile(module string) (workspace.FileID, bool) {
	id, ok := w.modules[module]
	return id, ok
}

// FilesWithName returns the files containing at least one occurrence of
// name, in path order. This is the phase-1 candidate set for reference
// finding.
func (w *WorkspaceIndex) FilesWithName(name string) []workspace.FileID {
	return w.names[name]
}

// ModuleSymbol returns the module symbol of a file.
func (w *WorkspaceIndex) ModuleSymbol(id workspace.FileID) (SymbolID, bool) {
	fi, ok := w.files[id]
	if !ok || fi.Unindexed {
		return "", false
	}
	return fi.ModuleSym, true
}

// UnindexedFiles lists files that failed to parse, in path order.
func (w *WorkspaceIndex) UnindexedFiles() []workspace.FileID {
	var out []workspace.FileID
	for _, id := range w.order {
		if w.files[id].Unindexed {
			out = append(out, id)
		}
	}
	return out
}
