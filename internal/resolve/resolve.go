// Package resolve answers what each name occurrence refers to. It walks the
// scope chain with Python's visibility rules, follows import bindings through
// module resolution, and validates candidate occurrences so same-named but
// unrelated identifiers never produce references.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jward/understory/internal/symtab"
	"github.com/jward/understory/internal/workspace"
)

// ErrUnknownSymbol reports a reference query for an id absent from the index.
var ErrUnknownSymbol = errors.New("unknown symbol")

// Reference is one validated use of a symbol.
type Reference struct {
	Target     symtab.SymbolID   `json:"target"`
	Occurrence symtab.Occurrence `json:"occurrence"`
}

// UnresolvedRef is an occurrence whose scope chain reaches no binding. These
// are recorded, never dropped.
type UnresolvedRef struct {
	Occurrence symtab.Occurrence `json:"occurrence"`
	// Builtin marks names bound by the builtins module rather than the
	// workspace.
	Builtin bool `json:"builtin,omitempty"`
}

// ResolvedImport is the edge-producing result of one import record.
type ResolvedImport struct {
	Record symtab.ImportRecord `json:"record"`
	// Target is the imported symbol, or a synthetic external id when the
	// import does not resolve inside the workspace.
	Target   symtab.SymbolID `json:"target"`
	Module   string          `json:"module"`
	External bool            `json:"external,omitempty"`
}

// Consulted records every input a resolution read: files by hash, plus every
// module name looked up. Module names register on hit and miss alike; the
// name-to-file mapping is itself an input, and a newly created file can
// change it even when no existing file's content did.
type Consulted struct {
	Files   map[workspace.FileID]workspace.Hash
	Modules map[string]bool
}

func newConsulted() *Consulted {
	return &Consulted{
		Files:   make(map[workspace.FileID]workspace.Hash),
		Modules: make(map[string]bool),
	}
}

func (c *Consulted) useFile(id workspace.FileID, hash workspace.Hash) {
	c.Files[id] = hash
}

func (c *Consulted) useModule(name string) {
	c.Modules[name] = true
}

// FileResolution resolves every occurrence and import of one file. It is the
// per-file memoization unit: identical file content plus identical consulted
// inputs means the resolution can be reused as is.
type FileResolution struct {
	File       workspace.FileID `json:"file"`
	References []Reference      `json:"references"`
	Unresolved []UnresolvedRef  `json:"unresolved"`
	Imports    []ResolvedImport `json:"imports"`
	Consulted  *Consulted       `json:"-"`
}

// Resolver performs scope-aware name resolution over a frozen workspace
// index. It holds no mutable state and is safe for concurrent use.
type Resolver struct {
	ws      *symtab.WorkspaceIndex
	modules ModuleResolver
}

// New builds a resolver over the merged index.
func New(ws *symtab.WorkspaceIndex, modules ModuleResolver) *Resolver {
	return &Resolver{ws: ws, modules: modules}
}

// === Scope chain ===

// Lookup resolves name from the given scope outward. Class scopes are
// visible only to lookups starting directly in them; global and nonlocal
// declarations in the starting scope redirect the search.
func (r *Resolver) Lookup(fi *symtab.FileIndex, start symtab.ScopeID, name string) (*symtab.Symbol, bool) {
	startScope := fi.Scope(start)

	if startScope.ID != symtab.ModuleScopeID && startScope.Globals[name] {
		return fi.Scope(symtab.ModuleScopeID).Lookup(name)
	}
	if startScope.Nonlocals[name] {
		for id := startScope.Parent; id != symtab.NoScope; {
			s := fi.Scope(id)
			if s.Kind == symtab.ScopeFunction || s.Kind == symtab.ScopeComprehension {
				if sym, ok := s.Lookup(name); ok {
					return sym, true
				}
			}
			id = s.Parent
		}
		return nil, false
	}

	first := true
	for id := start; id != symtab.NoScope; {
		s := fi.Scope(id)
		if first || s.Kind != symtab.ScopeClass {
			if sym, ok := s.Lookup(name); ok {
				return sym, true
			}
		}
		first = false
		id = s.Parent
	}
	return nil, false
}

type outcome int

const (
	outcomeResolved outcome = iota
	outcomeBuiltin
	outcomeUnresolved
)

// resolveOccurrence resolves one occurrence to its ultimate target, following
// import bindings through module resolution before comparison.
func (r *Resolver) resolveOccurrence(fi *symtab.FileIndex, occ symtab.Occurrence, c *Consulted) (*symtab.Symbol, outcome) {
	sym, ok := r.Lookup(fi, occ.Scope, occ.Name)
	if !ok {
		if IsBuiltin(occ.Name) {
			return nil, outcomeBuiltin
		}
		return nil, outcomeUnresolved
	}
	return r.follow(sym, c), outcomeResolved
}

// follow chases import bindings to the symbol they ultimately name. An
// import that does not resolve leaves the occurrence targeting the binding
// itself; the unresolved target surfaces through the import edge instead.
func (r *Resolver) follow(sym *symtab.Symbol, c *Consulted) *symtab.Symbol {
	seen := make(map[symtab.SymbolID]bool)
	for sym.Import != nil && !seen[sym.ID] {
		seen[sym.ID] = true
		next, ok := r.followTarget(*sym.Import, sym.File, c)
		if !ok {
			return sym
		}
		sym = next
	}
	return sym
}

// followTarget resolves what a name bound by ref refers to. A plain
// `import a.b` binds the root package `a`; with an alias the binding names
// `a.b` itself; `from m import x` names the member.
func (r *Resolver) followTarget(ref symtab.ImportRef, from workspace.FileID, c *Consulted) (*symtab.Symbol, bool) {
	if ref.Member == "" {
		module := ref.Module
		if !ref.Aliased && ref.Dots == 0 {
			if dot := strings.IndexByte(module, '.'); dot >= 0 {
				module = module[:dot]
			}
		}
		return r.moduleSymbol(ref.Dots, module, from, c)
	}
	return r.memberSymbol(ref, from, c)
}

// moduleSymbol resolves a module path to the module symbol of its file.
func (r *Resolver) moduleSymbol(dots int, module string, from workspace.FileID, c *Consulted) (*symtab.Symbol, bool) {
	written := strings.Repeat(".", dots) + module
	if name := r.modules.Canonical(written, from); name != "" {
		c.useModule(name)
	}
	fileID, ok := r.modules.ResolveImport(written, from)
	if !ok {
		return nil, false
	}
	fi, ok := r.ws.File(fileID)
	if !ok {
		return nil, false
	}
	c.useFile(fileID, fi.File.Hash)
	if fi.Unindexed {
		return nil, false
	}
	sym, ok := r.ws.Symbol(fi.ModuleSym)
	return sym, ok
}

// memberSymbol resolves `from m import x`: first as a module-level binding x
// in m, then as the submodule m.x.
func (r *Resolver) memberSymbol(ref symtab.ImportRef, from workspace.FileID, c *Consulted) (*symtab.Symbol, bool) {
	modSym, ok := r.moduleSymbol(ref.Dots, ref.Module, from, c)
	if !ok {
		return nil, false
	}
	fi, ok := r.ws.File(modSym.File)
	if !ok {
		return nil, false
	}
	if sym, ok := fi.Scope(symtab.ModuleScopeID).Lookup(ref.Member); ok {
		return sym, true
	}
	sub := ref.Member
	if ref.Module != "" {
		sub = ref.Module + "." + ref.Member
	}
	return r.moduleSymbol(ref.Dots, sub, from, c)
}

// resolveImportEdge produces the edge target for one import record. Failures
// yield a synthetic external target, never a dropped record.
func (r *Resolver) resolveImportEdge(rec symtab.ImportRecord, from workspace.FileID, c *Consulted) ResolvedImport {
	ref := rec.Ref
	written := strings.Repeat(".", ref.Dots) + ref.Module

	if ref.Member == "" || ref.Member == "*" {
		if sym, ok := r.moduleSymbol(ref.Dots, ref.Module, from, c); ok {
			return ResolvedImport{Record: rec, Target: sym.ID, Module: written}
		}
		return ResolvedImport{
			Record:   rec,
			Target:   symtab.ExternalSymbolID(written),
			Module:   written,
			External: true,
		}
	}

	if sym, ok := r.memberSymbol(ref, from, c); ok {
		return ResolvedImport{Record: rec, Target: sym.ID, Module: written}
	}
	full := written + "." + ref.Member
	if ref.Module == "" {
		full = written + ref.Member
	}
	return ResolvedImport{
		Record:   rec,
		Target:   symtab.ExternalSymbolID(full),
		Module:   written,
		External: true,
	}
}

// === Per-file resolution ===

// ResolveFile resolves every occurrence and import record of one file. The
// result records all consulted inputs so cached resolutions invalidate
// exactly when an input changes.
func (r *Resolver) ResolveFile(ctx context.Context, id workspace.FileID) (*FileResolution, error) {
	fi, ok := r.ws.File(id)
	if !ok {
		return nil, fmt.Errorf("resolve %s: unknown file", id)
	}
	res := &FileResolution{File: id, Consulted: newConsulted()}
	if fi.Unindexed {
		return res, nil
	}

	names := make([]string, 0, len(fi.Occurrences))
	for name := range fi.Occurrences {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, occ := range fi.Occurrences[name] {
			target, out := r.resolveOccurrence(fi, occ, res.Consulted)
			switch out {
			case outcomeResolved:
				res.References = append(res.References, Reference{Target: target.ID, Occurrence: occ})
			case outcomeBuiltin:
				res.Unresolved = append(res.Unresolved, UnresolvedRef{Occurrence: occ, Builtin: true})
			case outcomeUnresolved:
				res.Unresolved = append(res.Unresolved, UnresolvedRef{Occurrence: occ})
			}
		}
	}

	for _, rec := range fi.Imports {
		res.Imports = append(res.Imports, r.resolveImportEdge(rec, id, res.Consulted))
	}

	sort.Slice(res.References, func(i, j int) bool {
		return res.References[i].Occurrence.Range.StartByte < res.References[j].Occurrence.Range.StartByte
	})
	sort.Slice(res.Unresolved, func(i, j int) bool {
		return res.Unresolved[i].Occurrence.Range.StartByte < res.Unresolved[j].Occurrence.Range.StartByte
	})
	return res, nil
}

// === Reference finding ===

// candidate is one (file, local name) pair to validate in phase two.
type candidate struct {
	file workspace.FileID
	name string
}

// FindReferences enumerates every use of a symbol workspace-wide. Phase one
// gathers candidate files from the occurrence index under the symbol's own
// name, plus files whose import bindings chain to the symbol under an alias.
// Phase two resolves each candidate occurrence through the scope chain and
// keeps exactly those that land on the target.
func (r *Resolver) FindReferences(ctx context.Context, id symtab.SymbolID) ([]Reference, error) {
	sym, ok := r.ws.Symbol(id)
	if !ok {
		return nil, fmt.Errorf("find references %s: %w", id, ErrUnknownSymbol)
	}
	if sym.External {
		return nil, nil
	}

	c := newConsulted()
	seen := make(map[candidate]bool)
	var cands []candidate
	add := func(file workspace.FileID, name string) {
		k := candidate{file, name}
		if !seen[k] {
			seen[k] = true
			cands = append(cands, k)
		}
	}

	if sym.ModuleVisible() || sym.Kind == symtab.KindModule {
		for _, fid := range r.ws.FilesWithName(sym.Name) {
			add(fid, sym.Name)
		}
		// aliases: import bindings anywhere that chain to the target
		for _, fid := range r.ws.FileIDs() {
			fi, _ := r.ws.File(fid)
			if fi.Unindexed {
				continue
			}
			for _, rec := range fi.Imports {
				if rec.Binding == "" {
					continue
				}
				binding, ok := fi.Symbol(rec.Binding)
				if !ok || binding.Import == nil {
					continue
				}
				if r.follow(binding, c).ID == id {
					add(fid, binding.Name)
				}
			}
		}
	} else {
		add(sym.File, sym.Name)
	}

	var refs []Reference
	for _, cand := range cands {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fi, ok := r.ws.File(cand.file)
		if !ok {
			continue
		}
		for _, occ := range fi.OccurrencesOf(cand.name) {
			target, out := r.resolveOccurrence(fi, occ, c)
			if out == outcomeResolved && target.ID == id {
				refs = append(refs, Reference{Target: id, Occurrence: occ})
			}
		}
	}

	sort.Slice(refs, func(i, j int) bool {
		a, b := refs[i].Occurrence, refs[j].Occurrence
		if a.File != b.File {
			return a.File < b.File
		}
		return a.Range.StartByte < b.Range.StartByte
	})
	return refs, nil
}
