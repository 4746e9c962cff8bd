package understory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/jward/understory/internal/cache"
	"github.com/jward/understory/internal/depgraph"
	"github.com/jward/understory/internal/resolve"
	"github.com/jward/understory/internal/symtab"
	"github.com/jward/understory/internal/workspace"
)

// ErrNoBuild is returned by queries and Rebuild before the first successful
// Build.
var ErrNoBuild = errors.New("understory: no graph built yet")

// Engine orchestrates the understory pipeline: file discovery, parsing and
// symbol indexing, cross-file resolution, and graph assembly. Per-file caches
// keyed by content hash make rebuilds proportional to what changed, not to
// workspace size.
type Engine struct {
	registry workspace.Registry
	log      *slog.Logger
	workers  int
	capacity int
	excludes []string

	indexes  *cache.Store[*symtab.FileIndex]
	resolved *cache.Store[*resolve.FileResolution]

	// buildMu serializes builds. Queries keep reading the previous snapshot
	// while a build is in flight.
	buildMu sync.Mutex

	mu   sync.RWMutex
	snap *snapshot
}

// snapshot is one immutable build result. Queries resolve against the
// snapshot current at call time; a completed rebuild swaps in a new one.
type snapshot struct {
	files    map[workspace.FileID]workspace.File
	ws       *symtab.WorkspaceIndex
	resolver *resolve.Resolver
	graph    *depgraph.Graph
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers caps the number of goroutines used for parallel indexing and
// resolution. Zero or negative means one per CPU.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

// WithLogger directs engine logging. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithCacheCapacity bounds each per-file cache to n entries. Zero or
// negative selects the default capacity.
func WithCacheCapacity(n int) Option {
	return func(e *Engine) {
		e.capacity = n
	}
}

// WithExcludes adds glob patterns matched against workspace-relative paths
// and path segments; matching files are never indexed.
func WithExcludes(patterns ...string) Option {
	return func(e *Engine) {
		e.excludes = append(e.excludes, patterns...)
	}
}

// WithRegistry substitutes the file source, bypassing the filesystem. The
// root argument to New is ignored when set.
func WithRegistry(r workspace.Registry) Option {
	return func(e *Engine) {
		e.registry = r
	}
}

// New creates an Engine over the workspace rooted at root.
func New(root string, opts ...Option) (*Engine, error) {
	e := &Engine{
		log: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("understory: workspace root: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("understory: workspace root %s is not a directory", root)
		}
		e.registry = workspace.NewDirRegistry(root, e.excludes...)
	}
	e.indexes = cache.New[*symtab.FileIndex](e.capacity)
	e.resolved = cache.New[*resolve.FileResolution](e.capacity)
	return e, nil
}

// Build discovers the workspace's files and constructs the full dependency
// graph. Unchanged files reuse their cached index and resolution; files that
// changed, appeared, or vanished since the previous build have exactly their
// dependents recomputed.
func (e *Engine) Build(ctx context.Context) (depgraph.Manifest, error) {
	e.buildMu.Lock()
	defer e.buildMu.Unlock()

	discovered, err := e.registry.Files(ctx)
	if err != nil {
		return depgraph.Manifest{}, fmt.Errorf("understory: discover files: %w", err)
	}
	table := make(map[workspace.FileID]workspace.File, len(discovered))
	for _, f := range discovered {
		table[f.ID] = f
	}
	e.log.Debug("workspace discovered", "files", len(table))

	e.invalidate(diffFiles(e.currentFiles(), table))
	return e.run(ctx, table)
}

// Rebuild applies a batch of file changes to the previous build's file table
// and reconstructs the graph. An empty batch returns the current manifest
// untouched. Rebuild requires a prior successful Build.
func (e *Engine) Rebuild(ctx context.Context, changes []workspace.Change) (depgraph.Manifest, error) {
	e.buildMu.Lock()
	defer e.buildMu.Unlock()

	prev := e.currentSnapshot()
	if prev == nil {
		return depgraph.Manifest{}, ErrNoBuild
	}
	if len(changes) == 0 {
		return prev.graph.Manifest(), nil
	}

	table := make(map[workspace.FileID]workspace.File, len(prev.files))
	for id, f := range prev.files {
		table[id] = f
	}
	for _, ch := range changes {
		if ch.Removed {
			delete(table, ch.ID)
			continue
		}
		hash := ch.Hash
		if hash == "" {
			content, err := e.registry.Read(ctx, ch.ID)
			if err != nil {
				e.log.Warn("changed file unreadable, treating as removed", "file", ch.ID, "err", err)
				delete(table, ch.ID)
				continue
			}
			hash = workspace.HashBytes(content)
		}
		table[ch.ID] = workspace.File{
			ID:   ch.ID,
			Path: filepath.Join(e.registry.Root(), filepath.FromSlash(string(ch.ID))),
			Hash: hash,
		}
	}

	e.invalidate(changes)
	return e.run(ctx, table)
}

// run executes the index-merge-resolve-assemble pipeline over a fixed file
// table and swaps the resulting snapshot in.
func (e *Engine) run(ctx context.Context, table map[workspace.FileID]workspace.File) (depgraph.Manifest, error) {
	files := make([]workspace.File, 0, len(table))
	for _, f := range table {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })

	indexes, unavailable, err := e.indexAll(ctx, files)
	if err != nil {
		return depgraph.Manifest{}, fmt.Errorf("understory: index: %w", err)
	}

	ws := symtab.Merge(indexes)
	resolver := resolve.New(ws, resolve.NewWorkspaceModules(ws))

	resolveFn := func(ctx context.Context, id workspace.FileID) (*resolve.FileResolution, error) {
		f, ok := table[id]
		if !ok {
			return nil, fmt.Errorf("understory: resolve unknown file %s", id)
		}
		key := cache.Key{File: id, Hash: f.Hash, Kind: cache.KindResolve}
		return e.resolved.GetOrCompute(ctx, key, func(ctx context.Context) (*resolve.FileResolution, []cache.Input, error) {
			res, err := resolver.ResolveFile(ctx, id)
			if err != nil {
				return nil, nil, err
			}
			return res, consultedInputs(res.Consulted), nil
		})
	}

	g, err := depgraph.Build(ctx, ws, resolveFn, depgraph.Options{
		Workers:     e.workers,
		Unavailable: unavailable,
	})
	if err != nil {
		return depgraph.Manifest{}, fmt.Errorf("understory: assemble graph: %w", err)
	}

	e.mu.Lock()
	e.snap = &snapshot{files: table, ws: ws, resolver: resolver, graph: g}
	e.mu.Unlock()

	m := g.Manifest()
	e.log.Info("build complete",
		"files", m.Files,
		"symbols", m.Symbols,
		"edges", m.Edges,
		"references", m.References,
		"unresolved", len(m.UnresolvedRefs),
		"duration", m.Duration,
	)
	return m, nil
}

// invalidate drops cache entries affected by a change batch. Content changes
// invalidate everything that consulted the file; additions and removals also
// invalidate entries keyed on the file's module name, because they alter
// which file a module path resolves to.
func (e *Engine) invalidate(changes []workspace.Change) {
	if len(changes) == 0 {
		return
	}
	prev := map[workspace.FileID]workspace.File{}
	if snap := e.currentSnapshot(); snap != nil {
		prev = snap.files
	}
	for _, ch := range changes {
		dropped := e.indexes.Invalidate(ch.ID)
		dropped += e.resolved.Invalidate(ch.ID)

		_, existed := prev[ch.ID]
		if ch.Removed || !existed {
			if name := workspace.ModuleName(ch.ID); name != "" {
				dropped += e.resolved.InvalidateModule(name)
			}
		}
		if dropped > 0 {
			e.log.Debug("cache invalidated", "file", ch.ID, "entries", dropped)
		}
	}
}

func (e *Engine) currentSnapshot() *snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap
}

func (e *Engine) currentFiles() map[workspace.FileID]workspace.File {
	if snap := e.currentSnapshot(); snap != nil {
		return snap.files
	}
	return nil
}

// diffFiles derives the change batch separating two file tables.
func diffFiles(old, cur map[workspace.FileID]workspace.File) []workspace.Change {
	var changes []workspace.Change
	for id, f := range cur {
		prev, ok := old[id]
		if !ok || prev.Hash != f.Hash {
			changes = append(changes, workspace.Change{ID: id, Hash: f.Hash})
		}
	}
	for id := range old {
		if _, ok := cur[id]; !ok {
			changes = append(changes, workspace.Change{ID: id, Removed: true})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].ID < changes[j].ID })
	return changes
}

// consultedInputs converts a resolution's recorded inputs into cache
// dependencies.
func consultedInputs(c *resolve.Consulted) []cache.Input {
	if c == nil {
		return nil
	}
	inputs := make([]cache.Input, 0, len(c.Files)+len(c.Modules))
	for id, hash := range c.Files {
		inputs = append(inputs, cache.FileInput(id, hash))
	}
	for name := range c.Modules {
		inputs = append(inputs, cache.ModuleInput(name))
	}
	return inputs
}
