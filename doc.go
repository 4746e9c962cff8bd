// Package understory builds a symbol-level dependency graph over a multi-file
// Python workspace. Every function, class, variable, and module becomes a
// node with a stable identity; every resolved name use becomes a directed
// edge classified by the syntax it appeared in.
//
// # Pipeline
//
// A build runs four phases:
//
//  1. Discover: enumerate the workspace's Python files with content hashes,
//     preferring git ls-files so ignore rules are respected.
//
//  2. Index: parse each file with tree-sitter and extract its scope tree,
//     symbols, name occurrences, and import records. Files are independent,
//     so this phase fans out across a worker pool.
//
//  3. Resolve: bind every occurrence to exactly one symbol using Python's
//     scoping rules (class bodies invisible to nested scopes, global and
//     nonlocal declarations, comprehension scopes), following imports
//     across files. Unresolved names are recorded, never dropped.
//
//  4. Assemble: merge per-file resolutions into one graph in deterministic
//     file order, aggregating references into (from, to, kind) edges.
//
// # Usage
//
// Create an Engine, build, and query:
//
//	e, err := understory.New("path/to/project")
//	if err != nil { ... }
//
//	ctx := context.Background()
//	manifest, err := e.Build(ctx)
//
//	syms, err := e.SymbolsNamed("Animal")
//	refs, err := e.References(ctx, syms[0].ID)
//	deps, err := e.DependenciesOf(syms[0].ID)
//
// # Query API
//
// Queries answer against the most recent build and run concurrently with
// rebuilds:
//
//   - [Engine.References] — every use of a symbol across the workspace.
//   - [Engine.DependenciesOf] — outgoing edges: what a symbol relies on.
//   - [Engine.DependentsOf] — incoming edges: what relies on a symbol.
//   - [Engine.PathBetween] — a shortest dependency chain between two symbols.
//   - [Engine.SymbolAt] — the definition or reference target at a position.
//   - [Engine.UnusedSymbols], [Engine.Hotspots] — workspace reports.
//
// # Incremental Rebuilds
//
// Analysis results are cached per (file, content hash) with every consulted
// input recorded. [Engine.Rebuild] takes a change batch and recomputes
// exactly the files whose inputs changed: a file edit re-resolves only its
// dependents, and creating a file that satisfies a previously missing import
// re-resolves exactly the files that looked for it. A rebuild over an
// unchanged workspace is a cache walk that produces an identical graph.
//
// # Degraded Builds
//
// Malformed or unreadable files never abort a build. They are recorded in
// the [Manifest] and contribute nothing to the graph; names that would have
// resolved into them surface as unresolved references.
package understory
