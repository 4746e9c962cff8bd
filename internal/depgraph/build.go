package depgraph

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jward/understory/internal/classify"
	"github.com/jward/understory/internal/resolve"
	"github.com/jward/understory/internal/symtab"
	"github.com/jward/understory/internal/workspace"
)

// ResolveFunc resolves one file. The engine injects its cached resolver here
// so rebuilds reuse resolutions whose inputs did not change.
type ResolveFunc func(ctx context.Context, id workspace.FileID) (*resolve.FileResolution, error)

// Options tune a build.
type Options struct {
	// Workers caps concurrent file resolutions; zero means GOMAXPROCS.
	Workers int
	// Unavailable lists files the registry could not read, folded into
	// the manifest.
	Unavailable []workspace.FileID
}

// Build resolves every file in parallel, then assembles nodes and edges in a
// single deterministic pass over files in path order. Two builds over the
// same index produce identical graphs.
func Build(ctx context.Context, ws *symtab.WorkspaceIndex, resolveFile ResolveFunc, opts Options) (*Graph, error) {
	started := time.Now()
	g := newGraph()
	for _, id := range ws.SortedSymbolIDs() {
		sym, _ := ws.Symbol(id)
		g.addSymbol(sym)
	}

	fileIDs := ws.FileIDs()
	results := make([]*resolve.FileResolution, len(fileIDs))

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i, id := range fileIDs {
		i, id := i, id
		eg.Go(func() error {
			res, err := resolveFile(gctx, id)
			if err != nil {
				return fmt.Errorf("resolve %s: %w", id, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	m := Manifest{
		BuildID:   uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	}

	references := 0
	for i, res := range results {
		fi, ok := ws.File(fileIDs[i])
		if !ok || fi.Unindexed {
			continue
		}
		for _, ref := range res.References {
			from := fi.OwnerOf(ref.Occurrence.Scope)
			if ref.Occurrence.Owner != "" {
				from = ref.Occurrence.Owner
			}
			g.addEdge(from, ref.Target, classify.Classify(ref.Occurrence), ref)
			references++
		}
		for _, u := range res.Unresolved {
			m.UnresolvedRefs = append(m.UnresolvedRefs, UnresolvedRef{
				File:    u.Occurrence.File,
				Name:    u.Occurrence.Name,
				Line:    u.Occurrence.Range.Start.Line,
				Builtin: u.Builtin,
			})
		}
		for _, imp := range res.Imports {
			if imp.External {
				g.addSymbol(symtab.NewExternalModule(externalModule(imp.Target)))
				m.UnresolvedImports = append(m.UnresolvedImports, UnresolvedImport{
					File:   fileIDs[i],
					Module: imp.Module,
					Member: memberOf(imp.Record.Ref),
					Line:   imp.Record.Ref.Range.Start.Line,
				})
			}
			g.addEdge(imp.Record.Owner, imp.Target, classify.KindImport, importReference(fileIDs[i], imp))
			references++
		}
	}

	m.Files = len(fileIDs)
	m.Symbols = g.SymbolCount()
	m.Edges = g.EdgeCount()
	m.References = references
	m.Unindexed = ws.UnindexedFiles()
	m.Unavailable = append([]workspace.FileID(nil), opts.Unavailable...)
	sort.Slice(m.Unavailable, func(i, j int) bool { return m.Unavailable[i] < m.Unavailable[j] })
	m.Duration = time.Since(started)
	g.manifest = m
	return g, nil
}

// importReference synthesizes the reference carried by an import edge, so
// import edges report a location and count like occurrence-backed edges.
func importReference(file workspace.FileID, imp resolve.ResolvedImport) resolve.Reference {
	name := imp.Module
	if member := memberOf(imp.Record.Ref); member != "" {
		name = name + "." + member
	}
	return resolve.Reference{
		Target: imp.Target,
		Occurrence: symtab.Occurrence{
			Name:    name,
			File:    file,
			Scope:   imp.Record.Scope,
			Range:   imp.Record.Ref.Range,
			Access:  symtab.AccessOther,
			Context: symtab.ContextImport,
		},
	}
}

func memberOf(ref symtab.ImportRef) string {
	if ref.Member == "*" {
		return ""
	}
	return ref.Member
}

func externalModule(id symtab.SymbolID) string {
	return strings.TrimPrefix(string(id), "extern:")
}
