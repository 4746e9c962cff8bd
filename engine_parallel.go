package understory

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/jward/understory/internal/cache"
	"github.com/jward/understory/internal/pyast"
	"github.com/jward/understory/internal/symtab"
	"github.com/jward/understory/internal/workspace"
)

// indexAll parses and indexes every file with a bounded worker pool. Each
// worker owns its parser because tree-sitter parsers are not safe for
// concurrent use. Results land in a position-addressed slice so the merge
// order is the sorted file order regardless of which worker finished when.
//
// Unreadable files are recorded and contribute an unindexed entry; they never
// abort the build. Syntax errors are cached like any other per-file result,
// since identical content always fails identically.
func (e *Engine) indexAll(ctx context.Context, files []workspace.File) ([]*symtab.FileIndex, []workspace.FileID, error) {
	if len(files) == 0 {
		return nil, nil, nil
	}

	workers := e.workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(files) {
		workers = len(files)
	}

	indexes := make([]*symtab.FileIndex, len(files))
	var (
		mu          sync.Mutex
		unavailable []workspace.FileID
		next        atomic.Int64
	)

	eg, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		eg.Go(func() error {
			parser := pyast.NewParser()
			for {
				i := int(next.Add(1)) - 1
				if i >= len(files) {
					return nil
				}
				if err := gctx.Err(); err != nil {
					return err
				}
				fi, err := e.indexOne(gctx, parser, files[i])
				if err != nil {
					var unavail *workspace.FileUnavailableError
					if errors.As(err, &unavail) {
						e.log.Warn("file unavailable", "file", files[i].ID, "err", err)
						mu.Lock()
						unavailable = append(unavailable, files[i].ID)
						mu.Unlock()
						indexes[i] = symtab.NewUnindexed(files[i], err)
						continue
					}
					return err
				}
				indexes[i] = fi
			}
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}
	return indexes, unavailable, nil
}

// indexOne returns the cached index for a file at its current hash, or reads,
// parses, and indexes it.
func (e *Engine) indexOne(ctx context.Context, parser *pyast.Parser, f workspace.File) (*symtab.FileIndex, error) {
	key := cache.Key{File: f.ID, Hash: f.Hash, Kind: cache.KindIndex}
	return e.indexes.GetOrCompute(ctx, key, func(ctx context.Context) (*symtab.FileIndex, []cache.Input, error) {
		content, err := e.registry.Read(ctx, f.ID)
		if err != nil {
			return nil, nil, err
		}
		tree, err := parser.Parse(ctx, content)
		if err != nil {
			var syn *pyast.SyntaxError
			if errors.As(err, &syn) {
				e.log.Debug("syntax error", "file", f.ID, "line", syn.Line, "col", syn.Col)
				return symtab.NewUnindexed(f, err), nil, nil
			}
			return nil, nil, err
		}
		defer tree.Close()
		return symtab.IndexFile(f, tree), nil, nil
	})
}
