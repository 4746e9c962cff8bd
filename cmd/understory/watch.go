package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/understory"
	"github.com/jward/understory/internal/store"
	"github.com/jward/understory/internal/watch"
)

var flagDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Rebuild the graph as files change",
	Long:  "Builds the dependency graph, then watches the workspace and rebuilds incrementally on every batch of Python file changes, saving each build as a new snapshot. Runs until interrupted.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&flagDebounce, "debounce", 250*time.Millisecond, "quiet period before a change batch is applied")
	watchCmd.Flags().IntVar(&flagKeep, "keep", defaultKeep, "snapshots retained after each rebuild")
	watchCmd.Flags().IntVar(&flagWorkers, "workers", 0, "parallel workers (default: one per CPU)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	root, err := resolveTargetDir(args)
	if err != nil {
		return outputError("watch", err)
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return outputError("watch", err)
	}
	if err := applyConfig(cmd, cfg); err != nil {
		return outputError("watch", err)
	}

	dbPath := resolveDBPath(root)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return outputError("watch", fmt.Errorf("creating %s: %w", filepath.Dir(dbPath), err))
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := understory.New(root, append(engineOptions(cfg), understory.WithLogger(logger))...)
	if err != nil {
		return outputError("watch", err)
	}
	st, err := openStoreRW(dbPath)
	if err != nil {
		return outputError("watch", err)
	}
	defer st.Close()

	manifest, err := eng.Build(ctx)
	if err != nil {
		return outputError("watch", fmt.Errorf("initial build: %w", err))
	}
	if err := saveSnapshot(ctx, eng, st); err != nil {
		return outputError("watch", err)
	}
	logger.Info("graph built",
		"build", manifest.BuildID,
		"files", manifest.Files,
		"symbols", manifest.Symbols,
		"edges", manifest.Edges,
		"degraded", manifest.Degraded(),
	)

	handler := func(changes []understory.Change) {
		m, err := eng.Rebuild(ctx, changes)
		if err != nil {
			logger.Error("rebuild failed", "err", err)
			return
		}
		if err := saveSnapshot(ctx, eng, st); err != nil {
			logger.Error("snapshot save failed", "err", err)
			return
		}
		logger.Info("graph rebuilt",
			"build", m.BuildID,
			"changes", len(changes),
			"files", m.Files,
			"symbols", m.Symbols,
			"edges", m.Edges,
			"duration", m.Duration,
			"degraded", m.Degraded(),
		)
	}

	w, err := watch.New(root, handler,
		watch.WithDebounce(flagDebounce),
		watch.WithExcludes(cfg.Excludes...),
		watch.WithLogger(logger),
	)
	if err != nil {
		return outputError("watch", err)
	}
	if err := w.Start(ctx); err != nil {
		return outputError("watch", err)
	}
	defer w.Stop()

	<-ctx.Done()
	logger.Info("stopping")
	return nil
}

// saveSnapshot persists the engine's current view and prunes old builds.
func saveSnapshot(ctx context.Context, eng *understory.Engine, st *store.Store) error {
	view, err := eng.View()
	if err != nil {
		return err
	}
	if err := st.Save(ctx, view); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	if err := st.Prune(ctx, flagKeep); err != nil {
		return fmt.Errorf("pruning snapshots: %w", err)
	}
	return nil
}
