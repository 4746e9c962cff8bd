package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/understory"
	"github.com/jward/understory/internal/store"
)

const version = "0.1.0"

var (
	flagDB     string
	flagFormat string
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "understory",
	Short:         "Symbol-level dependency graphs for Python workspaces",
	Long:          "Understory parses a Python workspace with tree-sitter, resolves every name to its defining symbol, and answers dependency queries from a SQLite snapshot.",
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return validateFormat(flagFormat)
	},
	// No Run — prints help by default.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "snapshot database path (default: .understory/graph.db under the workspace root)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(symbolsCmd)
	rootCmd.AddCommand(refsCmd)
	rootCmd.AddCommand(depsCmd)
	rootCmd.AddCommand(rdepsCmd)
	rootCmd.AddCommand(pathCmd)
	rootCmd.AddCommand(unusedCmd)
	rootCmd.AddCommand(hotspotsCmd)
	rootCmd.AddCommand(buildsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(watchCmd)
}

var (
	flagForce   bool
	flagKeep    int
	flagWorkers int
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Build the dependency graph and save a snapshot",
	Long:  "Discovers Python files under the workspace root, builds the symbol dependency graph, and persists it to the snapshot database for later queries.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&flagForce, "force", false, "delete the snapshot database and index from scratch")
	indexCmd.Flags().IntVar(&flagKeep, "keep", defaultKeep, "snapshots retained after saving")
	indexCmd.Flags().IntVar(&flagWorkers, "workers", 0, "parallel workers (default: one per CPU)")
}

func runIndex(cmd *cobra.Command, args []string) error {
	start := time.Now()

	root, err := resolveTargetDir(args)
	if err != nil {
		return outputError("index", err)
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return outputError("index", err)
	}
	if err := applyConfig(cmd, cfg); err != nil {
		return outputError("index", err)
	}

	dbPath := resolveDBPath(root)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return outputError("index", fmt.Errorf("creating %s: %w", filepath.Dir(dbPath), err))
	}
	if flagForce {
		if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
			return outputError("index", fmt.Errorf("removing database for --force: %w", err))
		}
		fmt.Fprintf(os.Stderr, "Cleared database: %s\n", dbPath)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := understory.New(root, engineOptions(cfg)...)
	if err != nil {
		return outputError("index", err)
	}
	manifest, err := eng.Build(ctx)
	if err != nil {
		return outputError("index", fmt.Errorf("building graph: %w", err))
	}

	st, err := openStoreRW(dbPath)
	if err != nil {
		return outputError("index", err)
	}
	defer st.Close()
	if err := saveSnapshot(ctx, eng, st); err != nil {
		return outputError("index", err)
	}

	fmt.Fprintf(os.Stderr, "Indexed %s in %s (%d files, %d symbols, %d edges)\n",
		root,
		time.Since(start).Round(time.Millisecond),
		manifest.Files, manifest.Symbols, manifest.Edges,
	)
	fmt.Fprintf(os.Stderr, "Database: %s\n", dbPath)

	one := 1
	return outputResult(CLIResult{
		Command: "index",
		BuildID: manifest.BuildID,
		Results: CLIIndexReport{
			Manifest: manifest,
			Degraded: manifest.Degraded(),
			Database: dbPath,
		},
		TotalCount: &one,
	})
}

// engineOptions builds understory options shared by index, watch, and the
// live query commands.
func engineOptions(cfg Config) []understory.Option {
	var opts []understory.Option
	workers := flagWorkers
	if workers <= 0 {
		workers = cfg.Workers
	}
	if workers > 0 {
		opts = append(opts, understory.WithWorkers(workers))
	}
	if len(cfg.Excludes) > 0 {
		opts = append(opts, understory.WithExcludes(cfg.Excludes...))
	}
	return opts
}

// resolveTargetDir returns the absolute path of the workspace to index.
func resolveTargetDir(args []string) (string, error) {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("directory not found: %s", abs)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", abs)
	}
	return abs, nil
}

// findWorkspaceRoot walks up from startDir looking for an understory marker
// (.understory/ or .understory.toml) or a .git directory. Returns startDir
// when no ancestor carries one.
func findWorkspaceRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".understory")); err == nil && info.IsDir() {
			return dir
		}
		if _, err := os.Stat(filepath.Join(dir, configName)); err == nil {
			return dir
		}
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root without finding a marker.
			return startDir
		}
		dir = parent
	}
}

// workspaceRootFromCwd resolves the workspace root for commands that take no
// path argument, applying the config found there.
func workspaceRootFromCwd(cmd *cobra.Command) (string, Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", Config{}, fmt.Errorf("getting cwd: %w", err)
	}
	root := findWorkspaceRoot(cwd)
	cfg, err := loadConfig(root)
	if err != nil {
		return "", Config{}, err
	}
	if err := applyConfig(cmd, cfg); err != nil {
		return "", Config{}, err
	}
	return root, cfg, nil
}

// resolveDBPath returns the database path from the --db flag or the default.
func resolveDBPath(root string) string {
	if flagDB != "" {
		if filepath.IsAbs(flagDB) {
			return flagDB
		}
		return filepath.Join(root, flagDB)
	}
	return filepath.Join(root, ".understory", "graph.db")
}

// openStoreRW opens the snapshot database for writing, creating the schema
// when missing.
func openStoreRW(dbPath string) (*store.Store, error) {
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := st.Migrate(); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return st, nil
}

// openStoreRO opens an existing snapshot database for queries.
func openStoreRO(root string) (*store.Store, error) {
	dbPath := resolveDBPath(root)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("no snapshot database at %s (run 'understory index' first)", dbPath)
	}
	return store.Open(dbPath)
}

