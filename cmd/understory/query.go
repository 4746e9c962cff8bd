package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jward/understory"
	"github.com/jward/understory/internal/store"
)

var (
	flagBuild        string
	flagSymbolLimit  int
	flagHotspotLimit int
)

func init() {
	for _, c := range []*cobra.Command{symbolsCmd, depsCmd, rdepsCmd, hotspotsCmd} {
		c.Flags().StringVar(&flagBuild, "build", "", "snapshot build id (default: latest)")
	}
	symbolsCmd.Flags().IntVar(&flagSymbolLimit, "limit", 50, "maximum results, 0 for all")
	hotspotsCmd.Flags().IntVar(&flagHotspotLimit, "limit", 20, "maximum results, 0 for all")
}

// --- Output helpers ---

// outputResult marshals a CLIResult to stdout in the selected format.
func outputResult(result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(result)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope. In text mode it goes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		return err
	}
	result := CLIResult{
		Command: command,
		Error:   err.Error(),
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	return err
}

// --- Snapshot helpers ---

// resolveBuildID picks the queried snapshot: --build if given, else latest.
func resolveBuildID(ctx context.Context, st *store.Store) (string, error) {
	if flagBuild != "" {
		return flagBuild, nil
	}
	return st.LatestBuildID(ctx)
}

// resolveNodeID turns a CLI symbol argument into a stored node id. Ids carry
// ':' separators; anything else is treated as a name that must match exactly
// one node.
func resolveNodeID(ctx context.Context, st *store.Store, buildID, arg string) (understory.SymbolID, error) {
	if strings.Contains(arg, ":") {
		return understory.SymbolID(arg), nil
	}
	nodes, err := st.NodesNamed(ctx, buildID, arg)
	if err != nil {
		return "", err
	}
	switch len(nodes) {
	case 0:
		return "", fmt.Errorf("no symbol named %q in build %s", arg, buildID)
	case 1:
		return nodes[0].ID, nil
	default:
		ids := make([]string, len(nodes))
		for i, n := range nodes {
			ids[i] = string(n.ID)
		}
		return "", fmt.Errorf("ambiguous name %q, use one of: %s", arg, strings.Join(ids, ", "))
	}
}

// --- Live-engine helpers ---

// liveEngine builds the workspace graph in-process for queries that need
// occurrence-level detail the snapshot does not keep.
func liveEngine(cmd *cobra.Command) (*understory.Engine, string, error) {
	root, cfg, err := workspaceRootFromCwd(cmd)
	if err != nil {
		return nil, "", err
	}
	eng, err := understory.New(root, engineOptions(cfg)...)
	if err != nil {
		return nil, "", err
	}
	if _, err := eng.Build(cmd.Context()); err != nil {
		return nil, "", fmt.Errorf("building graph: %w", err)
	}
	return eng, root, nil
}

// resolveLiveSymbol finds the definition a CLI argument names: an exact
// symbol id (contains ':'), or a name matching exactly one definition.
// Import bindings are skipped; references resolve through them.
func resolveLiveSymbol(eng *understory.Engine, arg string) (*understory.Symbol, error) {
	if strings.Contains(arg, ":") {
		sym, err := eng.Symbol(understory.SymbolID(arg))
		if err != nil {
			return nil, err
		}
		if sym == nil {
			return nil, fmt.Errorf("no symbol with id %q", arg)
		}
		return sym, nil
	}
	syms, err := eng.SymbolsNamed(arg)
	if err != nil {
		return nil, err
	}
	var defs []*understory.Symbol
	for _, s := range syms {
		if s.Import == nil {
			defs = append(defs, s)
		}
	}
	switch len(defs) {
	case 0:
		return nil, fmt.Errorf("no symbol named %q", arg)
	case 1:
		return defs[0], nil
	default:
		ids := make([]string, len(defs))
		for i, s := range defs {
			ids[i] = string(s.ID)
		}
		return nil, fmt.Errorf("ambiguous name %q, use one of: %s", arg, strings.Join(ids, ", "))
	}
}

// workspaceRelative converts a file argument to the workspace-relative id
// the engine keys files by.
func workspaceRelative(root, file string) (understory.FileID, error) {
	p := file
	if !filepath.IsAbs(p) {
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", fmt.Errorf("resolving file path %q: %w", file, err)
		}
		p = abs
	}
	rel, err := filepath.Rel(root, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("file %s is outside workspace %s", file, root)
	}
	return understory.FileID(filepath.ToSlash(rel)), nil
}

// parseIntArg parses a positional argument as a non-negative integer.
func parseIntArg(value, name string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a non-negative integer", name, value)
	}
	return n, nil
}

// --- Snapshot-backed commands ---

var symbolsCmd = &cobra.Command{
	Use:   "symbols [name]",
	Short: "List symbols from the latest snapshot",
	Long:  "Without arguments lists every indexed symbol; with a name lists only symbols so named.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSymbols,
}

func runSymbols(cmd *cobra.Command, args []string) error {
	root, _, err := workspaceRootFromCwd(cmd)
	if err != nil {
		return outputError("symbols", err)
	}
	st, err := openStoreRO(root)
	if err != nil {
		return outputError("symbols", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	buildID, err := resolveBuildID(ctx, st)
	if err != nil {
		return outputError("symbols", err)
	}

	var nodes []understory.Node
	if len(args) == 1 {
		nodes, err = st.NodesNamed(ctx, buildID, args[0])
	} else {
		var view *understory.View
		view, err = st.Load(ctx, buildID)
		if view != nil {
			nodes = view.Nodes
		}
	}
	if err != nil {
		return outputError("symbols", err)
	}

	total := len(nodes)
	if flagSymbolLimit > 0 && len(nodes) > flagSymbolLimit {
		nodes = nodes[:flagSymbolLimit]
	}
	results := make([]CLISymbol, len(nodes))
	for i, n := range nodes {
		results[i] = nodeToCLI(n)
	}
	return outputResult(CLIResult{
		Command:    "symbols",
		BuildID:    buildID,
		Results:    results,
		TotalCount: &total,
	})
}

var depsCmd = &cobra.Command{
	Use:   "deps <symbol>",
	Short: "Outgoing dependencies of a symbol",
	Long:  "Lists the symbols a symbol depends on. The argument is a symbol id or an unambiguous name.",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeps,
}

func runDeps(cmd *cobra.Command, args []string) error {
	return runEdgeQuery(cmd, "deps", args[0], (*store.Store).EdgesFrom)
}

var rdepsCmd = &cobra.Command{
	Use:   "rdeps <symbol>",
	Short: "Incoming dependencies of a symbol",
	Long:  "Lists the symbols that depend on a symbol. The argument is a symbol id or an unambiguous name.",
	Args:  cobra.ExactArgs(1),
	RunE:  runRdeps,
}

func runRdeps(cmd *cobra.Command, args []string) error {
	return runEdgeQuery(cmd, "rdeps", args[0], (*store.Store).EdgesTo)
}

// runEdgeQuery is the shared body of deps and rdeps; side selects the
// adjacency direction.
func runEdgeQuery(cmd *cobra.Command, command, arg string, side func(*store.Store, context.Context, string, understory.SymbolID) ([]understory.ViewEdge, error)) error {
	root, _, err := workspaceRootFromCwd(cmd)
	if err != nil {
		return outputError(command, err)
	}
	st, err := openStoreRO(root)
	if err != nil {
		return outputError(command, err)
	}
	defer st.Close()

	ctx := cmd.Context()
	buildID, err := resolveBuildID(ctx, st)
	if err != nil {
		return outputError(command, err)
	}
	id, err := resolveNodeID(ctx, st, buildID, arg)
	if err != nil {
		return outputError(command, err)
	}
	edges, err := side(st, ctx, buildID, id)
	if err != nil {
		return outputError(command, err)
	}

	results := make([]CLIEdge, len(edges))
	for i, e := range edges {
		results[i] = viewEdgeToCLI(e)
	}
	total := len(results)
	return outputResult(CLIResult{
		Command:    command,
		BuildID:    buildID,
		Results:    results,
		TotalCount: &total,
	})
}

var hotspotsCmd = &cobra.Command{
	Use:   "hotspots",
	Short: "Most-referenced symbols",
	Args:  cobra.NoArgs,
	RunE:  runHotspots,
}

func runHotspots(cmd *cobra.Command, args []string) error {
	root, _, err := workspaceRootFromCwd(cmd)
	if err != nil {
		return outputError("hotspots", err)
	}
	st, err := openStoreRO(root)
	if err != nil {
		return outputError("hotspots", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	buildID, err := resolveBuildID(ctx, st)
	if err != nil {
		return outputError("hotspots", err)
	}
	spots, err := st.Hotspots(ctx, buildID, flagHotspotLimit)
	if err != nil {
		return outputError("hotspots", err)
	}

	results := make([]CLIHotspot, len(spots))
	for i, h := range spots {
		results[i] = hotspotToCLI(h)
	}
	total := len(results)
	return outputResult(CLIResult{
		Command:    "hotspots",
		BuildID:    buildID,
		Results:    results,
		TotalCount: &total,
	})
}

var buildsCmd = &cobra.Command{
	Use:   "builds",
	Short: "List saved snapshots, newest first",
	Args:  cobra.NoArgs,
	RunE:  runBuilds,
}

func runBuilds(cmd *cobra.Command, args []string) error {
	root, _, err := workspaceRootFromCwd(cmd)
	if err != nil {
		return outputError("builds", err)
	}
	st, err := openStoreRO(root)
	if err != nil {
		return outputError("builds", err)
	}
	defer st.Close()

	builds, err := st.Builds(cmd.Context())
	if err != nil {
		return outputError("builds", err)
	}
	total := len(builds)
	return outputResult(CLIResult{
		Command:    "builds",
		Results:    builds,
		TotalCount: &total,
	})
}

// --- Live-engine commands ---

var refsCmd = &cobra.Command{
	Use:   "refs <symbol> | refs <file> <line> <col>",
	Short: "Find every reference to a symbol",
	Long:  "Re-analyzes the workspace and lists each site referencing the symbol. Lines are 1-based, columns 0-based.",
	Args:  cobra.RangeArgs(1, 3),
	RunE:  runRefs,
}

func runRefs(cmd *cobra.Command, args []string) error {
	if len(args) == 2 {
		return outputError("refs", fmt.Errorf("requires either <symbol> or <file> <line> <col>"))
	}
	eng, root, err := liveEngine(cmd)
	if err != nil {
		return outputError("refs", err)
	}

	ctx := cmd.Context()
	var sym *understory.Symbol
	if len(args) == 3 {
		file, err := workspaceRelative(root, args[0])
		if err != nil {
			return outputError("refs", err)
		}
		line, err := parseIntArg(args[1], "line")
		if err != nil {
			return outputError("refs", err)
		}
		col, err := parseIntArg(args[2], "col")
		if err != nil {
			return outputError("refs", err)
		}
		sym, err = eng.SymbolAt(ctx, file, line, col)
		if err != nil {
			return outputError("refs", err)
		}
		if sym == nil {
			return outputError("refs", fmt.Errorf("no symbol at %s:%d:%d", file, line, col))
		}
	} else {
		sym, err = resolveLiveSymbol(eng, args[0])
		if err != nil {
			return outputError("refs", err)
		}
	}

	refs, err := eng.References(ctx, sym.ID)
	if err != nil {
		return outputError("refs", err)
	}
	results := make([]CLILocation, len(refs))
	for i, ref := range refs {
		results[i] = referenceToCLI(ref)
	}
	total := len(results)
	return outputResult(CLIResult{
		Command:    "refs",
		Results:    results,
		TotalCount: &total,
	})
}

var pathCmd = &cobra.Command{
	Use:   "path <from> <to>",
	Short: "Shortest dependency chain between two symbols",
	Long:  "Re-analyzes the workspace and prints a shortest chain of edges from one symbol to another, or nothing when no chain exists.",
	Args:  cobra.ExactArgs(2),
	RunE:  runPath,
}

func runPath(cmd *cobra.Command, args []string) error {
	eng, _, err := liveEngine(cmd)
	if err != nil {
		return outputError("path", err)
	}

	from, err := resolveLiveSymbol(eng, args[0])
	if err != nil {
		return outputError("path", err)
	}
	to, err := resolveLiveSymbol(eng, args[1])
	if err != nil {
		return outputError("path", err)
	}
	edges, err := eng.PathBetween(from.ID, to.ID)
	if err != nil {
		return outputError("path", err)
	}

	results := make([]CLIEdge, len(edges))
	for i, e := range edges {
		results[i] = edgeToCLI(e)
	}
	total := len(results)
	return outputResult(CLIResult{
		Command:    "path",
		Results:    results,
		TotalCount: &total,
	})
}

var unusedCmd = &cobra.Command{
	Use:   "unused",
	Short: "Module-visible symbols nothing references",
	Args:  cobra.NoArgs,
	RunE:  runUnused,
}

func runUnused(cmd *cobra.Command, args []string) error {
	eng, _, err := liveEngine(cmd)
	if err != nil {
		return outputError("unused", err)
	}
	syms, err := eng.UnusedSymbols()
	if err != nil {
		return outputError("unused", err)
	}
	results := make([]CLISymbol, len(syms))
	for i, s := range syms {
		results[i] = symbolToCLI(s)
	}
	total := len(results)
	return outputResult(CLIResult{
		Command:    "unused",
		Results:    results,
		TotalCount: &total,
	})
}
