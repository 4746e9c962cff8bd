package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jward/understory/internal/export"
)

var (
	flagExportFormat string
	flagExportOut    string
	flagCompress     bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the latest snapshot in an interchange format",
	Long:  "Loads a saved snapshot and writes it as JSON, YAML, graphviz DOT, or a SCIP protobuf index. Output goes to stdout unless --out is given.",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

func init() {
	// Shadows the persistent --format; export formats are their own set.
	exportCmd.Flags().StringVar(&flagExportFormat, "format", "json", "export format: json|yaml|dot|scip")
	exportCmd.Flags().StringVar(&flagExportOut, "out", "", "output file (default: stdout)")
	exportCmd.Flags().BoolVar(&flagCompress, "compress", false, "zstd-compress the output")
	exportCmd.Flags().StringVar(&flagBuild, "build", "", "snapshot build id (default: latest)")
}

func runExport(cmd *cobra.Command, args []string) error {
	format, err := export.ParseFormat(flagExportFormat)
	if err != nil {
		return outputError("export", err)
	}

	root, _, err := workspaceRootFromCwd(cmd)
	if err != nil {
		return outputError("export", err)
	}
	st, err := openStoreRO(root)
	if err != nil {
		return outputError("export", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	buildID, err := resolveBuildID(ctx, st)
	if err != nil {
		return outputError("export", err)
	}
	view, err := st.Load(ctx, buildID)
	if err != nil {
		return outputError("export", err)
	}

	out := os.Stdout
	if flagExportOut != "" {
		f, err := os.Create(flagExportOut)
		if err != nil {
			return outputError("export", fmt.Errorf("creating %s: %w", flagExportOut, err))
		}
		defer f.Close()
		out = f
	}

	opts := export.Options{
		Format:      format,
		Compress:    flagCompress,
		Root:        root,
		Tool:        "understory",
		ToolVersion: version,
	}
	if err := export.Write(out, view, opts); err != nil {
		return outputError("export", err)
	}
	if flagExportOut != "" {
		fmt.Fprintf(os.Stderr, "Exported build %s to %s\n", buildID, flagExportOut)
	}
	return nil
}
