package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jward/understory"
	"github.com/jward/understory/internal/store"
)

// formatSymbolsText formats CLISymbol results as aligned columns.
func formatSymbolsText(w io.Writer, syms []CLISymbol) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tKIND\tFILE\tLINE")
	for _, s := range syms {
		file := s.File
		if s.External {
			file = "(external)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
			s.ID, s.Name, s.Kind, file, s.StartLine)
	}
	tw.Flush()
}

// formatLocationsText formats CLILocation results as "file:line:col" lines.
func formatLocationsText(w io.Writer, locs []CLILocation) {
	for _, loc := range locs {
		line := fmt.Sprintf("%s:%d:%d", loc.File, loc.StartLine, loc.StartCol)
		if loc.Context != "" {
			line += "  " + loc.Context
		}
		fmt.Fprintln(w, line)
	}
}

// formatEdgesText formats CLIEdge results as aligned columns.
func formatEdgesText(w io.Writer, edges []CLIEdge) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FROM\tKIND\tTO\tREFS")
	for _, e := range edges {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", e.From, e.Kind, e.To, e.RefCount)
	}
	tw.Flush()
}

// formatHotspotsText formats CLIHotspot results as aligned columns.
func formatHotspotsText(w io.Writer, spots []CLIHotspot) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tFILE\tREFS")
	for _, h := range spots {
		file := h.Symbol.File
		if h.Symbol.External {
			file = "(external)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n",
			h.Symbol.Name, h.Symbol.Kind, file, h.References)
	}
	tw.Flush()
}

// formatBuildsText formats snapshot listings as aligned columns.
func formatBuildsText(w io.Writer, builds []store.BuildInfo) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BUILD\tCREATED\tFILES\tSYMBOLS\tEDGES\tDEGRADED")
	for _, b := range builds {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%t\n",
			b.BuildID, b.CreatedAt.Format(time.RFC3339), b.Files, b.Symbols, b.Edges, b.Degraded)
	}
	tw.Flush()
}

// formatIndexReportText formats the index command's summary block.
func formatIndexReportText(w io.Writer, r CLIIndexReport) {
	fmt.Fprintf(w, "Build: %s\n", r.BuildID)
	fmt.Fprintf(w, "Files: %d  Symbols: %d  Edges: %d  References: %d\n",
		r.Files, r.Symbols, r.Edges, r.References)
	fmt.Fprintf(w, "Duration: %s\n", r.Duration.Round(time.Millisecond))
	if len(r.Unindexed) > 0 {
		fmt.Fprintf(w, "Unindexed: %s\n", joinFileIDs(r.Unindexed))
	}
	if len(r.Unavailable) > 0 {
		fmt.Fprintf(w, "Unavailable: %s\n", joinFileIDs(r.Unavailable))
	}
	if n := len(r.UnresolvedImports); n > 0 {
		fmt.Fprintf(w, "Unresolved imports: %d\n", n)
	}
	if r.Degraded {
		fmt.Fprintln(w, "Status: degraded")
	}
	fmt.Fprintf(w, "Database: %s\n", r.Database)
}

func joinFileIDs(ids []understory.FileID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}

// outputResultText dispatches to the appropriate text formatter based on the
// result type. It writes to os.Stdout.
func outputResultText(result CLIResult) error {
	w := io.Writer(os.Stdout)

	switch v := result.Results.(type) {
	case []CLISymbol:
		formatSymbolsText(w, v)
	case []CLILocation:
		formatLocationsText(w, v)
	case []CLIEdge:
		formatEdgesText(w, v)
	case []CLIHotspot:
		formatHotspotsText(w, v)
	case []store.BuildInfo:
		formatBuildsText(w, v)
	case CLIIndexReport:
		formatIndexReportText(w, v)
	case nil:
		// No output for empty results.
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}

	// Pagination footer.
	if result.TotalCount != nil {
		count := *result.TotalCount
		shown := resultLen(result.Results)
		if shown < count {
			fmt.Fprintf(w, "\nShowing %d of %d results\n", shown, count)
		}
	}

	return nil
}

// resultLen returns the length of a result slice, or 1 for a single value.
func resultLen(v any) int {
	switch r := v.(type) {
	case []CLISymbol:
		return len(r)
	case []CLILocation:
		return len(r)
	case []CLIEdge:
		return len(r)
	case []CLIHotspot:
		return len(r)
	case []store.BuildInfo:
		return len(r)
	case nil:
		return 0
	default:
		return 1
	}
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
