// Package export serializes graph views for downstream tooling. JSON and
// YAML carry the full view, DOT renders the edge structure for graphviz,
// and SCIP emits a protobuf index other code-intel tools can ingest.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"

	"github.com/jward/understory/internal/depgraph"
)

// Format selects the output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatDOT  Format = "dot"
	FormatSCIP Format = "scip"
)

// ParseFormat validates a format name from user input.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatYAML, FormatDOT, FormatSCIP:
		return f, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want json, yaml, dot, or scip)", s)
	}
}

// Options configure one export.
type Options struct {
	Format Format

	// Compress wraps the output in a zstd stream.
	Compress bool

	// Root is the absolute workspace root, recorded in SCIP metadata.
	Root string

	// Tool and ToolVersion identify the producer in SCIP metadata.
	Tool        string
	ToolVersion string
}

// Write serializes the view to w in the requested format.
func Write(w io.Writer, v *depgraph.View, opts Options) error {
	if opts.Compress {
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return fmt.Errorf("create zstd writer: %w", err)
		}
		if err := writeFormat(zw, v, opts); err != nil {
			zw.Close()
			return err
		}
		return zw.Close()
	}
	return writeFormat(w, v, opts)
}

func writeFormat(w io.Writer, v *depgraph.View, opts Options) error {
	switch opts.Format {
	case FormatJSON, "":
		return writeJSON(w, v)
	case FormatYAML:
		return writeYAML(w, v)
	case FormatDOT:
		return writeDOT(w, v)
	case FormatSCIP:
		return writeSCIP(w, v, opts)
	default:
		return fmt.Errorf("unknown export format %q", opts.Format)
	}
}

func writeJSON(w io.Writer, v *depgraph.View) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// writeYAML routes through a JSON round-trip so the YAML document reuses the
// view's json field names instead of lowercased Go identifiers.
func writeYAML(w io.Writer, v *depgraph.View) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		enc.Close()
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

func writeDOT(w io.Writer, v *depgraph.View) error {
	var sb strings.Builder

	sb.WriteString("digraph understory {\n")
	sb.WriteString("    rankdir=LR;\n")
	sb.WriteString("    node [shape=box];\n\n")

	for _, n := range v.Nodes {
		attrs := fmt.Sprintf("label=\"%s\\n(%s)\"", escapeDOT(n.Name), n.Kind)
		if n.External {
			attrs += ", style=dashed"
		}
		fmt.Fprintf(&sb, "    %s [%s];\n", quoteDOTID(string(n.ID)), attrs)
	}
	sb.WriteString("\n")

	for _, e := range v.Edges {
		fmt.Fprintf(&sb, "    %s -> %s [label=\"%s\", tooltip=\"%d refs\"];\n",
			quoteDOTID(string(e.From)), quoteDOTID(string(e.To)), e.Kind, e.ReferenceCount)
	}
	sb.WriteString("}\n")

	if _, err := io.WriteString(w, sb.String()); err != nil {
		return fmt.Errorf("write dot: %w", err)
	}
	return nil
}

// quoteDOTID wraps an arbitrary symbol id as a quoted DOT identifier.
func quoteDOTID(id string) string {
	return `"` + escapeDOT(id) + `"`
}

func escapeDOT(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
