package main

import (
	"github.com/jward/understory"
)

// CLIResult is the top-level JSON envelope for all commands.
type CLIResult struct {
	Command    string `json:"command"`
	BuildID    string `json:"build_id,omitempty"`
	Results    any    `json:"results"`
	TotalCount *int   `json:"total_count,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CLISymbol is a JSON-friendly symbol representation. Lines are 1-based,
// columns 0-based, matching the engine.
type CLISymbol struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	File      string `json:"file,omitempty"`
	StartLine int    `json:"start_line"`
	StartCol  int    `json:"start_col"`
	EndLine   int    `json:"end_line"`
	EndCol    int    `json:"end_col"`
	External  bool   `json:"external,omitempty"`
	Doc       string `json:"doc,omitempty"`
}

// CLILocation is one reference site.
type CLILocation struct {
	File      string `json:"file"`
	StartLine int    `json:"start_line"`
	StartCol  int    `json:"start_col"`
	EndLine   int    `json:"end_line"`
	EndCol    int    `json:"end_col"`
	Access    string `json:"access,omitempty"`
	Context   string `json:"context,omitempty"`
}

// CLIEdge is a JSON-friendly dependency edge. Symbol ids embed file, line,
// and name, so no separate display name is carried.
type CLIEdge struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Kind     string `json:"kind"`
	RefCount int    `json:"ref_count"`
}

// CLIHotspot is a heavily-referenced symbol.
type CLIHotspot struct {
	Symbol     CLISymbol `json:"symbol"`
	References int       `json:"references"`
}

// CLIIndexReport is the index command's result: the build manifest plus
// where the snapshot went.
type CLIIndexReport struct {
	understory.Manifest
	Degraded bool   `json:"degraded"`
	Database string `json:"database"`
}

// symbolToCLI converts an engine symbol.
func symbolToCLI(sym *understory.Symbol) CLISymbol {
	return CLISymbol{
		ID:        string(sym.ID),
		Name:      sym.Name,
		Kind:      string(sym.Kind),
		File:      string(sym.File),
		StartLine: sym.Range.Start.Line,
		StartCol:  sym.Range.Start.Col,
		EndLine:   sym.Range.End.Line,
		EndCol:    sym.Range.End.Col,
		External:  sym.External,
		Doc:       sym.Doc,
	}
}

// nodeToCLI converts a stored view node.
func nodeToCLI(n understory.Node) CLISymbol {
	return CLISymbol{
		ID:        string(n.ID),
		Name:      n.Name,
		Kind:      string(n.Kind),
		File:      string(n.File),
		StartLine: n.Range.Start.Line,
		StartCol:  n.Range.Start.Col,
		EndLine:   n.Range.End.Line,
		EndCol:    n.Range.End.Col,
		External:  n.External,
	}
}

// viewEdgeToCLI converts a stored view edge.
func viewEdgeToCLI(e understory.ViewEdge) CLIEdge {
	return CLIEdge{
		From:     string(e.From),
		To:       string(e.To),
		Kind:     string(e.Kind),
		RefCount: e.ReferenceCount,
	}
}

// edgeToCLI converts a live graph edge.
func edgeToCLI(e *understory.Edge) CLIEdge {
	return CLIEdge{
		From:     string(e.From),
		To:       string(e.To),
		Kind:     string(e.Kind),
		RefCount: len(e.References),
	}
}

// referenceToCLI converts a resolved reference to its location.
func referenceToCLI(ref understory.Reference) CLILocation {
	occ := ref.Occurrence
	return CLILocation{
		File:      string(occ.File),
		StartLine: occ.Range.Start.Line,
		StartCol:  occ.Range.Start.Col,
		EndLine:   occ.Range.End.Line,
		EndCol:    occ.Range.End.Col,
		Access:    string(occ.Access),
		Context:   string(occ.Context),
	}
}

// hotspotToCLI converts a hotspot from either the engine or the store.
func hotspotToCLI(h understory.HotSpot) CLIHotspot {
	return CLIHotspot{
		Symbol:     symbolToCLI(h.Symbol),
		References: h.References,
	}
}
