package export

import (
	"fmt"
	"io"
	"sort"
	"strings"

	scippb "github.com/sourcegraph/scip/bindings/go/scip"
	"google.golang.org/protobuf/proto"

	"github.com/jward/understory/internal/classify"
	"github.com/jward/understory/internal/depgraph"
	"github.com/jward/understory/internal/symtab"
	"github.com/jward/understory/internal/workspace"
)

func writeSCIP(w io.Writer, v *depgraph.View, opts Options) error {
	data, err := proto.Marshal(buildSCIPIndex(v, opts))
	if err != nil {
		return fmt.Errorf("encode scip: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write scip: %w", err)
	}
	return nil
}

// buildSCIPIndex maps the view onto SCIP: one document per workspace file,
// one definition occurrence per symbol, edges as symbol relationships, and
// synthetic externals under the index's external symbol list.
func buildSCIPIndex(v *depgraph.View, opts Options) *scippb.Index {
	tool := opts.Tool
	if tool == "" {
		tool = "understory"
	}

	rels := make(map[symtab.SymbolID][]*scippb.Relationship)
	for _, e := range v.Edges {
		rel := &scippb.Relationship{Symbol: scipSymbol(e.To)}
		if e.Kind == classify.KindInheritance {
			rel.IsImplementation = true
		} else {
			rel.IsReference = true
		}
		rels[e.From] = append(rels[e.From], rel)
	}

	docs := make(map[workspace.FileID]*scippb.Document)
	var externals []*scippb.SymbolInformation
	for _, n := range v.Nodes {
		info := &scippb.SymbolInformation{
			Symbol:        scipSymbol(n.ID),
			DisplayName:   n.Name,
			Kind:          scipKind(n.Kind),
			Relationships: rels[n.ID],
		}
		if n.External {
			externals = append(externals, info)
			continue
		}
		doc, ok := docs[n.File]
		if !ok {
			doc = &scippb.Document{
				Language:     "python",
				RelativePath: string(n.File),
			}
			docs[n.File] = doc
		}
		doc.Symbols = append(doc.Symbols, info)
		doc.Occurrences = append(doc.Occurrences, &scippb.Occurrence{
			Range:       scipRange(n),
			Symbol:      scipSymbol(n.ID),
			SymbolRoles: int32(scippb.SymbolRole_Definition),
		})
	}

	paths := make([]workspace.FileID, 0, len(docs))
	for p := range docs {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })

	index := &scippb.Index{
		Metadata: &scippb.Metadata{
			Version: scippb.ProtocolVersion_UnspecifiedProtocolVersion,
			ToolInfo: &scippb.ToolInfo{
				Name:    tool,
				Version: opts.ToolVersion,
			},
			ProjectRoot:          "file://" + opts.Root,
			TextDocumentEncoding: scippb.TextEncoding_UTF8,
		},
		ExternalSymbols: externals,
	}
	for _, p := range paths {
		index.Documents = append(index.Documents, docs[p])
	}
	return index
}

// scipSymbol renders a symbol id under the understory scheme. The id rides
// in a backtick-escaped descriptor so arbitrary path characters stay valid.
func scipSymbol(id symtab.SymbolID) string {
	return "understory . . . `" + strings.ReplaceAll(string(id), "`", "``") + "`."
}

// scipRange converts to SCIP's zero-based [startLine, startCol, endLine,
// endCol] form.
func scipRange(n depgraph.Node) []int32 {
	r := n.Range
	startLine := r.Start.Line - 1
	if startLine < 0 {
		startLine = 0
	}
	endLine := r.End.Line - 1
	if endLine < 0 {
		endLine = 0
	}
	return []int32{int32(startLine), int32(r.Start.Col), int32(endLine), int32(r.End.Col)}
}

func scipKind(k symtab.SymbolKind) scippb.SymbolInformation_Kind {
	switch k {
	case symtab.KindFunction:
		return scippb.SymbolInformation_Function
	case symtab.KindClass:
		return scippb.SymbolInformation_Class
	case symtab.KindVariable:
		return scippb.SymbolInformation_Variable
	case symtab.KindTypeAlias:
		return scippb.SymbolInformation_TypeAlias
	case symtab.KindParameter:
		return scippb.SymbolInformation_Parameter
	case symtab.KindModule:
		return scippb.SymbolInformation_Module
	default:
		return scippb.SymbolInformation_UnspecifiedKind
	}
}
