// Package pyast is the parsing service: it turns Python source bytes into a
// tree-sitter syntax tree and reports malformed input as a SyntaxError so the
// rest of the pipeline can mark the file unindexed instead of failing the run.
package pyast

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// Position is a source location. Lines are 1-based, columns 0-based, matching
// tree-sitter points shifted to editor-style line numbers.
type Position struct {
	Line int `json:"line"`
	Col  int `json:"col"`
}

// Range spans a region of source text. Byte offsets are kept alongside
// line/column positions because occurrence ordering sorts by byte offset.
type Range struct {
	Start     Position `json:"start"`
	End       Position `json:"end"`
	StartByte uint32   `json:"start_byte"`
	EndByte   uint32   `json:"end_byte"`
}

// Contains reports whether the byte offset falls inside the range.
func (r Range) Contains(byteOffset uint32) bool {
	return byteOffset >= r.StartByte && byteOffset < r.EndByte
}

// ContainsPos reports whether a 1-based line and 0-based column fall inside
// the range. Used for position-addressed lookups where no byte offset is
// available.
func (r Range) ContainsPos(line, col int) bool {
	if line < r.Start.Line || line > r.End.Line {
		return false
	}
	if line == r.Start.Line && col < r.Start.Col {
		return false
	}
	if line == r.End.Line && col >= r.End.Col {
		return false
	}
	return true
}

// NodeRange converts a tree-sitter node's span.
func NodeRange(n *sitter.Node) Range {
	sp, ep := n.StartPoint(), n.EndPoint()
	return Range{
		Start:     Position{Line: int(sp.Row) + 1, Col: int(sp.Column)},
		End:       Position{Line: int(ep.Row) + 1, Col: int(ep.Column)},
		StartByte: n.StartByte(),
		EndByte:   n.EndByte(),
	}
}

// SyntaxError reports malformed input. The file is treated as unindexed; the
// error never aborts a workspace build.
type SyntaxError struct {
	Line int
	Col  int
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %d:%d", e.Line, e.Col)
}

// Tree couples a parsed syntax tree with the source it was parsed from, since
// tree-sitter nodes resolve their text against the original byte slice.
type Tree struct {
	Source []byte

	inner *sitter.Tree
}

// Root returns the module node.
func (t *Tree) Root() *sitter.Node {
	return t.inner.RootNode()
}

// Close releases the underlying tree-sitter tree.
func (t *Tree) Close() {
	t.inner.Close()
}

// Parser parses Python source. A Parser is not safe for concurrent use; the
// engine creates one per worker.
type Parser struct {
	parser *sitter.Parser
}

// NewParser creates a parser configured with the Python grammar.
func NewParser() *Parser {
	p := sitter.NewParser()
	p.SetLanguage(python.GetLanguage())
	return &Parser{parser: p}
}

// Parse parses content into a Tree. Malformed input returns a *SyntaxError;
// the caller decides how the file's absence is recorded.
func (p *Parser) Parse(ctx context.Context, content []byte) (*Tree, error) {
	tree, err := p.parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	root := tree.RootNode()
	if root.HasError() {
		line, col := firstErrorPosition(root)
		tree.Close()
		return nil, &SyntaxError{Line: line, Col: col}
	}
	return &Tree{Source: content, inner: tree}, nil
}

// firstErrorPosition descends into the subtree that carries the error flag
// until it reaches the innermost error or missing node.
func firstErrorPosition(n *sitter.Node) (line, col int) {
	for {
		next := (*sitter.Node)(nil)
		for i := 0; i < int(n.ChildCount()); i++ {
			child := n.Child(i)
			if child.Type() == "ERROR" || child.IsMissing() {
				pt := child.StartPoint()
				return int(pt.Row) + 1, int(pt.Column)
			}
			if child.HasError() && next == nil {
				next = child
			}
		}
		if next == nil {
			pt := n.StartPoint()
			return int(pt.Row) + 1, int(pt.Column)
		}
		n = next
	}
}
