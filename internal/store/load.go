package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jward/understory/internal/classify"
	"github.com/jward/understory/internal/depgraph"
	"github.com/jward/understory/internal/pyast"
	"github.com/jward/understory/internal/symtab"
	"github.com/jward/understory/internal/workspace"
)

// BuildInfo is one row of the builds listing.
type BuildInfo struct {
	BuildID   string    `json:"build_id"`
	CreatedAt time.Time `json:"created_at"`
	Files     int       `json:"files"`
	Symbols   int       `json:"symbols"`
	Edges     int       `json:"edges"`
	Degraded  bool      `json:"degraded"`
}

// LatestBuildID returns the id of the most recently saved build.
func (s *Store) LatestBuildID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM builds ORDER BY created_at DESC, id DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoSnapshot
	}
	if err != nil {
		return "", fmt.Errorf("latest build: %w", err)
	}
	return id, nil
}

// Builds lists saved builds, newest first.
func (s *Store) Builds(ctx context.Context) ([]BuildInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, files, symbols, edges, degraded
		 FROM builds ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list builds: %w", err)
	}
	defer rows.Close()

	var out []BuildInfo
	for rows.Next() {
		var b BuildInfo
		if err := rows.Scan(&b.BuildID, &b.CreatedAt, &b.Files, &b.Symbols, &b.Edges, &b.Degraded); err != nil {
			return nil, fmt.Errorf("scan build: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Load reassembles a saved snapshot. Nodes come back sorted by id, edges by
// (from, to, kind), matching the order View produces.
func (s *Store) Load(ctx context.Context, buildID string) (*depgraph.View, error) {
	m, err := s.loadManifest(ctx, buildID)
	if err != nil {
		return nil, err
	}
	v := &depgraph.View{Manifest: m}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, kind, file, start_line, start_col, end_line, end_col,
		        start_byte, end_byte, external
		 FROM nodes WHERE build_id = ? ORDER BY id`, buildID)
	if err != nil {
		return nil, fmt.Errorf("load nodes: %w", err)
	}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		v.Nodes = append(v.Nodes, n)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load nodes: %w", err)
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT from_id, to_id, kind, refs
		 FROM edges WHERE build_id = ? ORDER BY from_id, to_id, kind`, buildID)
	if err != nil {
		return nil, fmt.Errorf("load edges: %w", err)
	}
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		v.Edges = append(v.Edges, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load edges: %w", err)
	}

	return v, nil
}

// LoadLatest loads the most recently saved snapshot.
func (s *Store) LoadLatest(ctx context.Context) (*depgraph.View, error) {
	id, err := s.LatestBuildID(ctx)
	if err != nil {
		return nil, err
	}
	return s.Load(ctx, id)
}

func (s *Store) loadManifest(ctx context.Context, buildID string) (depgraph.Manifest, error) {
	var m depgraph.Manifest
	var durationNS int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, duration_ns, files, symbols, edges, refs
		 FROM builds WHERE id = ?`, buildID).Scan(
		&m.BuildID, &m.CreatedAt, &durationNS, &m.Files, &m.Symbols, &m.Edges, &m.References)
	if errors.Is(err, sql.ErrNoRows) {
		return m, ErrNoSnapshot
	}
	if err != nil {
		return m, fmt.Errorf("load build %s: %w", buildID, err)
	}
	m.Duration = time.Duration(durationNS)

	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, file, name, module, member, line, builtin
		 FROM diagnostics WHERE build_id = ? ORDER BY id`, buildID)
	if err != nil {
		return m, fmt.Errorf("load diagnostics: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind, file, name, module, member string
		var line int
		var builtin bool
		if err := rows.Scan(&kind, &file, &name, &module, &member, &line, &builtin); err != nil {
			return m, fmt.Errorf("scan diagnostic: %w", err)
		}
		switch kind {
		case diagUnindexed:
			m.Unindexed = append(m.Unindexed, workspace.FileID(file))
		case diagUnavailable:
			m.Unavailable = append(m.Unavailable, workspace.FileID(file))
		case diagUnresolvedRef:
			m.UnresolvedRefs = append(m.UnresolvedRefs, depgraph.UnresolvedRef{
				File: workspace.FileID(file), Name: name, Line: line, Builtin: builtin,
			})
		case diagUnresolvedImport:
			m.UnresolvedImports = append(m.UnresolvedImports, depgraph.UnresolvedImport{
				File: workspace.FileID(file), Module: module, Member: member, Line: line,
			})
		}
	}
	return m, rows.Err()
}

// NodesNamed returns the nodes with the given symbol name, sorted by id.
func (s *Store) NodesNamed(ctx context.Context, buildID, name string) ([]depgraph.Node, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, kind, file, start_line, start_col, end_line, end_col,
		        start_byte, end_byte, external
		 FROM nodes WHERE build_id = ? AND name = ? ORDER BY id`, buildID, name)
	if err != nil {
		return nil, fmt.Errorf("nodes named %q: %w", name, err)
	}
	defer rows.Close()

	var out []depgraph.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// EdgesFrom returns the stored outgoing edges of a symbol.
func (s *Store) EdgesFrom(ctx context.Context, buildID string, id symtab.SymbolID) ([]depgraph.ViewEdge, error) {
	return s.edgesWhere(ctx, "from_id", buildID, id)
}

// EdgesTo returns the stored incoming edges of a symbol.
func (s *Store) EdgesTo(ctx context.Context, buildID string, id symtab.SymbolID) ([]depgraph.ViewEdge, error) {
	return s.edgesWhere(ctx, "to_id", buildID, id)
}

func (s *Store) edgesWhere(ctx context.Context, column, buildID string, id symtab.SymbolID) ([]depgraph.ViewEdge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT from_id, to_id, kind, refs
		 FROM edges WHERE build_id = ? AND `+column+` = ?
		 ORDER BY from_id, to_id, kind`, buildID, id)
	if err != nil {
		return nil, fmt.Errorf("edges of %s: %w", id, err)
	}
	defer rows.Close()

	var out []depgraph.ViewEdge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Hotspots ranks stored symbols by incoming reference count, self-edges
// excluded, matching the live graph report.
func (s *Store) Hotspots(ctx context.Context, buildID string, limit int) ([]depgraph.HotSpot, error) {
	q := `SELECT n.id, n.name, n.kind, n.file, SUM(e.refs) AS cnt
	      FROM edges e JOIN nodes n ON n.build_id = e.build_id AND n.id = e.to_id
	      WHERE e.build_id = ? AND e.from_id != e.to_id
	      GROUP BY n.id, n.name, n.kind, n.file
	      ORDER BY cnt DESC, n.id ASC`
	args := []any{buildID}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("hotspots: %w", err)
	}
	defer rows.Close()

	var out []depgraph.HotSpot
	for rows.Next() {
		var id, name, kind, file string
		var cnt int
		if err := rows.Scan(&id, &name, &kind, &file, &cnt); err != nil {
			return nil, fmt.Errorf("scan hotspot: %w", err)
		}
		out = append(out, depgraph.HotSpot{
			Symbol: &symtab.Symbol{
				ID:   symtab.SymbolID(id),
				Name: name,
				Kind: symtab.SymbolKind(kind),
				File: workspace.FileID(file),
			},
			References: cnt,
		})
	}
	return out, rows.Err()
}

func scanNode(rows *sql.Rows) (depgraph.Node, error) {
	var n depgraph.Node
	var id, name, kind, file string
	var r pyast.Range
	if err := rows.Scan(&id, &name, &kind, &file,
		&r.Start.Line, &r.Start.Col, &r.End.Line, &r.End.Col,
		&r.StartByte, &r.EndByte, &n.External); err != nil {
		return n, fmt.Errorf("scan node: %w", err)
	}
	n.ID = symtab.SymbolID(id)
	n.Name = name
	n.Kind = symtab.SymbolKind(kind)
	n.File = workspace.FileID(file)
	n.Range = r
	return n, nil
}

func scanEdge(rows *sql.Rows) (depgraph.ViewEdge, error) {
	var e depgraph.ViewEdge
	var from, to, kind string
	if err := rows.Scan(&from, &to, &kind, &e.ReferenceCount); err != nil {
		return e, fmt.Errorf("scan edge: %w", err)
	}
	e.From = symtab.SymbolID(from)
	e.To = symtab.SymbolID(to)
	e.Kind = classify.DependencyKind(kind)
	return e, nil
}
