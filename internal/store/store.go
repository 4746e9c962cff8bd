// Package store persists build snapshots in SQLite so query tooling can
// read a graph without re-analyzing the workspace. One row per build in
// builds, with nodes, edges, and diagnostics keyed by build id.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/jward/understory/internal/depgraph"
)

// ErrNoSnapshot is returned when the database holds no build to load.
var ErrNoSnapshot = errors.New("store: no snapshot saved")

// Store is the SQLite access layer for persisted graph snapshots.
type Store struct {
	db *sql.DB
}

// Open opens a SQLite database at dbPath with WAL mode enabled.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates the snapshot tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS builds (
  id              TEXT PRIMARY KEY,
  created_at      TIMESTAMP NOT NULL,
  duration_ns     INTEGER NOT NULL,
  files           INTEGER NOT NULL,
  symbols         INTEGER NOT NULL,
  edges           INTEGER NOT NULL,
  refs            INTEGER NOT NULL,
  degraded        BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS nodes (
  build_id        TEXT NOT NULL REFERENCES builds(id),
  id              TEXT NOT NULL,
  name            TEXT NOT NULL,
  kind            TEXT NOT NULL,
  file            TEXT NOT NULL DEFAULT '',
  start_line      INTEGER NOT NULL DEFAULT 0,
  start_col       INTEGER NOT NULL DEFAULT 0,
  end_line        INTEGER NOT NULL DEFAULT 0,
  end_col         INTEGER NOT NULL DEFAULT 0,
  start_byte      INTEGER NOT NULL DEFAULT 0,
  end_byte        INTEGER NOT NULL DEFAULT 0,
  external        BOOLEAN NOT NULL DEFAULT FALSE,
  PRIMARY KEY (build_id, id)
);

CREATE TABLE IF NOT EXISTS edges (
  build_id        TEXT NOT NULL REFERENCES builds(id),
  from_id         TEXT NOT NULL,
  to_id           TEXT NOT NULL,
  kind            TEXT NOT NULL,
  refs            INTEGER NOT NULL,
  PRIMARY KEY (build_id, from_id, to_id, kind)
);

CREATE TABLE IF NOT EXISTS diagnostics (
  id              INTEGER PRIMARY KEY,
  build_id        TEXT NOT NULL REFERENCES builds(id),
  kind            TEXT NOT NULL,
  file            TEXT NOT NULL DEFAULT '',
  name            TEXT NOT NULL DEFAULT '',
  module          TEXT NOT NULL DEFAULT '',
  member          TEXT NOT NULL DEFAULT '',
  line            INTEGER NOT NULL DEFAULT 0,
  builtin         BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_nodes_name ON nodes(build_id, name);
CREATE INDEX IF NOT EXISTS idx_nodes_file ON nodes(build_id, file);
CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(build_id, from_id);
CREATE INDEX IF NOT EXISTS idx_edges_to ON edges(build_id, to_id);
CREATE INDEX IF NOT EXISTS idx_diagnostics_kind ON diagnostics(build_id, kind);
`

// Diagnostic kinds, one per degradation list in the manifest.
const (
	diagUnindexed        = "unindexed"
	diagUnavailable      = "unavailable"
	diagUnresolvedRef    = "unresolved_ref"
	diagUnresolvedImport = "unresolved_import"
)

// Save writes one build snapshot in a single transaction. The build id
// comes from the view's manifest; saving the same build twice is an error.
func (s *Store) Save(ctx context.Context, v *depgraph.View) error {
	m := v.Manifest
	if m.BuildID == "" {
		return errors.New("save snapshot: manifest has no build id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save snapshot: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO builds (id, created_at, duration_ns, files, symbols, edges, refs, degraded)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.BuildID, m.CreatedAt, int64(m.Duration),
		m.Files, m.Symbols, m.Edges, m.References, m.Degraded(),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: build %s: %w", m.BuildID, err)
	}

	for _, n := range v.Nodes {
		if err := insertNodeTx(ctx, tx, m.BuildID, n); err != nil {
			return fmt.Errorf("save snapshot: node %s: %w", n.ID, err)
		}
	}
	for _, e := range v.Edges {
		if err := insertEdgeTx(ctx, tx, m.BuildID, e); err != nil {
			return fmt.Errorf("save snapshot: edge %s -> %s: %w", e.From, e.To, err)
		}
	}
	if err := insertDiagnosticsTx(ctx, tx, m); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	return tx.Commit()
}

func insertNodeTx(ctx context.Context, tx *sql.Tx, buildID string, n depgraph.Node) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO nodes (build_id, id, name, kind, file,
			start_line, start_col, end_line, end_col, start_byte, end_byte, external)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		buildID, n.ID, n.Name, n.Kind, n.File,
		n.Range.Start.Line, n.Range.Start.Col, n.Range.End.Line, n.Range.End.Col,
		n.Range.StartByte, n.Range.EndByte, n.External,
	)
	return err
}

func insertEdgeTx(ctx context.Context, tx *sql.Tx, buildID string, e depgraph.ViewEdge) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO edges (build_id, from_id, to_id, kind, refs)
		 VALUES (?, ?, ?, ?, ?)`,
		buildID, e.From, e.To, e.Kind, e.ReferenceCount,
	)
	return err
}

func insertDiagnosticsTx(ctx context.Context, tx *sql.Tx, m depgraph.Manifest) error {
	const q = `INSERT INTO diagnostics (build_id, kind, file, name, module, member, line, builtin)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	for _, id := range m.Unindexed {
		if _, err := tx.ExecContext(ctx, q, m.BuildID, diagUnindexed, id, "", "", "", 0, false); err != nil {
			return fmt.Errorf("diagnostic unindexed %s: %w", id, err)
		}
	}
	for _, id := range m.Unavailable {
		if _, err := tx.ExecContext(ctx, q, m.BuildID, diagUnavailable, id, "", "", "", 0, false); err != nil {
			return fmt.Errorf("diagnostic unavailable %s: %w", id, err)
		}
	}
	for _, r := range m.UnresolvedRefs {
		if _, err := tx.ExecContext(ctx, q, m.BuildID, diagUnresolvedRef, r.File, r.Name, "", "", r.Line, r.Builtin); err != nil {
			return fmt.Errorf("diagnostic unresolved ref %s: %w", r.Name, err)
		}
	}
	for _, u := range m.UnresolvedImports {
		if _, err := tx.ExecContext(ctx, q, m.BuildID, diagUnresolvedImport, u.File, "", u.Module, u.Member, u.Line, false); err != nil {
			return fmt.Errorf("diagnostic unresolved import %s: %w", u.Module, err)
		}
	}
	return nil
}

// Prune keeps the newest keep builds and removes the rest, child rows
// first. A non-positive keep removes everything.
func (s *Store) Prune(ctx context.Context, keep int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("prune: begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM builds ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return fmt.Errorf("prune: list builds: %w", err)
	}
	var stale []string
	rank := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("prune: scan build id: %w", err)
		}
		rank++
		if rank > keep {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("prune: iterate builds: %w", err)
	}

	for _, id := range stale {
		for _, q := range []string{
			"DELETE FROM diagnostics WHERE build_id = ?",
			"DELETE FROM edges WHERE build_id = ?",
			"DELETE FROM nodes WHERE build_id = ?",
			"DELETE FROM builds WHERE id = ?",
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return fmt.Errorf("prune build %s: %w", id, err)
			}
		}
	}

	return tx.Commit()
}
