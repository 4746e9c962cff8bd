package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/understory/internal/classify"
	"github.com/jward/understory/internal/depgraph"
	"github.com/jward/understory/internal/pyast"
	"github.com/jward/understory/internal/symtab"
	"github.com/jward/understory/internal/workspace"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

// testView builds a snapshot with every diagnostic kind populated.
func testView(buildID string, created time.Time) *depgraph.View {
	return &depgraph.View{
		Manifest: depgraph.Manifest{
			BuildID:    buildID,
			CreatedAt:  created,
			Duration:   42 * time.Millisecond,
			Files:      3,
			Symbols:    3,
			Edges:      2,
			References: 4,
			Unindexed:  []workspace.FileID{"broken.py"},
			UnresolvedRefs: []depgraph.UnresolvedRef{
				{File: "app.py", Name: "mystery", Line: 3},
				{File: "app.py", Name: "len", Line: 4, Builtin: true},
			},
			UnresolvedImports: []depgraph.UnresolvedImport{
				{File: "legacy.py", Module: "missing_pkg", Member: "helper", Line: 1},
			},
		},
		Nodes: []depgraph.Node{
			{
				ID: "app.py:5:adopt", Name: "adopt", Kind: symtab.KindFunction, File: "app.py",
				Range: pyast.Range{
					Start:     pyast.Position{Line: 5, Col: 0},
					End:       pyast.Position{Line: 8, Col: 14},
					StartByte: 50, EndByte: 140,
				},
			},
			{
				ID: "extern:missing_pkg.helper", Name: "missing_pkg.helper",
				Kind: symtab.KindModule, External: true,
			},
			{
				ID: "models.py:6:Animal", Name: "Animal", Kind: symtab.KindClass, File: "models.py",
				Range: pyast.Range{
					Start:     pyast.Position{Line: 6, Col: 0},
					End:       pyast.Position{Line: 11, Col: 29},
					StartByte: 24, EndByte: 180,
				},
			},
		},
		Edges: []depgraph.ViewEdge{
			{From: "app.py:5:adopt", To: "extern:missing_pkg.helper", Kind: classify.KindImport, ReferenceCount: 1},
			{From: "app.py:5:adopt", To: "models.py:6:Animal", Kind: classify.KindCall, ReferenceCount: 3},
		},
	}
}

// =============================================================================
// Schema & Lifecycle
// =============================================================================

func TestMigrate_AllTablesExist(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	for _, table := range []string{"builds", "nodes", "edges", "diagnostics"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}

	// Running migrations again is a no-op.
	require.NoError(t, s.Migrate())
}

// =============================================================================
// Save & Load
// =============================================================================

func TestSaveLoad_RoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	created := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	want := testView("build-1", created)
	require.NoError(t, s.Save(ctx, want))

	got, err := s.Load(ctx, "build-1")
	require.NoError(t, err)

	assert.True(t, got.Manifest.CreatedAt.Equal(created))
	got.Manifest.CreatedAt = want.Manifest.CreatedAt
	assert.Equal(t, want.Manifest, got.Manifest)
	assert.Equal(t, want.Nodes, got.Nodes)
	assert.Equal(t, want.Edges, got.Edges)
	assert.True(t, got.Manifest.Degraded())
}

func TestSave_DuplicateBuildFails(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	v := testView("build-dup", time.Now().UTC())
	require.NoError(t, s.Save(ctx, v))
	assert.Error(t, s.Save(ctx, v))
}

func TestSave_RequiresBuildID(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	v := testView("", time.Now().UTC())
	assert.Error(t, s.Save(context.Background(), v))
}

func TestLoad_UnknownBuild(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Load(ctx, "nope")
	assert.ErrorIs(t, err, ErrNoSnapshot)

	_, err = s.LatestBuildID(ctx)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	_, err = s.LoadLatest(ctx)
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestBuilds_NewestFirst(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	older := testView("build-old", time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC))
	newer := testView("build-new", time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC))
	require.NoError(t, s.Save(ctx, older))
	require.NoError(t, s.Save(ctx, newer))

	latest, err := s.LatestBuildID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "build-new", latest)

	builds, err := s.Builds(ctx)
	require.NoError(t, err)
	require.Len(t, builds, 2)
	assert.Equal(t, "build-new", builds[0].BuildID)
	assert.Equal(t, "build-old", builds[1].BuildID)
	assert.True(t, builds[0].Degraded)
	assert.Equal(t, 3, builds[0].Files)
}

// =============================================================================
// Targeted queries
// =============================================================================

func TestNodesNamed(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, testView("b1", time.Now().UTC())))

	nodes, err := s.NodesNamed(ctx, "b1", "Animal")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, symtab.SymbolID("models.py:6:Animal"), nodes[0].ID)
	assert.Equal(t, symtab.KindClass, nodes[0].Kind)
	assert.Equal(t, 6, nodes[0].Range.Start.Line)

	nodes, err = s.NodesNamed(ctx, "b1", "nobody")
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestEdgesFromAndTo(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, testView("b1", time.Now().UTC())))

	out, err := s.EdgesFrom(ctx, "b1", "app.py:5:adopt")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, classify.KindImport, out[0].Kind)
	assert.Equal(t, classify.KindCall, out[1].Kind)

	in, err := s.EdgesTo(ctx, "b1", "models.py:6:Animal")
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, symtab.SymbolID("app.py:5:adopt"), in[0].From)
	assert.Equal(t, 3, in[0].ReferenceCount)
}

func TestHotspots_RanksByIncomingReferences(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	v := testView("b1", time.Now().UTC())
	// A self-edge must not count toward its own ranking.
	v.Edges = append(v.Edges, depgraph.ViewEdge{
		From: "models.py:6:Animal", To: "models.py:6:Animal",
		Kind: classify.KindCall, ReferenceCount: 9,
	})
	require.NoError(t, s.Save(ctx, v))

	hot, err := s.Hotspots(ctx, "b1", 0)
	require.NoError(t, err)
	require.Len(t, hot, 2)
	assert.Equal(t, symtab.SymbolID("models.py:6:Animal"), hot[0].Symbol.ID)
	assert.Equal(t, 3, hot[0].References)
	assert.Equal(t, symtab.SymbolID("extern:missing_pkg.helper"), hot[1].Symbol.ID)
	assert.Equal(t, 1, hot[1].References)

	top, err := s.Hotspots(ctx, "b1", 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, hot[0].Symbol.ID, top[0].Symbol.ID)
}

// =============================================================================
// Prune
// =============================================================================

func TestPrune_KeepsNewestBuilds(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	for i, id := range []string{"b-old", "b-mid", "b-new"} {
		created := time.Date(2026, 8, 20+i, 0, 0, 0, 0, time.UTC)
		require.NoError(t, s.Save(ctx, testView(id, created)))
	}

	require.NoError(t, s.Prune(ctx, 1))

	builds, err := s.Builds(ctx)
	require.NoError(t, err)
	require.Len(t, builds, 1)
	assert.Equal(t, "b-new", builds[0].BuildID)

	_, err = s.Load(ctx, "b-old")
	assert.ErrorIs(t, err, ErrNoSnapshot)

	// Child rows are gone with the builds.
	var n int
	require.NoError(t, s.db.QueryRow(
		"SELECT COUNT(*) FROM nodes WHERE build_id = 'b-old'").Scan(&n))
	assert.Zero(t, n)

	// Pruning to zero clears the store.
	require.NoError(t, s.Prune(ctx, 0))
	_, err = s.LatestBuildID(ctx)
	assert.ErrorIs(t, err, ErrNoSnapshot)
}
