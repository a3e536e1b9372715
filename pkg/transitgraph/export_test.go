package transitgraph

import (
	"bytes"
	"log"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/stretchr/testify/require"
)

func decodePoint(t *testing.T, raw []byte) orb.Point {
	t.Helper()
	geom, err := wkb.Unmarshal(raw)
	require.NoError(t, err)
	pt, ok := geom.(orb.Point)
	require.True(t, ok)
	return pt
}

func TestExportVertexTable(t *testing.T) {
	g := buildFixture(t, DefaultConfig())

	rows, err := ExportVertexTable(g, DupShift, nil)
	require.NoError(t, err)
	require.Len(t, rows, g.NumVertices())

	require.Equal(t, "origin", rows[0].Type)
	require.Equal(t, "z1", rows[0].ZoneID)
	pt := decodePoint(t, rows[0].Geom)
	require.InDelta(t, 0.0, pt[0], 1e-9)

	_, err = ExportVertexTable(g, "explode", nil)
	require.Error(t, err)
}

func TestExportDuplicateShiftKeepsAllRows(t *testing.T) {
	// without jitter, origin and destination vertices of each zone are
	// exactly colocated
	cfg := DefaultConfig()
	cfg.GeometryNoise = false
	g := buildFixture(t, cfg)

	var buf bytes.Buffer
	rows, err := ExportVertexTable(g, DupShift, log.New(&buf, "", 0))
	require.NoError(t, err)
	require.Len(t, rows, g.NumVertices())
	require.Contains(t, buf.String(), "shifted")

	seen := make(map[orb.Point]bool)
	for _, r := range rows {
		pt := decodePoint(t, r.Geom)
		require.False(t, seen[pt], "vertex %d still duplicated", r.ID)
		seen[pt] = true
	}
}

func TestExportDuplicateDropRemovesLaterRows(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GeometryNoise = false
	g := buildFixture(t, cfg)

	var buf bytes.Buffer
	rows, err := ExportVertexTable(g, DupDrop, log.New(&buf, "", 0))
	require.NoError(t, err)
	require.Less(t, len(rows), g.NumVertices())
	require.Contains(t, buf.String(), "dropped")

	// the first occupant of each location survives
	require.Equal(t, int32(1), rows[0].ID)
	for _, r := range rows {
		require.NotEqual(t, "destination", r.Type)
	}
}

func TestExportEdgeTable(t *testing.T) {
	g := buildFixture(t, DefaultConfig())

	rows, err := ExportEdgeTable(g)
	require.NoError(t, err)
	require.Len(t, rows, g.NumEdges())

	for i, r := range rows {
		e := g.Edges[i]
		require.Equal(t, e.ID, r.ID)
		require.Equal(t, e.Type.String(), r.Type)
		require.Equal(t, e.TravTime, r.TravTime)

		geom, err := wkb.Unmarshal(r.Geom)
		require.NoError(t, err)
		line, ok := geom.(orb.LineString)
		require.True(t, ok)
		require.Equal(t, g.Vertices[e.Tail-1].Geom, line[0])
		require.Equal(t, g.Vertices[e.Head-1].Geom, line[1])
	}
}
