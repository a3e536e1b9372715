package transitgraph

import (
	"fmt"
	"log"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// DuplicatePolicy controls what the vertex table export does with rows
// sharing the exact same geometry. Spatial stores commonly enforce
// unique point geometry, so colocated vertices must be resolved before
// persistence, and never silently.
type DuplicatePolicy string

const (
	// DupShift nudges later duplicates apart by a tiny deterministic
	// offset, keeping every row.
	DupShift DuplicatePolicy = "shift"
	// DupDrop keeps the first row of each location and drops the rest.
	DupDrop DuplicatePolicy = "drop"
)

// duplicateShiftStep is the per-duplicate coordinate nudge under DupShift.
const duplicateShiftStep = 1.0e-9

// VertexRow is one persistable row of the vertex table, geometry in WKB.
type VertexRow struct {
	ID         int32
	Type       string
	StopID     string
	LineID     string
	LineSegIdx int32
	ZoneID     string
	Geom       []byte
}

// EdgeRow is one persistable row of the edge table. Geometry is the
// direct tail-to-head line in WKB.
type EdgeRow struct {
	ID         int32
	Type       string
	LineID     string
	StopID     string
	LineSegIdx int32
	Tail       int32
	Head       int32
	TravTime   float64
	Freq       float64
	OLineID    string
	DLineID    string
	Direction  int8
	Geom       []byte
}

// ExportVertexTable renders the vertex table for persistence. Duplicate
// geometry is resolved per policy; either way a warning is logged with
// the number of affected rows.
func ExportVertexTable(g *Graph, policy DuplicatePolicy, logger *log.Logger) ([]VertexRow, error) {
	if logger == nil {
		logger = log.Default()
	}
	switch policy {
	case DupShift, DupDrop:
	default:
		return nil, fmt.Errorf("transitgraph: unknown duplicate policy %q", policy)
	}

	seen := make(map[orb.Point]int, len(g.Vertices))
	rows := make([]VertexRow, 0, len(g.Vertices))
	duplicates := 0
	for _, v := range g.Vertices {
		pt := v.Geom
		if _, dup := seen[pt]; dup {
			duplicates++
			if policy == DupDrop {
				continue
			}
			// shift along x until the slot is free
			for {
				pt[0] += duplicateShiftStep
				if _, taken := seen[pt]; !taken {
					break
				}
			}
		}
		seen[pt] = 1

		geom, err := wkb.Marshal(pt)
		if err != nil {
			return nil, fmt.Errorf("transitgraph: marshal vertex %d geometry: %w", v.ID, err)
		}
		rows = append(rows, VertexRow{
			ID:         v.ID,
			Type:       v.Type.String(),
			StopID:     v.StopID,
			LineID:     v.LineID,
			LineSegIdx: v.LineSegIdx,
			ZoneID:     v.ZoneID,
			Geom:       geom,
		})
	}
	if duplicates > 0 {
		switch policy {
		case DupShift:
			logger.Printf("transitgraph: shifted %d vertices with duplicate geometry", duplicates)
		case DupDrop:
			logger.Printf("transitgraph: dropped %d vertices with duplicate geometry", duplicates)
		}
	}
	return rows, nil
}

// ExportEdgeTable renders the edge table for persistence, with direct
// tail-to-head line geometry.
func ExportEdgeTable(g *Graph) ([]EdgeRow, error) {
	rows := make([]EdgeRow, 0, len(g.Edges))
	for _, e := range g.Edges {
		line := orb.LineString{
			g.Vertices[e.Tail-1].Geom,
			g.Vertices[e.Head-1].Geom,
		}
		geom, err := wkb.Marshal(line)
		if err != nil {
			return nil, fmt.Errorf("transitgraph: marshal edge %d geometry: %w", e.ID, err)
		}
		rows = append(rows, EdgeRow{
			ID:         e.ID,
			Type:       e.Type.String(),
			LineID:     e.LineID,
			StopID:     e.StopID,
			LineSegIdx: e.LineSegIdx,
			Tail:       e.Tail,
			Head:       e.Head,
			TravTime:   e.TravTime,
			Freq:       e.Freq,
			OLineID:    e.OLineID,
			DLineID:    e.DLineID,
			Direction:  e.Direction,
			Geom:       geom,
		})
	}
	return rows, nil
}
