// Package transitgraph builds the time-sliced assignment graph used by the
// transit hyperpath engine: stop, boarding and alighting vertices derived
// from line segments, zone centroid vertices, and the typed edge set
// (on-board, boarding, alighting, dwell, transfers, connectors, walking).
//
// All times are expressed in seconds, all frequencies in 1/seconds.
// A frequency of +Inf denotes a deterministic, non-waiting edge.
package transitgraph

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
)

// VertexType discriminates the vertex table rows.
type VertexType uint8

const (
	VertexStop VertexType = iota
	VertexBoarding
	VertexAlighting
	VertexOrigin
	VertexDestination
	VertexOD
)

var vertexTypeNames = [...]string{"stop", "boarding", "alighting", "origin", "destination", "od"}

func (t VertexType) String() string {
	if int(t) < len(vertexTypeNames) {
		return vertexTypeNames[t]
	}
	return fmt.Sprintf("vertex_type(%d)", uint8(t))
}

// EdgeType discriminates the edge table rows.
type EdgeType uint8

const (
	EdgeOnBoard EdgeType = iota
	EdgeBoarding
	EdgeAlighting
	EdgeDwell
	EdgeInnerTransfer
	EdgeOuterTransfer
	EdgeAccessConnector
	EdgeEgressConnector
	EdgeWalking
)

var edgeTypeNames = [...]string{
	"on_board", "boarding", "alighting", "dwell", "inner_transfer",
	"outer_transfer", "access_connector", "egress_connector", "walking",
}

func (t EdgeType) String() string {
	if int(t) < len(edgeTypeNames) {
		return edgeTypeNames[t]
	}
	return fmt.Sprintf("edge_type(%d)", uint8(t))
}

// IsTransfer reports whether the edge is an inner or outer stop transfer.
func (t EdgeType) IsTransfer() bool {
	return t == EdgeInnerTransfer || t == EdgeOuterTransfer
}

// Vertex is one row of the vertex table. IDs are 1-based and dense:
// Graph.Vertices[i].ID == i+1, immutable once the graph is built.
type Vertex struct {
	ID         int32
	Type       VertexType
	StopID     string // stop, boarding, alighting only
	LineID     string // boarding, alighting only
	LineSegIdx int32  // boarding, alighting only; -1 otherwise
	ZoneID     string // origin, destination, od only
	Geom       orb.Point
}

// Edge is one row of the edge table. Tail and Head are 1-based vertex IDs.
type Edge struct {
	ID         int32
	Type       EdgeType
	LineID     string
	StopID     string
	LineSegIdx int32
	Tail       int32
	Head       int32
	TravTime   float64 // seconds, finite and non-negative
	Freq       float64 // 1/seconds, strictly positive or +Inf
	OLineID    string  // transfer edges only
	DLineID    string  // transfer edges only
	Direction  int8
}

// ODNode maps a zone to its centroid vertex IDs. With centroid flow
// blocking disabled both IDs reference the same vertex.
type ODNode struct {
	ZoneID     string
	OriginNode int32
	DestNode   int32
}

// Graph is the frozen assignment graph: read-only after Build.
type Graph struct {
	Vertices  []Vertex
	Edges     []Edge
	ODMapping []ODNode

	// Config the graph was built with, kept for persistence round-trips.
	Config Config
}

// ErrUnknownZone is returned when a zone ID is absent from the od-node mapping.
var ErrUnknownZone = errors.New("transitgraph: unknown zone id")

// NumVertices returns the vertex count.
func (g *Graph) NumVertices() int { return len(g.Vertices) }

// NumEdges returns the edge count.
func (g *Graph) NumEdges() int { return len(g.Edges) }

// ODNodes resolves a zone ID through the od-node mapping.
func (g *Graph) ODNodes(zoneID string) (ODNode, error) {
	for _, m := range g.ODMapping {
		if m.ZoneID == zoneID {
			return m, nil
		}
	}
	return ODNode{}, fmt.Errorf("%w: %q", ErrUnknownZone, zoneID)
}

// ZoneIDs returns the zone IDs in od-node mapping order.
func (g *Graph) ZoneIDs() []string {
	ids := make([]string, len(g.ODMapping))
	for i, m := range g.ODMapping {
		ids[i] = m.ZoneID
	}
	return ids
}
