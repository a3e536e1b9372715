package transitgraph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func connectivityGraph() *Graph {
	// vertices 1-4 form the main component, 5-6 a detached pair, 7 floats
	g := &Graph{}
	for i := int32(1); i <= 7; i++ {
		g.Vertices = append(g.Vertices, Vertex{ID: i, Type: VertexStop})
	}
	g.Edges = []Edge{
		{ID: 1, Tail: 1, Head: 2},
		{ID: 2, Tail: 2, Head: 3},
		{ID: 3, Tail: 4, Head: 1},
		{ID: 4, Tail: 5, Head: 6},
	}
	return g
}

func TestConnectivityComponents(t *testing.T) {
	rep := connectivityGraph().Connectivity()
	require.Equal(t, 3, rep.Components)
	require.Equal(t, 4, rep.LargestSize)
	require.Empty(t, rep.IsolatedZones)
}

func TestConnectivityIsolatedZones(t *testing.T) {
	g := connectivityGraph()
	g.ODMapping = []ODNode{
		{ZoneID: "za", OriginNode: 1, DestNode: 1},
		{ZoneID: "zb", OriginNode: 5, DestNode: 5},
		{ZoneID: "zc", OriginNode: 7, DestNode: 7},
	}
	rep := g.Connectivity()
	require.Equal(t, []string{"zb", "zc"}, rep.IsolatedZones)
}

func TestConnectivitySplitCentroid(t *testing.T) {
	g := connectivityGraph()
	// origin node connected, dest node stranded: the zone is still unusable
	g.ODMapping = []ODNode{{ZoneID: "za", OriginNode: 1, DestNode: 7}}
	rep := g.Connectivity()
	require.Equal(t, []string{"za"}, rep.IsolatedZones)
}

func TestConnectivityEmptyGraph(t *testing.T) {
	rep := (&Graph{}).Connectivity()
	require.Zero(t, rep.Components)
	require.Zero(t, rep.LargestSize)
}

func TestConnectivityBuiltGraph(t *testing.T) {
	g := buildFixture(t, DefaultConfig())
	rep := g.Connectivity()
	require.Equal(t, 1, rep.Components)
	require.Equal(t, g.NumVertices(), rep.LargestSize)
	require.Empty(t, rep.IsolatedZones)
}
