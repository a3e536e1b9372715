package assign

import (
	"bytes"
	"log"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"transit_assign/pkg/hyperpath"
	"transit_assign/pkg/transitgraph"
)

// sfGraph is the Spiess & Florian (1989) example network wrapped in a
// two-zone system: zone A at stop A, zone B at stop B. Frequencies are
// doubled so waits average half the line period.
func sfGraph(t *testing.T) (*transitgraph.Graph, []float64) {
	t.Helper()

	inf := math.Inf(1)
	const (
		fL1 = 2.0 / (60.0 * 12.0)
		fL2 = 2.0 / (60.0 * 12.0)
		fL3 = 2.0 / (60.0 * 30.0)
		fL4 = 2.0 / (60.0 * 6.0)
	)

	type row struct {
		typ        transitgraph.EdgeType
		tail, head int32
		trav, freq float64
		volume     float64
	}
	rows := []row{
		{transitgraph.EdgeBoarding, 1, 3, 0, fL1, 0.5},
		{transitgraph.EdgeBoarding, 1, 2, 0, fL2, 0.5},
		{transitgraph.EdgeOnBoard, 3, 16, 25 * 60, inf, 0.5},
		{transitgraph.EdgeOnBoard, 2, 6, 7 * 60, inf, 0.5},
		{transitgraph.EdgeAlighting, 6, 4, 0, inf, 0},
		{transitgraph.EdgeDwell, 6, 7, 0, inf, 0.5},
		{transitgraph.EdgeInnerTransfer, 6, 5, 0, fL3, 0},
		{transitgraph.EdgeBoarding, 4, 7, 0, fL2, 0},
		{transitgraph.EdgeBoarding, 4, 5, 0, fL3, 0},
		{transitgraph.EdgeOnBoard, 7, 12, 6 * 60, inf, 0.5},
		{transitgraph.EdgeOnBoard, 5, 10, 4 * 60, inf, 0},
		{transitgraph.EdgeAlighting, 10, 8, 0, inf, 0},
		{transitgraph.EdgeAlighting, 12, 8, 0, inf, 0},
		{transitgraph.EdgeInnerTransfer, 12, 11, 0, fL3, 0.0833333333333},
		{transitgraph.EdgeInnerTransfer, 12, 9, 0, fL4, 0.4166666666666},
		{transitgraph.EdgeInnerTransfer, 10, 9, 0, fL4, 0},
		{transitgraph.EdgeDwell, 10, 11, 0, inf, 0},
		{transitgraph.EdgeBoarding, 8, 11, 0, fL3, 0},
		{transitgraph.EdgeBoarding, 8, 9, 0, fL4, 0},
		{transitgraph.EdgeOnBoard, 11, 15, 4 * 60, inf, 0.0833333333333},
		{transitgraph.EdgeOnBoard, 9, 14, 10 * 60, inf, 0.4166666666666},
		{transitgraph.EdgeAlighting, 16, 13, 0, inf, 0.5},
		{transitgraph.EdgeAlighting, 15, 13, 0, inf, 0.0833333333333},
		{transitgraph.EdgeAlighting, 14, 13, 0, inf, 0.4166666666666},
	}

	g := &transitgraph.Graph{}
	for i := 0; i < 16; i++ {
		g.Vertices = append(g.Vertices, transitgraph.Vertex{ID: int32(i + 1), Type: transitgraph.VertexStop})
	}
	refVolumes := make([]float64, len(rows))
	for i, r := range rows {
		g.Edges = append(g.Edges, transitgraph.Edge{
			ID: int32(i + 1), Type: r.typ,
			Tail: r.tail, Head: r.head,
			TravTime: r.trav, Freq: r.freq,
		})
		refVolumes[i] = r.volume
	}
	g.ODMapping = []transitgraph.ODNode{
		{ZoneID: "A", OriginNode: 1, DestNode: 1},
		{ZoneID: "B", OriginNode: 13, DestNode: 13},
	}
	return g, refVolumes
}

func TestAssignSpiessFlorian(t *testing.T) {
	g, refVolumes := sfGraph(t)
	orch, err := New(g, Options{Threads: 1, Skims: []hyperpath.SkimCol{
		hyperpath.SkimTravTime, hyperpath.SkimBoardings,
		hyperpath.SkimTransfers, hyperpath.SkimWaitingTime,
	}})
	require.NoError(t, err)

	res, err := orch.Run([]Demand{{Origin: "A", Dest: "B", Volume: 1.0}})
	require.NoError(t, err)

	for i, want := range refVolumes {
		tol := 1e-8 + 1e-5*math.Abs(want)
		require.InDelta(t, want, res.Volume(int32(i+1)), tol, "edge %d", i+1)
	}

	trav, ok := res.Skim(hyperpath.SkimTravTime)
	require.True(t, ok)
	ab, err := trav.At("A", "B")
	require.NoError(t, err)
	require.InDelta(t, 27.75*60, ab, 1e-4)

	// no demand towards A, so B -> A stays unreached and the diagonal
	// stays zero
	ba, err := trav.At("B", "A")
	require.NoError(t, err)
	require.True(t, IsUnreached(ba))
	aa, err := trav.At("A", "A")
	require.NoError(t, err)
	require.Zero(t, aa)

	boardings, ok := res.Skim(hyperpath.SkimBoardings)
	require.True(t, ok)
	b, err := boardings.At("A", "B")
	require.NoError(t, err)
	require.InDelta(t, 1.0, b, 1e-9)

	transfers, ok := res.Skim(hyperpath.SkimTransfers)
	require.True(t, ok)
	tr, err := transfers.At("A", "B")
	require.NoError(t, err)
	require.InDelta(t, 0.5, tr, 1e-9)

	waiting, ok := res.Skim(hyperpath.SkimWaitingTime)
	require.True(t, ok)
	w, err := waiting.At("A", "B")
	require.NoError(t, err)
	require.InDelta(t, 27.75*60-1410.0, w, 1e-4)
	wba, err := waiting.At("B", "A")
	require.NoError(t, err)
	require.True(t, IsUnreached(wba))
}

func TestSkimRestriction(t *testing.T) {
	g, _ := sfGraph(t)
	orch, err := New(g, Options{Threads: 1, Skims: []hyperpath.SkimCol{hyperpath.SkimBoardings}})
	require.NoError(t, err)

	res, err := orch.Run([]Demand{{Origin: "A", Dest: "B", Volume: 1.0}})
	require.NoError(t, err)

	_, ok := res.Skim(hyperpath.SkimBoardings)
	require.True(t, ok)
	_, ok = res.Skim(hyperpath.SkimTravTime)
	require.False(t, ok)
	_, ok = res.Skim(hyperpath.SkimWaitingTime)
	require.False(t, ok)
}

// gridGraph builds a directed grid with pseudo-random travel times and
// frequencies, plus one zone per border vertex, for the thread
// invariance test.
func gridGraph(n int, seed uint64) (*transitgraph.Graph, []Demand) {
	rng := rand.New(rand.NewPCG(seed, seed))
	g := &transitgraph.Graph{}

	vid := func(i, j int) int32 { return int32(i*n + j + 1) }
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			g.Vertices = append(g.Vertices, transitgraph.Vertex{ID: vid(i, j), Type: transitgraph.VertexStop})
		}
	}

	addEdge := func(tail, head int32) {
		trav := 60 + 540*rng.Float64()
		freq := math.Inf(1)
		if rng.Float64() < 0.7 {
			freq = 1.0 / (60 + 1740*rng.Float64())
		}
		typ := transitgraph.EdgeOnBoard
		if !math.IsInf(freq, 1) {
			typ = transitgraph.EdgeBoarding
		}
		g.Edges = append(g.Edges, transitgraph.Edge{
			ID: int32(len(g.Edges) + 1), Type: typ,
			Tail: tail, Head: head, TravTime: trav, Freq: freq,
		})
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if j+1 < n {
				addEdge(vid(i, j), vid(i, j+1))
				addEdge(vid(i, j+1), vid(i, j))
			}
			if i+1 < n {
				addEdge(vid(i, j), vid(i+1, j))
				addEdge(vid(i+1, j), vid(i, j))
			}
		}
	}

	var demand []Demand
	for k := 0; k < n; k++ {
		origin := "z" + string(rune('a'+k)) + "_o"
		dest := "z" + string(rune('a'+k)) + "_d"
		g.ODMapping = append(g.ODMapping,
			transitgraph.ODNode{ZoneID: origin, OriginNode: vid(0, k), DestNode: vid(0, k)},
			transitgraph.ODNode{ZoneID: dest, OriginNode: vid(n-1, n-1-k), DestNode: vid(n-1, n-1-k)},
		)
		demand = append(demand, Demand{Origin: origin, Dest: dest, Volume: 1 + rng.Float64()})
	}
	// several origins into one destination exercises the per-group
	// accumulation path
	demand = append(demand,
		Demand{Origin: "za_o", Dest: "zb_d", Volume: 2.5},
		Demand{Origin: "zc_o", Dest: "zb_d", Volume: 0.25},
	)
	return g, demand
}

func TestParallelInvariance(t *testing.T) {
	g, demand := gridGraph(8, 987)

	var reference []float64
	var refSkim *Matrix
	for _, threads := range []int{1, 2, 4} {
		orch, err := New(g, Options{Threads: threads, Skims: []hyperpath.SkimCol{
			hyperpath.SkimTravTime, hyperpath.SkimBoardings,
		}})
		require.NoError(t, err)
		res, err := orch.Run(demand)
		require.NoError(t, err)

		skim, ok := res.Skim(hyperpath.SkimBoardings)
		require.True(t, ok)
		if reference == nil {
			reference = res.Volumes()
			refSkim = skim
			continue
		}
		// bit-exact, not approximate
		require.Equal(t, reference, res.Volumes(), "threads=%d", threads)
		require.Equal(t, refSkim.data, skim.data, "threads=%d", threads)
	}
}

func TestRunRepeatable(t *testing.T) {
	g, demand := gridGraph(5, 11)
	orch, err := New(g, Options{Threads: 4})
	require.NoError(t, err)

	first, err := orch.Run(demand)
	require.NoError(t, err)
	second, err := orch.Run(demand)
	require.NoError(t, err)
	require.Equal(t, first.Volumes(), second.Volumes())
}

func TestDemandValidation(t *testing.T) {
	g, _ := sfGraph(t)

	var buf bytes.Buffer
	orch, err := New(g, Options{Threads: 1, Logger: log.New(&buf, "", 0)})
	require.NoError(t, err)

	// unknown zones are skipped and logged, not fatal
	res, err := orch.Run([]Demand{
		{Origin: "A", Dest: "nowhere", Volume: 1.0},
		{Origin: "ghost", Dest: "B", Volume: 1.0},
		{Origin: "A", Dest: "B", Volume: 0},
	})
	require.NoError(t, err)
	for _, load := range res.LoadResults() {
		require.Zero(t, load.Volume)
	}
	require.Contains(t, buf.String(), "nowhere")
	require.Contains(t, buf.String(), "ghost")

	// negative volume aborts the run
	_, err = orch.Run([]Demand{{Origin: "A", Dest: "B", Volume: -1.0}})
	require.ErrorIs(t, err, ErrBadVolume)

	_, err = orch.Run([]Demand{{Origin: "A", Dest: "B", Volume: math.NaN()}})
	require.ErrorIs(t, err, ErrBadVolume)
}

func TestResultSetContract(t *testing.T) {
	var rs ResultSet = &TransitResults{}
	require.Equal(t, KindTransit, rs.Kind())

	rs.Prepare(3, []string{"A", "B"}, []hyperpath.SkimCol{hyperpath.SkimTravTime})
	loads := rs.LoadResults()
	require.Len(t, loads, 3)
	require.Equal(t, int32(1), loads[0].EdgeID)

	tr := rs.(*TransitResults)
	tr.volumes[1] = 4.5
	m, ok := tr.Skim(hyperpath.SkimTravTime)
	require.True(t, ok)
	m.set(0, 1, 123)

	rs.Reset()
	require.Zero(t, tr.Volume(2))
	m, _ = tr.Skim(hyperpath.SkimTravTime)
	v, err := m.At("A", "B")
	require.NoError(t, err)
	require.True(t, IsUnreached(v))
}
