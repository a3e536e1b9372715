// Package hyperpath implements frequency-based transit assignment on
// hyperpaths (optimal strategies). An Engine holds an immutable view of
// a transit graph; Trees carry the per-destination mutable state so that
// one Engine can serve many destinations, concurrently if each goroutine
// owns its own Tree.
package hyperpath

import (
	"errors"
	"fmt"
	"math"

	"transit_assign/pkg/transitgraph"
)

const (
	// Infinity marks an unreachable vertex label.
	Infinity = math.MaxFloat64

	// infFreq stands in for an infinite edge frequency. Deterministic
	// edges (wait-free) carry this value so that frequency sums stay
	// finite and comparable.
	infFreq = 1.0e20

	// minTravTime is the lower clamp applied to edge travel times.
	// Zero-cost edges would allow key ties between an edge into a
	// vertex and an edge out of it, breaking the topological order of
	// the flow pass.
	minTravTime = 1.0e-8
)

var (
	ErrEmptyGraph   = errors.New("hyperpath: graph has no edges")
	ErrVertexBounds = errors.New("hyperpath: vertex id out of range")
)

// Options selects the skim columns an Engine accumulates per
// destination. TravTime is always available from the vertex labels;
// WaitingTime is derived, and requesting it forces the in-vehicle,
// access and egress components on.
type Options struct {
	Skims []SkimCol
}

// Engine is the immutable, shareable part of the assignment: flat edge
// arrays, the reverse star index and the per-edge skim contributions.
type Engine struct {
	vertexCount int
	edgeCount   int

	tail []int32
	head []int32
	trav []float64
	freq []float64

	// reverse star: incoming edges of vertex v are
	// inEdges[inIndptr[v]:inIndptr[v+1]]
	inIndptr []int32
	inEdges  []int32

	// contrib[c] is non-nil iff column c is accumulated
	contrib   [numSkimCols][]float64
	requested [numSkimCols]bool
}

// New validates the graph and builds an Engine over it. Edge frequencies
// must be strictly positive (use +Inf for wait-free edges) and travel
// times finite and non-negative.
func New(g *transitgraph.Graph, opts Options) (*Engine, error) {
	nv := g.NumVertices()
	ne := g.NumEdges()
	if ne == 0 {
		return nil, ErrEmptyGraph
	}

	e := &Engine{
		vertexCount: nv,
		edgeCount:   ne,
		tail:        make([]int32, ne),
		head:        make([]int32, ne),
		trav:        make([]float64, ne),
		freq:        make([]float64, ne),
	}

	for i, ed := range g.Edges {
		if ed.Tail < 1 || ed.Tail > int32(nv) || ed.Head < 1 || ed.Head > int32(nv) {
			return nil, fmt.Errorf("%w: edge %d (%d -> %d)", ErrVertexBounds, ed.ID, ed.Tail, ed.Head)
		}
		if math.IsNaN(ed.TravTime) || math.IsInf(ed.TravTime, 0) || ed.TravTime < 0 {
			return nil, fmt.Errorf("hyperpath: edge %d has invalid travel time %v", ed.ID, ed.TravTime)
		}
		if math.IsNaN(ed.Freq) || ed.Freq <= 0 {
			return nil, fmt.Errorf("hyperpath: edge %d has invalid frequency %v", ed.ID, ed.Freq)
		}
		e.tail[i] = ed.Tail - 1
		e.head[i] = ed.Head - 1
		e.trav[i] = math.Max(ed.TravTime, minTravTime)
		e.freq[i] = math.Min(ed.Freq, infFreq)
	}

	e.buildReverseStar()
	if err := e.setupSkims(g, opts.Skims); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) buildReverseStar() {
	e.inIndptr = make([]int32, e.vertexCount+1)
	for _, h := range e.head {
		e.inIndptr[h+1]++
	}
	for v := 0; v < e.vertexCount; v++ {
		e.inIndptr[v+1] += e.inIndptr[v]
	}
	e.inEdges = make([]int32, e.edgeCount)
	next := make([]int32, e.vertexCount)
	copy(next, e.inIndptr[:e.vertexCount])
	for i := 0; i < e.edgeCount; i++ {
		h := e.head[i]
		e.inEdges[next[h]] = int32(i)
		next[h]++
	}
}

// setupSkims resolves requested columns into the set of accumulated
// ones and precomputes the per-edge contribution of each.
func (e *Engine) setupSkims(g *transitgraph.Graph, cols []SkimCol) error {
	accumulate := [numSkimCols]bool{}
	for _, c := range cols {
		if c >= numSkimCols {
			return fmt.Errorf("hyperpath: unknown skim column %d", c)
		}
		e.requested[c] = true
		switch c {
		case SkimTravTime:
			// read off the vertex labels, nothing to accumulate
		case SkimWaitingTime:
			accumulate[SkimInVehicleTravTime] = true
			accumulate[SkimAccessTravTime] = true
			accumulate[SkimEgressTravTime] = true
		default:
			accumulate[c] = true
		}
	}

	for c := SkimCol(0); c < numSkimCols; c++ {
		if !accumulate[c] {
			continue
		}
		e.contrib[c] = make([]float64, e.edgeCount)
		for i, ed := range g.Edges {
			e.contrib[c][i] = edgeContribution(c, ed.Type, e.trav[i])
		}
	}
	return nil
}

// NumVertices returns the vertex count of the underlying graph.
func (e *Engine) NumVertices() int { return e.vertexCount }

// NumEdges returns the edge count of the underlying graph.
func (e *Engine) NumEdges() int { return e.edgeCount }

// Requested reports whether column c was asked for in Options.
func (e *Engine) Requested(c SkimCol) bool { return e.requested[c] }

// NewTree allocates the mutable per-destination state. Trees are not
// safe for concurrent use; allocate one per worker.
func (e *Engine) NewTree() *Tree {
	t := &Tree{
		eng:        e,
		u:          make([]float64, e.vertexCount),
		f:          make([]float64, e.vertexCount),
		keys:       make([]float64, e.edgeCount),
		lastMarked: make([]int32, e.vertexCount),
		edgeVol:    make([]float64, e.edgeCount),
		vertVol:    make([]float64, e.vertexCount),
		queue:      newEdgeQueue(e.edgeCount),
		dest:       -1,
	}
	for c := SkimCol(0); c < numSkimCols; c++ {
		if e.contrib[c] != nil {
			t.skims[c] = make([]float64, e.vertexCount)
		}
	}
	return t
}

// Run is the single-query convenience: build the hyperpath to dest,
// load volume at origin and compute skims. Both ids are 1-based graph
// vertex ids.
func (e *Engine) Run(origin, dest int32, volume float64) (*Tree, error) {
	if origin < 1 || origin > int32(e.vertexCount) || dest < 1 || dest > int32(e.vertexCount) {
		return nil, ErrVertexBounds
	}
	t := e.NewTree()
	t.Build(dest)
	t.LoadFlows([]int32{origin}, []float64{volume})
	t.ComputeSkims()
	return t, nil
}
