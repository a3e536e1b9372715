// Package assign orchestrates transit assignment over a built graph:
// demand validation, one hyperpath tree per destination on a fixed
// worker pool, and a deterministic reduction of per-destination flows
// into the shared edge-volume vector and OD skim matrices.
package assign

import (
	"errors"
	"fmt"
	"log"
	"math"
	"runtime"
	"sort"
	"sync"

	"transit_assign/pkg/hyperpath"
	"transit_assign/pkg/transitgraph"
)

// Demand is one origin-destination demand entry, in zone IDs.
type Demand struct {
	Origin string
	Dest   string
	Volume float64
}

var ErrBadVolume = errors.New("assign: demand volume must be finite and non-negative")

// Options configures an Orchestrator.
type Options struct {
	// Threads is the worker pool size; 0 means runtime.NumCPU().
	Threads int

	// Skims selects the OD skim columns to produce. Empty means
	// volumes only.
	Skims []hyperpath.SkimCol

	Logger *log.Logger
}

// Orchestrator runs assignments against one immutable graph. It is
// safe to call Run repeatedly; each call gets fresh results.
type Orchestrator struct {
	graph   *transitgraph.Graph
	engine  *hyperpath.Engine
	odIndex map[string]transitgraph.ODNode
	zoneIDs []string

	threads   int
	requested []hyperpath.SkimCol
	internal  []hyperpath.SkimCol
	logger    *log.Logger
}

// New validates the graph for assignment and prepares the shared
// engine state.
func New(g *transitgraph.Graph, opts Options) (*Orchestrator, error) {
	threads := opts.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	internal := internalSkims(opts.Skims)
	eng, err := hyperpath.New(g, hyperpath.Options{Skims: internal})
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		graph:     g,
		engine:    eng,
		odIndex:   make(map[string]transitgraph.ODNode, len(g.ODMapping)),
		zoneIDs:   g.ZoneIDs(),
		threads:   threads,
		requested: append([]hyperpath.SkimCol(nil), opts.Skims...),
		internal:  internal,
		logger:    logger,
	}
	for _, m := range g.ODMapping {
		o.odIndex[m.ZoneID] = m
	}
	return o, nil
}

// internalSkims expands the requested set with the columns waiting_time
// is derived from. Waiting itself is never accumulated; it is computed
// cellwise at the end of a run.
func internalSkims(requested []hyperpath.SkimCol) []hyperpath.SkimCol {
	have := map[hyperpath.SkimCol]bool{}
	out := []hyperpath.SkimCol{}
	add := func(c hyperpath.SkimCol) {
		if !have[c] {
			have[c] = true
			out = append(out, c)
		}
	}
	for _, c := range requested {
		if c == hyperpath.SkimWaitingTime {
			add(hyperpath.SkimTravTime)
			add(hyperpath.SkimInVehicleTravTime)
			add(hyperpath.SkimAccessTravTime)
			add(hyperpath.SkimEgressTravTime)
			continue
		}
		add(c)
	}
	return out
}

// destGroup collects the demand bound for one destination zone.
type destGroup struct {
	zoneID   string
	destNode int32
	origins  []int32
	volumes  []float64
}

// destResult is one worker's output for one destination: the sparse
// attractive-set volumes, in the tree's deterministic edge order.
type destResult struct {
	edges   []int32
	volumes []float64
}

// Run validates and groups the demand, assigns every destination with
// positive demand and reduces the results. Entries referencing unknown
// zones are logged and skipped; negative or non-finite volumes abort
// the run.
func (o *Orchestrator) Run(demand []Demand) (*TransitResults, error) {
	groups, err := o.groupDemand(demand)
	if err != nil {
		return nil, err
	}

	res := &TransitResults{}
	res.Prepare(o.graph.NumEdges(), o.zoneIDs, o.requested)
	mats := o.skimMatrices(res)

	results := make([]destResult, len(groups))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < o.threads; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tree := o.engine.NewTree()
			for j := range jobs {
				results[j] = o.assignDestination(tree, groups[j], mats)
			}
		}()
	}
	for j := range groups {
		jobs <- j
	}
	close(jobs)
	wg.Wait()

	// reduce in destination order: summation order is fixed, so the
	// volume vector is bit-identical for any thread count
	for _, r := range results {
		for k, e := range r.edges {
			res.volumes[e] += r.volumes[k]
		}
	}

	o.deriveWaiting(res, mats)
	return res, nil
}

// groupDemand validates entries and groups them by destination zone,
// sorted by zone ID so job order is independent of input order.
func (o *Orchestrator) groupDemand(demand []Demand) ([]*destGroup, error) {
	byDest := map[string]*destGroup{}
	for i, d := range demand {
		if math.IsNaN(d.Volume) || math.IsInf(d.Volume, 0) || d.Volume < 0 {
			return nil, fmt.Errorf("%w: entry %d (%s -> %s) has volume %v",
				ErrBadVolume, i, d.Origin, d.Dest, d.Volume)
		}
		if d.Volume == 0 {
			continue
		}
		origin, ok := o.odIndex[d.Origin]
		if !ok {
			o.logger.Printf("assign: skipping entry %d: %v", i, fmt.Errorf("%w: %q", transitgraph.ErrUnknownZone, d.Origin))
			continue
		}
		dest, ok := o.odIndex[d.Dest]
		if !ok {
			o.logger.Printf("assign: skipping entry %d: %v", i, fmt.Errorf("%w: %q", transitgraph.ErrUnknownZone, d.Dest))
			continue
		}
		g := byDest[d.Dest]
		if g == nil {
			g = &destGroup{zoneID: d.Dest, destNode: dest.DestNode}
			byDest[d.Dest] = g
		}
		g.origins = append(g.origins, origin.OriginNode)
		g.volumes = append(g.volumes, d.Volume)
	}

	groups := make([]*destGroup, 0, len(byDest))
	for _, g := range byDest {
		groups = append(groups, g)
	}
	sort.Slice(groups, func(a, b int) bool { return groups[a].zoneID < groups[b].zoneID })
	return groups, nil
}

// skimMatrices maps every internally accumulated column to a matrix:
// the result set's own matrix when the column was requested, a private
// one when it only feeds the waiting derivation.
func (o *Orchestrator) skimMatrices(res *TransitResults) map[hyperpath.SkimCol]*Matrix {
	mats := make(map[hyperpath.SkimCol]*Matrix, len(o.internal))
	for _, c := range o.internal {
		if m, ok := res.skims[c]; ok {
			mats[c] = m
		} else {
			mats[c] = newMatrix(o.zoneIDs, skimFill(c))
		}
	}
	return mats
}

// assignDestination builds the hyperpath tree for one destination,
// loads its demand and writes the destination's skim column. Skim
// writes for distinct destinations touch disjoint cells, so no locking
// is needed.
func (o *Orchestrator) assignDestination(tree *hyperpath.Tree, g *destGroup, mats map[hyperpath.SkimCol]*Matrix) destResult {
	tree.Build(g.destNode)
	tree.LoadFlows(g.origins, g.volumes)
	tree.ComputeSkims()

	var r destResult
	tree.EdgeVolumes(func(edge int32, vol float64) {
		r.edges = append(r.edges, edge)
		r.volumes = append(r.volumes, vol)
	})

	if len(mats) > 0 {
		dj := mats[o.internal[0]].index[g.zoneID]
		for oi, zone := range o.zoneIDs {
			if oi == dj {
				continue
			}
			origin := o.odIndex[zone].OriginNode
			for _, c := range o.internal {
				mats[c].set(oi, dj, tree.Skim(c, origin))
			}
		}
	}
	return r
}

// deriveWaiting fills the waiting_time matrix from its components.
// Untouched cells stay at the unreachable fill: MaxFloat64 minus zero
// components is still MaxFloat64.
func (o *Orchestrator) deriveWaiting(res *TransitResults, mats map[hyperpath.SkimCol]*Matrix) {
	wait, ok := res.skims[hyperpath.SkimWaitingTime]
	if !ok {
		return
	}
	trav := mats[hyperpath.SkimTravTime]
	inveh := mats[hyperpath.SkimInVehicleTravTime]
	access := mats[hyperpath.SkimAccessTravTime]
	egress := mats[hyperpath.SkimEgressTravTime]
	n := len(o.zoneIDs)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			wait.set(i, j, trav.at(i, j)-inveh.at(i, j)-access.at(i, j)-egress.at(i, j))
		}
	}
}
