package hyperpath

import "sort"

// Tree is the mutable per-destination state of one hyperpath query:
// vertex labels, combined frequencies, the attractive edge set and the
// volume and skim accumulators. A Tree is reused across destinations
// via Build; it is not safe for concurrent use.
type Tree struct {
	eng *Engine

	u    []float64 // expected remaining cost per vertex
	f    []float64 // combined frequency of the attractive set per vertex
	keys []float64 // final key of each scanned edge

	order      []int32   // attractive edges, sorted by key descending
	lastMarked []int32   // per vertex, most recent edge committed at it
	edgeVol    []float64 // assigned volume per attractive edge
	vertVol    []float64

	skims [numSkimCols][]float64

	queue *edgeQueue
	dest  int32 // 0-based destination index, -1 before first Build
}

// Dest returns the 1-based vertex id of the current destination, or 0
// before the first Build.
func (t *Tree) Dest() int32 { return t.dest + 1 }

// reset clears the state touched by the previous query. Only edges in
// the previous attractive set are walked; everything vertex-sized is
// refilled wholesale.
func (t *Tree) reset() {
	for _, e := range t.order {
		t.edgeVol[e] = 0
	}
	t.order = t.order[:0]
	for v := range t.u {
		t.u[v] = Infinity
		t.f[v] = 0
		t.vertVol[v] = 0
	}
	t.queue.reset()
}

// Build runs the backward label-correcting pass from the destination
// (1-based vertex id) and records the attractive edge set. Labels are
// then available through Label.
func (t *Tree) Build(destID int32) {
	t.reset()
	eng := t.eng
	dest := destID - 1
	t.dest = dest
	t.u[dest] = 0

	q := t.queue
	for _, e := range eng.inEdges[eng.inIndptr[dest]:eng.inIndptr[dest+1]] {
		q.insert(e, eng.trav[e])
	}

	for !q.empty() {
		e, key := q.popMin()
		i := eng.tail[e]
		uI, fI := t.u[i], t.f[i]
		if uI < key {
			continue
		}

		fA := eng.freq[e]
		var uNew, fNew float64
		switch {
		case fA >= infFreq:
			// wait-free edge dominates: ride it always
			uNew, fNew = key, infFreq
		case fI >= infFreq:
			// vertex already served wait-free at a lower cost
			continue
		default:
			beta := fI * uI
			if fI == 0 && uI == Infinity {
				beta = 1
			}
			fNew = fI + fA
			uNew = (beta + fA*key) / fNew
		}
		if uNew >= uI {
			continue
		}

		t.u[i] = uNew
		t.f[i] = fNew
		t.keys[e] = key
		t.lastMarked[i] = e
		t.order = append(t.order, e)

		for _, in := range eng.inEdges[eng.inIndptr[i]:eng.inIndptr[i+1]] {
			if q.scanned(in) {
				continue
			}
			k := uNew + eng.trav[in]
			if q.inHeap(in) {
				q.decreaseKey(in, k)
			} else {
				q.insert(in, k)
			}
		}
	}

	t.compactAttractive()
	t.sortAttractive()
}

// compactAttractive drops superseded entries. A wait-free edge taking
// over a vertex invalidates every frequency-split edge committed at it
// before; the survivor at such a vertex is exactly the edge committed
// last. Frequency vertices keep all their committed edges, the label
// formula already folded them together.
func (t *Tree) compactAttractive() {
	eng := t.eng
	kept := t.order[:0]
	for _, e := range t.order {
		i := eng.tail[e]
		if t.f[i] >= infFreq && t.lastMarked[i] != e {
			continue
		}
		kept = append(kept, e)
	}
	t.order = kept
}

// sortAttractive orders the attractive set by recorded key, largest
// first so the flow pass drains a vertex only after all its inflow has
// arrived. Equal keys fall back to edge index for determinism.
func (t *Tree) sortAttractive() {
	keys := t.keys
	sort.Slice(t.order, func(a, b int) bool {
		ea, eb := t.order[a], t.order[b]
		if keys[ea] != keys[eb] {
			return keys[ea] > keys[eb]
		}
		return ea < eb
	})
}

// Label returns the expected cost from the 1-based vertex id to the
// destination of the last Build, Infinity when unreachable.
func (t *Tree) Label(vertexID int32) float64 { return t.u[vertexID-1] }

// LoadFlows pushes origin demand through the attractive set. Origins
// are 1-based vertex ids; the slices are parallel. Unreachable origins
// contribute nothing.
func (t *Tree) LoadFlows(origins []int32, volumes []float64) {
	eng := t.eng
	for k, o := range origins {
		if t.u[o-1] < Infinity {
			t.vertVol[o-1] += volumes[k]
		}
	}
	for _, e := range t.order {
		i := eng.tail[e]
		vI := t.vertVol[i]
		if vI == 0 {
			continue
		}
		var vA float64
		if t.f[i] >= infFreq {
			vA = vI
		} else {
			vA = vI * eng.freq[e] / t.f[i]
		}
		t.edgeVol[e] = vA
		t.vertVol[eng.head[e]] += vA
	}
}

// EdgeVolumes calls fn for every attractive edge carrying volume, in
// deterministic (key-descending) order. Edge indices are 0-based.
func (t *Tree) EdgeVolumes(fn func(edge int32, vol float64)) {
	for _, e := range t.order {
		if t.edgeVol[e] != 0 {
			fn(e, t.edgeVol[e])
		}
	}
}

// ComputeSkims accumulates the engine's configured skim columns over
// the attractive set, walking it in key-ascending order so every head
// vertex is final before its tails read it.
func (t *Tree) ComputeSkims() {
	eng := t.eng
	for c := SkimCol(0); c < numSkimCols; c++ {
		if t.skims[c] == nil {
			continue
		}
		for v := range t.skims[c] {
			t.skims[c][v] = 0
		}
	}
	for k := len(t.order) - 1; k >= 0; k-- {
		e := t.order[k]
		i, j := eng.tail[e], eng.head[e]
		share := 1.0
		if t.f[i] < infFreq {
			share = eng.freq[e] / t.f[i]
		}
		for c := SkimCol(0); c < numSkimCols; c++ {
			contrib := eng.contrib[c]
			if contrib == nil {
				continue
			}
			t.skims[c][i] += share * (contrib[e] + t.skims[c][j])
		}
	}
}

// Skim returns the value of column c at the 1-based origin vertex id.
// TravTime reads the label directly; WaitingTime is derived from it by
// subtracting the in-vehicle, access and egress components.
func (t *Tree) Skim(c SkimCol, vertexID int32) float64 {
	v := vertexID - 1
	switch c {
	case SkimTravTime:
		return t.u[v]
	case SkimWaitingTime:
		if t.u[v] >= Infinity {
			return Infinity
		}
		return t.u[v] - t.skims[SkimInVehicleTravTime][v] -
			t.skims[SkimAccessTravTime][v] - t.skims[SkimEgressTravTime][v]
	default:
		return t.skims[c][v]
	}
}
