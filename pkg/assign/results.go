package assign

import (
	"math"

	"transit_assign/pkg/hyperpath"
)

// ResultKind tags the variant of assignment a ResultSet holds. Transit
// is the only kind today; the tag keeps downstream consumers from
// switching on concrete types when more are added.
type ResultKind uint8

const (
	KindTransit ResultKind = iota
)

func (k ResultKind) String() string {
	if k == KindTransit {
		return "transit"
	}
	return "unknown"
}

// EdgeLoad is one row of the per-edge load table.
type EdgeLoad struct {
	EdgeID int32
	Volume float64
}

// ResultSet is the single result-holder contract shared by assignment
// kinds: size it for a run, reuse it across runs, read loads out of it.
type ResultSet interface {
	Kind() ResultKind

	// Prepare sizes the holder for an edge table and zone system and
	// allocates matrices for the given skim columns.
	Prepare(edgeCount int, zoneIDs []string, skims []hyperpath.SkimCol)

	// Reset clears volumes and reinitializes skim matrices in place,
	// keeping allocations.
	Reset()

	// LoadResults returns the per-edge load table in edge-id order,
	// zero-volume edges included.
	LoadResults() []EdgeLoad
}

// TransitResults holds the output of one transit assignment: the shared
// edge-volume vector and the requested OD skim matrices.
type TransitResults struct {
	volumes []float64 // indexed by edge id - 1
	skims   map[hyperpath.SkimCol]*Matrix
	cols    []hyperpath.SkimCol
	zoneIDs []string
}

var _ ResultSet = (*TransitResults)(nil)

func (r *TransitResults) Kind() ResultKind { return KindTransit }

func (r *TransitResults) Prepare(edgeCount int, zoneIDs []string, skims []hyperpath.SkimCol) {
	r.volumes = make([]float64, edgeCount)
	r.zoneIDs = zoneIDs
	r.cols = skims
	r.skims = make(map[hyperpath.SkimCol]*Matrix, len(skims))
	r.Reset()
}

func (r *TransitResults) Reset() {
	for i := range r.volumes {
		r.volumes[i] = 0
	}
	for _, c := range r.cols {
		r.skims[c] = newMatrix(r.zoneIDs, skimFill(c))
	}
}

func (r *TransitResults) LoadResults() []EdgeLoad {
	loads := make([]EdgeLoad, len(r.volumes))
	for i, v := range r.volumes {
		loads[i] = EdgeLoad{EdgeID: int32(i + 1), Volume: v}
	}
	return loads
}

// Volume returns the assigned volume of a 1-based edge id.
func (r *TransitResults) Volume(edgeID int32) float64 { return r.volumes[edgeID-1] }

// Volumes returns the shared edge-volume vector, indexed by edge id - 1.
// The slice is owned by the result set.
func (r *TransitResults) Volumes() []float64 { return r.volumes }

// Skim returns the matrix for a requested column, false when the column
// was not part of the run's requested set.
func (r *TransitResults) Skim(c hyperpath.SkimCol) (*Matrix, bool) {
	m, ok := r.skims[c]
	return m, ok
}

// skimFill is the initial off-diagonal cell value of a column's matrix.
// Time-to-destination columns read as unreachable until written.
func skimFill(c hyperpath.SkimCol) float64 {
	if c == hyperpath.SkimTravTime || c == hyperpath.SkimWaitingTime {
		return math.MaxFloat64
	}
	return 0
}
