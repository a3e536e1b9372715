package transitgraph

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"

	"transit_assign/pkg/schedule"
)

// ConnectorMethod selects the zone connector assignment policy.
type ConnectorMethod string

const (
	// ConnectorNearestNeighbour links every stop to its single nearest
	// zone centroid.
	ConnectorNearestNeighbour ConnectorMethod = "nearest_neighbour"
	// ConnectorOverlappingRegions links every stop within each zone's
	// coverage radius (distance to the second-nearest centroid) to that
	// zone; stops may gain multiple connectors.
	ConnectorOverlappingRegions ConnectorMethod = "overlapping_regions"
)

// Config holds the graph construction parameters.
type Config struct {
	// UniformDwellTime is the vehicle dwell time at a stop, seconds.
	UniformDwellTime float64
	// AlightingPenalty is added to alighting and transfer edges, seconds.
	AlightingPenalty float64
	// WaitTimeFactor scales waiting by dividing boarding/transfer frequencies.
	WaitTimeFactor float64
	// WalkTimeFactor scales walking times on walking and outer transfer edges.
	WalkTimeFactor float64
	// WalkingSpeed in meters per second.
	WalkingSpeed float64
	// AccessTimeFactor and EgressTimeFactor scale connector travel times.
	AccessTimeFactor float64
	EgressTimeFactor float64

	WithInnerStopTransfers bool
	WithOuterStopTransfers bool
	WithWalkingEdges       bool

	ConnectorMethod ConnectorMethod
	// DistanceUpperBound caps the stop-to-centroid connector distance in
	// projected meters; 0 or +Inf disables the cutoff.
	DistanceUpperBound float64
	// MaxConnectorsPerZone keeps only the N fastest connectors per zone;
	// <= 0 keeps all.
	MaxConnectorsPerZone int
	// AllowMissingConnections controls the overlapping-regions fallback:
	// when false, stops left without a connector are linked to their
	// nearest centroid.
	AllowMissingConnections bool

	// BlockingCentroidFlows creates distinct origin and destination
	// vertices per zone so no path can route through a centroid.
	BlockingCentroidFlows bool

	// GeometryNoise jitters boarding/alighting vertex geometry so vertices
	// of distinct lines are never exactly colocated.
	GeometryNoise bool
	NoiseCoef     float64
	Seed          uint64
}

// DefaultConfig returns the standard parameter set.
func DefaultConfig() Config {
	return Config{
		UniformDwellTime:       30.0,
		AlightingPenalty:       480.0,
		WaitTimeFactor:         1.0,
		WalkTimeFactor:         1.0,
		WalkingSpeed:           1.0,
		AccessTimeFactor:       1.0,
		EgressTimeFactor:       1.0,
		WithInnerStopTransfers: true,
		WithOuterStopTransfers: true,
		WithWalkingEdges:       true,
		ConnectorMethod:        ConnectorOverlappingRegions,
		DistanceUpperBound:     math.Inf(1),
		MaxConnectorsPerZone:   -1,
		BlockingCentroidFlows:  true,
		GeometryNoise:          true,
		NoiseCoef:              1.0e-5,
		Seed:                   124,
	}
}

// aTinyTimeDuration keeps edge costs strictly increasing tail-to-head.
const aTinyTimeDuration = 1.0e-6

// Stop is a transit stop in geographic (lon/lat) coordinates.
type Stop struct {
	ID            string
	ParentStation string
	Geom          orb.Point
}

// Zone is a traffic analysis zone in projected coordinates.
type Zone struct {
	ID       string
	Geometry orb.Polygon
}

// Projection converts between geographic (lon/lat) and projected
// coordinates. It is injected by the caller, never computed here.
type Projection interface {
	ToProjected(orb.Point) orb.Point
	ToGeographic(orb.Point) orb.Point
}

// ErrUnknownStop is returned when a line segment references a stop that is
// absent from the stop table. This is fatal: it is raised before any edge
// is emitted.
type ErrUnknownStop struct {
	LineID string
	SegIdx int32
	StopID string
}

func (e *ErrUnknownStop) Error() string {
	return fmt.Sprintf("transitgraph: segment %d of line %q references unknown stop %q",
		e.SegIdx, e.LineID, e.StopID)
}

// Builder assembles the assignment graph from derived line segments, a stop
// table and a zone set.
type Builder struct {
	cfg      Config
	proj     Projection
	segments []schedule.LineSegment
	stops    map[string]Stop
	stopList []Stop // insertion order
	zones    []builderZone

	vertices []Vertex
	edges    []Edge
	odMap    []ODNode

	// hash lookups replacing the original's relational joins
	stopVertex     map[string]int32          // stop id -> vertex id
	boardingVertex map[lineSegKey]int32      // (line, seg) -> vertex id
	alightVertex   map[lineSegKey]int32      // (line, seg) -> vertex id
	stationStops   map[string][]string       // parent station -> stop ids
	segFreq        map[lineSegKey]float64    // (line, seg) -> boarding freq
	alightByStop   map[string][]int32        // stop id -> alighting vertex ids
	boardByStop    map[string][]int32        // stop id -> boarding vertex ids

	rng *rand.Rand
}

type lineSegKey struct {
	LineID string
	SegIdx int32
}

type builderZone struct {
	id       string
	geom     orb.Polygon // geographic
	centroid orb.Point   // geographic
	projCent orb.Point   // projected
}

// NewBuilder validates the inputs and prepares the lookup tables.
// A segment referencing a stop absent from the stop table fails here,
// before any vertex or edge exists.
func NewBuilder(cfg Config, proj Projection, segments []schedule.LineSegment, stops []Stop, zones []Zone) (*Builder, error) {
	if cfg.ConnectorMethod != ConnectorNearestNeighbour && cfg.ConnectorMethod != ConnectorOverlappingRegions {
		return nil, fmt.Errorf("transitgraph: unknown connector method %q", cfg.ConnectorMethod)
	}
	if cfg.WalkingSpeed <= 0 {
		return nil, fmt.Errorf("transitgraph: walking speed must be positive, got %g", cfg.WalkingSpeed)
	}
	if cfg.WaitTimeFactor <= 0 {
		return nil, fmt.Errorf("transitgraph: wait time factor must be positive, got %g", cfg.WaitTimeFactor)
	}

	b := &Builder{
		cfg:      cfg,
		proj:     proj,
		segments: segments,
		stops:    make(map[string]Stop, len(stops)),
		rng:      rand.New(rand.NewPCG(cfg.Seed, cfg.Seed)),
	}
	for _, s := range stops {
		if _, dup := b.stops[s.ID]; dup {
			continue
		}
		b.stops[s.ID] = s
		b.stopList = append(b.stopList, s)
	}

	for _, seg := range segments {
		if _, ok := b.stops[seg.FromStop]; !ok {
			return nil, &ErrUnknownStop{LineID: seg.LineID, SegIdx: seg.Seq, StopID: seg.FromStop}
		}
		if _, ok := b.stops[seg.ToStop]; !ok {
			return nil, &ErrUnknownStop{LineID: seg.LineID, SegIdx: seg.Seq, StopID: seg.ToStop}
		}
	}

	for _, z := range zones {
		projCent, _ := planar.CentroidArea(z.Geometry)
		geomGeo := make(orb.Polygon, len(z.Geometry))
		for i, ring := range z.Geometry {
			r := make(orb.Ring, len(ring))
			for j, p := range ring {
				r[j] = proj.ToGeographic(p)
			}
			geomGeo[i] = r
		}
		b.zones = append(b.zones, builderZone{
			id:       z.ID,
			geom:     geomGeo,
			centroid: proj.ToGeographic(projCent),
			projCent: projCent,
		})
	}

	b.indexSegments()
	return b, nil
}

func (b *Builder) indexSegments() {
	b.stationStops = make(map[string][]string)
	b.segFreq = make(map[lineSegKey]float64)

	for _, seg := range b.segments {
		b.segFreq[lineSegKey{LineID: seg.LineID, SegIdx: seg.Seq}] = seg.Freq
	}

	for _, s := range b.stopList {
		if s.ParentStation == "" {
			continue
		}
		b.stationStops[s.ParentStation] = append(b.stationStops[s.ParentStation], s.ID)
	}
}

// Build produces the frozen graph. Vertices first (od, stop, boarding,
// alighting), then edges (on-board, boarding, alighting, dwell, connectors,
// transfers, walking), IDs assigned densely in creation order.
func (b *Builder) Build() (*Graph, error) {
	b.createODVertices()
	b.createStopVertices()
	b.createBoardingAndAlightingVertices()
	b.indexVerticesByStop()
	b.createODNodeMapping()

	b.createOnBoardEdges()
	b.createBoardingEdges()
	b.createAlightingEdges()
	b.createDwellEdges()
	if err := b.createConnectorEdges(); err != nil {
		return nil, err
	}
	if b.cfg.WithInnerStopTransfers {
		b.createInnerStopTransferEdges()
	}
	if b.cfg.WithOuterStopTransfers {
		b.createOuterStopTransferEdges()
	}
	if b.cfg.WithWalkingEdges {
		b.createWalkingEdges()
	}

	for i := range b.edges {
		b.edges[i].ID = int32(i + 1)
	}

	return &Graph{
		Vertices:  b.vertices,
		Edges:     b.edges,
		ODMapping: b.odMap,
		Config:    b.cfg,
	}, nil
}

func (b *Builder) addVertex(v Vertex) int32 {
	v.ID = int32(len(b.vertices) + 1)
	b.vertices = append(b.vertices, v)
	return v.ID
}

func (b *Builder) createODVertices() {
	if b.cfg.BlockingCentroidFlows {
		for _, z := range b.zones {
			b.addVertex(Vertex{Type: VertexOrigin, ZoneID: z.id, LineSegIdx: -1, Geom: z.centroid})
		}
		for _, z := range b.zones {
			b.addVertex(Vertex{Type: VertexDestination, ZoneID: z.id, LineSegIdx: -1, Geom: z.centroid})
		}
		return
	}
	for _, z := range b.zones {
		b.addVertex(Vertex{Type: VertexOD, ZoneID: z.id, LineSegIdx: -1, Geom: z.centroid})
	}
}

// createStopVertices adds one vertex per stop actually used by a segment.
func (b *Builder) createStopVertices() {
	used := make(map[string]bool, len(b.stops))
	for _, seg := range b.segments {
		used[seg.FromStop] = true
		used[seg.ToStop] = true
	}

	b.stopVertex = make(map[string]int32, len(used))
	for _, s := range b.stopList {
		if !used[s.ID] {
			continue
		}
		b.stopVertex[s.ID] = b.addVertex(Vertex{
			Type:       VertexStop,
			StopID:     s.ID,
			LineSegIdx: -1,
			Geom:       s.Geom,
		})
	}
}

// createBoardingAndAlightingVertices adds one boarding and one alighting
// vertex per (line, segment) pair. They are never shared across lines, even
// at the same stop.
func (b *Builder) createBoardingAndAlightingVertices() {
	b.boardingVertex = make(map[lineSegKey]int32, len(b.segments))
	b.alightVertex = make(map[lineSegKey]int32, len(b.segments))

	for _, seg := range b.segments {
		key := lineSegKey{LineID: seg.LineID, SegIdx: seg.Seq}
		b.boardingVertex[key] = b.addVertex(Vertex{
			Type:       VertexBoarding,
			StopID:     seg.FromStop,
			LineID:     seg.LineID,
			LineSegIdx: seg.Seq,
			Geom:       b.jitter(b.stops[seg.FromStop].Geom),
		})
	}
	for _, seg := range b.segments {
		key := lineSegKey{LineID: seg.LineID, SegIdx: seg.Seq}
		b.alightVertex[key] = b.addVertex(Vertex{
			Type:       VertexAlighting,
			StopID:     seg.ToStop,
			LineID:     seg.LineID,
			LineSegIdx: seg.Seq,
			Geom:       b.jitter(b.stops[seg.ToStop].Geom),
		})
	}
}

// jitter adds seeded spatial noise so boarding/alighting vertices are not
// exactly colocated with their stop.
func (b *Builder) jitter(p orb.Point) orb.Point {
	if !b.cfg.GeometryNoise {
		return p
	}
	return orb.Point{
		p[0] + b.cfg.NoiseCoef*(b.rng.Float64()-0.5),
		p[1] + b.cfg.NoiseCoef*(b.rng.Float64()-0.5),
	}
}

func (b *Builder) createODNodeMapping() {
	nZones := len(b.zones)
	b.odMap = make([]ODNode, 0, nZones)
	for i, z := range b.zones {
		if b.cfg.BlockingCentroidFlows {
			// origin vertices occupy ids 1..n, destinations n+1..2n
			b.odMap = append(b.odMap, ODNode{
				ZoneID:     z.id,
				OriginNode: int32(i + 1),
				DestNode:   int32(nZones + i + 1),
			})
		} else {
			b.odMap = append(b.odMap, ODNode{
				ZoneID:     z.id,
				OriginNode: int32(i + 1),
				DestNode:   int32(i + 1),
			})
		}
	}
}

func (b *Builder) addEdge(e Edge) {
	e.Direction = 1
	b.edges = append(b.edges, e)
}

func (b *Builder) createOnBoardEdges() {
	for _, seg := range b.segments {
		key := lineSegKey{LineID: seg.LineID, SegIdx: seg.Seq}
		b.addEdge(Edge{
			Type:       EdgeOnBoard,
			LineID:     seg.LineID,
			LineSegIdx: seg.Seq,
			Tail:       b.boardingVertex[key],
			Head:       b.alightVertex[key],
			TravTime:   seg.TravTime,
			Freq:       math.Inf(1),
		})
	}
}

func (b *Builder) createBoardingEdges() {
	for _, seg := range b.segments {
		key := lineSegKey{LineID: seg.LineID, SegIdx: seg.Seq}
		b.addEdge(Edge{
			Type:       EdgeBoarding,
			LineID:     seg.LineID,
			StopID:     seg.FromStop,
			LineSegIdx: seg.Seq,
			Tail:       b.stopVertex[seg.FromStop],
			Head:       b.boardingVertex[key],
			TravTime:   0.5*b.cfg.UniformDwellTime + aTinyTimeDuration,
			Freq:       seg.Freq / b.cfg.WaitTimeFactor,
		})
	}
}

func (b *Builder) createAlightingEdges() {
	for _, seg := range b.segments {
		key := lineSegKey{LineID: seg.LineID, SegIdx: seg.Seq}
		b.addEdge(Edge{
			Type:       EdgeAlighting,
			LineID:     seg.LineID,
			StopID:     seg.ToStop,
			LineSegIdx: seg.Seq,
			Tail:       b.alightVertex[key],
			Head:       b.stopVertex[seg.ToStop],
			TravTime:   0.5*b.cfg.UniformDwellTime + b.cfg.AlightingPenalty + aTinyTimeDuration,
			Freq:       math.Inf(1),
		})
	}
}

// createDwellEdges links the alighting vertex of each segment to the
// boarding vertex of the next segment on the same line.
func (b *Builder) createDwellEdges() {
	for _, seg := range b.segments {
		if seg.Seq == 0 {
			continue
		}
		prev := lineSegKey{LineID: seg.LineID, SegIdx: seg.Seq - 1}
		cur := lineSegKey{LineID: seg.LineID, SegIdx: seg.Seq}
		tail, ok := b.alightVertex[prev]
		if !ok {
			continue
		}
		b.addEdge(Edge{
			Type:       EdgeDwell,
			LineID:     seg.LineID,
			StopID:     seg.FromStop,
			LineSegIdx: -1,
			Tail:       tail,
			Head:       b.boardingVertex[cur],
			TravTime:   b.cfg.UniformDwellTime,
			Freq:       math.Inf(1),
		})
	}
}

// boardingFreq returns the frequency of the segment a boarding vertex
// departs on. A line serving the same stop more than once has one
// boarding vertex per visit, each with its own segment frequency.
func (b *Builder) boardingFreq(bv int32) (float64, bool) {
	v := b.vertices[bv-1]
	f, ok := b.segFreq[lineSegKey{LineID: v.LineID, SegIdx: v.LineSegIdx}]
	return f, ok
}

// indexVerticesByStop builds the stop keyed boarding/alighting vertex
// lookups used by transfer and walking edge construction.
func (b *Builder) indexVerticesByStop() {
	b.alightByStop = make(map[string][]int32)
	b.boardByStop = make(map[string][]int32)
	for _, v := range b.vertices {
		switch v.Type {
		case VertexAlighting:
			b.alightByStop[v.StopID] = append(b.alightByStop[v.StopID], v.ID)
		case VertexBoarding:
			b.boardByStop[v.StopID] = append(b.boardByStop[v.StopID], v.ID)
		}
	}
}

// createInnerStopTransferEdges links the alighting vertices of each line to
// the boarding vertices of every other line serving the same stop. The
// frequency is the destination line's boarding frequency.
func (b *Builder) createInnerStopTransferEdges() {
	seen := make(map[[2]int32]bool)
	for _, s := range b.stopList {
		for _, av := range b.alightByStop[s.ID] {
			oLine := b.vertices[av-1].LineID
			for _, bv := range b.boardByStop[s.ID] {
				dLine := b.vertices[bv-1].LineID
				if oLine == dLine {
					continue
				}
				pair := [2]int32{av, bv}
				if seen[pair] {
					continue
				}
				seen[pair] = true
				freq, ok := b.boardingFreq(bv)
				if !ok {
					continue
				}
				b.addEdge(Edge{
					Type:       EdgeInnerTransfer,
					StopID:     s.ID,
					LineSegIdx: -1,
					Tail:       av,
					Head:       bv,
					TravTime:   b.cfg.UniformDwellTime + b.cfg.AlightingPenalty,
					Freq:       freq / b.cfg.WaitTimeFactor,
					OLineID:    oLine,
					DLineID:    dLine,
				})
			}
		}
	}
}

// createOuterStopTransferEdges links alighting to boarding vertices across
// distinct stops that share a parent station. The cost includes the
// great-circle walk time plus the alighting penalty.
func (b *Builder) createOuterStopTransferEdges() {
	b.forEachStationStopPair(func(oStop, dStop Stop) {
		for _, av := range b.alightByStop[oStop.ID] {
			oLine := b.vertices[av-1].LineID
			for _, bv := range b.boardByStop[dStop.ID] {
				dLine := b.vertices[bv-1].LineID
				if oLine == dLine {
					continue
				}
				freq, ok := b.boardingFreq(bv)
				if !ok {
					continue
				}
				walk := geo.DistanceHaversine(b.vertices[av-1].Geom, b.vertices[bv-1].Geom) / b.cfg.WalkingSpeed
				b.addEdge(Edge{
					Type:       EdgeOuterTransfer,
					LineSegIdx: -1,
					Tail:       av,
					Head:       bv,
					TravTime:   walk*b.cfg.WalkTimeFactor + b.cfg.AlightingPenalty,
					Freq:       freq / b.cfg.WaitTimeFactor,
					OLineID:    oLine,
					DLineID:    dLine,
				})
			}
		}
	})
}

// createWalkingEdges links stop vertices of distinct stops sharing a parent
// station, cost = great-circle distance / walking speed.
func (b *Builder) createWalkingEdges() {
	b.forEachStationStopPair(func(oStop, dStop Stop) {
		tail, okT := b.stopVertex[oStop.ID]
		head, okH := b.stopVertex[dStop.ID]
		if !okT || !okH {
			return
		}
		walk := geo.DistanceHaversine(oStop.Geom, dStop.Geom) / b.cfg.WalkingSpeed
		b.addEdge(Edge{
			Type:       EdgeWalking,
			StopID:     oStop.ID,
			LineSegIdx: -1,
			Tail:       tail,
			Head:       head,
			TravTime:   walk * b.cfg.WalkTimeFactor,
			Freq:       math.Inf(1),
		})
	})
}

// forEachStationStopPair visits every ordered pair of distinct stops within
// stations that contain at least two stops.
func (b *Builder) forEachStationStopPair(fn func(oStop, dStop Stop)) {
	for _, s := range b.stopList {
		if s.ParentStation == "" {
			continue
		}
		stopIDs := b.stationStops[s.ParentStation]
		if len(stopIDs) < 2 {
			continue
		}
		for _, dID := range stopIDs {
			if dID == s.ID {
				continue
			}
			fn(s, b.stops[dID])
		}
	}
}
