package transitgraph

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/tidwall/rtree"
)

// connector is one access edge candidate before materialization. Egress
// edges are derived by mirroring.
type connector struct {
	zoneIdx  int   // index into b.zones / b.odMap
	stopNode int32 // stop vertex id
	stopID   string
	travTime float64 // seconds, walking
}

// createConnectorEdges attaches zones to stops per the configured policy
// and emits symmetric access/egress connector edge pairs. Distances are
// measured in the projected plane between zone centroids and stops.
func (b *Builder) createConnectorEdges() error {
	if len(b.zones) == 0 {
		return nil
	}

	// stop vertices in id order, with projected coordinates
	var stopNodes []int32
	for _, v := range b.vertices {
		if v.Type == VertexStop {
			stopNodes = append(stopNodes, v.ID)
		}
	}
	stopPts := make([]orb.Point, len(stopNodes))
	for i, id := range stopNodes {
		stopPts[i] = b.proj.ToProjected(b.vertices[id-1].Geom)
	}

	var stopTree rtree.RTreeG[int]
	for i, p := range stopPts {
		stopTree.Insert([2]float64(p), [2]float64(p), i)
	}
	var odTree rtree.RTreeG[int]
	for i, z := range b.zones {
		odTree.Insert([2]float64(z.projCent), [2]float64(z.projCent), i)
	}

	bound := b.cfg.DistanceUpperBound
	if bound <= 0 {
		bound = math.Inf(1)
	}

	var conns []connector
	switch b.cfg.ConnectorMethod {
	case ConnectorNearestNeighbour:
		conns = b.nearestNeighbourConnectors(&odTree, stopNodes, stopPts, bound)
	case ConnectorOverlappingRegions:
		conns = b.overlappingRegionConnectors(&odTree, &stopTree, stopNodes, stopPts, bound)
	}

	if n := b.cfg.MaxConnectorsPerZone; n > 0 {
		conns = capConnectorsPerZone(conns, n)
	}

	// access connectors: zone centroid -> stop
	for _, c := range conns {
		b.addEdge(Edge{
			Type:       EdgeAccessConnector,
			StopID:     c.stopID,
			LineSegIdx: -1,
			Tail:       b.odMap[c.zoneIdx].OriginNode,
			Head:       c.stopNode,
			TravTime:   c.travTime * b.cfg.AccessTimeFactor,
			Freq:       math.Inf(1),
		})
	}
	// egress connectors: stop -> zone centroid. With centroid flow blocking
	// the head is remapped to the zone's destination vertex.
	for _, c := range conns {
		b.addEdge(Edge{
			Type:       EdgeEgressConnector,
			StopID:     c.stopID,
			LineSegIdx: -1,
			Tail:       c.stopNode,
			Head:       b.odMap[c.zoneIdx].DestNode,
			TravTime:   c.travTime * b.cfg.EgressTimeFactor,
			Freq:       math.Inf(1),
		})
	}
	return nil
}

// nearestNeighbourConnectors links every stop to its single nearest zone
// centroid, subject to the distance cutoff. Each connected stop gets
// exactly one access and one egress connector.
func (b *Builder) nearestNeighbourConnectors(odTree *rtree.RTreeG[int], stopNodes []int32, stopPts []orb.Point, bound float64) []connector {
	var conns []connector
	for i, pt := range stopPts {
		zone, dist, ok := nearestZone(odTree, b.zones, pt, -1)
		if !ok || dist > bound {
			continue
		}
		conns = append(conns, connector{
			zoneIdx:  zone,
			stopNode: stopNodes[i],
			stopID:   b.vertices[stopNodes[i]-1].StopID,
			travTime: dist / b.cfg.WalkingSpeed,
		})
	}
	return conns
}

// overlappingRegionConnectors links, for each zone, every stop inside the
// circle centered on its centroid whose radius is the distance to the
// second-nearest centroid. A stop may gain connectors to several zones.
// Unless missing connections are allowed, stops left unconnected fall back
// to their nearest centroid.
func (b *Builder) overlappingRegionConnectors(odTree *rtree.RTreeG[int], stopTree *rtree.RTreeG[int], stopNodes []int32, stopPts []orb.Point, bound float64) []connector {
	var conns []connector
	connected := make(map[int32]bool)

	for zi, z := range b.zones {
		_, radius, ok := nearestZone(odTree, b.zones, z.projCent, zi)
		if !ok {
			// single zone: cover every stop
			radius = math.Inf(1)
		}
		radius = math.Min(radius, bound)

		min, max := queryBox(z.projCent, radius)
		var inRange []int
		stopTree.Search(min, max, func(_, _ [2]float64, si int) bool {
			if planar.Distance(z.projCent, stopPts[si]) <= radius {
				inRange = append(inRange, si)
			}
			return true
		})
		sort.Ints(inRange)

		for _, si := range inRange {
			conns = append(conns, connector{
				zoneIdx:  zi,
				stopNode: stopNodes[si],
				stopID:   b.vertices[stopNodes[si]-1].StopID,
				travTime: planar.Distance(z.projCent, stopPts[si]) / b.cfg.WalkingSpeed,
			})
			connected[stopNodes[si]] = true
		}
	}

	if !b.cfg.AllowMissingConnections {
		for i, pt := range stopPts {
			if connected[stopNodes[i]] {
				continue
			}
			zone, dist, ok := nearestZone(odTree, b.zones, pt, -1)
			if !ok {
				continue
			}
			conns = append(conns, connector{
				zoneIdx:  zone,
				stopNode: stopNodes[i],
				stopID:   b.vertices[stopNodes[i]-1].StopID,
				travTime: dist / b.cfg.WalkingSpeed,
			})
		}
	}
	return conns
}

// nearestZone returns the closest zone to pt, excluding the zone at index
// skip (pass -1 to exclude none), with its projected-plane distance.
func nearestZone(odTree *rtree.RTreeG[int], zones []builderZone, pt orb.Point, skip int) (zone int, dist float64, ok bool) {
	target := [2]float64(pt)
	odTree.Nearby(
		rtree.BoxDist[float64, int](target, target, nil),
		func(_, _ [2]float64, zi int, _ float64) bool {
			if zi == skip {
				return true
			}
			zone = zi
			dist = planar.Distance(pt, zones[zi].projCent)
			ok = true
			return false
		},
	)
	return zone, dist, ok
}

func queryBox(center orb.Point, radius float64) (min, max [2]float64) {
	if math.IsInf(radius, 1) {
		return [2]float64{math.Inf(-1), math.Inf(-1)}, [2]float64{math.Inf(1), math.Inf(1)}
	}
	return [2]float64{center[0] - radius, center[1] - radius},
		[2]float64{center[0] + radius, center[1] + radius}
}

// capConnectorsPerZone keeps only the n fastest connectors of each zone,
// preserving a stable order for reproducible edge tables.
func capConnectorsPerZone(conns []connector, n int) []connector {
	byZone := make(map[int][]connector)
	var zoneOrder []int
	for _, c := range conns {
		if _, ok := byZone[c.zoneIdx]; !ok {
			zoneOrder = append(zoneOrder, c.zoneIdx)
		}
		byZone[c.zoneIdx] = append(byZone[c.zoneIdx], c)
	}
	sort.Ints(zoneOrder)

	var out []connector
	for _, zi := range zoneOrder {
		group := byZone[zi]
		sort.SliceStable(group, func(i, j int) bool { return group[i].travTime < group[j].travTime })
		if len(group) > n {
			group = group[:n]
		}
		out = append(out, group...)
	}
	return out
}
