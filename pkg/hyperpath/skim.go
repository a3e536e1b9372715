package hyperpath

import "transit_assign/pkg/transitgraph"

// SkimCol identifies one origin-destination skim component.
type SkimCol uint8

const (
	SkimTravTime SkimCol = iota
	SkimBoardings
	SkimTransfers
	SkimInVehicleTravTime
	SkimAccessTravTime
	SkimEgressTravTime
	SkimWaitingTime
	numSkimCols
)

var skimColNames = [numSkimCols]string{
	"trav_time",
	"boardings",
	"transfers",
	"in_vehicle_trav_time",
	"access_trav_time",
	"egress_trav_time",
	"waiting_time",
}

func (c SkimCol) String() string {
	if c < numSkimCols {
		return skimColNames[c]
	}
	return "unknown"
}

// ParseSkimCol maps a column name to its SkimCol.
func ParseSkimCol(name string) (SkimCol, bool) {
	for c, n := range skimColNames {
		if n == name {
			return SkimCol(c), true
		}
	}
	return 0, false
}

// AllSkimCols lists every supported column, in canonical order.
func AllSkimCols() []SkimCol {
	cols := make([]SkimCol, numSkimCols)
	for c := range cols {
		cols[c] = SkimCol(c)
	}
	return cols
}

// edgeContribution is the increment an attractive edge of the given
// type adds to a skim column. Counting columns pay 1 on the relevant
// event edges, time columns pay the edge travel time.
func edgeContribution(c SkimCol, et transitgraph.EdgeType, trav float64) float64 {
	switch c {
	case SkimBoardings:
		if et == transitgraph.EdgeBoarding {
			return 1
		}
	case SkimTransfers:
		if et.IsTransfer() {
			return 1
		}
	case SkimInVehicleTravTime:
		if et == transitgraph.EdgeOnBoard {
			return trav
		}
	case SkimAccessTravTime:
		if et == transitgraph.EdgeAccessConnector {
			return trav
		}
	case SkimEgressTravTime:
		if et == transitgraph.EdgeEgressConnector {
			return trav
		}
	}
	return 0
}
