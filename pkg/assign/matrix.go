package assign

import (
	"fmt"
	"math"
)

// Matrix is a dense square origin x destination skim, indexed by zone ID.
// Time-valued matrices start at math.MaxFloat64 off the diagonal so that
// zone pairs no assignment touched read as unreachable.
type Matrix struct {
	zoneIDs []string
	index   map[string]int
	data    []float64
}

func newMatrix(zoneIDs []string, fill float64) *Matrix {
	n := len(zoneIDs)
	m := &Matrix{
		zoneIDs: zoneIDs,
		index:   make(map[string]int, n),
		data:    make([]float64, n*n),
	}
	for i, id := range zoneIDs {
		m.index[id] = i
	}
	if fill != 0 {
		for i := range m.data {
			m.data[i] = fill
		}
		for i := 0; i < n; i++ {
			m.data[i*n+i] = 0
		}
	}
	return m
}

// Size returns the zone count n of the n x n matrix.
func (m *Matrix) Size() int { return len(m.zoneIDs) }

// ZoneIDs returns the zone IDs in row/column order.
func (m *Matrix) ZoneIDs() []string { return m.zoneIDs }

// At returns the cell for an origin/destination zone pair.
func (m *Matrix) At(origin, dest string) (float64, error) {
	i, ok := m.index[origin]
	if !ok {
		return 0, fmt.Errorf("assign: matrix has no zone %q", origin)
	}
	j, ok := m.index[dest]
	if !ok {
		return 0, fmt.Errorf("assign: matrix has no zone %q", dest)
	}
	return m.data[i*len(m.zoneIDs)+j], nil
}

func (m *Matrix) at(i, j int) float64     { return m.data[i*len(m.zoneIDs)+j] }
func (m *Matrix) set(i, j int, v float64) { m.data[i*len(m.zoneIDs)+j] = v }

// IsUnreached reports whether a cell still holds the unreachable fill.
func IsUnreached(v float64) bool { return v >= math.MaxFloat64 }
