package transitgraph

import "sort"

// unionFind is a disjoint-set structure with path halving and union by
// rank, used for the weak-connectivity diagnostic.
type unionFind struct {
	parent []int32
	rank   []byte
	size   []int32
}

func newUnionFind(n int) *unionFind {
	parent := make([]int32, n)
	size := make([]int32, n)
	for i := range parent {
		parent[i] = int32(i)
		size[i] = 1
	}
	return &unionFind{parent: parent, rank: make([]byte, n), size: size}
}

func (uf *unionFind) find(x int32) int32 {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(x, y int32) {
	rx, ry := uf.find(x), uf.find(y)
	if rx == ry {
		return
	}
	if uf.rank[rx] < uf.rank[ry] {
		rx, ry = ry, rx
	}
	uf.parent[ry] = rx
	uf.size[rx] += uf.size[ry]
	if uf.rank[rx] == uf.rank[ry] {
		uf.rank[rx]++
	}
}

// ConnectivityReport summarizes the weak connectivity of the graph.
// IsolatedZones lists zones whose centroid vertices fall outside the
// largest component; demand from or to them cannot be assigned.
type ConnectivityReport struct {
	Components    int
	LargestSize   int
	IsolatedZones []string
}

// Connectivity inspects the graph as an undirected vertex/edge set and
// reports its weakly connected components. Intended as a preprocessing
// diagnostic: a well-formed network has a single component covering
// every od node.
func (g *Graph) Connectivity() ConnectivityReport {
	n := len(g.Vertices)
	if n == 0 {
		return ConnectivityReport{}
	}

	uf := newUnionFind(n)
	for _, e := range g.Edges {
		uf.union(e.Tail-1, e.Head-1)
	}

	components := 0
	largest := int32(-1)
	for i := range g.Vertices {
		root := uf.find(int32(i))
		if root == int32(i) {
			components++
		}
		if largest < 0 || uf.size[root] > uf.size[uf.find(largest)] {
			largest = root
		}
	}
	largest = uf.find(largest)

	var isolated []string
	seen := make(map[string]bool)
	for _, m := range g.ODMapping {
		if seen[m.ZoneID] {
			continue
		}
		if uf.find(m.OriginNode-1) != largest || uf.find(m.DestNode-1) != largest {
			seen[m.ZoneID] = true
			isolated = append(isolated, m.ZoneID)
		}
	}
	sort.Strings(isolated)

	return ConnectivityReport{
		Components:    components,
		LargestSize:   int(uf.size[largest]),
		IsolatedZones: isolated,
	}
}
