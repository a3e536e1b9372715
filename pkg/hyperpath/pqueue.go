package hyperpath

// edgeQueue is a concrete-typed indexed min-heap over edge indices, keyed
// by tentative edge cost. Avoids interface boxing of container/heap and
// supports the decrease-key operation the label pass needs.
//
// Each edge is in one of three states: unreached (never inserted),
// in-heap, or scanned (popped, final). A scanned edge is never reinserted.
type edgeQueue struct {
	key   []float64 // per edge, valid while in-heap or scanned
	state []uint8
	heap  []int32 // edge indices, heap-ordered by key
	pos   []int32 // edge -> slot in heap
}

const (
	edgeUnreached uint8 = iota
	edgeInHeap
	edgeScanned
)

func newEdgeQueue(edgeCount int) *edgeQueue {
	return &edgeQueue{
		key:   make([]float64, edgeCount),
		state: make([]uint8, edgeCount),
		heap:  make([]int32, 0, 256),
		pos:   make([]int32, edgeCount),
	}
}

func (q *edgeQueue) reset() {
	for i := range q.state {
		q.state[i] = edgeUnreached
	}
	q.heap = q.heap[:0]
}

func (q *edgeQueue) empty() bool { return len(q.heap) == 0 }

func (q *edgeQueue) scanned(e int32) bool { return q.state[e] == edgeScanned }

func (q *edgeQueue) inHeap(e int32) bool { return q.state[e] == edgeInHeap }

func (q *edgeQueue) insert(e int32, key float64) {
	q.key[e] = key
	q.state[e] = edgeInHeap
	q.heap = append(q.heap, e)
	q.pos[e] = int32(len(q.heap) - 1)
	q.siftUp(len(q.heap) - 1)
}

// decreaseKey lowers the key of an in-heap edge. Keys never increase.
func (q *edgeQueue) decreaseKey(e int32, key float64) {
	if key >= q.key[e] {
		return
	}
	q.key[e] = key
	q.siftUp(int(q.pos[e]))
}

// popMin removes the minimum-key edge, marks it scanned and returns it
// with its final key.
func (q *edgeQueue) popMin() (int32, float64) {
	e := q.heap[0]
	n := len(q.heap)
	last := q.heap[n-1]
	q.heap = q.heap[:n-1]
	if n > 1 {
		q.heap[0] = last
		q.pos[last] = 0
		q.siftDown(0)
	}
	q.state[e] = edgeScanned
	return e, q.key[e]
}

func (q *edgeQueue) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if q.key[q.heap[i]] >= q.key[q.heap[parent]] {
			break
		}
		q.swap(i, parent)
		i = parent
	}
}

func (q *edgeQueue) siftDown(i int) {
	n := len(q.heap)
	for {
		smallest := i
		left := 2*i + 1
		right := 2*i + 2
		if left < n && q.key[q.heap[left]] < q.key[q.heap[smallest]] {
			smallest = left
		}
		if right < n && q.key[q.heap[right]] < q.key[q.heap[smallest]] {
			smallest = right
		}
		if smallest == i {
			break
		}
		q.swap(i, smallest)
		i = smallest
	}
}

func (q *edgeQueue) swap(i, j int) {
	q.heap[i], q.heap[j] = q.heap[j], q.heap[i]
	q.pos[q.heap[i]] = int32(i)
	q.pos[q.heap[j]] = int32(j)
}
