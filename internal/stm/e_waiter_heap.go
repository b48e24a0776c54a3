package stm

import (
	"container/heap"
	"sync/atomic"
)

// tsHeap is a min-heap of epoch/timestamp values. Lifted verbatim in shape
// from the teacher's pkg/txn/d_waiter_heap.go TsHeap.
type tsHeap []uint64

func (h *tsHeap) Len() int           { return len(*h) }
func (h *tsHeap) Less(i, j int) bool { return (*h)[i] < (*h)[j] }
func (h *tsHeap) Swap(i, j int)      { (*h)[i], (*h)[j] = (*h)[j], (*h)[i] }
func (h *tsHeap) Push(x any)         { *h = append(*h, x.(uint64)) }
func (h *tsHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// markerHeap tracks how many in-flight transactions are pinned at each
// timestamp, recomputing the global "done till" watermark as they finish.
// Adapted from the teacher's pkg/txn/d_waiter_heap.go SHeap: there it
// tracked MVCC read/commit visibility; here the same machinery tracks
// transaction-begin quiescence for RCU epoch reclamation (SPEC_FULL.md
// §4.B).
type markerHeap struct {
	doneTillTs    atomic.Uint64
	heap          tsHeap
	pendingCounts map[uint64]int
	waiters       map[uint64][]chan struct{}
}

func newMarkerHeap() *markerHeap {
	var h tsHeap
	heap.Init(&h)
	return &markerHeap{
		heap:          h,
		pendingCounts: make(map[uint64]int),
		waiters:       make(map[uint64][]chan struct{}),
	}
}

func (m *markerHeap) addBegin(ts uint64) {
	if _, ok := m.pendingCounts[ts]; !ok {
		heap.Push(&m.heap, ts)
	}
	m.pendingCounts[ts]++
}

func (m *markerHeap) addDone(ts uint64) {
	if _, ok := m.pendingCounts[ts]; !ok {
		heap.Push(&m.heap, ts)
	}
	m.pendingCounts[ts]--
}

func (m *markerHeap) addWaiter(ts uint64, ch chan struct{}) {
	m.waiters[ts] = append(m.waiters[ts], ch)
}

func (m *markerHeap) closeWaitersUntil(untilTS uint64) {
	for ts, chans := range m.waiters {
		if ts <= untilTS {
			for _, ch := range chans {
				close(ch)
			}
			delete(m.waiters, ts)
		}
	}
}

func (m *markerHeap) globalDoneTill() uint64 {
	return m.doneTillTs.Load()
}

func (m *markerHeap) recalc() uint64 {
	doneTill := m.globalDoneTill()
	global := doneTill
	for len(m.heap) > 0 {
		next := m.heap[0]
		if m.pendingCounts[next] > 0 {
			break
		}
		heap.Pop(&m.heap)
		delete(m.pendingCounts, next)
		global = next
	}
	if global != doneTill {
		m.doneTillTs.CompareAndSwap(doneTill, global)
	}
	return m.doneTillTs.Load()
}
