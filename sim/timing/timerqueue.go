package timing

import "container/heap"

type timerEntry struct {
	timer  *Timer
	gen    uint64
	expire VTime
	seq    uint64
}

func (e *timerEntry) live() bool {
	return e.timer.enabled && e.timer.gen == e.gen
}

// timerQueue orders timer entries by expiration and, for equal expirations,
// by the order in which they were scheduled.
type timerQueue struct {
	entries timerHeap
}

func newTimerQueue() *timerQueue {
	q := new(timerQueue)
	q.entries = make([]*timerEntry, 0)
	heap.Init(&q.entries)

	return q
}

func (q *timerQueue) Push(e *timerEntry) {
	heap.Push(&q.entries, e)
}

// Peek returns the earliest live entry, dropping the stale entries in front
// of it.
func (q *timerQueue) Peek() *timerEntry {
	for q.entries.Len() > 0 {
		e := q.entries[0]
		if e.live() {
			return e
		}

		heap.Pop(&q.entries)
	}

	return nil
}

// Pop removes and returns the earliest live entry.
func (q *timerQueue) Pop() *timerEntry {
	e := q.Peek()
	if e == nil {
		return nil
	}

	heap.Pop(&q.entries)

	return e
}

// Len returns the number of entries, stale ones included.
func (q *timerQueue) Len() int {
	return q.entries.Len()
}

// Live returns the live entries in firing order.
func (q *timerQueue) Live() []*timerEntry {
	cp := make(timerHeap, 0, q.entries.Len())
	for _, e := range q.entries {
		if e.live() {
			cp = append(cp, e)
		}
	}

	heap.Init(&cp)

	out := make([]*timerEntry, 0, len(cp))
	for cp.Len() > 0 {
		out = append(out, heap.Pop(&cp).(*timerEntry))
	}

	return out
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int {
	return len(h)
}

func (h timerHeap) Less(i, j int) bool {
	c := h[i].expire.Compare(h[j].expire)
	if c != 0 {
		return c < 0
	}

	return h[i].seq < h[j].seq
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(*timerEntry))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[0 : n-1]

	return e
}
