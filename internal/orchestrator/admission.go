package orchestrator

import (
	"container/heap"
	"context"
	"sync"
)

// admitQueue enforces the global running-task ceiling. Queued acquirers are
// admitted highest priority first, FIFO within a priority, as slots free up.
type admitQueue struct {
	mu      sync.Mutex
	limit   int
	running int
	seq     uint64
	waiters waiterHeap
}

func newAdmitQueue(limit int) *admitQueue {
	return &admitQueue{limit: limit}
}

// acquire blocks until a run slot is granted or ctx ends. A free slot is
// never taken ahead of an already-queued waiter.
func (q *admitQueue) acquire(ctx context.Context, priority int) error {
	q.mu.Lock()
	if q.running < q.limit && q.waiters.Len() == 0 {
		q.running++
		q.mu.Unlock()
		return nil
	}

	w := &admitWaiter{priority: priority, seq: q.seq, ready: make(chan struct{})}
	q.seq++
	heap.Push(&q.waiters, w)
	q.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		admitted := false
		select {
		case <-w.ready:
			admitted = true
		default:
			heap.Remove(&q.waiters, w.index)
		}
		q.mu.Unlock()
		if admitted {
			q.release()
		}
		return ctx.Err()
	}
}

// release frees a slot, handing it to the highest-priority waiter if any.
func (q *admitQueue) release() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.waiters.Len() > 0 {
		w := heap.Pop(&q.waiters).(*admitWaiter)
		close(w.ready)
		return
	}
	q.running--
}

// waiting reports the number of queued acquirers.
func (q *admitQueue) waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waiters.Len()
}

type admitWaiter struct {
	priority int
	seq      uint64
	ready    chan struct{}
	index    int
}

type waiterHeap []*admitWaiter

func (h waiterHeap) Len() int { return len(h) }

func (h waiterHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h waiterHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *waiterHeap) Push(x interface{}) {
	w := x.(*admitWaiter)
	w.index = len(*h)
	*h = append(*h, w)
}

func (h *waiterHeap) Pop() interface{} {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[:n-1]
	return w
}
