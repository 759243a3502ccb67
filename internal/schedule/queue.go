package schedule

import "container/heap"

// entry is a scheduled action owned by the queue. A zero period marks a
// one-shot action.
type entry struct {
	action    Action
	phase     Phase
	period    int
	next      int
	seq       uint64
	cancelled bool
	index     int // position in the heap, -1 when not queued
}

// queue orders entries by (next step, phase, registration sequence).
type queue []*entry

func (q queue) Len() int { return len(q) }

func (q queue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.next != b.next {
		return a.next < b.next
	}
	if a.phase != b.phase {
		return a.phase < b.phase
	}
	return a.seq < b.seq
}

func (q queue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *queue) Push(x any) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *queue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

// peek returns the next entry without removing it.
func (q queue) peek() *entry {
	if len(q) == 0 {
		return nil
	}
	return q[0]
}

// Handle is the capability returned at registration. It can only cancel.
type Handle struct {
	e *entry
	q *queue
}

// Cancel stops the action. The action is never invoked again, even if it
// was due later in the tick that is currently running. Cancelling an action
// from inside its own invocation does not interrupt that invocation.
// Cancel is idempotent and safe on a nil Handle.
func (h *Handle) Cancel() {
	if h == nil || h.e == nil || h.e.cancelled {
		return
	}
	h.e.cancelled = true
	if h.e.index >= 0 {
		heap.Remove(h.q, h.e.index)
	}
}
