package host

import (
	"container/heap"
	"context"
	"time"

	"github.com/dop251/goja"
)

type timer struct {
	id   int64
	due  time.Time
	seq  int64
	fn   goja.Callable
	args []goja.Value
}

// timerQueue holds pending setTimeout callbacks ordered by due time, then by
// registration order. It is only touched by the execution goroutine.
type timerQueue struct {
	items  timerHeap
	byID   map[int64]*timer
	nextID int64
	seq    int64
}

func newTimerQueue() *timerQueue {
	return &timerQueue{byID: make(map[int64]*timer)}
}

func (q *timerQueue) add(fn goja.Callable, delay time.Duration, args []goja.Value) int64 {
	if delay < 0 {
		delay = 0
	}
	q.nextID++
	q.seq++
	t := &timer{id: q.nextID, due: time.Now().Add(delay), seq: q.seq, fn: fn, args: args}
	heap.Push(&q.items, t)
	q.byID[t.id] = t
	return t.id
}

func (q *timerQueue) cancel(id int64) {
	if t, ok := q.byID[id]; ok {
		t.fn = nil
		delete(q.byID, id)
	}
}

func (q *timerQueue) len() int {
	return len(q.byID)
}

func (q *timerQueue) reset() {
	q.items = nil
	q.byID = make(map[int64]*timer)
}

// next waits for the earliest live timer and removes it. It returns nil when
// the queue is empty and ctx's error when ctx ends first.
func (q *timerQueue) next(ctx context.Context) (*timer, error) {
	for len(q.items) > 0 {
		t := q.items[0]
		if t.fn == nil {
			heap.Pop(&q.items)
			continue
		}
		if wait := time.Until(t.due); wait > 0 {
			tm := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				tm.Stop()
				return nil, context.Cause(ctx)
			case <-tm.C:
			}
		}
		heap.Pop(&q.items)
		delete(q.byID, t.id)
		return t, nil
	}
	return nil, nil
}

type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if !h[i].due.Equal(h[j].due) {
		return h[i].due.Before(h[j].due)
	}
	return h[i].seq < h[j].seq
}

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) { *h = append(*h, x.(*timer)) }

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
