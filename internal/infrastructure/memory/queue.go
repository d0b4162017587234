package memory

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/clinic-notify/internal/domain"
)

type queueEntry struct {
	item domain.QueueItem
	seq  uint64
}

// readyHeap pops by priority rank, then schedule time, then insertion order.
type readyHeap []queueEntry

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	ri, rj := h[i].item.Priority.Rank(), h[j].item.Priority.Rank()
	if ri != rj {
		return ri < rj
	}
	if !h[i].item.ScheduledAt.Equal(h[j].item.ScheduledAt) {
		return h[i].item.ScheduledAt.Before(h[j].item.ScheduledAt)
	}
	return h[i].seq < h[j].seq
}
func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x any)   { *h = append(*h, x.(queueEntry)) }
func (h *readyHeap) Pop() any {
	old := *h
	e := old[len(old)-1]
	*h = old[:len(old)-1]
	return e
}

// delayedHeap pops by due time.
type delayedHeap []queueEntry

func (h delayedHeap) Len() int { return len(h) }
func (h delayedHeap) Less(i, j int) bool {
	if !h[i].item.DueAt.Equal(h[j].item.DueAt) {
		return h[i].item.DueAt.Before(h[j].item.DueAt)
	}
	return h[i].seq < h[j].seq
}
func (h delayedHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *delayedHeap) Push(x any)   { *h = append(*h, x.(queueEntry)) }
func (h *delayedHeap) Pop() any {
	old := *h
	e := old[len(old)-1]
	*h = old[:len(old)-1]
	return e
}

// Queue is an in-process dispatch queue. Each notification id is held at most
// once; pushing it again replaces the earlier entry. Removed and replaced
// entries stay in the heaps and are dropped lazily on pop.
type Queue struct {
	mu      sync.Mutex
	ready   readyHeap
	delayed delayedHeap
	live    map[string]uint64
	seq     uint64
	wake    chan struct{}
	now     func() time.Time
}

func NewQueue() *Queue {
	return &Queue{
		live: make(map[string]uint64),
		wake: make(chan struct{}, 1),
		now:  time.Now,
	}
}

func (q *Queue) Push(_ context.Context, item domain.QueueItem) error {
	q.mu.Lock()
	q.seq++
	q.live[item.NotificationID] = q.seq
	e := queueEntry{item: item, seq: q.seq}
	if item.DueAt.After(q.now()) {
		heap.Push(&q.delayed, e)
	} else {
		heap.Push(&q.ready, e)
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *Queue) Remove(_ context.Context, notificationID string) error {
	q.mu.Lock()
	delete(q.live, notificationID)
	q.mu.Unlock()
	return nil
}

// Pop blocks until an item is due or ctx is done.
func (q *Queue) Pop(ctx context.Context) (domain.QueueItem, error) {
	for {
		item, wait, ok := q.tryPop()
		if ok {
			return item, nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.QueueItem{}, ctx.Err()
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.live)
}

func (q *Queue) tryPop() (domain.QueueItem, time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	for q.delayed.Len() > 0 && !q.delayed[0].item.DueAt.After(now) {
		heap.Push(&q.ready, heap.Pop(&q.delayed))
	}
	for q.ready.Len() > 0 {
		e := heap.Pop(&q.ready).(queueEntry)
		if q.live[e.item.NotificationID] != e.seq {
			continue
		}
		delete(q.live, e.item.NotificationID)
		return e.item, 0, true
	}

	wait := time.Minute
	for q.delayed.Len() > 0 {
		head := q.delayed[0]
		if q.live[head.item.NotificationID] != head.seq {
			heap.Pop(&q.delayed)
			continue
		}
		if d := head.item.DueAt.Sub(now); d < wait {
			wait = d
		}
		break
	}
	if wait <= 0 {
		wait = time.Millisecond
	}
	return domain.QueueItem{}, wait, false
}
