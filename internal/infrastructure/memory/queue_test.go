package memory

import (
	"context"
	"testing"
	"time"

	"github.com/clinic-notify/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(id string, p domain.Priority, sched time.Time) domain.QueueItem {
	return domain.QueueItem{NotificationID: id, Priority: p, ScheduledAt: sched, DueAt: sched}
}

func popN(t *testing.T, q *Queue, n int) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var ids []string
	for i := 0; i < n; i++ {
		it, err := q.Pop(ctx)
		require.NoError(t, err)
		ids = append(ids, it.NotificationID)
	}
	return ids
}

func TestQueue_PriorityThenSchedule(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	require.NoError(t, q.Push(ctx, item("low", domain.PriorityLow, base)))
	require.NoError(t, q.Push(ctx, item("normal-late", domain.PriorityNormal, base.Add(time.Minute))))
	require.NoError(t, q.Push(ctx, item("normal-early", domain.PriorityNormal, base)))
	require.NoError(t, q.Push(ctx, item("critical", domain.PriorityCritical, base.Add(time.Minute))))

	assert.Equal(t, []string{"critical", "normal-early", "normal-late", "low"}, popN(t, q, 4))
}

func TestQueue_PushReplacesEntry(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)

	require.NoError(t, q.Push(ctx, item("a", domain.PriorityLow, past)))
	require.NoError(t, q.Push(ctx, item("a", domain.PriorityLow, past)))
	require.NoError(t, q.Push(ctx, item("b", domain.PriorityLow, past.Add(time.Second))))
	assert.Equal(t, 2, q.Len())

	assert.Equal(t, []string{"a", "b"}, popN(t, q, 2))
	assert.Equal(t, 0, q.Len())
}

func TestQueue_RemoveDropsEntry(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)

	require.NoError(t, q.Push(ctx, item("a", domain.PriorityNormal, past)))
	require.NoError(t, q.Push(ctx, item("b", domain.PriorityNormal, past.Add(time.Second))))
	require.NoError(t, q.Remove(ctx, "a"))

	assert.Equal(t, []string{"b"}, popN(t, q, 1))
}

func TestQueue_DelayedItemWaitsUntilDue(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()
	due := time.Now().Add(50 * time.Millisecond)
	require.NoError(t, q.Push(ctx, domain.QueueItem{NotificationID: "later", Priority: domain.PriorityCritical, ScheduledAt: due, DueAt: due}))

	start := time.Now()
	assert.Equal(t, []string{"later"}, popN(t, q, 1))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestQueue_PopHonorsContext(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_PushWakesBlockedPop(t *testing.T) {
	q := NewQueue()
	got := make(chan string, 1)
	go func() {
		it, err := q.Pop(context.Background())
		if err == nil {
			got <- it.NotificationID
		}
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Push(context.Background(), item("x", domain.PriorityNormal, time.Now().Add(-time.Second))))

	select {
	case id := <-got:
		assert.Equal(t, "x", id)
	case <-time.After(time.Second):
		t.Fatal("pop was not woken")
	}
}
