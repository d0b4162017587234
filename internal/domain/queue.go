package domain

import "time"

// QueueItem is the dispatch index entry for one notification. The queue orders
// ready items by (priority rank, ScheduledAt); items with DueAt in the future
// wait in the delayed set until then.
type QueueItem struct {
	NotificationID string    `json:"notification_id"`
	Priority       Priority  `json:"priority"`
	ScheduledAt    time.Time `json:"scheduled_at"`
	DueAt          time.Time `json:"due_at"`
}

// QueueItemFor builds the queue entry for n, due at its next attempt or schedule.
func QueueItemFor(n *Notification) QueueItem {
	due := n.ScheduledAt
	if n.NextAttemptAt != nil && n.NextAttemptAt.After(due) {
		due = *n.NextAttemptAt
	}
	return QueueItem{
		NotificationID: n.NotificationID,
		Priority:       n.Priority,
		ScheduledAt:    n.ScheduledAt,
		DueAt:          due,
	}
}

// SendReceipt is what a Sender returns on success. Delivered is set when the
// transport confirmed final delivery synchronously (in-app inbox).
type SendReceipt struct {
	MessageID string
	Delivered bool
}
