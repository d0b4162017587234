package domain

import "strings"

// Channel is a delivery channel.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
	ChannelPush  Channel = "PUSH"
	ChannelInApp Channel = "IN_APP"
)

// AllChannels lists the channels in their canonical order.
var AllChannels = []Channel{ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp}

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp:
		return true
	}
	return false
}

// ParseChannel accepts the upper-case wire value or its lower-case form ("in_app", "email").
func ParseChannel(s string) (Channel, bool) {
	c := Channel(strings.ToUpper(strings.TrimSpace(s)))
	return c, c.Valid()
}

// Priority orders notifications in the queue.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityUrgent   Priority = "urgent"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// Priorities lists priorities from highest to lowest.
var Priorities = []Priority{PriorityCritical, PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}

// Rank returns 0 for the highest priority. Unknown values rank with normal.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityUrgent:
		return 1
	case PriorityHigh:
		return 2
	case PriorityNormal:
		return 3
	case PriorityLow:
		return 4
	}
	return 3
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Status is the lifecycle state of a notification.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusQueued    Status = "QUEUED"
	StatusSending   Status = "SENDING"
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusRead      Status = "READ"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusQueued, StatusSending, StatusSent, StatusDelivered,
		StatusRead, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the dispatcher will never pick the notification up again
// without an explicit retry.
func (s Status) Terminal() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusRead, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Cancellable reports whether the notification has not been claimed yet.
func (s Status) Cancellable() bool {
	return s == StatusPending || s == StatusQueued
}

// progressRank orders the post-send states so late events never move a status backwards.
func (s Status) progressRank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// Advances reports whether moving from s to next is forward progress along
// SENT -> DELIVERED -> READ.
func (s Status) Advances(next Status) bool {
	return s.progressRank() > 0 && next.progressRank() > s.progressRank()
}

// DeliveryState is the per-channel outcome inside one notification.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "PENDING"
	DeliverySent      DeliveryState = "SENT"
	DeliveryDelivered DeliveryState = "DELIVERED"
	DeliveryFailed    DeliveryState = "FAILED"
	// DeliveryRejected marks a permanent failure: the channel is never retried.
	DeliveryRejected DeliveryState = "REJECTED"
)
