package domain

import (
	"fmt"
	"time"
)

// EventKind is what happened to a notification on one channel.
type EventKind string

const (
	EventSent         EventKind = "sent"
	EventDelivered    EventKind = "delivered"
	EventFailed       EventKind = "failed"
	EventOpened       EventKind = "opened"
	EventClicked      EventKind = "clicked"
	EventBounced      EventKind = "bounced"
	EventUnsubscribed EventKind = "unsubscribed"
)

// EventKinds lists every kind in counter order.
var EventKinds = []EventKind{EventSent, EventDelivered, EventFailed, EventOpened, EventClicked, EventBounced, EventUnsubscribed}

func (k EventKind) Valid() bool {
	switch k {
	case EventSent, EventDelivered, EventFailed, EventOpened, EventClicked, EventBounced, EventUnsubscribed:
		return true
	}
	return false
}

// DeliveryEvent is an immutable fact about one notification on one channel.
// CampaignID and TemplateID are filled on ingest from the notification.
type DeliveryEvent struct {
	EventID        string    `json:"id" dynamodbav:"event_id"`
	NotificationID string    `json:"notification_id" dynamodbav:"notification_id" validate:"required"`
	Channel        Channel   `json:"channel" dynamodbav:"channel" validate:"required,channel"`
	Kind           EventKind `json:"kind" dynamodbav:"kind" validate:"required,event_kind"`
	Timestamp      time.Time `json:"timestamp" dynamodbav:"timestamp"`
	Error          string    `json:"error,omitempty" dynamodbav:"error,omitempty"`
	CampaignID     string    `json:"campaign_id,omitempty" dynamodbav:"campaign_id,omitempty"`
	TemplateID     string    `json:"template_id,omitempty" dynamodbav:"template_id,omitempty"`
}

// ChannelKey dedupes per-channel counters.
func (e DeliveryEvent) ChannelKey() string {
	return fmt.Sprintf("%s#%s#%s", e.NotificationID, e.Channel, e.Kind)
}

// TotalKey dedupes notification-level totals: the first channel to report a kind wins.
func (e DeliveryEvent) TotalKey() string {
	return fmt.Sprintf("%s#%s", e.NotificationID, e.Kind)
}
