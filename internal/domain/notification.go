package domain

import "time"

// Recipient identifies who a notification is addressed to, with one address per channel.
type Recipient struct {
	ID          string            `json:"id" dynamodbav:"id" validate:"required"`
	Name        string            `json:"name,omitempty" dynamodbav:"name,omitempty"`
	Email       string            `json:"email,omitempty" dynamodbav:"email,omitempty" validate:"omitempty,email"`
	Phone       string            `json:"phone,omitempty" dynamodbav:"phone,omitempty"`
	DeviceToken string            `json:"device_token,omitempty" dynamodbav:"device_token,omitempty"`
	Variables   map[string]string `json:"variables,omitempty" dynamodbav:"variables,omitempty"`
}

// Address returns the recipient's address on ch, or "" if it has none.
func (r Recipient) Address(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return r.Email
	case ChannelSMS:
		return r.Phone
	case ChannelPush:
		return r.DeviceToken
	case ChannelInApp:
		return r.ID
	}
	return ""
}

// ChannelDelivery is the per-channel sub-record of a notification.
type ChannelDelivery struct {
	Channel           Channel       `json:"channel" dynamodbav:"channel"`
	State             DeliveryState `json:"state" dynamodbav:"state"`
	Attempts          int           `json:"attempts" dynamodbav:"attempts"`
	LastError         string        `json:"last_error,omitempty" dynamodbav:"last_error,omitempty"`
	ProviderMessageID string        `json:"provider_message_id,omitempty" dynamodbav:"provider_message_id,omitempty"`
	// Events lists the event kinds already folded into this record.
	Events    []EventKind `json:"events,omitempty" dynamodbav:"events,omitempty"`
	UpdatedAt time.Time   `json:"updated_at" dynamodbav:"updated_at"`
}

// Folded reports whether an event of kind was already applied to the channel.
func (d *ChannelDelivery) Folded(kind EventKind) bool {
	for _, k := range d.Events {
		if k == kind {
			return true
		}
	}
	return false
}

// Tracking counts opens and clicks reported by delivery events.
type Tracking struct {
	Opens          int        `json:"opens" dynamodbav:"opens"`
	Clicks         int        `json:"clicks" dynamodbav:"clicks"`
	FirstOpenedAt  *time.Time `json:"first_opened_at,omitempty" dynamodbav:"first_opened_at,omitempty"`
	FirstClickedAt *time.Time `json:"first_clicked_at,omitempty" dynamodbav:"first_clicked_at,omitempty"`
}

type Metadata struct {
	Source        string            `json:"source,omitempty" dynamodbav:"source,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty" dynamodbav:"correlation_id,omitempty"`
	Test          bool              `json:"test,omitempty" dynamodbav:"test,omitempty"`
	ResentFrom    string            `json:"resent_from,omitempty" dynamodbav:"resent_from,omitempty"`
	Tracking      Tracking          `json:"tracking" dynamodbav:"tracking"`
	Extra         map[string]string `json:"extra,omitempty" dynamodbav:"extra,omitempty"`
}

type Notification struct {
	NotificationID string            `json:"id" dynamodbav:"notification_id"`
	Type           TemplateType      `json:"type" dynamodbav:"type"`
	Content        []RenderedContent `json:"content" dynamodbav:"content"`
	Channels       []Channel         `json:"channels" dynamodbav:"channels"`
	Priority       Priority          `json:"priority" dynamodbav:"priority"`
	Status         Status            `json:"status" dynamodbav:"status"`
	Recipient      Recipient         `json:"recipient" dynamodbav:"recipient"`
	TemplateID     string            `json:"template_id,omitempty" dynamodbav:"template_id,omitempty"`
	Variables      map[string]string `json:"variables,omitempty" dynamodbav:"variables,omitempty"`
	CampaignID     string            `json:"campaign_id,omitempty" dynamodbav:"campaign_id,omitempty"`
	BatchIndex     int               `json:"batch_index,omitempty" dynamodbav:"batch_index,omitempty"`
	ScheduledAt    time.Time         `json:"scheduled_at" dynamodbav:"scheduled_at"`
	NextAttemptAt  *time.Time        `json:"next_attempt_at,omitempty" dynamodbav:"next_attempt_at,omitempty"`
	SentAt         *time.Time        `json:"sent_at,omitempty" dynamodbav:"sent_at,omitempty"`
	DeliveredAt    *time.Time        `json:"delivered_at,omitempty" dynamodbav:"delivered_at,omitempty"`
	ReadAt         *time.Time        `json:"read_at,omitempty" dynamodbav:"read_at,omitempty"`
	RetryCount     int               `json:"retry_count" dynamodbav:"retry_count"`
	MaxRetries     int               `json:"max_retries" dynamodbav:"max_retries"`
	FailureReason  string            `json:"failure_reason,omitempty" dynamodbav:"failure_reason,omitempty"`
	Deliveries     []ChannelDelivery `json:"deliveries" dynamodbav:"deliveries"`
	Metadata       Metadata          `json:"metadata" dynamodbav:"metadata"`
	ClaimedBy      string            `json:"claimed_by,omitempty" dynamodbav:"claimed_by,omitempty"`
	ClaimedAt      *time.Time        `json:"claimed_at,omitempty" dynamodbav:"claimed_at,omitempty"`
	Version        int64             `json:"version" dynamodbav:"version"`
	CreatedAt      time.Time         `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at" dynamodbav:"updated_at"`
}

// ContentFor returns the rendered snapshot for ch.
func (n *Notification) ContentFor(ch Channel) (RenderedContent, bool) {
	for _, c := range n.Content {
		if c.Channel == ch {
			return c, true
		}
	}
	return RenderedContent{}, false
}

// Delivery returns the sub-record for ch, creating it if absent.
func (n *Notification) Delivery(ch Channel) *ChannelDelivery {
	for i := range n.Deliveries {
		if n.Deliveries[i].Channel == ch {
			return &n.Deliveries[i]
		}
	}
	n.Deliveries = append(n.Deliveries, ChannelDelivery{Channel: ch, State: DeliveryPending})
	return &n.Deliveries[len(n.Deliveries)-1]
}

// PendingChannels lists the channels still worth attempting: not yet sent and not rejected.
func (n *Notification) PendingChannels() []Channel {
	var out []Channel
	for _, ch := range n.Channels {
		d := n.Delivery(ch)
		if d.State == DeliveryPending || d.State == DeliveryFailed {
			out = append(out, ch)
		}
	}
	return out
}

// HasChannel reports whether ch is one of the notification's channels.
func (n *Notification) HasChannel(ch Channel) bool {
	for _, c := range n.Channels {
		if c == ch {
			return true
		}
	}
	return false
}

// CanRetry reports whether another attempt is allowed.
func (n *Notification) CanRetry() bool {
	return n.RetryCount < n.MaxRetries
}

// CreateNotificationRequest enqueues a single notification. Either TemplateID or
// Content must be given; with a template, Content is produced by rendering.
type CreateNotificationRequest struct {
	Type          TemplateType      `json:"type"`
	TemplateID    string            `json:"template_id"`
	Variables     map[string]string `json:"variables"`
	Title         string            `json:"title"`
	Body          string            `json:"body"`
	Channels      []Channel         `json:"channels" validate:"required,min=1,dive,channel"`
	Priority      Priority          `json:"priority" validate:"omitempty,priority"`
	Recipient     Recipient         `json:"recipient" validate:"required"`
	ScheduledAt   *time.Time        `json:"scheduled_at"`
	MaxRetries    *int              `json:"max_retries" validate:"omitempty,min=0,max=10"`
	Source        string            `json:"source"`
	CorrelationID string            `json:"correlation_id"`
}

// NotificationFilter narrows notification listings. Zero values match everything.
type NotificationFilter struct {
	Status      Status
	Priority    Priority
	Channel     Channel
	CampaignID  string
	RecipientID string
	Limit       int
}

// Match reports whether n satisfies every set field of f.
func (f NotificationFilter) Match(n *Notification) bool {
	if f.Status != "" && n.Status != f.Status {
		return false
	}
	if f.Priority != "" && n.Priority != f.Priority {
		return false
	}
	if f.Channel != "" && !n.HasChannel(f.Channel) {
		return false
	}
	if f.CampaignID != "" && n.CampaignID != f.CampaignID {
		return false
	}
	if f.RecipientID != "" && n.Recipient.ID != f.RecipientID {
		return false
	}
	return true
}
