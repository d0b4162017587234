package notification

import (
	"context"
	"fmt"

	"github.com/clinic-notify/internal/domain"
)

// InboxSender delivers IN_APP notifications. The stored notification is the
// inbox entry, so delivery completes as soon as the dispatcher records it.
type InboxSender struct{}

func NewInboxSender() *InboxSender { return &InboxSender{} }

func (InboxSender) Send(_ context.Context, n *domain.Notification, c domain.RenderedContent) (domain.SendReceipt, error) {
	if n.Recipient.ID == "" {
		return domain.SendReceipt{}, domain.Permanent(domain.ChannelInApp, "no_recipient", fmt.Errorf("notification %s has no recipient id", n.NotificationID))
	}
	if c.Body == "" {
		return domain.SendReceipt{}, domain.Permanent(domain.ChannelInApp, "empty_body", fmt.Errorf("notification %s has an empty in-app body", n.NotificationID))
	}
	return domain.SendReceipt{MessageID: "inbox:" + n.Recipient.ID + ":" + n.NotificationID, Delivered: true}, nil
}
