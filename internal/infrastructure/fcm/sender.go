// Package fcm delivers PUSH content through Firebase Cloud Messaging.
package fcm

import (
	"context"
	"errors"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/clinic-notify/internal/domain"
)

// Client is the part of the FCM client the sender uses.
type Client interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

type Sender struct {
	client      Client
	isPermanent func(error) bool
}

// NewClient initializes Firebase from a service account file, or from
// application default credentials when path is empty.
func NewClient(ctx context.Context, credentialsPath string) (*messaging.Client, error) {
	var opts []option.ClientOption
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}
	app, err := firebase.NewApp(ctx, nil, opts...)
	if err != nil {
		return nil, err
	}
	return app.Messaging(ctx)
}

func NewSender(client Client) *Sender {
	return &Sender{client: client, isPermanent: permanent}
}

func (s *Sender) Send(ctx context.Context, n *domain.Notification, c domain.RenderedContent) (domain.SendReceipt, error) {
	token := n.Recipient.DeviceToken
	if token == "" {
		return domain.SendReceipt{}, domain.Permanent(domain.ChannelPush, "no_address", errors.New("recipient has no device token"))
	}
	id, err := s.client.Send(ctx, message(n, c, token))
	if err != nil {
		if s.isPermanent(err) {
			return domain.SendReceipt{}, domain.Permanent(domain.ChannelPush, "rejected", err)
		}
		return domain.SendReceipt{}, domain.Retryable(domain.ChannelPush, "transport", err)
	}
	return domain.SendReceipt{MessageID: id}, nil
}

func message(n *domain.Notification, c domain.RenderedContent, token string) *messaging.Message {
	data := map[string]string{
		"notification_id": n.NotificationID,
		"type":            string(n.Type),
	}
	if n.CampaignID != "" {
		data["campaign_id"] = n.CampaignID
	}
	androidPriority := "normal"
	if n.Priority.Rank() <= domain.PriorityHigh.Rank() {
		androidPriority = "high"
	}
	return &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: c.Title,
			Body:  c.Body,
		},
		Data:    data,
		Android: &messaging.AndroidConfig{Priority: androidPriority},
	}
}

// permanent reports FCM errors that a retry cannot fix: a stale token, a
// malformed message or a token from another sender.
func permanent(err error) bool {
	return messaging.IsUnregistered(err) || messaging.IsInvalidArgument(err) || messaging.IsSenderIDMismatch(err)
}
