// Package twilio delivers SMS content through the Twilio Messages API.
package twilio

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	twiliogo "github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/clinic-notify/internal/config"
	"github.com/clinic-notify/internal/domain"
)

// MessageCreator is the part of the Twilio REST API the sender uses.
type MessageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

type Sender struct {
	api  MessageCreator
	from string
}

// NewFromConfig builds a sender on the Twilio REST client.
func NewFromConfig(cfg *config.Config) *Sender {
	client := twiliogo.NewRestClientWithParams(twiliogo.ClientParams{
		Username: cfg.TwilioAccountSID,
		Password: cfg.TwilioAuthToken,
	})
	return NewSender(client.Api, cfg.TwilioFromNumber)
}

func NewSender(api MessageCreator, from string) *Sender {
	return &Sender{api: api, from: from}
}

// Send posts the message. The Twilio client has no context support, so the
// call runs aside and ctx only bounds how long we wait for it.
func (s *Sender) Send(ctx context.Context, n *domain.Notification, c domain.RenderedContent) (domain.SendReceipt, error) {
	to := n.Recipient.Phone
	if to == "" {
		return domain.SendReceipt{}, domain.Permanent(domain.ChannelSMS, "no_address", errors.New("recipient has no phone"))
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(c.Body)

	type result struct {
		msg *twilioApi.ApiV2010Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := s.api.CreateMessage(params)
		done <- result{msg, err}
	}()

	select {
	case <-ctx.Done():
		return domain.SendReceipt{}, domain.Retryable(domain.ChannelSMS, "timeout", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return domain.SendReceipt{}, classify(r.err)
		}
		var sid string
		if r.msg != nil && r.msg.Sid != nil {
			sid = *r.msg.Sid
		}
		return domain.SendReceipt{MessageID: sid}, nil
	}
}

// classify treats client errors as permanent, except rate limiting.
func classify(err error) error {
	var rest *twilioclient.TwilioRestError
	if errors.As(err, &rest) {
		code := fmt.Sprintf("twilio_%d", rest.Code)
		if rest.Status >= 400 && rest.Status < 500 && rest.Status != http.StatusTooManyRequests {
			return domain.Permanent(domain.ChannelSMS, code, err)
		}
		return domain.Retryable(domain.ChannelSMS, code, err)
	}
	return domain.Retryable(domain.ChannelSMS, "transport", err)
}
