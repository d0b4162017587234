// Package ses delivers EMAIL content through Amazon SES.
package ses

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/smithy-go"
	"github.com/clinic-notify/internal/config"
	"github.com/clinic-notify/internal/domain"
)

// EmailAPI is the part of the SES client the sender uses.
type EmailAPI interface {
	SendEmail(ctx context.Context, in *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type Sender struct {
	client EmailAPI
	from   string
}

func NewClient(ctx context.Context, cfg *config.Config) (*ses.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.SESRegion))
	if err != nil {
		return nil, err
	}
	return ses.NewFromConfig(awsCfg, func(o *ses.Options) {
		if cfg.AWSEndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
		}
	}), nil
}

func NewSender(client EmailAPI, from string) *Sender {
	return &Sender{client: client, from: from}
}

func (s *Sender) Send(ctx context.Context, n *domain.Notification, c domain.RenderedContent) (domain.SendReceipt, error) {
	to := n.Recipient.Email
	if to == "" {
		return domain.SendReceipt{}, domain.Permanent(domain.ChannelEmail, "no_address", errors.New("recipient has no email"))
	}
	body := &types.Body{Text: utf8(c.Body)}
	if c.HTML != "" {
		body.Html = utf8(c.HTML)
	}
	out, err := s.client.SendEmail(ctx, &ses.SendEmailInput{
		Source:      aws.String(s.from),
		Destination: &types.Destination{ToAddresses: []string{to}},
		Message: &types.Message{
			Subject: utf8(c.Title),
			Body:    body,
		},
	})
	if err != nil {
		return domain.SendReceipt{}, classify(err)
	}
	return domain.SendReceipt{MessageID: aws.ToString(out.MessageId)}, nil
}

func utf8(s string) *types.Content {
	return &types.Content{Data: aws.String(s), Charset: aws.String("UTF-8")}
}

var permanentCodes = map[string]bool{
	"MessageRejected":                       true,
	"MailFromDomainNotVerifiedException":    true,
	"ConfigurationSetDoesNotExistException": true,
	"AccountSendingPausedException":         true,
	"InvalidParameterValue":                 true,
}

func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if permanentCodes[apiErr.ErrorCode()] {
			return domain.Permanent(domain.ChannelEmail, apiErr.ErrorCode(), err)
		}
		return domain.Retryable(domain.ChannelEmail, apiErr.ErrorCode(), err)
	}
	return domain.Retryable(domain.ChannelEmail, "transport", err)
}
