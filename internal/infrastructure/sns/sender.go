package sns

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/smithy-go"
	"github.com/clinic-notify/internal/config"
	"github.com/clinic-notify/internal/domain"
)

// Publisher is the part of the SNS client the sender uses.
type Publisher interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Sender delivers SMS content via AWS SNS direct publish.
type Sender struct {
	client Publisher
}

func NewClient(ctx context.Context, cfg *config.Config) (*sns.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.SNSRegion))
	if err != nil {
		return nil, err
	}
	return sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.AWSEndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
		}
	}), nil
}

func NewSender(client Publisher) *Sender {
	return &Sender{client: client}
}

func (s *Sender) Send(ctx context.Context, n *domain.Notification, c domain.RenderedContent) (domain.SendReceipt, error) {
	to := n.Recipient.Phone
	if to == "" {
		return domain.SendReceipt{}, domain.Permanent(domain.ChannelSMS, "no_address", errors.New("recipient has no phone"))
	}
	out, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(to),
		Message:     aws.String(c.Body),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {DataType: aws.String("String"), StringValue: aws.String(smsType(n.Priority))},
		},
	})
	if err != nil {
		return domain.SendReceipt{}, classify(err)
	}
	return domain.SendReceipt{MessageID: aws.ToString(out.MessageId)}, nil
}

// smsType routes time-sensitive messages over the transactional route.
func smsType(p domain.Priority) string {
	if p.Rank() <= domain.PriorityHigh.Rank() {
		return "Transactional"
	}
	return "Promotional"
}

var permanentCodes = map[string]bool{
	"InvalidParameter":      true,
	"InvalidParameterValue": true,
	"AuthorizationError":    true,
	"EndpointDisabled":      true,
	"OptedOut":              true,
}

func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if permanentCodes[apiErr.ErrorCode()] {
			return domain.Permanent(domain.ChannelSMS, apiErr.ErrorCode(), err)
		}
		return domain.Retryable(domain.ChannelSMS, apiErr.ErrorCode(), err)
	}
	return domain.Retryable(domain.ChannelSMS, "transport", err)
}
