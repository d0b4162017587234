package sns

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/smithy-go"
	"github.com/clinic-notify/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	in  *sns.PublishInput
	err error
}

func (f *fakePublisher) Publish(_ context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &sns.PublishOutput{MessageId: aws.String("sns-1")}, nil
}

func smsNotification(p domain.Priority) *domain.Notification {
	return &domain.Notification{NotificationID: "n1", Priority: p, Recipient: domain.Recipient{ID: "p1", Phone: "+573001112233"}}
}

func TestSender_Publishes(t *testing.T) {
	pub := &fakePublisher{}
	s := NewSender(pub)

	r, err := s.Send(context.Background(), smsNotification(domain.PriorityUrgent), domain.RenderedContent{Body: "Su cita es mañana"})
	require.NoError(t, err)
	assert.Equal(t, "sns-1", r.MessageID)
	assert.Equal(t, "+573001112233", aws.ToString(pub.in.PhoneNumber))
	assert.Equal(t, "Transactional", aws.ToString(pub.in.MessageAttributes["AWS.SNS.SMS.SMSType"].StringValue))
}

func TestSender_LowPriorityIsPromotional(t *testing.T) {
	pub := &fakePublisher{}
	_, err := NewSender(pub).Send(context.Background(), smsNotification(domain.PriorityLow), domain.RenderedContent{Body: "x"})
	require.NoError(t, err)
	assert.Equal(t, "Promotional", aws.ToString(pub.in.MessageAttributes["AWS.SNS.SMS.SMSType"].StringValue))
}

func TestSender_Classification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"invalid number", &smithy.GenericAPIError{Code: "InvalidParameter", Message: "bad phone"}, false},
		{"throttled", &smithy.GenericAPIError{Code: "Throttled", Message: "slow down"}, true},
		{"network", errors.New("connection reset"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewSender(&fakePublisher{err: tc.err}).Send(context.Background(), smsNotification(domain.PriorityNormal), domain.RenderedContent{Body: "x"})
			require.Error(t, err)
			assert.Equal(t, tc.retryable, domain.IsRetryable(err))
		})
	}
}

func TestSender_NoPhoneIsPermanent(t *testing.T) {
	n := smsNotification(domain.PriorityNormal)
	n.Recipient.Phone = ""
	_, err := NewSender(&fakePublisher{}).Send(context.Background(), n, domain.RenderedContent{Body: "x"})
	require.Error(t, err)
	assert.False(t, domain.IsRetryable(err))
}
