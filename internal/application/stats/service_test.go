package stats

import (
	"context"
	"testing"

	"github.com/clinic-notify/internal/domain"
	"github.com/clinic-notify/internal/infrastructure/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ev(notif string, ch domain.Channel, kind domain.EventKind) domain.DeliveryEvent {
	return domain.DeliveryEvent{NotificationID: notif, Channel: ch, Kind: kind, CampaignID: "c-1", TemplateID: "t-1"}
}

func TestScopesFor(t *testing.T) {
	assert.Equal(t, []domain.Scope{domain.GlobalScope()}, ScopesFor(domain.DeliveryEvent{}))
	assert.Equal(t,
		[]domain.Scope{domain.CampaignScope("c-1"), domain.TemplateScope("t-1"), domain.GlobalScope()},
		ScopesFor(ev("n", domain.ChannelEmail, domain.EventSent)))
}

func TestApply_ReplayCountsOnce(t *testing.T) {
	svc := NewService(memory.NewStatsRepo())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Apply(ctx, ev("n1", domain.ChannelEmail, domain.EventDelivered))
		require.NoError(t, err)
	}
	st, err := svc.Scope(ctx, domain.CampaignScope("c-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Totals.Delivered)
	require.Len(t, st.ByChannel, 1)
	assert.Equal(t, int64(1), st.ByChannel[0].Counters.Delivered)
}

func TestApply_TotalsCountNotificationOnce(t *testing.T) {
	svc := NewService(memory.NewStatsRepo())
	ctx := context.Background()

	apply := func(e domain.DeliveryEvent) {
		_, err := svc.Apply(ctx, e)
		require.NoError(t, err)
	}
	apply(ev("n1", domain.ChannelEmail, domain.EventSent))
	apply(ev("n1", domain.ChannelSMS, domain.EventSent))
	apply(ev("n2", domain.ChannelEmail, domain.EventSent))
	apply(ev("n1", domain.ChannelEmail, domain.EventDelivered))
	apply(ev("n1", domain.ChannelEmail, domain.EventOpened))

	st, err := svc.Scope(ctx, domain.TemplateScope("t-1"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Totals.Sent)
	assert.Equal(t, int64(1), st.Totals.Delivered)
	assert.InDelta(t, 0.5, st.Rates.DeliveryRate, 1e-9)
	assert.InDelta(t, 1.0, st.Rates.OpenRate, 1e-9)

	channels, err := svc.Channels(ctx)
	require.NoError(t, err)
	require.Len(t, channels, len(domain.AllChannels))
	byCh := map[domain.Channel]domain.Counters{}
	for _, c := range channels {
		byCh[c.Channel] = c.Counters
	}
	assert.Equal(t, int64(2), byCh[domain.ChannelEmail].Sent)
	assert.Equal(t, int64(1), byCh[domain.ChannelSMS].Sent)
	assert.Zero(t, byCh[domain.ChannelPush].Sent)
}

func TestScope_Empty(t *testing.T) {
	svc := NewService(memory.NewStatsRepo())
	st, err := svc.Scope(context.Background(), domain.CampaignScope("none"))
	require.NoError(t, err)
	assert.Zero(t, st.Totals.Sent)
	assert.Zero(t, st.Rates.DeliveryRate)
	assert.Empty(t, st.ByChannel)
}
