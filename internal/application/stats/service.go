package stats

import (
	"context"

	"github.com/clinic-notify/internal/domain"
)

// Store persists delivery events and their counter rows. Record must dedupe
// atomically: an event whose channel key was seen before changes nothing, and
// totals rows move only for the first channel reporting a kind.
type Store interface {
	Record(ctx context.Context, ev domain.DeliveryEvent, scopes []domain.Scope) (domain.RecordResult, error)
	// Counters returns the rows of one scope keyed by channel, with the
	// notification-level totals under domain.AllChannelsKey.
	Counters(ctx context.Context, scope domain.Scope) (map[string]domain.Counters, error)
	Events(ctx context.Context, notificationID string) ([]domain.DeliveryEvent, error)
}

type Service interface {
	Apply(ctx context.Context, ev domain.DeliveryEvent) (domain.RecordResult, error)
	Scope(ctx context.Context, scope domain.Scope) (*domain.ScopeStats, error)
	Channels(ctx context.Context) ([]domain.ChannelStats, error)
	Events(ctx context.Context, notificationID string) ([]domain.DeliveryEvent, error)
}

type service struct {
	store Store
}

func NewService(store Store) Service {
	return &service{store: store}
}

// ScopesFor lists the counter rows an event contributes to.
func ScopesFor(ev domain.DeliveryEvent) []domain.Scope {
	scopes := make([]domain.Scope, 0, 3)
	if ev.CampaignID != "" {
		scopes = append(scopes, domain.CampaignScope(ev.CampaignID))
	}
	if ev.TemplateID != "" {
		scopes = append(scopes, domain.TemplateScope(ev.TemplateID))
	}
	return append(scopes, domain.GlobalScope())
}

func (s *service) Apply(ctx context.Context, ev domain.DeliveryEvent) (domain.RecordResult, error) {
	return s.store.Record(ctx, ev, ScopesFor(ev))
}

func (s *service) Scope(ctx context.Context, scope domain.Scope) (*domain.ScopeStats, error) {
	rows, err := s.store.Counters(ctx, scope)
	if err != nil {
		return nil, err
	}
	totals := rows[domain.AllChannelsKey]
	out := &domain.ScopeStats{
		Scope:     scope.String(),
		Totals:    totals,
		Rates:     totals.Rates(),
		ByChannel: []domain.ChannelStats{},
	}
	for _, ch := range domain.AllChannels {
		c, ok := rows[string(ch)]
		if !ok {
			continue
		}
		out.ByChannel = append(out.ByChannel, domain.ChannelStats{Channel: ch, Counters: c, Rates: c.Rates()})
	}
	return out, nil
}

// Channels reports global counters for every channel, zero rows included.
func (s *service) Channels(ctx context.Context) ([]domain.ChannelStats, error) {
	rows, err := s.store.Counters(ctx, domain.GlobalScope())
	if err != nil {
		return nil, err
	}
	out := make([]domain.ChannelStats, 0, len(domain.AllChannels))
	for _, ch := range domain.AllChannels {
		c := rows[string(ch)]
		out = append(out, domain.ChannelStats{Channel: ch, Counters: c, Rates: c.Rates()})
	}
	return out, nil
}

func (s *service) Events(ctx context.Context, notificationID string) ([]domain.DeliveryEvent, error) {
	return s.store.Events(ctx, notificationID)
}
