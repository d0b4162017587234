package memory

import (
	"context"
	"sync"

	"github.com/clinic-notify/internal/domain"
)

// StatsRepo keeps the event log, dedupe markers and counter rows in memory.
// One mutex covers all three so marker and counters change together.
type StatsRepo struct {
	mu       sync.Mutex
	markers  map[string]bool
	events   map[string][]domain.DeliveryEvent
	counters map[string]map[string]*domain.Counters
}

func NewStatsRepo() *StatsRepo {
	return &StatsRepo{
		markers:  make(map[string]bool),
		events:   make(map[string][]domain.DeliveryEvent),
		counters: make(map[string]map[string]*domain.Counters),
	}
}

func (r *StatsRepo) Record(_ context.Context, ev domain.DeliveryEvent, scopes []domain.Scope) (domain.RecordResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res domain.RecordResult
	if r.markers["C#"+ev.ChannelKey()] {
		return res, nil
	}
	r.markers["C#"+ev.ChannelKey()] = true
	r.events[ev.NotificationID] = append(r.events[ev.NotificationID], ev)
	res.ChannelNew = true
	for _, s := range scopes {
		r.row(s.String(), string(ev.Channel)).Add(ev.Kind, 1)
	}
	if !r.markers["T#"+ev.TotalKey()] {
		r.markers["T#"+ev.TotalKey()] = true
		res.TotalNew = true
		for _, s := range scopes {
			r.row(s.String(), domain.AllChannelsKey).Add(ev.Kind, 1)
		}
	}
	return res, nil
}

func (r *StatsRepo) row(scope, dim string) *domain.Counters {
	rows, ok := r.counters[scope]
	if !ok {
		rows = make(map[string]*domain.Counters)
		r.counters[scope] = rows
	}
	c, ok := rows[dim]
	if !ok {
		c = &domain.Counters{}
		rows[dim] = c
	}
	return c
}

func (r *StatsRepo) Counters(_ context.Context, scope domain.Scope) (map[string]domain.Counters, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]domain.Counters{}
	for dim, c := range r.counters[scope.String()] {
		out[dim] = *c
	}
	return out, nil
}

func (r *StatsRepo) Events(_ context.Context, notificationID string) ([]domain.DeliveryEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.DeliveryEvent{}, r.events[notificationID]...), nil
}
