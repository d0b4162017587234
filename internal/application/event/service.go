package event

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/clinic-notify/internal/application/notification"
	"github.com/clinic-notify/internal/domain"
	"github.com/clinic-notify/internal/pkg/id"
	"github.com/clinic-notify/internal/pkg/metrics"
	"github.com/clinic-notify/internal/pkg/validate"
	"go.uber.org/zap"
)

// StatsApplier deduplicates an event and moves its counters.
type StatsApplier interface {
	Apply(ctx context.Context, ev domain.DeliveryEvent) (domain.RecordResult, error)
}

// Result is the outcome of ingesting one event.
type Result struct {
	Event     domain.DeliveryEvent `json:"event"`
	Duplicate bool                 `json:"duplicate"`
}

type Service interface {
	Ingest(ctx context.Context, ev domain.DeliveryEvent) (*Result, error)
	// Record ingests an internally produced event; duplicates are not an error.
	Record(ctx context.Context, ev domain.DeliveryEvent) error
}

type service struct {
	store notification.Store
	stats StatsApplier
	log   *zap.Logger
	now   func() time.Time
}

func NewService(store notification.Store, stats StatsApplier, log *zap.Logger) Service {
	return &service{store: store, stats: stats, log: log, now: time.Now}
}

func (s *service) Ingest(ctx context.Context, ev domain.DeliveryEvent) (*Result, error) {
	if err := validate.Struct(ev); err != nil {
		return nil, err
	}
	n, err := s.store.Get(ctx, ev.NotificationID)
	if err != nil {
		return nil, err
	}
	if !n.HasChannel(ev.Channel) {
		return nil, fmt.Errorf("notification %s has no %s channel: %w", n.NotificationID, ev.Channel, domain.ErrBadRequest)
	}
	ev.EventID = id.New()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}
	ev.Timestamp = ev.Timestamp.UTC()
	ev.CampaignID = n.CampaignID
	ev.TemplateID = n.TemplateID

	res, err := s.stats.Apply(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("record event: %w", err)
	}
	metrics.EventsIngested.WithLabelValues(string(ev.Kind), strconv.FormatBool(!res.ChannelNew)).Inc()

	// Stats dedupe the counters; apply dedupes the notification on its own
	// folded kinds, so an event counted by a failed earlier attempt still lands.
	_, err = notification.Mutate(ctx, s.store, ev.NotificationID, s.now, func(n *domain.Notification) error {
		return apply(n, ev)
	})
	skipped := errors.Is(err, notification.ErrSkip)
	if err != nil && !skipped {
		return nil, fmt.Errorf("apply event to notification %s: %w", ev.NotificationID, err)
	}
	if !res.ChannelNew && skipped {
		s.log.Debug("duplicate delivery event",
			zap.String("notification_id", ev.NotificationID),
			zap.String("channel", string(ev.Channel)),
			zap.String("kind", string(ev.Kind)))
		return &Result{Event: ev, Duplicate: true}, nil
	}
	return &Result{Event: ev}, nil
}

func (s *service) Record(ctx context.Context, ev domain.DeliveryEvent) error {
	_, err := s.Ingest(ctx, ev)
	return err
}

// apply folds ev into the notification once per channel and kind. Status only
// moves forward along SENT, DELIVERED, READ; failures and bounces touch the
// channel record only, and a failure never downgrades a rejected channel.
func apply(n *domain.Notification, ev domain.DeliveryEvent) error {
	d := n.Delivery(ev.Channel)
	if d.Folded(ev.Kind) {
		return notification.ErrSkip
	}
	at := ev.Timestamp
	switch ev.Kind {
	case domain.EventDelivered:
		d.State = domain.DeliveryDelivered
		d.UpdatedAt = at
		if n.Status.Advances(domain.StatusDelivered) {
			n.Status = domain.StatusDelivered
			n.DeliveredAt = &at
		}
	case domain.EventOpened:
		tr := &n.Metadata.Tracking
		tr.Opens++
		if tr.FirstOpenedAt == nil {
			tr.FirstOpenedAt = &at
		}
		if n.Status.Advances(domain.StatusRead) {
			n.Status = domain.StatusRead
			n.ReadAt = &at
		}
	case domain.EventClicked:
		tr := &n.Metadata.Tracking
		tr.Clicks++
		if tr.FirstClickedAt == nil {
			tr.FirstClickedAt = &at
		}
	case domain.EventFailed:
		switch d.State {
		case domain.DeliverySent, domain.DeliveryDelivered, domain.DeliveryRejected:
			return notification.ErrSkip
		}
		d.State = domain.DeliveryFailed
		d.LastError = ev.Error
		d.UpdatedAt = at
	case domain.EventBounced:
		d.State = domain.DeliveryRejected
		d.LastError = ev.Error
		d.UpdatedAt = at
	default:
		return notification.ErrSkip
	}
	d.Events = append(d.Events, ev.Kind)
	return nil
}
