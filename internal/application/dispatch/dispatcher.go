// Package dispatch runs the worker pool that claims queued notifications,
// fans each one out to its channel senders and records the outcome.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clinic-notify/internal/application/notification"
	"github.com/clinic-notify/internal/domain"
	"github.com/clinic-notify/internal/pkg/metrics"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sender delivers rendered content over one channel. Errors should be
// *domain.SendError; any other error is treated as retryable.
type Sender interface {
	Send(ctx context.Context, n *domain.Notification, c domain.RenderedContent) (domain.SendReceipt, error)
}

type Queue interface {
	Pop(ctx context.Context) (domain.QueueItem, error)
	Push(ctx context.Context, item domain.QueueItem) error
}

type EventRecorder interface {
	Record(ctx context.Context, ev domain.DeliveryEvent) error
}

type Config struct {
	WorkerID    string
	Workers     int
	Lease       time.Duration
	SendTimeout time.Duration
	Retry       domain.RetryPolicy
}

type Dispatcher struct {
	cfg     Config
	queue   Queue
	store   notification.Store
	senders map[domain.Channel]Sender
	events  EventRecorder
	log     *zap.Logger
	now     func() time.Time
}

func New(cfg Config, queue Queue, store notification.Store, senders map[domain.Channel]Sender, events EventRecorder, log *zap.Logger) *Dispatcher {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 2 * time.Minute
	}
	if cfg.SendTimeout <= 0 || cfg.SendTimeout > cfg.Lease {
		cfg.SendTimeout = cfg.Lease / 2
	}
	return &Dispatcher{
		cfg:     cfg,
		queue:   queue,
		store:   store,
		senders: senders,
		events:  events,
		log:     log.With(zap.String("worker_id", cfg.WorkerID)),
		now:     time.Now,
	}
}

// Run blocks until ctx is cancelled. Items already claimed finish their send.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Info("dispatcher started", zap.Int("workers", d.cfg.Workers), zap.Duration("lease", d.cfg.Lease))
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		g.Go(func() error { return d.work(gctx) })
	}
	g.Go(func() error { return d.sweep(gctx) })
	err := g.Wait()
	d.log.Info("dispatcher stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *Dispatcher) work(ctx context.Context) error {
	for {
		item, err := d.queue.Pop(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			d.log.Error("pop from queue", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		metrics.WorkersBusy.Inc()
		if err := d.Process(context.WithoutCancel(ctx), item); err != nil {
			d.log.Error("process notification", zap.String("notification_id", item.NotificationID), zap.Error(err))
		}
		metrics.WorkersBusy.Dec()
	}
}

func (d *Dispatcher) sweep(ctx context.Context) error {
	every := d.cfg.Lease / 2
	if every < time.Second {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		if _, err := d.RecoverExpired(ctx); err != nil && ctx.Err() == nil {
			d.log.Error("recover expired claims", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

type outcome struct {
	ch      domain.Channel
	receipt domain.SendReceipt
	err     error
}

// Process claims one queued notification, sends it and records the result.
// A notification that is no longer QUEUED is skipped, so concurrent workers
// holding the same item never both send it.
func (d *Dispatcher) Process(ctx context.Context, item domain.QueueItem) error {
	n, err := d.claim(ctx, item.NotificationID)
	if errors.Is(err, notification.ErrSkip) || errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	results := d.send(ctx, n)

	var requeue bool
	final, err := notification.Mutate(ctx, d.store, n.NotificationID, d.now, func(cur *domain.Notification) error {
		if cur.Status != domain.StatusSending || cur.ClaimedBy != d.cfg.WorkerID {
			return notification.ErrSkip
		}
		requeue = d.finalize(cur, results)
		return nil
	})
	if errors.Is(err, notification.ErrSkip) {
		d.log.Warn("claim lost before finalize", zap.String("notification_id", n.NotificationID))
		return nil
	}
	if err != nil {
		return err
	}

	if requeue {
		if err := d.queue.Push(ctx, domain.QueueItemFor(final)); err != nil {
			return fmt.Errorf("requeue notification %s: %w", final.NotificationID, err)
		}
		metrics.Requeued.Inc()
	}
	d.emit(ctx, final, results)
	d.log.Debug("notification processed",
		zap.String("notification_id", final.NotificationID),
		zap.String("status", string(final.Status)),
		zap.Int("retry_count", final.RetryCount))
	return nil
}

func (d *Dispatcher) claim(ctx context.Context, notificationID string) (*domain.Notification, error) {
	return notification.Mutate(ctx, d.store, notificationID, d.now, func(n *domain.Notification) error {
		if n.Status != domain.StatusQueued {
			return notification.ErrSkip
		}
		now := d.now().UTC()
		n.Status = domain.StatusSending
		n.ClaimedBy = d.cfg.WorkerID
		n.ClaimedAt = &now
		return nil
	})
}

// send fans out to every pending channel concurrently.
func (d *Dispatcher) send(ctx context.Context, n *domain.Notification) []outcome {
	channels := n.PendingChannels()
	if len(channels) == 0 {
		return nil
	}
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	p := pool.NewWithResults[outcome]().WithMaxGoroutines(len(channels))
	for _, ch := range channels {
		p.Go(func() outcome { return d.sendOne(sendCtx, n, ch) })
	}
	return p.Wait()
}

func (d *Dispatcher) sendOne(ctx context.Context, n *domain.Notification, ch domain.Channel) outcome {
	o := outcome{ch: ch}
	sender, ok := d.senders[ch]
	content, hasContent := n.ContentFor(ch)
	switch {
	case !ok:
		o.err = domain.Permanent(ch, "no_sender", fmt.Errorf("no sender configured for %s", ch))
	case n.Recipient.Address(ch) == "":
		o.err = domain.Permanent(ch, "no_address", fmt.Errorf("recipient has no %s address", strings.ToLower(string(ch))))
	case !hasContent:
		o.err = domain.Permanent(ch, "no_content", fmt.Errorf("no rendered content for %s", ch))
	default:
		start := time.Now()
		o.receipt, o.err = sender.Send(ctx, n, content)
		metrics.SendDuration.WithLabelValues(string(ch)).Observe(time.Since(start).Seconds())
	}

	label := "ok"
	if o.err != nil {
		label = "permanent"
		if domain.IsRetryable(o.err) {
			label = "retryable"
		}
		d.log.Warn("channel send failed",
			zap.String("notification_id", n.NotificationID),
			zap.String("channel", string(ch)),
			zap.String("outcome", label),
			zap.Error(o.err))
	}
	metrics.SendAttempts.WithLabelValues(string(ch), label).Inc()
	return o
}

// finalize applies send results to the claimed notification and reports
// whether it must go back on the queue.
func (d *Dispatcher) finalize(n *domain.Notification, results []outcome) bool {
	now := d.now().UTC()
	for _, o := range results {
		dl := n.Delivery(o.ch)
		dl.Attempts++
		dl.UpdatedAt = now
		switch {
		case o.err == nil:
			dl.State = domain.DeliverySent
			if o.receipt.Delivered {
				dl.State = domain.DeliveryDelivered
			}
			dl.ProviderMessageID = o.receipt.MessageID
			dl.LastError = ""
		case domain.IsRetryable(o.err):
			dl.State = domain.DeliveryFailed
			dl.LastError = o.err.Error()
		default:
			dl.State = domain.DeliveryRejected
			dl.LastError = o.err.Error()
		}
	}
	n.ClaimedBy = ""
	n.ClaimedAt = nil

	var sent, delivered, retryable bool
	var reasons []string
	for _, dl := range n.Deliveries {
		switch dl.State {
		case domain.DeliverySent:
			sent = true
		case domain.DeliveryDelivered:
			sent, delivered = true, true
		case domain.DeliveryFailed:
			retryable = true
		}
		if dl.LastError != "" {
			reasons = append(reasons, string(dl.Channel)+": "+dl.LastError)
		}
	}

	switch {
	case sent:
		n.Status = domain.StatusSent
		n.SentAt = &now
		if delivered {
			n.Status = domain.StatusDelivered
			n.DeliveredAt = &now
		}
		n.NextAttemptAt = nil
		n.FailureReason = ""
		return false
	case retryable && d.cfg.Retry.Automatic && n.CanRetry():
		n.RetryCount++
		next := now.Add(d.cfg.Retry.Delay(n.RetryCount))
		n.NextAttemptAt = &next
		n.Status = domain.StatusQueued
		return true
	default:
		n.Status = domain.StatusFailed
		n.FailureReason = strings.Join(reasons, "; ")
		if n.FailureReason == "" {
			n.FailureReason = "no deliverable channel"
		}
		return false
	}
}

func (d *Dispatcher) emit(ctx context.Context, n *domain.Notification, results []outcome) {
	now := d.now().UTC()
	record := func(ev domain.DeliveryEvent) {
		ev.NotificationID = n.NotificationID
		ev.Timestamp = now
		if err := d.events.Record(ctx, ev); err != nil {
			d.log.Warn("record delivery event",
				zap.String("notification_id", n.NotificationID),
				zap.String("kind", string(ev.Kind)),
				zap.Error(err))
		}
	}
	for _, o := range results {
		if o.err != nil {
			record(domain.DeliveryEvent{Channel: o.ch, Kind: domain.EventFailed, Error: o.err.Error()})
			continue
		}
		record(domain.DeliveryEvent{Channel: o.ch, Kind: domain.EventSent})
		if o.receipt.Delivered {
			record(domain.DeliveryEvent{Channel: o.ch, Kind: domain.EventDelivered})
		}
	}
}

// RecoverExpired returns SENDING notifications whose claim lease ran out to
// the queue. A worker that died mid-send may have delivered some channels;
// those are re-sent.
func (d *Dispatcher) RecoverExpired(ctx context.Context) (int, error) {
	ns, err := d.store.List(ctx, domain.NotificationFilter{Status: domain.StatusSending})
	if err != nil {
		return 0, err
	}
	cutoff := d.now().Add(-d.cfg.Lease)
	recovered := 0
	for i := range ns {
		stale := ns[i]
		if stale.ClaimedAt != nil && stale.ClaimedAt.After(cutoff) {
			continue
		}
		n, err := notification.Mutate(ctx, d.store, stale.NotificationID, d.now, func(n *domain.Notification) error {
			if n.Status != domain.StatusSending || n.ClaimedBy != stale.ClaimedBy {
				return notification.ErrSkip
			}
			if n.ClaimedAt != nil && n.ClaimedAt.After(cutoff) {
				return notification.ErrSkip
			}
			n.Status = domain.StatusQueued
			n.ClaimedBy = ""
			n.ClaimedAt = nil
			return nil
		})
		if errors.Is(err, notification.ErrSkip) || errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return recovered, err
		}
		if err := d.queue.Push(ctx, domain.QueueItemFor(n)); err != nil {
			return recovered, fmt.Errorf("requeue notification %s: %w", n.NotificationID, err)
		}
		metrics.LeaseRecovered.Inc()
		recovered++
		d.log.Warn("recovered expired claim",
			zap.String("notification_id", n.NotificationID),
			zap.String("claimed_by", stale.ClaimedBy))
	}
	return recovered, nil
}
