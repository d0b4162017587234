package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clinic-notify/internal/application/render"
	"github.com/clinic-notify/internal/domain"
	"github.com/clinic-notify/internal/pkg/id"
	"github.com/clinic-notify/internal/pkg/metrics"
	"github.com/clinic-notify/internal/pkg/validate"
	"go.uber.org/zap"
)

// Queue is the dispatch index the service feeds.
type Queue interface {
	Push(ctx context.Context, item domain.QueueItem) error
	Remove(ctx context.Context, notificationID string) error
}

// TemplateSource resolves templates for single sends.
type TemplateSource interface {
	Get(ctx context.Context, templateID string) (*domain.Template, error)
	MarkUsed(ctx context.Context, templateID string, n int) error
}

// EventRecorder feeds user interactions (inbox reads) into event ingestion.
type EventRecorder interface {
	Record(ctx context.Context, ev domain.DeliveryEvent) error
}

type Service interface {
	Enqueue(ctx context.Context, req domain.CreateNotificationRequest) (*domain.Notification, error)
	EnqueueBatch(ctx context.Context, ns []*domain.Notification) error
	Get(ctx context.Context, notificationID string) (*domain.Notification, error)
	List(ctx context.Context, f domain.NotificationFilter) ([]domain.Notification, error)
	Cancel(ctx context.Context, notificationID string) (*domain.Notification, error)
	Retry(ctx context.Context, notificationID string) (*domain.Notification, error)
	Resend(ctx context.Context, notificationID string) (*domain.Notification, error)
	CancelCampaign(ctx context.Context, campaignID string) (int, error)
	CountActive(ctx context.Context, campaignID string) (int, error)
	Requeue(ctx context.Context) (int, error)
	Inbox(ctx context.Context, recipientID string, unreadOnly bool) ([]domain.Notification, error)
	MarkRead(ctx context.Context, recipientID, notificationID string) (*domain.Notification, error)
}

type Options struct {
	DefaultMaxRetries int
}

type service struct {
	store     Store
	queue     Queue
	templates TemplateSource
	events    EventRecorder
	opts      Options
	log       *zap.Logger
	now       func() time.Time
}

func NewService(store Store, queue Queue, templates TemplateSource, events EventRecorder, opts Options, log *zap.Logger) Service {
	return &service{
		store:     store,
		queue:     queue,
		templates: templates,
		events:    events,
		opts:      opts,
		log:       log,
		now:       time.Now,
	}
}

func (s *service) Enqueue(ctx context.Context, req domain.CreateNotificationRequest) (*domain.Notification, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	n := &domain.Notification{
		NotificationID: id.New(),
		Type:           req.Type,
		Channels:       dedupeChannels(req.Channels),
		Priority:       req.Priority,
		Recipient:      req.Recipient,
		ScheduledAt:    now,
		MaxRetries:     s.opts.DefaultMaxRetries,
		Metadata:       domain.Metadata{Source: req.Source, CorrelationID: req.CorrelationID},
	}
	if req.ScheduledAt != nil {
		n.ScheduledAt = req.ScheduledAt.UTC()
	}
	if req.MaxRetries != nil {
		n.MaxRetries = *req.MaxRetries
	}

	if req.TemplateID != "" {
		tpl, err := s.templates.Get(ctx, req.TemplateID)
		if err != nil {
			return nil, err
		}
		if !tpl.IsActive {
			return nil, fmt.Errorf("template %s is inactive: %w", tpl.TemplateID, domain.ErrBadRequest)
		}
		vars := mergeVars(nil, req.Variables, req.Recipient)
		content, values, err := render.RenderAll(tpl, n.Channels, vars)
		if err != nil {
			return nil, err
		}
		n.TemplateID = tpl.TemplateID
		n.Content = content
		n.Variables = values
		if n.Type == "" {
			n.Type = tpl.Type
		}
	} else {
		if strings.TrimSpace(req.Body) == "" {
			return nil, fmt.Errorf("body or template_id is required: %w", domain.ErrBadRequest)
		}
		for _, ch := range n.Channels {
			n.Content = append(n.Content, domain.RenderedContent{Channel: ch, Title: req.Title, Body: req.Body})
		}
		n.Variables = req.Variables
	}
	if n.Type == "" {
		n.Type = domain.TypeGeneral
	}
	if !n.Type.Valid() {
		return nil, fmt.Errorf("unknown type %q: %w", n.Type, domain.ErrBadRequest)
	}

	if !s.prepare(n, now) {
		return nil, fmt.Errorf("recipient has no address for any of %v: %w", n.Channels, domain.ErrBadRequest)
	}
	if err := s.store.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	if n.TemplateID != "" {
		if err := s.templates.MarkUsed(ctx, n.TemplateID, 1); err != nil {
			s.log.Warn("mark template used", zap.String("template_id", n.TemplateID), zap.Error(err))
		}
	}
	return s.queueUp(ctx, n)
}

// prepare fills defaults and rejects channels the recipient cannot be reached on.
// It reports false when no channel is deliverable.
func (s *service) prepare(n *domain.Notification, now time.Time) bool {
	if n.Priority == "" {
		n.Priority = domain.PriorityNormal
	}
	if n.ScheduledAt.IsZero() {
		n.ScheduledAt = now
	}
	if n.Status == "" {
		n.Status = domain.StatusPending
	}
	n.Version = 1
	n.CreatedAt = now
	n.UpdatedAt = now
	deliverable := false
	for _, ch := range n.Channels {
		d := n.Delivery(ch)
		d.UpdatedAt = now
		if n.Recipient.Address(ch) == "" {
			d.State = domain.DeliveryRejected
			d.LastError = "recipient has no " + strings.ToLower(string(ch)) + " address"
			continue
		}
		deliverable = true
	}
	return deliverable
}

// queueUp moves a freshly created notification to QUEUED and pushes it.
// A failed push leaves it QUEUED in the store; Requeue picks it up on restart.
func (s *service) queueUp(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	queued, err := Mutate(ctx, s.store, n.NotificationID, s.now, func(n *domain.Notification) error {
		if n.Status != domain.StatusPending {
			return ErrSkip
		}
		n.Status = domain.StatusQueued
		return nil
	})
	if errors.Is(err, ErrSkip) {
		return queued, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.queue.Push(ctx, domain.QueueItemFor(queued)); err != nil {
		return nil, fmt.Errorf("push notification %s: %w", queued.NotificationID, err)
	}
	metrics.NotificationsEnqueued.WithLabelValues(string(queued.Priority)).Inc()
	return queued, nil
}

// EnqueueBatch persists and queues notifications built by a campaign run.
// Notifications arriving already FAILED (render errors) are stored but not
// queued. Ids that already exist are skipped, so re-releasing a batch after a
// restart does not duplicate sends.
func (s *service) EnqueueBatch(ctx context.Context, ns []*domain.Notification) error {
	now := s.now().UTC()
	for _, n := range ns {
		if n.NotificationID == "" {
			n.NotificationID = id.New()
		}
		if !s.prepare(n, now) && n.Status != domain.StatusFailed {
			n.Status = domain.StatusFailed
			n.FailureReason = "recipient has no deliverable address"
		}
		err := s.store.Create(ctx, n)
		if errors.Is(err, domain.ErrConflict) {
			s.log.Debug("notification already released", zap.String("notification_id", n.NotificationID))
			continue
		}
		if err != nil {
			return fmt.Errorf("create notification: %w", err)
		}
		if n.Status == domain.StatusFailed {
			continue
		}
		if _, err := s.queueUp(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) Get(ctx context.Context, notificationID string) (*domain.Notification, error) {
	return s.store.Get(ctx, notificationID)
}

func (s *service) List(ctx context.Context, f domain.NotificationFilter) ([]domain.Notification, error) {
	return s.store.List(ctx, f)
}

func (s *service) Cancel(ctx context.Context, notificationID string) (*domain.Notification, error) {
	n, err := Mutate(ctx, s.store, notificationID, s.now, func(n *domain.Notification) error {
		switch {
		case n.Status == domain.StatusSending:
			return fmt.Errorf("notification %s is being sent: %w", n.NotificationID, domain.ErrAlreadyInFlight)
		case !n.Status.Cancellable():
			return fmt.Errorf("notification %s is %s: %w", n.NotificationID, n.Status, domain.ErrConflict)
		}
		n.Status = domain.StatusCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.queue.Remove(ctx, notificationID); err != nil {
		s.log.Warn("remove cancelled notification from queue", zap.String("notification_id", notificationID), zap.Error(err))
	}
	return n, nil
}

func (s *service) Retry(ctx context.Context, notificationID string) (*domain.Notification, error) {
	n, err := Mutate(ctx, s.store, notificationID, s.now, func(n *domain.Notification) error {
		if n.Status != domain.StatusFailed {
			return fmt.Errorf("only failed notifications can be retried, %s is %s: %w", n.NotificationID, n.Status, domain.ErrConflict)
		}
		if !n.CanRetry() {
			return fmt.Errorf("notification %s exhausted %d retries: %w", n.NotificationID, n.MaxRetries, domain.ErrConflict)
		}
		retryable := false
		for _, ch := range n.Channels {
			if n.Recipient.Address(ch) == "" {
				continue
			}
			d := n.Delivery(ch)
			d.State = domain.DeliveryPending
			retryable = true
		}
		if !retryable {
			return fmt.Errorf("notification %s has no deliverable channel: %w", n.NotificationID, domain.ErrConflict)
		}
		n.RetryCount++
		n.Status = domain.StatusQueued
		n.FailureReason = ""
		now := s.now().UTC()
		n.NextAttemptAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := s.queue.Push(ctx, domain.QueueItemFor(n)); err != nil {
		return nil, fmt.Errorf("push notification %s: %w", n.NotificationID, err)
	}
	return n, nil
}

// Resend creates a fresh notification with the same rendered content. The copy
// has no campaign linkage so campaign statistics are not inflated.
func (s *service) Resend(ctx context.Context, notificationID string) (*domain.Notification, error) {
	src, err := s.store.Get(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	if !src.Status.Terminal() {
		return nil, fmt.Errorf("notification %s is still %s: %w", src.NotificationID, src.Status, domain.ErrConflict)
	}
	now := s.now().UTC()
	n := &domain.Notification{
		NotificationID: id.New(),
		Type:           src.Type,
		Content:        append([]domain.RenderedContent(nil), src.Content...),
		Channels:       append([]domain.Channel(nil), src.Channels...),
		Priority:       src.Priority,
		Recipient:      src.Recipient,
		TemplateID:     src.TemplateID,
		Variables:      src.Variables,
		ScheduledAt:    now,
		MaxRetries:     src.MaxRetries,
		Metadata: domain.Metadata{
			Source:        src.Metadata.Source,
			CorrelationID: src.Metadata.CorrelationID,
			Test:          src.Metadata.Test,
			ResentFrom:    src.NotificationID,
		},
	}
	if !s.prepare(n, now) {
		return nil, fmt.Errorf("recipient has no deliverable address: %w", domain.ErrConflict)
	}
	if err := s.store.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	return s.queueUp(ctx, n)
}

func (s *service) CancelCampaign(ctx context.Context, campaignID string) (int, error) {
	ns, err := s.store.List(ctx, domain.NotificationFilter{CampaignID: campaignID})
	if err != nil {
		return 0, err
	}
	cancelled := 0
	for i := range ns {
		if !ns[i].Status.Cancellable() {
			continue
		}
		_, err := s.Cancel(ctx, ns[i].NotificationID)
		switch {
		case err == nil:
			cancelled++
		case errors.Is(err, domain.ErrAlreadyInFlight), errors.Is(err, domain.ErrConflict):
			// claimed by a worker in the meantime
		default:
			return cancelled, err
		}
	}
	return cancelled, nil
}

func (s *service) CountActive(ctx context.Context, campaignID string) (int, error) {
	ns, err := s.store.List(ctx, domain.NotificationFilter{CampaignID: campaignID})
	if err != nil {
		return 0, err
	}
	active := 0
	for i := range ns {
		if !ns[i].Status.Terminal() {
			active++
		}
	}
	return active, nil
}

// Requeue re-pushes every PENDING or QUEUED notification. The queue is an
// index over the store and can be rebuilt from it at startup.
func (s *service) Requeue(ctx context.Context) (int, error) {
	pushed := 0
	for _, st := range []domain.Status{domain.StatusPending, domain.StatusQueued} {
		ns, err := s.store.List(ctx, domain.NotificationFilter{Status: st})
		if err != nil {
			return pushed, err
		}
		for i := range ns {
			n := &ns[i]
			if st == domain.StatusPending {
				if _, err := s.queueUp(ctx, n); err != nil {
					return pushed, err
				}
			} else if err := s.queue.Push(ctx, domain.QueueItemFor(n)); err != nil {
				return pushed, err
			}
			pushed++
		}
	}
	if pushed > 0 {
		s.log.Info("requeued notifications from store", zap.Int("count", pushed))
	}
	return pushed, nil
}

func (s *service) Inbox(ctx context.Context, recipientID string, unreadOnly bool) ([]domain.Notification, error) {
	ns, err := s.store.List(ctx, domain.NotificationFilter{RecipientID: recipientID, Channel: domain.ChannelInApp})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Notification, 0, len(ns))
	for i := range ns {
		n := &ns[i]
		st := n.Delivery(domain.ChannelInApp).State
		if st != domain.DeliverySent && st != domain.DeliveryDelivered {
			continue
		}
		if unreadOnly && n.ReadAt != nil {
			continue
		}
		out = append(out, *n)
	}
	return out, nil
}

// MarkRead records an inbox open; event ingestion moves the notification to READ.
func (s *service) MarkRead(ctx context.Context, recipientID, notificationID string) (*domain.Notification, error) {
	n, err := s.store.Get(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	if n.Recipient.ID != recipientID || !n.HasChannel(domain.ChannelInApp) {
		return nil, fmt.Errorf("notification %s not in inbox of %s: %w", notificationID, recipientID, domain.ErrNotFound)
	}
	if st := n.Delivery(domain.ChannelInApp).State; st != domain.DeliverySent && st != domain.DeliveryDelivered {
		return nil, fmt.Errorf("notification %s has not reached the inbox yet: %w", notificationID, domain.ErrConflict)
	}
	if n.ReadAt == nil {
		err := s.events.Record(ctx, domain.DeliveryEvent{
			NotificationID: notificationID,
			Channel:        domain.ChannelInApp,
			Kind:           domain.EventOpened,
			Timestamp:      s.now().UTC(),
		})
		if err != nil {
			return nil, err
		}
	}
	return s.store.Get(ctx, notificationID)
}

// mergeVars layers variables: recipient built-ins < overrides < recipient variables.
func mergeVars(overrides, provided map[string]string, r domain.Recipient) map[string]string {
	out := map[string]string{}
	if r.Name != "" {
		out["recipient_name"] = r.Name
	}
	if r.Email != "" {
		out["recipient_email"] = r.Email
	}
	if r.Phone != "" {
		out["recipient_phone"] = r.Phone
	}
	for k, v := range overrides {
		out[k] = v
	}
	for k, v := range provided {
		out[k] = v
	}
	for k, v := range r.Variables {
		out[k] = v
	}
	return out
}

// MergeVars is the variable precedence used for campaign recipients.
func MergeVars(campaignOverrides map[string]string, r domain.Recipient) map[string]string {
	return mergeVars(campaignOverrides, nil, r)
}

func dedupeChannels(chs []domain.Channel) []domain.Channel {
	seen := map[domain.Channel]bool{}
	out := make([]domain.Channel, 0, len(chs))
	for _, ch := range chs {
		if !seen[ch] {
			seen[ch] = true
			out = append(out, ch)
		}
	}
	return out
}
