package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clinic-notify/internal/application/notification"
	"github.com/clinic-notify/internal/application/render"
	"github.com/clinic-notify/internal/domain"
	"github.com/clinic-notify/internal/pkg/metrics"
	"go.uber.org/zap"
)

type runner struct {
	cancel context.CancelFunc
	done   chan struct{}
}

var errNotRunning = errors.New("campaign not running")

// spawn starts the batch runner for a RUNNING campaign unless one is active.
func (s *service) spawn(campaignID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runners[campaignID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(s.root)
	r := &runner{cancel: cancel, done: make(chan struct{})}
	s.runners[campaignID] = r
	s.wg.Add(1)
	metrics.CampaignsRunning.Inc()
	go func() {
		defer s.wg.Done()
		defer metrics.CampaignsRunning.Dec()
		defer func() {
			s.mu.Lock()
			if s.runners[campaignID] == r {
				delete(s.runners, campaignID)
			}
			s.mu.Unlock()
			close(r.done)
		}()
		if err := s.run(ctx, campaignID); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, errNotRunning) {
			s.log.Error("campaign runner stopped", zap.String("campaign_id", campaignID), zap.Error(err))
		}
	}()
}

// halt cancels the campaign's runner and waits for its in-flight batch.
func (s *service) halt(campaignID string) {
	s.mu.Lock()
	r, ok := s.runners[campaignID]
	s.mu.Unlock()
	if !ok {
		return
	}
	r.cancel()
	<-r.done
}

func (s *service) run(ctx context.Context, campaignID string) error {
	c, err := s.repo.Get(ctx, campaignID)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignRunning {
		return errNotRunning
	}
	recipients, err := s.snapshots.Get(ctx, c.Audience.SnapshotKey)
	if err != nil {
		return fmt.Errorf("load audience snapshot: %w", err)
	}
	tpl, err := s.templates.Get(ctx, c.Content.TemplateID)
	if err != nil {
		return fmt.Errorf("load template: %w", err)
	}

	sizes := domain.Batches(len(recipients), c.Delivery.BatchSize)
	offset := 0
	for i := 0; i < c.Progress.ReleasedBatches && i < len(sizes); i++ {
		offset += sizes[i]
	}
	for i := c.Progress.ReleasedBatches; i < len(sizes); i++ {
		if i > 0 && c.Delivery.Delay() > 0 {
			t := time.NewTimer(c.Delivery.Delay())
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// A started batch is always finished, even if the runner is cancelled meanwhile.
		batch := recipients[offset : offset+sizes[i]]
		if err := s.release(context.WithoutCancel(ctx), c, tpl, i, offset, batch); err != nil {
			return err
		}
		offset += sizes[i]
	}
	return s.awaitCompletion(ctx, campaignID)
}

func (s *service) release(ctx context.Context, c *domain.Campaign, tpl *domain.Template, batchIndex, offset int, batch []domain.Recipient) error {
	now := s.now().UTC()
	ns := make([]*domain.Notification, 0, len(batch))
	rendered := 0
	for j, r := range batch {
		n := &domain.Notification{
			NotificationID: fmt.Sprintf("%s-%d", c.CampaignID, offset+j),
			Type:           tpl.Type,
			Channels:       append([]domain.Channel(nil), c.Delivery.Channels...),
			Priority:       c.Delivery.Priority,
			Recipient:      r,
			TemplateID:     tpl.TemplateID,
			CampaignID:     c.CampaignID,
			BatchIndex:     batchIndex,
			ScheduledAt:    now,
			MaxRetries:     s.opts.DefaultMaxRetries,
			Metadata: domain.Metadata{
				Source:        "campaign",
				CorrelationID: c.CampaignID,
				Test:          c.Content.TestMode,
			},
		}
		if c.Delivery.MaxRetries != nil {
			n.MaxRetries = *c.Delivery.MaxRetries
		}
		content, values, err := render.RenderAll(tpl, n.Channels, recipientVars(c, r))
		if err != nil {
			n.Status = domain.StatusFailed
			n.FailureReason = err.Error()
		} else {
			n.Content = content
			n.Variables = values
			rendered++
		}
		ns = append(ns, n)
	}
	if err := s.notifier.EnqueueBatch(ctx, ns); err != nil {
		return fmt.Errorf("enqueue batch %d: %w", batchIndex, err)
	}
	if rendered > 0 {
		if err := s.templates.MarkUsed(ctx, tpl.TemplateID, rendered); err != nil {
			s.log.Warn("mark template used", zap.String("template_id", tpl.TemplateID), zap.Error(err))
		}
	}
	_, err := s.update(ctx, c.CampaignID, func(c *domain.Campaign) error {
		if c.Progress.ReleasedBatches > batchIndex {
			return nil
		}
		c.Progress.ReleasedBatches = batchIndex + 1
		c.Progress.ReleasedRecipients = offset + len(batch)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	metrics.BatchesReleased.Inc()
	s.log.Info("campaign batch released",
		zap.String("campaign_id", c.CampaignID),
		zap.Int("batch", batchIndex+1),
		zap.Int("size", len(batch)),
		zap.Int("failed_render", len(batch)-rendered))
	return nil
}

// awaitCompletion polls until no notification of the campaign is still active.
func (s *service) awaitCompletion(ctx context.Context, campaignID string) error {
	t := time.NewTicker(s.opts.CompletionCheck)
	defer t.Stop()
	for {
		active, err := s.notifier.CountActive(ctx, campaignID)
		if err != nil && ctx.Err() == nil {
			s.log.Warn("count active notifications", zap.String("campaign_id", campaignID), zap.Error(err))
		}
		if err == nil && active == 0 {
			return s.complete(ctx, campaignID)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (s *service) complete(ctx context.Context, campaignID string) error {
	now := s.now().UTC()
	c, err := s.update(ctx, campaignID, func(c *domain.Campaign) error {
		if c.Status != domain.CampaignRunning {
			return errNotRunning
		}
		c.Status = domain.CampaignCompleted
		c.Progress.CompletedAt = &now
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("campaign completed", zap.String("campaign_id", campaignID))
	s.scheduleNext(ctx, c)
	return nil
}

func (s *service) Run(ctx context.Context) error {
	running, err := s.repo.List(ctx, domain.CampaignFilter{Status: domain.CampaignRunning})
	if err != nil {
		return fmt.Errorf("list running campaigns: %w", err)
	}
	for _, c := range running {
		s.log.Info("resuming campaign", zap.String("campaign_id", c.CampaignID), zap.Int("released_batches", c.Progress.ReleasedBatches))
		s.spawn(c.CampaignID)
	}

	t := time.NewTicker(s.opts.Tick)
	defer t.Stop()
	for {
		s.startDue(ctx)
		select {
		case <-ctx.Done():
			s.stopAll()
			s.wg.Wait()
			return nil
		case <-t.C:
		}
	}
}

func (s *service) startDue(ctx context.Context) {
	scheduled, err := s.repo.List(ctx, domain.CampaignFilter{Status: domain.CampaignSched})
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error("list scheduled campaigns", zap.Error(err))
		}
		return
	}
	now := s.now()
	for _, c := range scheduled {
		at, err := c.Schedule.StartInstant()
		if err != nil || at.After(now) {
			continue
		}
		if _, err := s.Start(ctx, c.CampaignID); err != nil {
			s.log.Error("start scheduled campaign", zap.String("campaign_id", c.CampaignID), zap.Error(err))
		}
	}
}

func recipientVars(c *domain.Campaign, r domain.Recipient) map[string]string {
	return notification.MergeVars(c.Content.Variables, r)
}
