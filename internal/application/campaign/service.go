package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/clinic-notify/internal/application/render"
	"github.com/clinic-notify/internal/domain"
	"github.com/clinic-notify/internal/pkg/id"
	"github.com/clinic-notify/internal/pkg/keylock"
	"github.com/clinic-notify/internal/pkg/validate"
	"go.uber.org/zap"
)

// Repository persists campaigns. Save only succeeds when the stored version
// equals expectedVersion, otherwise it returns domain.ErrVersionConflict.
type Repository interface {
	Create(ctx context.Context, c *domain.Campaign) error
	Get(ctx context.Context, campaignID string) (*domain.Campaign, error)
	Save(ctx context.Context, c *domain.Campaign, expectedVersion int64) error
	Delete(ctx context.Context, campaignID string) error
	List(ctx context.Context, f domain.CampaignFilter) ([]domain.Campaign, error)
}

type TemplateSource interface {
	Get(ctx context.Context, templateID string) (*domain.Template, error)
	MarkUsed(ctx context.Context, templateID string, n int) error
}

// Notifier creates and tracks the notifications of a campaign run.
type Notifier interface {
	EnqueueBatch(ctx context.Context, ns []*domain.Notification) error
	CancelCampaign(ctx context.Context, campaignID string) (int, error)
	CountActive(ctx context.Context, campaignID string) (int, error)
}

type StatsSource interface {
	Scope(ctx context.Context, scope domain.Scope) (*domain.ScopeStats, error)
}

// Directory resolves "all" and "segment" audiences to recipients.
type Directory interface {
	Resolve(ctx context.Context, a domain.Audience) ([]domain.Recipient, error)
}

// SnapshotStore keeps the audience frozen at start.
type SnapshotStore interface {
	Put(ctx context.Context, key string, recipients []domain.Recipient) error
	Get(ctx context.Context, key string) ([]domain.Recipient, error)
	Delete(ctx context.Context, key string) error
}

type Service interface {
	Create(ctx context.Context, req domain.CreateCampaignRequest) (*domain.Campaign, error)
	Update(ctx context.Context, campaignID string, req domain.UpdateCampaignRequest) (*domain.Campaign, error)
	Delete(ctx context.Context, campaignID string) error
	Schedule(ctx context.Context, campaignID string) (*domain.Campaign, error)
	Start(ctx context.Context, campaignID string) (*domain.Campaign, error)
	Pause(ctx context.Context, campaignID string) (*domain.Campaign, error)
	Resume(ctx context.Context, campaignID string) (*domain.Campaign, error)
	Stop(ctx context.Context, campaignID string) (*domain.Campaign, error)
	Get(ctx context.Context, campaignID string) (*domain.Campaign, error)
	List(ctx context.Context, f domain.CampaignFilter) ([]domain.Campaign, error)
	Stats(ctx context.Context, campaignID string) (*domain.CampaignStats, error)
	// Run resumes RUNNING campaigns and starts SCHEDULED ones when due.
	// It blocks until ctx is done, then stops every runner.
	Run(ctx context.Context) error
}

type Options struct {
	Tick              time.Duration
	CompletionCheck   time.Duration
	DefaultMaxRetries int
}

const maxSaveAttempts = 5

type service struct {
	repo      Repository
	templates TemplateSource
	notifier  Notifier
	stats     StatsSource
	directory Directory
	snapshots SnapshotStore
	opts      Options
	log       *zap.Logger
	now       func() time.Time
	locks     *keylock.Locker

	root    context.Context
	stopAll context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	runners map[string]*runner
}

func NewService(repo Repository, templates TemplateSource, notifier Notifier, stats StatsSource, directory Directory, snapshots SnapshotStore, opts Options, log *zap.Logger) Service {
	if opts.Tick <= 0 {
		opts.Tick = 15 * time.Second
	}
	if opts.CompletionCheck <= 0 {
		opts.CompletionCheck = 5 * time.Second
	}
	root, stop := context.WithCancel(context.Background())
	return &service{
		repo:      repo,
		templates: templates,
		notifier:  notifier,
		stats:     stats,
		directory: directory,
		snapshots: snapshots,
		opts:      opts,
		log:       log,
		now:       time.Now,
		locks:     keylock.New(),
		root:      root,
		stopAll:   stop,
		runners:   make(map[string]*runner),
	}
}

func (s *service) Create(ctx context.Context, req domain.CreateCampaignRequest) (*domain.Campaign, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	c := &domain.Campaign{
		CampaignID:  id.New(),
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Type:        req.Type,
		Status:      domain.CampaignDraft,
		Audience:    req.Audience,
		Content:     req.Content,
		Schedule:    req.Schedule,
		Delivery:    req.Delivery,
		RunNumber:   1,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.checkDefinition(ctx, c); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	s.log.Info("campaign created", zap.String("campaign_id", c.CampaignID), zap.String("name", c.Name))
	return c, nil
}

func (s *service) checkDefinition(ctx context.Context, c *domain.Campaign) error {
	if c.Name == "" {
		return fmt.Errorf("name is required: %w", domain.ErrBadRequest)
	}
	if !c.Type.Valid() {
		return fmt.Errorf("unknown campaign type %q: %w", c.Type, domain.ErrBadRequest)
	}
	if c.Audience.Type == "" {
		c.Audience.Type = domain.AudienceAll
	}
	if !c.Audience.Type.Valid() {
		return fmt.Errorf("unknown audience type %q: %w", c.Audience.Type, domain.ErrBadRequest)
	}
	for _, r := range c.Audience.Recipients {
		if err := validate.Struct(r); err != nil {
			return err
		}
	}
	if c.Audience.Type == domain.AudienceCustom && len(c.Audience.Recipients) == 0 && !c.Content.TestMode {
		return fmt.Errorf("custom audience needs recipients: %w", domain.ErrBadRequest)
	}
	if c.Content.TestMode && len(c.Content.TestRecipients) == 0 {
		return fmt.Errorf("test mode needs test recipients: %w", domain.ErrBadRequest)
	}
	if !c.Schedule.Frequency.Valid() {
		return fmt.Errorf("unknown frequency %q: %w", c.Schedule.Frequency, domain.ErrBadRequest)
	}
	if c.Schedule.StartAt != nil {
		if _, err := c.Schedule.StartInstant(); err != nil {
			return err
		}
		if c.Schedule.EndAt != nil && !c.Schedule.EndAt.After(*c.Schedule.StartAt) {
			return fmt.Errorf("end_at must be after start_at: %w", domain.ErrBadRequest)
		}
	}
	if c.Delivery.Priority == "" {
		c.Delivery.Priority = domain.PriorityNormal
	}
	if len(c.Delivery.Channels) == 0 {
		return fmt.Errorf("at least one channel is required: %w", domain.ErrBadRequest)
	}
	if _, err := s.templates.Get(ctx, c.Content.TemplateID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("template %s does not exist: %w", c.Content.TemplateID, domain.ErrBadRequest)
		}
		return err
	}
	return nil
}

func (s *service) Update(ctx context.Context, campaignID string, req domain.UpdateCampaignRequest) (*domain.Campaign, error) {
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(campaignID)
	defer unlock()
	return s.update(ctx, campaignID, func(c *domain.Campaign) error {
		if !c.Status.Editable() {
			return fmt.Errorf("campaign %s is %s: %w", c.CampaignID, c.Status, domain.ErrConflict)
		}
		if req.Name != nil {
			c.Name = strings.TrimSpace(*req.Name)
		}
		if req.Description != nil {
			c.Description = *req.Description
		}
		if req.Type != nil {
			c.Type = *req.Type
		}
		if req.Audience != nil {
			c.Audience = *req.Audience
		}
		if req.Content != nil {
			c.Content = *req.Content
		}
		if req.Schedule != nil {
			c.Schedule = *req.Schedule
		}
		if req.Delivery != nil {
			if err := validate.Struct(*req.Delivery); err != nil {
				return err
			}
			c.Delivery = *req.Delivery
		}
		return s.checkDefinition(ctx, c)
	})
}

func (s *service) Delete(ctx context.Context, campaignID string) error {
	unlock := s.locks.Lock(campaignID)
	defer unlock()
	c, err := s.repo.Get(ctx, campaignID)
	if err != nil {
		return err
	}
	if c.Status != domain.CampaignDraft {
		return fmt.Errorf("only draft campaigns can be deleted, %s is %s: %w", campaignID, c.Status, domain.ErrConflict)
	}
	return s.repo.Delete(ctx, campaignID)
}

func (s *service) Schedule(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	unlock := s.locks.Lock(campaignID)
	defer unlock()
	return s.update(ctx, campaignID, func(c *domain.Campaign) error {
		if c.Status != domain.CampaignDraft {
			return fmt.Errorf("campaign %s is %s: %w", c.CampaignID, c.Status, domain.ErrConflict)
		}
		if _, err := c.Schedule.StartInstant(); err != nil {
			return err
		}
		c.Status = domain.CampaignSched
		return nil
	})
}

func (s *service) Start(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	unlock := s.locks.Lock(campaignID)
	defer unlock()
	c, err := s.repo.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CampaignDraft && c.Status != domain.CampaignSched {
		return nil, fmt.Errorf("campaign %s is %s: %w", campaignID, c.Status, domain.ErrConflict)
	}

	tpl, err := s.templates.Get(ctx, c.Content.TemplateID)
	if err != nil {
		return nil, err
	}
	if !tpl.IsActive {
		return nil, fmt.Errorf("template %s is inactive: %w", tpl.TemplateID, domain.ErrBadRequest)
	}
	for _, ch := range c.Delivery.Channels {
		if render.Apply(tpl, ch, nil).Body == "" {
			return nil, fmt.Errorf("template %s has no %s content: %w", tpl.TemplateID, ch, domain.ErrBadRequest)
		}
	}
	recipients, err := s.audience(ctx, c)
	if err != nil {
		return nil, err
	}
	if len(recipients) > 0 {
		if _, _, err := render.RenderAll(tpl, c.Delivery.Channels, recipientVars(c, recipients[0])); err != nil {
			return nil, err
		}
	}

	key := snapshotKey(c.CampaignID)
	if err := s.snapshots.Put(ctx, key, recipients); err != nil {
		return nil, fmt.Errorf("snapshot audience: %w", err)
	}

	now := s.now().UTC()
	started, err := s.update(ctx, campaignID, func(c *domain.Campaign) error {
		if c.Status != domain.CampaignDraft && c.Status != domain.CampaignSched {
			return fmt.Errorf("campaign %s is %s: %w", c.CampaignID, c.Status, domain.ErrConflict)
		}
		c.Audience.TotalRecipients = len(recipients)
		c.Audience.SnapshotKey = key
		c.Progress = domain.Progress{
			TotalBatches: len(domain.Batches(len(recipients), c.Delivery.BatchSize)),
			StartedAt:    &now,
		}
		c.Status = domain.CampaignRunning
		if len(recipients) == 0 {
			c.Status = domain.CampaignCompleted
			c.Progress.CompletedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("campaign started",
		zap.String("campaign_id", started.CampaignID),
		zap.Int("recipients", started.Audience.TotalRecipients),
		zap.Int("batches", started.Progress.TotalBatches),
		zap.Bool("test_mode", started.Content.TestMode))
	if started.Status == domain.CampaignCompleted {
		s.scheduleNext(ctx, started)
		return started, nil
	}
	s.spawn(started.CampaignID)
	return started, nil
}

func (s *service) audience(ctx context.Context, c *domain.Campaign) ([]domain.Recipient, error) {
	if c.Content.TestMode {
		if len(c.Content.TestRecipients) == 0 {
			return nil, fmt.Errorf("test mode needs test recipients: %w", domain.ErrBadRequest)
		}
		return c.Content.TestRecipients, nil
	}
	if c.Audience.Type == domain.AudienceCustom {
		return c.Audience.Recipients, nil
	}
	rs, err := s.directory.Resolve(ctx, c.Audience)
	if err != nil {
		return nil, fmt.Errorf("resolve audience: %w", err)
	}
	return rs, nil
}

func (s *service) Pause(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	unlock := s.locks.Lock(campaignID)
	defer unlock()
	_, err := s.update(ctx, campaignID, func(c *domain.Campaign) error {
		if c.Status != domain.CampaignRunning {
			return fmt.Errorf("campaign %s is %s: %w", c.CampaignID, c.Status, domain.ErrConflict)
		}
		c.Status = domain.CampaignPaused
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.halt(campaignID)
	s.log.Info("campaign paused", zap.String("campaign_id", campaignID))
	return s.repo.Get(ctx, campaignID)
}

func (s *service) Resume(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	unlock := s.locks.Lock(campaignID)
	defer unlock()
	c, err := s.update(ctx, campaignID, func(c *domain.Campaign) error {
		if c.Status != domain.CampaignPaused {
			return fmt.Errorf("campaign %s is %s: %w", c.CampaignID, c.Status, domain.ErrConflict)
		}
		c.Status = domain.CampaignRunning
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.spawn(campaignID)
	s.log.Info("campaign resumed", zap.String("campaign_id", campaignID))
	return c, nil
}

// Stop cancels the campaign. The in-flight batch is allowed to finish so its
// notifications are cancelled together with the rest.
func (s *service) Stop(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	unlock := s.locks.Lock(campaignID)
	defer unlock()
	_, err := s.update(ctx, campaignID, func(c *domain.Campaign) error {
		switch c.Status {
		case domain.CampaignSched, domain.CampaignRunning, domain.CampaignPaused:
		default:
			return fmt.Errorf("campaign %s is %s: %w", c.CampaignID, c.Status, domain.ErrConflict)
		}
		c.Status = domain.CampaignCancelled
		now := s.now().UTC()
		c.Progress.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.halt(campaignID)
	cancelled, err := s.notifier.CancelCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("cancel campaign notifications: %w", err)
	}
	s.log.Info("campaign stopped", zap.String("campaign_id", campaignID), zap.Int("cancelled_notifications", cancelled))
	return s.repo.Get(ctx, campaignID)
}

func (s *service) Get(ctx context.Context, campaignID string) (*domain.Campaign, error) {
	return s.repo.Get(ctx, campaignID)
}

func (s *service) List(ctx context.Context, f domain.CampaignFilter) ([]domain.Campaign, error) {
	return s.repo.List(ctx, f)
}

func (s *service) Stats(ctx context.Context, campaignID string) (*domain.CampaignStats, error) {
	c, err := s.repo.Get(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	st, err := s.stats.Scope(ctx, domain.CampaignScope(campaignID))
	if err != nil {
		return nil, err
	}
	return &domain.CampaignStats{
		CampaignID:      c.CampaignID,
		Status:          c.Status,
		TotalRecipients: c.Audience.TotalRecipients,
		Progress:        c.Progress,
		Totals:          st.Totals,
		Rates:           st.Rates,
		ByChannel:       st.ByChannel,
	}, nil
}

// update loads, mutates and saves a campaign with a version check.
func (s *service) update(ctx context.Context, campaignID string, fn func(c *domain.Campaign) error) (*domain.Campaign, error) {
	for attempt := 1; ; attempt++ {
		c, err := s.repo.Get(ctx, campaignID)
		if err != nil {
			return nil, err
		}
		prev := c.Version
		if err := fn(c); err != nil {
			return nil, err
		}
		c.Version = prev + 1
		c.UpdatedAt = s.now().UTC()
		err = s.repo.Save(ctx, c, prev)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) || attempt >= maxSaveAttempts {
			return nil, fmt.Errorf("save campaign %s: %w", campaignID, err)
		}
	}
}

// scheduleNext creates the next run of a recurring campaign.
func (s *service) scheduleNext(ctx context.Context, c *domain.Campaign) {
	if c.Schedule.StartAt == nil {
		return
	}
	start, err := c.Schedule.StartInstant()
	if err != nil {
		return
	}
	next, ok := c.Schedule.Next(start)
	if !ok {
		return
	}
	if c.Schedule.EndAt != nil && !next.Before(*c.Schedule.EndAt) {
		return
	}
	parent := c.ParentID
	if parent == "" {
		parent = c.CampaignID
	}
	now := s.now().UTC()
	child := *c
	child.CampaignID = id.New()
	child.ParentID = parent
	child.RunNumber = c.RunNumber + 1
	child.Status = domain.CampaignSched
	child.Schedule.StartAt = &next
	child.Audience.TotalRecipients = 0
	child.Audience.SnapshotKey = ""
	child.Progress = domain.Progress{}
	child.Version = 1
	child.CreatedAt = now
	child.UpdatedAt = now
	if err := s.repo.Create(ctx, &child); err != nil {
		s.log.Error("schedule next campaign run", zap.String("campaign_id", c.CampaignID), zap.Error(err))
		return
	}
	s.log.Info("next campaign run scheduled",
		zap.String("campaign_id", child.CampaignID),
		zap.String("parent_id", parent),
		zap.Int("run_number", child.RunNumber),
		zap.Time("start_at", next))
}

func snapshotKey(campaignID string) string {
	return "campaigns/" + campaignID + "/audience.json"
}
