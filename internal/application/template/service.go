package template

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/clinic-notify/internal/application/render"
	"github.com/clinic-notify/internal/domain"
	"github.com/clinic-notify/internal/pkg/id"
	"github.com/clinic-notify/internal/pkg/keylock"
	"github.com/clinic-notify/internal/pkg/validate"
	"go.uber.org/zap"
)

// Repository is the persistence the template service needs.
// Save replaces the definition fields only when the stored version equals
// expectedVersion; usage counters are left untouched.
type Repository interface {
	Create(ctx context.Context, t *domain.Template) error
	Get(ctx context.Context, templateID string) (*domain.Template, error)
	List(ctx context.Context) ([]domain.Template, error)
	Save(ctx context.Context, t *domain.Template, expectedVersion int64) error
	Delete(ctx context.Context, templateID string) error
	AddUsage(ctx context.Context, templateID string, n int64, at time.Time) error
}

type Service interface {
	Create(ctx context.Context, req domain.CreateTemplateRequest) (*domain.TemplateResult, error)
	Update(ctx context.Context, templateID string, req domain.UpdateTemplateRequest) (*domain.TemplateResult, error)
	Delete(ctx context.Context, templateID string) error
	Duplicate(ctx context.Context, templateID string) (*domain.Template, error)
	Get(ctx context.Context, templateID string) (*domain.Template, error)
	List(ctx context.Context, f domain.TemplateFilter) ([]domain.Template, error)
	MarkUsed(ctx context.Context, templateID string, n int) error
	Preview(ctx context.Context, templateID string, ch domain.Channel, vars map[string]string) (*domain.RenderedContent, error)
}

const maxSaveAttempts = 3

type service struct {
	repo  Repository
	locks *keylock.Locker
	log   *zap.Logger
	now   func() time.Time
}

func NewService(repo Repository, log *zap.Logger) Service {
	return &service{repo: repo, locks: keylock.New(), log: log, now: time.Now}
}

func (s *service) Create(ctx context.Context, req domain.CreateTemplateRequest) (*domain.TemplateResult, error) {
	if err := validate.StructAs(req, domain.ErrInvalidTemplate); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	t := &domain.Template{
		TemplateID:  id.New(),
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Type:        req.Type,
		Content:     req.Content,
		Variables:   req.Variables,
		Channels:    req.Channels,
		IsActive:    true,
		IsDefault:   req.IsDefault,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.IsActive != nil {
		t.IsActive = *req.IsActive
	}
	warnings, err := Validate(t)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}
	s.log.Info("template created", zap.String("template_id", t.TemplateID), zap.String("type", string(t.Type)))
	return &domain.TemplateResult{Template: t, Warnings: warnings}, nil
}

func (s *service) Update(ctx context.Context, templateID string, req domain.UpdateTemplateRequest) (*domain.TemplateResult, error) {
	if err := validate.StructAs(req, domain.ErrInvalidTemplate); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(templateID)
	defer unlock()

	for attempt := 1; ; attempt++ {
		t, err := s.repo.Get(ctx, templateID)
		if err != nil {
			return nil, err
		}
		prev := t.Version
		applyPatch(t, req)
		warnings, err := Validate(t)
		if err != nil {
			return nil, err
		}
		t.Version = prev + 1
		t.UpdatedAt = s.now().UTC()
		err = s.repo.Save(ctx, t, prev)
		if err == nil {
			return &domain.TemplateResult{Template: t, Warnings: warnings}, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) || attempt >= maxSaveAttempts {
			return nil, fmt.Errorf("update template: %w", err)
		}
		s.log.Debug("template version conflict, retrying", zap.String("template_id", templateID), zap.Int("attempt", attempt))
	}
}

func applyPatch(t *domain.Template, req domain.UpdateTemplateRequest) {
	if req.Name != nil {
		t.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		t.Description = *req.Description
	}
	if req.Type != nil {
		t.Type = *req.Type
	}
	if req.Content != nil {
		t.Content = *req.Content
	}
	if req.Variables != nil {
		t.Variables = *req.Variables
	}
	if req.Channels != nil {
		t.Channels = *req.Channels
	}
	if req.IsActive != nil {
		t.IsActive = *req.IsActive
	}
	if req.IsDefault != nil {
		t.IsDefault = *req.IsDefault
	}
}

func (s *service) Delete(ctx context.Context, templateID string) error {
	unlock := s.locks.Lock(templateID)
	defer unlock()

	t, err := s.repo.Get(ctx, templateID)
	if err != nil {
		return err
	}
	if t.IsDefault {
		return fmt.Errorf("template %s is a default template: %w", templateID, domain.ErrConflict)
	}
	return s.repo.Delete(ctx, templateID)
}

func (s *service) Duplicate(ctx context.Context, templateID string) (*domain.Template, error) {
	src, err := s.repo.Get(ctx, templateID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	dup := *src
	dup.TemplateID = id.New()
	dup.Name = src.Name + " (copy)"
	dup.IsDefault = false
	dup.UsageCount = 0
	dup.LastUsed = nil
	dup.Version = 1
	dup.CreatedAt = now
	dup.UpdatedAt = now
	dup.Variables = append([]domain.Variable(nil), src.Variables...)
	dup.Channels = append([]domain.Channel(nil), src.Channels...)
	if err := s.repo.Create(ctx, &dup); err != nil {
		return nil, fmt.Errorf("duplicate template: %w", err)
	}
	return &dup, nil
}

func (s *service) Get(ctx context.Context, templateID string) (*domain.Template, error) {
	return s.repo.Get(ctx, templateID)
}

func (s *service) List(ctx context.Context, f domain.TemplateFilter) ([]domain.Template, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]domain.Template, 0, len(all))
	for i := range all {
		t := &all[i]
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if f.Channel != "" && !t.HasChannel(f.Channel) {
			continue
		}
		if f.Active != nil && t.IsActive != *f.Active {
			continue
		}
		if q != "" && !matches(t, q) {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TemplateID < out[j].TemplateID })
	return out, nil
}

func matches(t *domain.Template, q string) bool {
	for _, s := range []string{t.Name, t.Description, t.Content.Subject, t.Content.Text} {
		if strings.Contains(strings.ToLower(s), q) {
			return true
		}
	}
	return false
}

func (s *service) MarkUsed(ctx context.Context, templateID string, n int) error {
	if n <= 0 {
		return nil
	}
	return s.repo.AddUsage(ctx, templateID, int64(n), s.now().UTC())
}

func (s *service) Preview(ctx context.Context, templateID string, ch domain.Channel, vars map[string]string) (*domain.RenderedContent, error) {
	t, err := s.repo.Get(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if ch == "" && len(t.Channels) > 0 {
		ch = t.Channels[0]
	}
	filled := make(map[string]string, len(t.Variables))
	for k, v := range vars {
		filled[k] = v
	}
	now := s.now()
	for _, v := range t.Variables {
		if _, ok := filled[v.Name]; !ok {
			filled[v.Name] = render.SampleValue(v, now)
		}
	}
	out, err := render.Render(t, ch, filled)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
