package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/clinic-notify/internal/domain"
)

type TemplateRepo struct {
	mu    sync.RWMutex
	items map[string]*domain.Template
}

func NewTemplateRepo() *TemplateRepo {
	return &TemplateRepo{items: make(map[string]*domain.Template)}
}

func (r *TemplateRepo) Create(_ context.Context, t *domain.Template) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[t.TemplateID]; ok {
		return fmt.Errorf("template %s already exists: %w", t.TemplateID, domain.ErrConflict)
	}
	r.items[t.TemplateID] = clone(t)
	return nil
}

func (r *TemplateRepo) Get(_ context.Context, templateID string) (*domain.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.items[templateID]
	if !ok {
		return nil, fmt.Errorf("template %s: %w", templateID, domain.ErrNotFound)
	}
	return clone(t), nil
}

func (r *TemplateRepo) List(_ context.Context) ([]domain.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Template, 0, len(r.items))
	for _, k := range sortedKeys(r.items) {
		out = append(out, *clone(r.items[k]))
	}
	return out, nil
}

// Save replaces the definition, keeping the stored usage counters.
func (r *TemplateRepo) Save(_ context.Context, t *domain.Template, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[t.TemplateID]
	if !ok {
		return fmt.Errorf("template %s: %w", t.TemplateID, domain.ErrNotFound)
	}
	if cur.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	next := clone(t)
	next.UsageCount = cur.UsageCount
	next.LastUsed = cur.LastUsed
	r.items[t.TemplateID] = next
	return nil
}

func (r *TemplateRepo) Delete(_ context.Context, templateID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[templateID]; !ok {
		return fmt.Errorf("template %s: %w", templateID, domain.ErrNotFound)
	}
	delete(r.items, templateID)
	return nil
}

func (r *TemplateRepo) AddUsage(_ context.Context, templateID string, n int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.items[templateID]
	if !ok {
		return fmt.Errorf("template %s: %w", templateID, domain.ErrNotFound)
	}
	t.UsageCount += n
	at = at.UTC()
	t.LastUsed = &at
	return nil
}
