package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/clinic-notify/internal/domain"
)

type CampaignRepo struct {
	mu    sync.RWMutex
	items map[string]*domain.Campaign
}

func NewCampaignRepo() *CampaignRepo {
	return &CampaignRepo{items: make(map[string]*domain.Campaign)}
}

func (r *CampaignRepo) Create(_ context.Context, c *domain.Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[c.CampaignID]; ok {
		return fmt.Errorf("campaign %s already exists: %w", c.CampaignID, domain.ErrConflict)
	}
	r.items[c.CampaignID] = clone(c)
	return nil
}

func (r *CampaignRepo) Get(_ context.Context, campaignID string) (*domain.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[campaignID]
	if !ok {
		return nil, fmt.Errorf("campaign %s: %w", campaignID, domain.ErrNotFound)
	}
	return clone(c), nil
}

func (r *CampaignRepo) Save(_ context.Context, c *domain.Campaign, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[c.CampaignID]
	if !ok {
		return fmt.Errorf("campaign %s: %w", c.CampaignID, domain.ErrNotFound)
	}
	if cur.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	r.items[c.CampaignID] = clone(c)
	return nil
}

func (r *CampaignRepo) Delete(_ context.Context, campaignID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[campaignID]; !ok {
		return fmt.Errorf("campaign %s: %w", campaignID, domain.ErrNotFound)
	}
	delete(r.items, campaignID)
	return nil
}

func (r *CampaignRepo) List(_ context.Context, f domain.CampaignFilter) ([]domain.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []domain.Campaign{}
	for _, k := range sortedKeys(r.items) {
		c := r.items[k]
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.Type != "" && c.Type != f.Type {
			continue
		}
		out = append(out, *clone(c))
	}
	return out, nil
}
