package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/clinic-notify/internal/domain"
)

type NotificationRepo struct {
	mu    sync.RWMutex
	items map[string]*domain.Notification
}

func NewNotificationRepo() *NotificationRepo {
	return &NotificationRepo{items: make(map[string]*domain.Notification)}
}

func (r *NotificationRepo) Create(_ context.Context, n *domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[n.NotificationID]; ok {
		return fmt.Errorf("notification %s already exists: %w", n.NotificationID, domain.ErrConflict)
	}
	r.items[n.NotificationID] = clone(n)
	return nil
}

func (r *NotificationRepo) Get(_ context.Context, notificationID string) (*domain.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.items[notificationID]
	if !ok {
		return nil, fmt.Errorf("notification %s: %w", notificationID, domain.ErrNotFound)
	}
	return clone(n), nil
}

func (r *NotificationRepo) Save(_ context.Context, n *domain.Notification, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[n.NotificationID]
	if !ok {
		return fmt.Errorf("notification %s: %w", n.NotificationID, domain.ErrNotFound)
	}
	if cur.Version != expectedVersion {
		return domain.ErrVersionConflict
	}
	r.items[n.NotificationID] = clone(n)
	return nil
}

func (r *NotificationRepo) List(_ context.Context, f domain.NotificationFilter) ([]domain.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []domain.Notification{}
	for _, k := range sortedKeys(r.items) {
		n := r.items[k]
		if !f.Match(n) {
			continue
		}
		out = append(out, *clone(n))
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}
