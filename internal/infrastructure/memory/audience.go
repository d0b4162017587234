package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/clinic-notify/internal/domain"
)

// Patient is a directory row for the in-memory audience directory.
type Patient struct {
	Recipient  domain.Recipient
	Age        int
	Gender     string
	Department string
	LastVisit  time.Time
	Tags       []string
	Active     bool
}

// Directory resolves segment audiences over a fixed patient list.
type Directory struct {
	patients []Patient
	now      func() time.Time
}

func NewDirectory(patients []Patient) *Directory {
	return &Directory{patients: patients, now: time.Now}
}

func (d *Directory) Resolve(_ context.Context, a domain.Audience) ([]domain.Recipient, error) {
	out := []domain.Recipient{}
	for _, p := range d.patients {
		if !p.Active {
			continue
		}
		if a.Type == domain.AudienceSegment && !d.match(p, a.Filter) {
			continue
		}
		out = append(out, p.Recipient)
	}
	return out, nil
}

func (d *Directory) match(p Patient, f domain.AudienceFilter) bool {
	if f.AgeMin != nil && p.Age < *f.AgeMin {
		return false
	}
	if f.AgeMax != nil && p.Age > *f.AgeMax {
		return false
	}
	if f.Gender != "" && !strings.EqualFold(f.Gender, p.Gender) {
		return false
	}
	if len(f.Departments) > 0 && !containsFold(f.Departments, p.Department) {
		return false
	}
	if f.LastVisitWithin > 0 && p.LastVisit.Before(d.now().AddDate(0, 0, -f.LastVisitWithin)) {
		return false
	}
	for _, tag := range f.Tags {
		if !containsFold(p.Tags, tag) {
			return false
		}
	}
	return true
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// SnapshotStore keeps frozen audience lists keyed by object key.
type SnapshotStore struct {
	mu    sync.RWMutex
	items map[string][]domain.Recipient
}

func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{items: make(map[string][]domain.Recipient)}
}

func (s *SnapshotStore) Put(_ context.Context, key string, recipients []domain.Recipient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = append([]domain.Recipient{}, recipients...)
	return nil
}

func (s *SnapshotStore) Get(_ context.Context, key string) ([]domain.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs, ok := s.items[key]
	if !ok {
		return nil, fmt.Errorf("snapshot %s: %w", key, domain.ErrNotFound)
	}
	return append([]domain.Recipient{}, rs...), nil
}

func (s *SnapshotStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}
