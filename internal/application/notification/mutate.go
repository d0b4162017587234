package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clinic-notify/internal/domain"
)

// Store is the notification persistence shared by the services that move
// notifications through their lifecycle.
type Store interface {
	Create(ctx context.Context, n *domain.Notification) error
	Get(ctx context.Context, notificationID string) (*domain.Notification, error)
	// Save writes n only if the stored version equals expectedVersion,
	// otherwise it returns domain.ErrVersionConflict.
	Save(ctx context.Context, n *domain.Notification, expectedVersion int64) error
	List(ctx context.Context, f domain.NotificationFilter) ([]domain.Notification, error)
}

// ErrSkip aborts a Mutate without writing and without being reported as a failure.
var ErrSkip = errors.New("skip mutation")

const maxMutateAttempts = 5

// Mutate loads the notification, applies fn and saves it with a version check,
// retrying on concurrent writes. fn may return ErrSkip to leave the record as is.
func Mutate(ctx context.Context, store Store, notificationID string, now func() time.Time, fn func(n *domain.Notification) error) (*domain.Notification, error) {
	for attempt := 1; ; attempt++ {
		n, err := store.Get(ctx, notificationID)
		if err != nil {
			return nil, err
		}
		prev := n.Version
		if err := fn(n); err != nil {
			return n, err
		}
		n.Version = prev + 1
		n.UpdatedAt = now().UTC()
		err = store.Save(ctx, n, prev)
		if err == nil {
			return n, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) || attempt >= maxMutateAttempts {
			return nil, fmt.Errorf("save notification %s: %w", notificationID, err)
		}
	}
}
