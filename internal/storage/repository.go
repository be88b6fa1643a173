package storage

import (
	"context"
	"time"

	"pricewatch/internal/domain"
)

// Repository defines the persistence operations the tracker needs.
// Implementations must be safe for concurrent use.
type Repository interface {
	// FindAll returns every tracked item ordered by creation time.
	FindAll(ctx context.Context) ([]domain.TrackedItem, error)

	// FindByURL returns the item stored under url or domain.ErrNotFound.
	FindByURL(ctx context.Context, url string) (*domain.TrackedItem, error)

	// FindByID returns the item with id or domain.ErrNotFound.
	FindByID(ctx context.Context, id string) (*domain.TrackedItem, error)

	// FindSimilar returns up to limit items other than excludeID.
	FindSimilar(ctx context.Context, excludeID string, limit int) ([]domain.TrackedItem, error)

	// Upsert creates or replaces the item keyed by url. An existing record keeps
	// its ID, CreatedAt and subscribers; incoming subscribers are added to the
	// stored ones. A new record gets a fresh ID. The stored item is returned.
	Upsert(ctx context.Context, url string, item domain.TrackedItem) (*domain.TrackedItem, error)

	// Save replaces an item that already exists.
	Save(ctx context.Context, item domain.TrackedItem) error

	// AddSubscriber atomically appends email to the item's subscribers and
	// returns the stored item. added is false when the address was already
	// present. Unknown ids yield domain.ErrNotFound.
	AddSubscriber(ctx context.Context, id, email string) (item *domain.TrackedItem, added bool, err error)

	// Close releases the underlying connection.
	Close() error
}

// prepareUpsert applies the identity rules shared by all stores.
func prepareUpsert(url string, item domain.TrackedItem, existing *domain.TrackedItem, newID func() string, now func() time.Time) domain.TrackedItem {
	item.URL = url
	if existing != nil {
		item.ID = existing.ID
		item.CreatedAt = existing.CreatedAt
		item.Subscribers = unionSubscribers(existing.Subscribers, item.Subscribers)
	} else {
		item.ID = newID()
		if item.CreatedAt.IsZero() {
			item.CreatedAt = now()
		}
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = now()
	}
	return item
}

// unionSubscribers returns stored followed by the incoming addresses it lacks.
func unionSubscribers(stored, incoming []domain.Subscriber) []domain.Subscriber {
	merged := domain.TrackedItem{Subscribers: append([]domain.Subscriber(nil), stored...)}
	for _, s := range incoming {
		merged.AddSubscriber(s.Email)
	}
	return merged.Subscribers
}
