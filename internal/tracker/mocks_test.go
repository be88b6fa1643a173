package tracker

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"

	"pricewatch/internal/domain"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) FindAll(ctx context.Context) ([]domain.TrackedItem, error) {
	args := m.Called(ctx)
	items, _ := args.Get(0).([]domain.TrackedItem)
	return items, args.Error(1)
}

func (m *mockStore) FindByURL(ctx context.Context, url string) (*domain.TrackedItem, error) {
	args := m.Called(ctx, url)
	item, _ := args.Get(0).(*domain.TrackedItem)
	return item, args.Error(1)
}

func (m *mockStore) FindByID(ctx context.Context, id string) (*domain.TrackedItem, error) {
	args := m.Called(ctx, id)
	item, _ := args.Get(0).(*domain.TrackedItem)
	return item, args.Error(1)
}

func (m *mockStore) FindSimilar(ctx context.Context, excludeID string, limit int) ([]domain.TrackedItem, error) {
	args := m.Called(ctx, excludeID, limit)
	items, _ := args.Get(0).([]domain.TrackedItem)
	return items, args.Error(1)
}

// Upsert echoes the item back with its URL set unless a different item is configured.
func (m *mockStore) Upsert(ctx context.Context, url string, item domain.TrackedItem) (*domain.TrackedItem, error) {
	args := m.Called(ctx, url, item)
	if err := args.Error(1); err != nil {
		return nil, err
	}
	if stored, ok := args.Get(0).(*domain.TrackedItem); ok {
		return stored, nil
	}
	item.URL = url
	if item.ID == "" {
		item.ID = "id-" + url
	}
	return &item, nil
}

func (m *mockStore) AddSubscriber(ctx context.Context, id, email string) (*domain.TrackedItem, bool, error) {
	args := m.Called(ctx, id, email)
	item, _ := args.Get(0).(*domain.TrackedItem)
	return item, args.Bool(1), args.Error(2)
}

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	args := m.Called(ctx, url)
	html, _ := args.Get(0).([]byte)
	return html, args.Error(1)
}

type mockDeliverer struct {
	mock.Mock
}

func (m *mockDeliverer) Deliver(ctx context.Context, event domain.NotificationEvent) error {
	return m.Called(ctx, event).Error(0)
}

func testLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// listingPage renders a minimal product page the extractor understands.
func listingPage(title string, price, original float64, outOfStock bool) []byte {
	availability := "In Stock"
	if outOfStock {
		availability = "Currently unavailable."
	}
	return []byte(fmt.Sprintf(`<html><body>
<span id="productTitle">%s</span>
<div class="priceToPay"><span class="a-price-symbol">$</span><span class="a-price-whole">%.2f</span></div>
<span id="listPrice">$%.2f</span>
<div id="availability"><span>%s</span></div>
</body></html>`, title, price, original, availability))
}
