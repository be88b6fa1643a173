package tracker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pricewatch/internal/domain"
)

func trackedItems(n int) []domain.TrackedItem {
	items := make([]domain.TrackedItem, n)
	for i := range items {
		items[i] = domain.TrackedItem{
			ID:           fmt.Sprintf("item-%d", i),
			URL:          fmt.Sprintf("https://www.amazon.com/dp/%d", i),
			Title:        fmt.Sprintf("Item %d", i),
			CurrentPrice: 100,
			LowestPrice:  100,
			PriceHistory: []domain.PricePoint{{Price: 100, ObservedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}},
		}
	}
	return items
}

func TestRunner_OneFailingItemDoesNotAbortBatch(t *testing.T) {
	store := new(mockStore)
	fetcher := new(mockFetcher)
	notifier := new(mockDeliverer)

	items := trackedItems(4)
	store.On("FindAll", mock.Anything).Return(items, nil)
	store.On("Upsert", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	for i, item := range items {
		if i == 2 {
			fetcher.On("Fetch", mock.Anything, item.URL).Return(nil, fmt.Errorf("%w: proxy refused", domain.ErrFetch))
			continue
		}
		fetcher.On("Fetch", mock.Anything, item.URL).Return(listingPage(item.Title, 100, 100, false), nil)
	}

	r := NewRunner(store, fetcher, notifier, testLogger(), 2, time.Minute)
	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, summary.Updated, 3)
	assert.Equal(t, []string{"item-2"}, summary.FailedIDs)
	assert.Empty(t, summary.SkippedIDs)
	for _, item := range summary.Updated {
		assert.NotEqual(t, "item-2", item.ID)
		assert.Len(t, item.PriceHistory, 2, "refresh extends the existing history")
	}
	notifier.AssertNotCalled(t, "Deliver", mock.Anything, mock.Anything)
}

func TestRunner_ExtractionAndPersistenceFailures(t *testing.T) {
	store := new(mockStore)
	fetcher := new(mockFetcher)
	notifier := new(mockDeliverer)

	items := trackedItems(3)
	store.On("FindAll", mock.Anything).Return(items, nil)
	store.On("Upsert", mock.Anything, items[0].URL, mock.Anything).Return(nil, nil)
	store.On("Upsert", mock.Anything, items[2].URL, mock.Anything).Return(nil, errors.New("disk full"))

	fetcher.On("Fetch", mock.Anything, items[0].URL).Return(listingPage("ok", 100, 100, false), nil)
	fetcher.On("Fetch", mock.Anything, items[1].URL).Return([]byte("<html><body>captcha</body></html>"), nil)
	fetcher.On("Fetch", mock.Anything, items[2].URL).Return(listingPage("ok", 100, 100, false), nil)

	r := NewRunner(store, fetcher, notifier, testLogger(), 1, time.Minute)
	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Updated, 1)
	assert.Equal(t, "item-0", summary.Updated[0].ID)
	assert.Equal(t, []string{"item-1", "item-2"}, summary.FailedIDs)
}

func TestRunner_FindAllFailure(t *testing.T) {
	store := new(mockStore)
	store.On("FindAll", mock.Anything).Return(nil, fmt.Errorf("%w: connection reset", domain.ErrPersistence))

	r := NewRunner(store, new(mockFetcher), new(mockDeliverer), testLogger(), 0, 0)
	_, err := r.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrPersistence)
}

func TestRunner_NotifiesSubscribersOnNewLowest(t *testing.T) {
	store := new(mockStore)
	fetcher := new(mockFetcher)
	notifier := new(mockDeliverer)

	items := trackedItems(1)
	items[0].Subscribers = []domain.Subscriber{{Email: "a@x.com"}, {Email: "b@x.com"}}
	store.On("FindAll", mock.Anything).Return(items, nil)
	store.On("Upsert", mock.Anything, items[0].URL, mock.Anything).Return(nil, nil)
	fetcher.On("Fetch", mock.Anything, items[0].URL).Return(listingPage("Item 0", 90, 100, false), nil)
	notifier.On("Deliver", mock.Anything, domain.NotificationEvent{
		Kind:       domain.NotificationNewLowestPrice,
		Product:    domain.ProductInfo{Title: "Item 0", URL: items[0].URL},
		Recipients: []string{"a@x.com", "b@x.com"},
	}).Return(nil).Once()

	r := NewRunner(store, fetcher, notifier, testLogger(), 1, time.Minute)
	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Updated, 1)
	assert.Equal(t, 90.0, summary.Updated[0].LowestPrice)
	notifier.AssertExpectations(t)
}

func TestRunner_DeliveryFailureKeepsUpdate(t *testing.T) {
	store := new(mockStore)
	fetcher := new(mockFetcher)
	notifier := new(mockDeliverer)

	items := trackedItems(1)
	items[0].IsOutOfStock = true
	items[0].Subscribers = []domain.Subscriber{{Email: "a@x.com"}}
	store.On("FindAll", mock.Anything).Return(items, nil)
	store.On("Upsert", mock.Anything, items[0].URL, mock.Anything).Return(nil, nil)
	fetcher.On("Fetch", mock.Anything, items[0].URL).Return(listingPage("Item 0", 120, 120, false), nil)
	notifier.On("Deliver", mock.Anything, mock.MatchedBy(func(e domain.NotificationEvent) bool {
		return e.Kind == domain.NotificationBackInStock
	})).Return(fmt.Errorf("%w: smtp down", domain.ErrNotificationDelivery))

	r := NewRunner(store, fetcher, notifier, testLogger(), 1, time.Minute)
	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, summary.Updated, 1)
	assert.Empty(t, summary.FailedIDs)
	store.AssertNumberOfCalls(t, "Upsert", 1)
}

func TestRunner_BudgetSkipsUnstartedItems(t *testing.T) {
	store := new(mockStore)
	fetcher := new(mockFetcher)

	items := trackedItems(3)
	store.On("FindAll", mock.Anything).Return(items, nil)
	fetcher.On("Fetch", mock.Anything, items[0].URL).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	r := NewRunner(store, fetcher, new(mockDeliverer), testLogger(), 1, 30*time.Millisecond)
	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, summary.Updated)
	assert.Equal(t, []string{"item-0"}, summary.FailedIDs)
	assert.Equal(t, []string{"item-1", "item-2"}, summary.SkippedIDs)
	fetcher.AssertNumberOfCalls(t, "Fetch", 1)
}

func TestRunner_EmptyStore(t *testing.T) {
	store := new(mockStore)
	store.On("FindAll", mock.Anything).Return([]domain.TrackedItem{}, nil)

	r := NewRunner(store, new(mockFetcher), new(mockDeliverer), testLogger(), 2, time.Minute)
	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summary.Updated)
	assert.NotNil(t, summary.FailedIDs)
}

func TestRunner_OverlappingRunIsRejected(t *testing.T) {
	store := new(mockStore)
	fetcher := new(mockFetcher)
	items := trackedItems(1)

	started := make(chan struct{})
	release := make(chan struct{})
	store.On("FindAll", mock.Anything).Return(items, nil)
	store.On("Upsert", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)
	fetcher.On("Fetch", mock.Anything, items[0].URL).
		Run(func(mock.Arguments) {
			started <- struct{}{}
			<-release
		}).
		Return(listingPage(items[0].Title, 100, 100, false), nil).Once()

	r := NewRunner(store, fetcher, new(mockDeliverer), testLogger(), 1, time.Minute)

	type result struct {
		summary Summary
		err     error
	}
	first := make(chan result, 1)
	go func() {
		summary, err := r.Run(context.Background())
		first <- result{summary, err}
	}()
	<-started

	_, err := r.Run(context.Background())
	assert.ErrorIs(t, err, ErrBatchRunning)

	close(release)
	res := <-first
	require.NoError(t, res.err)
	assert.Len(t, res.summary.Updated, 1)

	fetcher.On("Fetch", mock.Anything, items[0].URL).
		Return(listingPage(items[0].Title, 100, 100, false), nil).Once()
	_, err = r.Run(context.Background())
	assert.NoError(t, err, "a new batch may start once the previous one finished")
	store.AssertNumberOfCalls(t, "FindAll", 2)
}
