package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pricewatch/internal/domain"
	"pricewatch/internal/tracker"
)

type mockRegistry struct {
	mock.Mock
}

func (m *mockRegistry) Register(ctx context.Context, rawURL string) (*domain.TrackedItem, error) {
	args := m.Called(ctx, rawURL)
	item, _ := args.Get(0).(*domain.TrackedItem)
	return item, args.Error(1)
}

func (m *mockRegistry) Subscribe(ctx context.Context, itemID, email string) (bool, error) {
	args := m.Called(ctx, itemID, email)
	return args.Bool(0), args.Error(1)
}

func (m *mockRegistry) Get(ctx context.Context, id string) (*domain.TrackedItem, error) {
	args := m.Called(ctx, id)
	item, _ := args.Get(0).(*domain.TrackedItem)
	return item, args.Error(1)
}

func (m *mockRegistry) List(ctx context.Context) ([]domain.TrackedItem, error) {
	args := m.Called(ctx)
	items, _ := args.Get(0).([]domain.TrackedItem)
	return items, args.Error(1)
}

func (m *mockRegistry) Similar(ctx context.Context, id string, limit int) ([]domain.TrackedItem, error) {
	args := m.Called(ctx, id, limit)
	items, _ := args.Get(0).([]domain.TrackedItem)
	return items, args.Error(1)
}

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context) (tracker.Summary, error) {
	args := m.Called(ctx)
	summary, _ := args.Get(0).(tracker.Summary)
	return summary, args.Error(1)
}

func newTestServer(t *testing.T) (*httptest.Server, *mockRegistry, *mockRunner) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	registry := new(mockRegistry)
	runner := new(mockRunner)
	srv := httptest.NewServer(NewHandler(registry, runner, logger).Routes())
	t.Cleanup(srv.Close)
	return srv, registry, runner
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestRegister_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"created", nil, http.StatusCreated},
		{"validation", fmt.Errorf("%w: bad host", domain.ErrValidation), http.StatusBadRequest},
		{"extraction", fmt.Errorf("%w: no title", domain.ErrExtraction), http.StatusUnprocessableEntity},
		{"fetch", fmt.Errorf("%w: proxy", domain.ErrFetch), http.StatusBadGateway},
		{"persistence", fmt.Errorf("%w: disk", domain.ErrPersistence), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, registry, _ := newTestServer(t)
			url := "https://www.amazon.com/dp/A"
			if tt.err == nil {
				registry.On("Register", mock.Anything, url).Return(&domain.TrackedItem{ID: "id-1", URL: url, Title: "Kettle"}, nil)
			} else {
				registry.On("Register", mock.Anything, url).Return(nil, tt.err)
			}

			resp, err := http.Post(srv.URL+"/api/items", "application/json", strings.NewReader(`{"url":"`+url+`"}`))
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			if tt.err == nil {
				var item domain.TrackedItem
				decode(t, resp, &item)
				assert.Equal(t, "id-1", item.ID)
				return
			}
			var body errorBody
			decode(t, resp, &body)
			assert.NotEmpty(t, body.Error)
			if tt.wantStatus == http.StatusInternalServerError {
				assert.Equal(t, "internal error", body.Error)
			}
		})
	}
}

func TestRegister_BadBody(t *testing.T) {
	srv, registry, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/items", "application/json", strings.NewReader(`{`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	registry.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
}

func TestSubscribe(t *testing.T) {
	srv, registry, _ := newTestServer(t)
	registry.On("Subscribe", mock.Anything, "id-1", "a@x.com").Return(true, nil).Once()
	registry.On("Subscribe", mock.Anything, "id-1", "a@x.com").Return(false, nil).Once()
	registry.On("Subscribe", mock.Anything, "missing", "a@x.com").Return(false, domain.ErrNotFound)

	post := func(id string) *http.Response {
		resp, err := http.Post(srv.URL+"/api/items/"+id+"/subscribers", "application/json", strings.NewReader(`{"email":"a@x.com"}`))
		require.NoError(t, err)
		return resp
	}

	resp := post("id-1")
	var body map[string]bool
	decode(t, resp, &body)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, body["added"])

	resp = post("id-1")
	decode(t, resp, &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, body["added"])

	resp = post("missing")
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReadEndpoints(t *testing.T) {
	srv, registry, _ := newTestServer(t)
	items := []domain.TrackedItem{{ID: "id-1"}, {ID: "id-2"}}
	registry.On("List", mock.Anything).Return(items, nil)
	registry.On("Get", mock.Anything, "id-1").Return(&items[0], nil)
	registry.On("Get", mock.Anything, "nope").Return(nil, fmt.Errorf("item id nope: %w", domain.ErrNotFound))
	registry.On("Similar", mock.Anything, "id-1", 0).Return(items[1:], nil)
	registry.On("Similar", mock.Anything, "id-1", 5).Return(nil, nil)

	resp, err := http.Get(srv.URL + "/api/items")
	require.NoError(t, err)
	var list []domain.TrackedItem
	decode(t, resp, &list)
	assert.Len(t, list, 2)

	resp, err = http.Get(srv.URL + "/api/items/id-1")
	require.NoError(t, err)
	var item domain.TrackedItem
	decode(t, resp, &item)
	assert.Equal(t, "id-1", item.ID)

	resp, err = http.Get(srv.URL + "/api/items/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/items/id-1/similar")
	require.NoError(t, err)
	var similar []domain.TrackedItem
	decode(t, resp, &similar)
	require.Len(t, similar, 1)
	assert.Equal(t, "id-2", similar[0].ID)

	resp, err = http.Get(srv.URL + "/api/items/id-1/similar?limit=5")
	require.NoError(t, err)
	var none []domain.TrackedItem
	decode(t, resp, &none)
	assert.NotNil(t, none, "empty result is encoded as []")
	assert.Empty(t, none)

	resp, err = http.Get(srv.URL + "/api/items/id-1/similar?limit=abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCron(t *testing.T) {
	srv, _, runner := newTestServer(t)
	runner.On("Run", mock.Anything).Return(tracker.Summary{
		Updated:    []domain.TrackedItem{{ID: "id-1"}},
		FailedIDs:  []string{"id-2"},
		SkippedIDs: []string{},
	}, nil).Once()

	resp, err := http.Get(srv.URL + "/api/cron")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body cronResponse
	decode(t, resp, &body)
	assert.Equal(t, "Ok", body.Message)
	require.Len(t, body.UpdatedItems, 1)
	assert.Equal(t, []string{"id-2"}, body.FailedItemIDs)
	assert.Empty(t, body.SkippedItemIDs)
}

func TestCron_StoreUnavailable(t *testing.T) {
	srv, _, runner := newTestServer(t)
	runner.On("Run", mock.Anything).Return(tracker.Summary{}, errors.New("connection refused"))

	resp, err := http.Get(srv.URL + "/api/cron")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestCron_BatchAlreadyRunning(t *testing.T) {
	srv, _, runner := newTestServer(t)
	runner.On("Run", mock.Anything).Return(tracker.Summary{}, tracker.ErrBatchRunning)

	resp, err := http.Get(srv.URL + "/api/cron")
	require.NoError(t, err)

	var body errorBody
	decode(t, resp, &body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, tracker.ErrBatchRunning.Error(), body.Error)
}

func TestCron_ClientDisconnectDoesNotCancelBatch(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	runner := new(mockRunner)
	handler := NewHandler(new(mockRegistry), runner, logger).Routes()

	reqCtx, disconnect := context.WithCancel(context.Background())
	defer disconnect()

	var batchCtx context.Context
	runner.On("Run", mock.Anything).
		Run(func(args mock.Arguments) {
			batchCtx = args.Get(0).(context.Context)
			disconnect()
		}).
		Return(tracker.Summary{}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/api/cron", nil).WithContext(reqCtx)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.NotNil(t, batchCtx)
	assert.Error(t, reqCtx.Err())
	assert.NoError(t, batchCtx.Err(), "batch context outlives the request")
	assert.Equal(t, http.StatusOK, rec.Code)
}
