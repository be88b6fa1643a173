// Package httpapi serves the JSON API for registration, subscription, item
// views and the cron trigger.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"pricewatch/internal/domain"
	"pricewatch/internal/tracker"
)

// Registry is the registration and read side used by the API.
type Registry interface {
	Register(ctx context.Context, rawURL string) (*domain.TrackedItem, error)
	Subscribe(ctx context.Context, itemID, email string) (bool, error)
	Get(ctx context.Context, id string) (*domain.TrackedItem, error)
	List(ctx context.Context) ([]domain.TrackedItem, error)
	Similar(ctx context.Context, id string, limit int) ([]domain.TrackedItem, error)
}

// BatchRunner runs one refresh batch.
type BatchRunner interface {
	Run(ctx context.Context) (tracker.Summary, error)
}

// Handler holds the API dependencies.
type Handler struct {
	registry Registry
	runner   BatchRunner
	log      logrus.FieldLogger
}

// NewHandler creates an API handler.
func NewHandler(registry Registry, runner BatchRunner, logger logrus.FieldLogger) *Handler {
	return &Handler{
		registry: registry,
		runner:   runner,
		log:      logger.WithField("component", "http_api"),
	}
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/cron", h.handleCron)
		r.Route("/items", func(r chi.Router) {
			r.Get("/", h.handleList)
			r.Post("/", h.handleRegister)
			r.Get("/{id}", h.handleGet)
			r.Get("/{id}/similar", h.handleSimilar)
			r.Post("/{id}/subscribers", h.handleSubscribe)
		})
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

// NewServer wraps the handler in an http.Server listening on addr.
func NewServer(addr string, h *Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

type cronResponse struct {
	Message        string               `json:"message"`
	UpdatedItems   []domain.TrackedItem `json:"updated_items"`
	FailedItemIDs  []string             `json:"failed_item_ids"`
	SkippedItemIDs []string             `json:"skipped_item_ids"`
}

// handleCron runs a batch detached from the request so a client disconnect
// does not abort it. The runner's budget bounds it instead.
func (h *Handler) handleCron(w http.ResponseWriter, r *http.Request) {
	summary, err := h.runner.Run(context.WithoutCancel(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cronResponse{
		Message:        "Ok",
		UpdatedItems:   summary.Updated,
		FailedItemIDs:  summary.FailedIDs,
		SkippedItemIDs: summary.SkippedIDs,
	})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	item, err := h.registry.Register(r.Context(), req.URL)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return
	}

	added, err := h.registry.Subscribe(r.Context(), chi.URLParam(r, "id"), req.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]bool{"added": added})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	items, err := h.registry.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []domain.TrackedItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	item, err := h.registry.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) handleSimilar(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	items, err := h.registry.Similar(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []domain.TrackedItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrExtraction):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrFetch):
		return http.StatusBadGateway
	case errors.Is(err, tracker.ErrBatchRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := h.log.WithError(err).WithFields(logrus.Fields{
		"path":       r.URL.Path,
		"status":     status,
		"request_id": middleware.GetReqID(r.Context()),
	})
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Error("Request failed")
		message = "internal error"
	} else {
		log.Info("Request rejected")
	}
	writeJSON(w, status, errorBody{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}).Debug("Request served")
	})
}
