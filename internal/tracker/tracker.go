// Package tracker runs the price-monitoring pipeline: registering listings,
// refreshing every tracked item in batches and notifying subscribers.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pricewatch/internal/domain"
	"pricewatch/internal/extractor"
	"pricewatch/internal/history"
	"pricewatch/internal/notify"
)

// Store is the persistence the tracker needs.
type Store interface {
	FindAll(ctx context.Context) ([]domain.TrackedItem, error)
	FindByURL(ctx context.Context, url string) (*domain.TrackedItem, error)
	FindByID(ctx context.Context, id string) (*domain.TrackedItem, error)
	FindSimilar(ctx context.Context, excludeID string, limit int) ([]domain.TrackedItem, error)
	Upsert(ctx context.Context, url string, item domain.TrackedItem) (*domain.TrackedItem, error)
	AddSubscriber(ctx context.Context, id, email string) (*domain.TrackedItem, bool, error)
}

// Fetcher returns the HTML of a listing page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Deliverer sends a notification event to its recipients.
type Deliverer interface {
	Deliver(ctx context.Context, event domain.NotificationEvent) error
}

// Option configures the pipeline shared by Registrar and Runner.
type Option func(*pipeline)

// WithDiscountThreshold sets the discount fraction (0.35 = 35%) that triggers
// DISCOUNT_THRESHOLD_MET.
func WithDiscountThreshold(threshold float64) Option {
	return func(p *pipeline) {
		if threshold > 0 {
			p.threshold = threshold
		}
	}
}

// WithClock overrides the observation clock.
func WithClock(now func() time.Time) Option {
	return func(p *pipeline) { p.now = now }
}

// pipeline is one refresh cycle: fetch, extract, merge, upsert, classify, deliver.
type pipeline struct {
	store     Store
	fetcher   Fetcher
	notifier  Deliverer
	threshold float64
	now       func() time.Time
	log       logrus.FieldLogger
	tracer    trace.Tracer
}

func newPipeline(store Store, fetcher Fetcher, notifier Deliverer, logger logrus.FieldLogger, opts []Option) pipeline {
	p := pipeline{
		store:     store,
		fetcher:   fetcher,
		notifier:  notifier,
		threshold: notify.DefaultDiscountThreshold,
		now:       time.Now,
		log:       logger,
		tracer:    otel.Tracer("pricewatch/tracker"),
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// refresh runs one cycle for url. prev is the stored item before the cycle,
// nil when the URL is new. Delivery failures are logged and never returned.
func (p *pipeline) refresh(ctx context.Context, url string, prev *domain.TrackedItem) (*domain.TrackedItem, error) {
	ctx, span := p.tracer.Start(ctx, "tracker.refresh", trace.WithAttributes(attribute.String("item.url", url)))
	defer span.End()

	log := p.log.WithField("url", url)
	if prev != nil {
		log = log.WithField("item_id", prev.ID)
	}

	stored, err := p.cycle(ctx, url, prev, log)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("item.id", stored.ID))
	return stored, nil
}

func (p *pipeline) cycle(ctx context.Context, url string, prev *domain.TrackedItem, log logrus.FieldLogger) (*domain.TrackedItem, error) {
	html, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		if !errors.Is(err, domain.ErrFetch) {
			err = fmt.Errorf("%w: %w", domain.ErrFetch, err)
		}
		return nil, err
	}

	res, err := extractor.Extract(url, html)
	if err != nil {
		return nil, err
	}
	for _, d := range res.Diagnostics {
		log.WithField("diagnostic", d).Debug("Optional field not resolved")
	}

	merged := history.Merge(prev, res.Snapshot, p.now())
	stored, err := p.store.Upsert(ctx, url, merged)
	if err != nil {
		if !errors.Is(err, domain.ErrPersistence) {
			err = fmt.Errorf("%w: %w", domain.ErrPersistence, err)
		}
		return nil, err
	}

	kind, ok := notify.Classify(prev, res.Snapshot, p.threshold)
	if !ok {
		return stored, nil
	}
	log = log.WithFields(logrus.Fields{"item_id": stored.ID, "kind": kind})
	if len(stored.Subscribers) == 0 {
		log.Debug("Event classified, no subscribers to notify")
		return stored, nil
	}

	event := domain.NotificationEvent{
		Kind:       kind,
		Product:    stored.ProductInfo(),
		Recipients: stored.SubscriberEmails(),
	}
	if err := p.notifier.Deliver(ctx, event); err != nil {
		log.WithError(err).Warn("Notification not delivered, price update kept")
	}
	return stored, nil
}
