package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pricewatch/internal/domain"
)

// DefaultSimilarLimit is the number of related items returned by Similar.
const DefaultSimilarLimit = 3

// Registrar handles on-demand registration and subscription.
type Registrar struct {
	pipeline
}

// NewRegistrar creates a registrar.
func NewRegistrar(store Store, fetcher Fetcher, notifier Deliverer, logger logrus.FieldLogger, opts ...Option) *Registrar {
	return &Registrar{
		pipeline: newPipeline(store, fetcher, notifier, logger.WithField("component", "registrar"), opts),
	}
}

// ValidateListingURL checks that raw is an http(s) URL of a supported
// retailer and returns it trimmed.
func ValidateListingURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: url is empty", domain.ErrValidation)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: malformed url: %w", domain.ErrValidation, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", domain.ErrValidation, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if !strings.Contains(host, "amazon.com") && !strings.Contains(host, "amazon.") && !strings.HasSuffix(host, "amazon") {
		return "", fmt.Errorf("%w: %q is not a supported retailer", domain.ErrValidation, host)
	}
	return raw, nil
}

// Register validates rawURL, refreshes it once and stores the result. An
// existing item keeps and extends its history.
func (r *Registrar) Register(ctx context.Context, rawURL string) (*domain.TrackedItem, error) {
	ctx, span := r.tracer.Start(ctx, "tracker.register", trace.WithAttributes(attribute.String("item.url", rawURL)))
	defer span.End()

	listingURL, err := ValidateListingURL(rawURL)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	log := r.log.WithField("url", listingURL)

	prev, err := r.store.FindByURL(ctx, listingURL)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		prev = nil
	case err != nil:
		log.WithError(err).Error("Failed to look up item")
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	item, err := r.refresh(ctx, listingURL, prev)
	if err != nil {
		log.WithError(err).Warn("Registration failed")
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"item_id":  item.ID,
		"price":    item.CurrentPrice,
		"existing": prev != nil,
	}).Info("Item registered")
	return item, nil
}

// Subscribe adds email to the item's subscribers and welcomes the new
// subscriber. It reports false when the address was already subscribed.
func (r *Registrar) Subscribe(ctx context.Context, itemID, email string) (bool, error) {
	email, err := validateEmail(email)
	if err != nil {
		return false, err
	}
	log := r.log.WithFields(logrus.Fields{"item_id": itemID, "email": email})

	item, added, err := r.store.AddSubscriber(ctx, itemID, email)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.WithError(err).Error("Failed to add subscriber")
		}
		return false, err
	}
	if !added {
		log.Debug("Already subscribed")
		return false, nil
	}

	event := domain.NotificationEvent{
		Kind:       domain.NotificationWelcome,
		Product:    item.ProductInfo(),
		Recipients: []string{email},
	}
	if err := r.notifier.Deliver(ctx, event); err != nil {
		log.WithError(err).Warn("Welcome email not delivered")
	}
	log.Info("Subscriber added")
	return true, nil
}

// Get returns the item with id.
func (r *Registrar) Get(ctx context.Context, id string) (*domain.TrackedItem, error) {
	return r.store.FindByID(ctx, id)
}

// List returns every tracked item.
func (r *Registrar) List(ctx context.Context) ([]domain.TrackedItem, error) {
	return r.store.FindAll(ctx)
}

// Similar returns up to limit other items for the item with id.
func (r *Registrar) Similar(ctx context.Context, id string, limit int) ([]domain.TrackedItem, error) {
	if limit <= 0 {
		limit = DefaultSimilarLimit
	}
	if _, err := r.store.FindByID(ctx, id); err != nil {
		return nil, err
	}
	return r.store.FindSimilar(ctx, id, limit)
}

func validateEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email %q", domain.ErrValidation, raw)
	}
	return email, nil
}
