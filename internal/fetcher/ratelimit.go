package fetcher

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"pricewatch/internal/domain"
)

// RateLimited caps the rate of fetches made through the wrapped Fetcher.
// One instance is shared by every caller in the process.
type RateLimited struct {
	next    Fetcher
	limiter *rate.Limiter
}

// NewRateLimited wraps next so that at most rps fetches start per second.
// A non-positive rps returns next unchanged.
func NewRateLimited(next Fetcher, rps float64) Fetcher {
	if rps <= 0 {
		return next
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Fetch waits for a token, then delegates.
func (f *RateLimited) Fetch(ctx context.Context, url string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %w", domain.ErrFetch, err)
	}
	return f.next.Fetch(ctx, url)
}
