package fetcher

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"pricewatch/internal/domain"
)

const (
	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 8 << 20
	userAgent      = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
)

// HTTPFetcher fetches pages with net/http. Each call dials a fresh proxy
// session. Wrap it with NewRateLimited to throttle.
type HTTPFetcher struct {
	proxy   ProxyOptions
	timeout time.Duration
	log     logrus.FieldLogger
}

// Option configures an HTTPFetcher.
type Option func(*HTTPFetcher)

// WithProxy routes requests through the rotating proxy.
func WithProxy(p ProxyOptions) Option {
	return func(f *HTTPFetcher) { f.proxy = p }
}

// WithTimeout bounds each fetch.
func WithTimeout(d time.Duration) Option {
	return func(f *HTTPFetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// NewHTTPFetcher creates a fetcher.
func NewHTTPFetcher(logger logrus.FieldLogger, opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		timeout: defaultTimeout,
		log:     logger.WithField("component", "fetcher"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	log := f.log.WithField("url", rawURL)

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", domain.ErrFetch, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	transport := f.transport()
	defer transport.CloseIdleConnections()
	client := &http.Client{Transport: transport}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		log.WithError(err).Warn("Fetch failed")
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrFetch, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.WithField("status", resp.StatusCode).Warn("Unexpected status")
		return nil, fmt.Errorf("%w: %s: status %d", domain.ErrFetch, rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", domain.ErrFetch, err)
	}

	log.WithFields(logrus.Fields{
		"bytes":       len(body),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Page fetched")
	return body, nil
}

func (f *HTTPFetcher) transport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	if !f.proxy.Enabled() {
		return t
	}
	t.Proxy = http.ProxyURL(&url.URL{
		Scheme: "http",
		User:   url.UserPassword(f.proxy.sessionUser(), f.proxy.Password),
		Host:   f.proxy.address(),
	})
	if f.proxy.InsecureTLS {
		// Rotating proxies re-sign upstream TLS with their own CA.
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	return t
}
