package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"

	"pricewatch/internal/domain"
)

// RodFetcher renders pages in a headless browser. A browser is launched per
// call so every fetch gets its own proxy session.
type RodFetcher struct {
	proxy   ProxyOptions
	timeout time.Duration
	log     logrus.FieldLogger
}

// NewRodFetcher creates a browser based fetcher.
func NewRodFetcher(proxy ProxyOptions, timeout time.Duration, logger logrus.FieldLogger) *RodFetcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &RodFetcher{
		proxy:   proxy,
		timeout: timeout,
		log:     logger.WithField("component", "rod_fetcher"),
	}
}

// Fetch implements Fetcher.
func (f *RodFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	log := f.log.WithField("url", url)

	path, exists := launcher.LookPath()
	if !exists {
		log.Error("Cannot find browser executable for rod")
		return nil, fmt.Errorf("%w: browser executable not found", domain.ErrFetch)
	}

	l := launcher.New().Bin(path).Headless(true)
	if f.proxy.Enabled() {
		l = l.Proxy(f.proxy.address())
		if f.proxy.InsecureTLS {
			l = l.Set("ignore-certificate-errors")
		}
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("%w: launch browser: %w", domain.ErrFetch, err)
	}
	defer l.Cleanup()

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		log.WithError(err).Error("Failed to connect to rod browser")
		return nil, fmt.Errorf("%w: connect browser: %w", domain.ErrFetch, err)
	}
	defer func() {
		if closeErr := browser.Close(); closeErr != nil {
			log.WithError(closeErr).Warn("Error closing rod browser instance")
		}
	}()

	if f.proxy.Enabled() {
		wait := browser.HandleAuth(f.proxy.sessionUser(), f.proxy.Password)
		go func() {
			if authErr := wait(); authErr != nil {
				log.WithError(authErr).Debug("Proxy auth handler stopped")
			}
		}()
	}

	pageCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	page, err := browser.Context(pageCtx).Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("%w: open page: %w", domain.ErrFetch, err)
	}
	defer func() {
		if closeErr := page.Close(); closeErr != nil {
			log.WithError(closeErr).Debug("Error closing rod page")
		}
	}()

	if err := page.WaitLoad(); err != nil {
		if errors.Is(pageCtx.Err(), context.DeadlineExceeded) {
			log.WithError(pageCtx.Err()).Warn("Fetch timed out")
			return nil, fmt.Errorf("%w: timed out loading %s: %w", domain.ErrFetch, url, pageCtx.Err())
		}
		return nil, fmt.Errorf("%w: wait for load: %w", domain.ErrFetch, err)
	}

	content, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("%w: read document: %w", domain.ErrFetch, err)
	}

	log.WithField("bytes", len(content)).Debug("Page rendered")
	return []byte(content), nil
}
