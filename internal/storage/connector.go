package storage

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// OpenFunc opens a repository.
type OpenFunc func(ctx context.Context) (Repository, error)

// Connector lazily opens one Repository for the whole process. Concurrent
// first callers share a single open attempt; a failed attempt is not
// remembered, so the next Get tries again.
type Connector struct {
	open OpenFunc
	log  logrus.FieldLogger

	group singleflight.Group
	mu    sync.RWMutex
	repo  Repository
}

// NewConnector creates a connector that uses open on first use.
func NewConnector(open OpenFunc, logger logrus.FieldLogger) *Connector {
	return &Connector{
		open: open,
		log:  logger.WithField("component", "connector"),
	}
}

// Get returns the shared repository, opening it if necessary.
func (c *Connector) Get(ctx context.Context) (Repository, error) {
	c.mu.RLock()
	repo := c.repo
	c.mu.RUnlock()
	if repo != nil {
		return repo, nil
	}

	v, err, shared := c.group.Do("open", func() (interface{}, error) {
		c.mu.RLock()
		existing := c.repo
		c.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		opened, err := c.open(ctx)
		if err != nil {
			c.log.WithError(err).Error("Failed to open store")
			return nil, err
		}
		c.mu.Lock()
		c.repo = opened
		c.mu.Unlock()
		c.log.Info("Store connection established")
		return opened, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.log.Debug("Joined in-flight store connection")
	}
	return v.(Repository), nil
}

// Close closes the repository if it was opened.
func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.repo == nil {
		return nil
	}
	err := c.repo.Close()
	c.repo = nil
	return err
}
