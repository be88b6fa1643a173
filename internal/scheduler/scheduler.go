// Package scheduler triggers batch runs on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"pricewatch/internal/tracker"
)

// DefaultInterval applies when a non-positive interval is configured.
const DefaultInterval = time.Hour

// BatchRunner runs one batch.
type BatchRunner interface {
	Run(ctx context.Context) (tracker.Summary, error)
}

// Run executes a batch immediately and then every interval until ctx is
// cancelled. A failed batch is logged and retried on the next tick.
func Run(ctx context.Context, runner BatchRunner, interval time.Duration, logger logrus.FieldLogger) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	log := logger.WithField("component", "scheduler")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.WithField("interval", interval.String()).Info("Scheduler started")
	runOnce(ctx, runner, log)

	for {
		select {
		case <-ctx.Done():
			log.Info("Scheduler stopped")
			return
		case <-ticker.C:
			runOnce(ctx, runner, log)
		}
	}
}

func runOnce(ctx context.Context, runner BatchRunner, log logrus.FieldLogger) {
	if ctx.Err() != nil {
		return
	}
	summary, err := runner.Run(ctx)
	if errors.Is(err, tracker.ErrBatchRunning) {
		log.Info("Previous batch still running, tick skipped")
		return
	}
	if err != nil {
		log.WithError(err).Error("Batch could not start")
		return
	}
	if len(summary.FailedIDs) > 0 {
		log.WithField("failed_item_ids", summary.FailedIDs).Warn("Some items failed to refresh")
	}
}
