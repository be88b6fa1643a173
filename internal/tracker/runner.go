package tracker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"pricewatch/internal/domain"
)

const (
	DefaultConcurrency = 4
	DefaultBudget      = 5 * time.Minute
)

// ErrBatchRunning is returned by Runner.Run while another batch is in progress.
var ErrBatchRunning = errors.New("batch already running")

// Summary reports the outcome of one batch.
type Summary struct {
	Updated    []domain.TrackedItem `json:"updated_items"`
	FailedIDs  []string             `json:"failed_item_ids"`
	SkippedIDs []string             `json:"skipped_item_ids"`
}

// Runner refreshes every tracked item.
type Runner struct {
	pipeline
	concurrency int
	budget      time.Duration
	running     atomic.Bool
}

// NewRunner creates a runner processing at most concurrency items at once
// within budget per batch. Non-positive values select the defaults.
func NewRunner(store Store, fetcher Fetcher, notifier Deliverer, logger logrus.FieldLogger, concurrency int, budget time.Duration, opts ...Option) *Runner {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Runner{
		pipeline:    newPipeline(store, fetcher, notifier, logger.WithField("component", "runner"), opts),
		concurrency: concurrency,
		budget:      budget,
	}
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeUpdated
	outcomeFailed
)

// Run refreshes all items. Failures of single items are recorded in the
// summary; the returned error is either a failure to list the items or
// ErrBatchRunning when another batch has not finished yet. Items not started
// before the budget expires are reported as skipped.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	if !r.running.CompareAndSwap(false, true) {
		r.log.Warn("Batch already running, not starting another")
		return Summary{}, ErrBatchRunning
	}
	defer r.running.Store(false)

	ctx, span := r.tracer.Start(ctx, "tracker.run_batch")
	defer span.End()

	start := time.Now()
	items, err := r.store.FindAll(ctx)
	if err != nil {
		r.log.WithError(err).Error("Failed to list tracked items, batch not started")
		span.SetStatus(codes.Error, err.Error())
		return Summary{}, err
	}
	r.log.WithField("items", len(items)).Info("Batch started")

	budgetCtx, cancel := context.WithTimeout(ctx, r.budget)
	defer cancel()

	outcomes := make([]outcome, len(items))
	updated := make([]*domain.TrackedItem, len(items))

	g := new(errgroup.Group)
	g.SetLimit(r.concurrency)
	for i := range items {
		if budgetCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			if budgetCtx.Err() != nil {
				return nil
			}
			item := items[i]
			stored, err := r.refresh(budgetCtx, item.URL, &item)
			if err != nil {
				outcomes[i] = outcomeFailed
				r.log.WithError(err).WithFields(logrus.Fields{
					"item_id": item.ID,
					"url":     item.URL,
				}).Warn("Item refresh failed")
				return nil
			}
			outcomes[i] = outcomeUpdated
			updated[i] = stored
			return nil
		})
	}
	_ = g.Wait()

	summary := Summary{
		Updated:    []domain.TrackedItem{},
		FailedIDs:  []string{},
		SkippedIDs: []string{},
	}
	for i, o := range outcomes {
		switch o {
		case outcomeUpdated:
			summary.Updated = append(summary.Updated, *updated[i])
		case outcomeFailed:
			summary.FailedIDs = append(summary.FailedIDs, items[i].ID)
		default:
			summary.SkippedIDs = append(summary.SkippedIDs, items[i].ID)
		}
	}

	span.SetAttributes(
		attribute.Int("batch.items", len(items)),
		attribute.Int("batch.updated", len(summary.Updated)),
		attribute.Int("batch.failed", len(summary.FailedIDs)),
		attribute.Int("batch.skipped", len(summary.SkippedIDs)),
	)
	r.log.WithFields(logrus.Fields{
		"updated":     len(summary.Updated),
		"failed":      len(summary.FailedIDs),
		"skipped":     len(summary.SkippedIDs),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Batch finished")
	return summary, nil
}
