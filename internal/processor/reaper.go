package processor

import (
	"context"
	"errors"
	"time"

	"github.com/MikeSquared-Agency/dealintel/internal/apperr"
	"github.com/MikeSquared-Agency/dealintel/internal/hermes"
	"github.com/MikeSquared-Agency/dealintel/internal/metrics"
)

// RequeueStale re-enqueues requests whose worker vanished (expired lease)
// and pending requests whose task was never delivered. Execute's claim makes
// an extra task for a request that is in fact progressing a no-op.
func (p *Processor) RequeueStale(ctx context.Context) (int, error) {
	if p.queue == nil {
		return 0, errors.New("requeue stale: no task queue configured")
	}
	ids, err := p.repo.StaleRequests(ctx, p.opts.PendingGrace, staleBatch)
	if err != nil {
		return 0, apperr.Infrastructure(err, "list stale requests")
	}
	n := 0
	for _, id := range ids {
		if err := p.queue.Enqueue(ctx, hermes.Task{RequestID: id, EnqueuedAt: p.now().UTC()}); err != nil {
			return n, apperr.Infrastructure(err, "requeue %s", id)
		}
		n++
	}
	if n > 0 {
		metrics.StaleRequeued.Add(float64(n))
		p.logger.Info("requeued stale requests", "count", n)
	}
	return n, nil
}

// RunReaper calls RequeueStale every interval until ctx is cancelled.
func (p *Processor) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.RequeueStale(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("reaper pass failed", "error", err)
			}
		}
	}
}

// Purge deletes finished requests older than retention.
func (p *Processor) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, apperr.Validation("retention must be positive")
	}
	before := p.now().Add(-retention)
	n, err := p.repo.Purge(ctx, before)
	if err != nil {
		return 0, apperr.Infrastructure(err, "purge")
	}
	p.logger.Info("purged finished requests", "count", n, "before", before.Format(time.RFC3339))
	return n, nil
}
