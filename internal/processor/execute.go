package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/dealintel/internal/analysis"
	"github.com/MikeSquared-Agency/dealintel/internal/apperr"
	"github.com/MikeSquared-Agency/dealintel/internal/hermes"
	"github.com/MikeSquared-Agency/dealintel/internal/metrics"
	"github.com/MikeSquared-Agency/dealintel/internal/report"
	"github.com/MikeSquared-Agency/dealintel/internal/store"
	"github.com/MikeSquared-Agency/dealintel/internal/transcript"
)

// HandleTask is the queue entry point. Redelivered or stale tasks are
// harmless: Execute re-reads the persisted state first.
func (p *Processor) HandleTask(ctx context.Context, t hermes.Task) error {
	return p.Execute(ctx, t.RequestID)
}

// Execute runs one request to a terminal state. It returns an error only
// when the outcome could not be determined or persisted, in which case the
// request stays claimable and the task should be retried.
func (p *Processor) Execute(ctx context.Context, id uuid.UUID) error {
	logger := p.logger.With("request_id", id, "worker_id", p.opts.WorkerID)

	req, err := p.repo.GetRequest(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn("task for unknown request, dropping")
		return nil
	}
	if err != nil {
		return apperr.Infrastructure(err, "load request %s", id)
	}
	if req.State.Terminal() {
		logger.Debug("request already finished", "state", req.State)
		return nil
	}
	if req.LeaseLive(p.now()) {
		logger.Debug("request held by another worker", "holder", req.WorkerID)
		return nil
	}

	req, err = p.repo.ClaimRequest(ctx, id, p.opts.WorkerID, p.opts.LeaseTTL)
	if errors.Is(err, store.ErrStateConflict) || errors.Is(err, store.ErrNotFound) {
		logger.Debug("lost claim race")
		return nil
	}
	if err != nil {
		return apperr.Infrastructure(err, "claim request %s", id)
	}
	logger.Info("processing request", "attempt", req.Attempts, "analyzers", req.Analyzers)

	start := time.Now()
	turns, err := p.normalizer.Normalize(req.Transcript)
	if err != nil {
		return p.fail(ctx, req, err, false, nil)
	}

	budgetCtx, cancel := context.WithTimeout(ctx, p.opts.ProcessingTimeout)
	defer cancel()

	results, err := p.fanOut(budgetCtx, req.Analyzers, turns)
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown, not budget: leave the lease to expire so another
			// worker can take over.
			return fmt.Errorf("execute %s: %w", id, ctx.Err())
		}
		return p.fail(ctx, req, err, false, nil)
	}

	rep, err := report.Build(report.Input{
		CallID:     req.ID.String(),
		Turns:      turns,
		Requested:  req.Analyzers,
		Results:    results,
		Importance: p.opts.Importance,
		Elapsed:    time.Since(start),
		Now:        p.now().UTC(),
	})
	if err != nil {
		var qe *report.QuorumError
		return p.fail(ctx, req, err, errors.As(err, &qe), results)
	}

	if err := p.repo.CompleteRequest(ctx, req.ID, p.opts.WorkerID, rep, results); err != nil {
		if errors.Is(err, store.ErrStateConflict) {
			logger.Warn("lease lost before completion, discarding result")
			return nil
		}
		return apperr.Infrastructure(err, "complete request %s", id)
	}
	p.cache.Put(ctx, req.Fingerprint, rep, p.cacheTTL(req.Tier))

	metrics.RequestsFinished.WithLabelValues(string(store.StateCompleted), "").Inc()
	metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
	logger.Info("request completed",
		"deal_score", rep.DealScore,
		"intent", rep.IntentClassification,
		"confidence", rep.ConfidenceScore,
		"degraded", rep.DegradedAnalyzers,
		"duration_ms", rep.ProcessingTimeMs,
	)

	p.publish(hermes.AnalysisEvent{
		RequestID:         req.ID.String(),
		RepID:             req.RepID,
		ProspectCompany:   req.Metadata.ProspectCompany,
		State:             string(store.StateCompleted),
		DealScore:         rep.DealScore,
		RiskLevel:         string(rep.RiskLevel),
		Intent:            string(rep.IntentClassification),
		DegradedAnalyzers: kindNames(rep.DegradedAnalyzers),
		ProcessingTimeMs:  rep.ProcessingTimeMs,
		OccurredAt:        p.now().UTC(),
	})
	return nil
}

// fanOut runs every requested analyzer concurrently, each under its own
// timeout. It returns a timeout error if ctx expires before all analyzers
// have reported, discarding whatever finished.
func (p *Processor) fanOut(ctx context.Context, kinds []analysis.Kind, turns []transcript.Turn) ([]analysis.PartialResult, error) {
	results := make([]analysis.PartialResult, len(kinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, k := range kinds {
		i, k := i, k
		g.Go(func() error {
			a, err := p.analyzers.Get(k)
			if err != nil {
				results[i] = analysis.PartialResult{Kind: k, Err: err}
				return nil
			}
			res := analysis.Run(gctx, a, turns, p.opts.AnalyzerTimeout)
			outcome := "ok"
			if res.Failed() {
				outcome = string(apperr.KindOf(res.Err))
				p.logger.Warn("analyzer failed", "analyzer", k, "error", res.Err)
			}
			metrics.AnalyzerDuration.WithLabelValues(string(k), outcome).Observe(res.Duration.Seconds())
			results[i] = res
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
		if ctx.Err() != nil {
			return nil, apperr.Timeout("analysis exceeded its %s budget", p.opts.ProcessingTimeout)
		}
		return results, nil
	case <-ctx.Done():
		return nil, apperr.Timeout("analysis exceeded its %s budget", p.opts.ProcessingTimeout)
	}
}

func (p *Processor) fail(ctx context.Context, req *store.Request, cause error, degraded bool, partials []analysis.PartialResult) error {
	kind := apperr.KindOf(cause)
	f := store.Failure{Kind: string(kind), Message: apperr.Message(cause), Degraded: degraded}
	if err := p.repo.FailRequest(ctx, req.ID, p.opts.WorkerID, f, partials); err != nil {
		if errors.Is(err, store.ErrStateConflict) {
			p.logger.Warn("lease lost before failure was recorded", "request_id", req.ID)
			return nil
		}
		return apperr.Infrastructure(err, "fail request %s", req.ID)
	}

	metrics.RequestsFinished.WithLabelValues(string(store.StateFailed), string(kind)).Inc()
	p.logger.Error("request failed", "request_id", req.ID, "error_kind", kind, "degraded", degraded, "error", cause)

	var failedKinds []string
	for _, r := range partials {
		if r.Failed() {
			failedKinds = append(failedKinds, string(r.Kind))
		}
	}
	p.publish(hermes.AnalysisEvent{
		RequestID:         req.ID.String(),
		RepID:             req.RepID,
		State:             string(store.StateFailed),
		ErrorKind:         string(kind),
		DegradedAnalyzers: failedKinds,
		OccurredAt:        p.now().UTC(),
	})
	return nil
}

func (p *Processor) publish(ev hermes.AnalysisEvent) {
	if p.events == nil {
		return
	}
	if err := p.events.Publish(ev.Subject(), ev); err != nil {
		p.logger.Error("failed to publish analysis event", "request_id", ev.RequestID, "error", err)
	}
}

func kindNames(kinds []analysis.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
