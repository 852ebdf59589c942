package processor

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/dealintel/internal/apperr"
	"github.com/MikeSquared-Agency/dealintel/internal/cache"
	"github.com/MikeSquared-Agency/dealintel/internal/hermes"
	"github.com/MikeSquared-Agency/dealintel/internal/metrics"
	"github.com/MikeSquared-Agency/dealintel/internal/report"
	"github.com/MikeSquared-Agency/dealintel/internal/store"
	"github.com/MikeSquared-Agency/dealintel/internal/transcript"
	"github.com/MikeSquared-Agency/dealintel/internal/usage"
)

// Submission is the immediate answer to Submit. Report is set only when a
// completed report was served. Remaining is the rep's quota left after this
// submission, or -1 when unknown.
type Submission struct {
	RequestID   uuid.UUID
	Fingerprint string
	State       store.State
	Cached      bool
	Duplicate   bool
	Report      *report.InsightReport
	Remaining   int
}

// Submit validates and registers a transcript for analysis. Identical work
// is never started twice: a live request for the same fingerprint is
// returned as is, and a completed one is served from the cache or the store
// unless in.Force is set. Only newly accepted requests consume quota.
func (p *Processor) Submit(ctx context.Context, in SubmitInput) (*Submission, error) {
	adm, err := admit(in)
	if err != nil {
		metrics.Submissions.WithLabelValues("rejected").Inc()
		return nil, err
	}
	turns, err := p.normalizer.Normalize(in.Transcript)
	if err != nil {
		metrics.Submissions.WithLabelValues("rejected").Inc()
		return nil, err
	}
	fp := cache.Fingerprint(transcript.Text(turns), adm.kinds)
	logger := p.logger.With("fingerprint", fp[:12], "rep_id", adm.repID)

	release, err := p.locker.Acquire(ctx, "submit:"+fp, submitLockTTL, submitLockWait)
	if err != nil {
		// The unique live-fingerprint index still arbitrates without the lock.
		logger.Warn("submit lock unavailable, continuing without it", "error", err)
	} else {
		defer release(context.WithoutCancel(ctx))
	}

	if sub, err := p.liveSubmission(ctx, fp); sub != nil || err != nil {
		return sub, err
	}

	if !in.Force {
		if rep, id, ok := p.completedReport(ctx, fp, string(adm.tier)); ok {
			metrics.Submissions.WithLabelValues("cached").Inc()
			logger.Info("serving completed report", "call_id", rep.CallID)
			return &Submission{
				RequestID:   id,
				Fingerprint: fp,
				State:       store.StateCompleted,
				Cached:      true,
				Report:      rep,
				Remaining:   -1,
			}, nil
		}
	}

	decision, err := p.limiter.Authorize(ctx, adm.repID, adm.tier)
	if err != nil {
		metrics.Submissions.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if !decision.Allowed {
		metrics.Submissions.WithLabelValues("rejected").Inc()
		return nil, apperr.QuotaExceeded("monthly quota of %d analyses used for %s", decision.Limit, decision.Period)
	}

	req := &store.Request{
		Fingerprint: fp,
		RepID:       adm.repID,
		Tier:        string(adm.tier),
		Transcript:  in.Transcript,
		Metadata:    in.Metadata,
		Analyzers:   adm.kinds,
	}
	if err := p.repo.CreateRequest(ctx, req); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			if sub, err := p.liveSubmission(ctx, fp); sub != nil || err != nil {
				return sub, err
			}
		}
		return nil, apperr.Infrastructure(err, "create analysis request")
	}

	recorded, err := p.limiter.Record(ctx, adm.repID, adm.tier)
	if err != nil {
		if delErr := p.repo.DeleteRequest(context.WithoutCancel(ctx), req.ID); delErr != nil {
			logger.Error("failed to discard unpaid request", "request_id", req.ID, "error", delErr)
		}
		metrics.Submissions.WithLabelValues("rejected").Inc()
		return nil, err
	}

	if p.queue != nil {
		if err := p.queue.Enqueue(ctx, hermes.Task{RequestID: req.ID, EnqueuedAt: p.now().UTC()}); err != nil {
			// The row is committed; the reaper enqueues it after the grace period.
			logger.Error("failed to enqueue task", "request_id", req.ID, "error", err)
		}
	}

	metrics.Submissions.WithLabelValues("accepted").Inc()
	logger.Info("analysis accepted", "request_id", req.ID, "analyzers", adm.kinds, "remaining", recorded.Remaining)
	return &Submission{
		RequestID:   req.ID,
		Fingerprint: fp,
		State:       store.StatePending,
		Remaining:   recorded.Remaining,
	}, nil
}

func (p *Processor) liveSubmission(ctx context.Context, fp string) (*Submission, error) {
	live, err := p.repo.FindLiveRequest(ctx, fp)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Infrastructure(err, "look up live request")
	}
	metrics.Submissions.WithLabelValues("duplicate").Inc()
	p.logger.Info("duplicate submission", "request_id", live.ID, "state", live.State)
	return &Submission{
		RequestID:   live.ID,
		Fingerprint: fp,
		State:       live.State,
		Duplicate:   true,
		Remaining:   -1,
	}, nil
}

// completedReport looks in the cache first and falls back to the store,
// warming the cache on a store hit. A report whose call id does not parse
// is a miss.
func (p *Processor) completedReport(ctx context.Context, fp, tier string) (*report.InsightReport, uuid.UUID, bool) {
	if rep, ok := p.cache.Get(ctx, fp); ok {
		if id, err := uuid.Parse(rep.CallID); err == nil {
			return rep, id, true
		}
		p.logger.Warn("cached report has an invalid call id, treating as miss", "call_id", rep.CallID)
	}
	rep, err := p.repo.LatestReport(ctx, fp)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			p.logger.Warn("report lookup failed, treating as miss", "error", err)
		}
		return nil, uuid.Nil, false
	}
	id, err := uuid.Parse(rep.CallID)
	if err != nil {
		p.logger.Warn("stored report has an invalid call id, treating as miss", "call_id", rep.CallID)
		return nil, uuid.Nil, false
	}
	p.cache.Put(ctx, fp, rep, p.cacheTTL(tier))
	return rep, id, true
}

// Status is the polled view of a request.
type Status struct {
	RequestID    uuid.UUID             `json:"request_id"`
	State        store.State           `json:"state"`
	Degraded     bool                  `json:"degraded"`
	ErrorKind    string                `json:"-"`
	ErrorMessage string                `json:"-"`
	Attempts     int                   `json:"attempts"`
	CreatedAt    time.Time             `json:"created_at"`
	FinishedAt   *time.Time            `json:"finished_at,omitempty"`
	Report       *report.InsightReport `json:"report,omitempty"`
}

func (p *Processor) Poll(ctx context.Context, id uuid.UUID) (*Status, error) {
	req, err := p.repo.GetRequest(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("request %s not found", id)
	}
	if err != nil {
		return nil, apperr.Infrastructure(err, "get request")
	}

	st := &Status{
		RequestID:    req.ID,
		State:        req.State,
		Degraded:     req.Degraded,
		ErrorKind:    req.ErrorKind,
		ErrorMessage: req.ErrorMessage,
		Attempts:     req.Attempts,
		CreatedAt:    req.CreatedAt,
		FinishedAt:   req.FinishedAt,
	}
	if req.State == store.StateCompleted {
		rep, err := p.repo.GetReport(ctx, id)
		if err != nil {
			return nil, apperr.Infrastructure(err, "get report")
		}
		st.Report = rep
	}
	return st, nil
}

// Remaining reports a rep's quota without consuming it.
func (p *Processor) Remaining(ctx context.Context, repID string, tier usage.Tier) (usage.Decision, error) {
	return p.limiter.Authorize(ctx, repID, tier)
}
