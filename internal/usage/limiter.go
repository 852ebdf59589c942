// Package usage enforces per-tier monthly analysis quotas.
package usage

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/dealintel/internal/apperr"
	"github.com/MikeSquared-Agency/dealintel/internal/metrics"
)

type Tier string

const (
	TierProfessional Tier = "professional"
	TierBusiness     Tier = "business"
)

func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case TierProfessional, TierBusiness:
		return t, nil
	}
	return "", apperr.Validation("unknown tier %q", s)
}

type Quotas map[Tier]int

func DefaultQuotas() Quotas {
	return Quotas{TierProfessional: 100, TierBusiness: 500}
}

// Store keeps per-rep, per-period call counts. IncrementIfBelow must be a
// single atomic conditional increment.
type Store interface {
	CurrentUsage(ctx context.Context, repID, period string) (int, error)
	IncrementIfBelow(ctx context.Context, repID, period string, limit int) (count int, ok bool, err error)
}

// Decision is the limiter's answer for one rep. Remaining is -1 when the
// store was unreachable and the limiter is configured to fail open.
type Decision struct {
	Allowed   bool   `json:"allowed"`
	Remaining int    `json:"remaining"`
	Limit     int    `json:"limit"`
	Period    string `json:"period"`
}

type Limiter struct {
	store    Store
	quotas   Quotas
	failOpen bool
	logger   *slog.Logger
	now      func() time.Time
}

func NewLimiter(store Store, quotas Quotas, failOpen bool, logger *slog.Logger) *Limiter {
	if quotas == nil {
		quotas = DefaultQuotas()
	}
	return &Limiter{store: store, quotas: quotas, failOpen: failOpen, logger: logger, now: time.Now}
}

// Period is the billing period key for t: the UTC calendar month.
func Period(t time.Time) string {
	return t.UTC().Format("2006-01")
}

func (l *Limiter) Limit(tier Tier) (int, error) {
	q, ok := l.quotas[tier]
	if !ok {
		return 0, apperr.Validation("unknown tier %q", tier)
	}
	return q, nil
}

// Authorize reports whether rep may submit another analysis this period.
// It does not consume quota.
func (l *Limiter) Authorize(ctx context.Context, repID string, tier Tier) (Decision, error) {
	limit, err := l.Limit(tier)
	if err != nil {
		return Decision{}, err
	}
	period := Period(l.now())

	used, err := l.store.CurrentUsage(ctx, repID, period)
	if err != nil {
		return l.storeDown(repID, tier, limit, period, err)
	}
	d := Decision{Allowed: used < limit, Remaining: max(limit-used, 0), Limit: limit, Period: period}
	if !d.Allowed {
		metrics.QuotaDenials.WithLabelValues(string(tier), "exhausted").Inc()
	}
	return d, nil
}

// Record consumes one unit of quota. It fails with a quota_exceeded error
// when a concurrent submission took the last unit first.
func (l *Limiter) Record(ctx context.Context, repID string, tier Tier) (Decision, error) {
	limit, err := l.Limit(tier)
	if err != nil {
		return Decision{}, err
	}
	period := Period(l.now())

	count, ok, err := l.store.IncrementIfBelow(ctx, repID, period, limit)
	if err != nil {
		return l.storeDown(repID, tier, limit, period, err)
	}
	if !ok {
		metrics.QuotaDenials.WithLabelValues(string(tier), "race").Inc()
		return Decision{Remaining: 0, Limit: limit, Period: period},
			apperr.QuotaExceeded("monthly quota of %d analyses used for %s", limit, period)
	}
	return Decision{Allowed: true, Remaining: max(limit-count, 0), Limit: limit, Period: period}, nil
}

func (l *Limiter) storeDown(repID string, tier Tier, limit int, period string, err error) (Decision, error) {
	if l.failOpen {
		l.logger.Warn("usage store unreachable, allowing request", "rep_id", repID, "tier", tier, "error", err)
		return Decision{Allowed: true, Remaining: -1, Limit: limit, Period: period}, nil
	}
	metrics.QuotaDenials.WithLabelValues(string(tier), "store_unavailable").Inc()
	l.logger.Error("usage store unreachable, denying request", "rep_id", repID, "tier", tier, "error", err)
	return Decision{Limit: limit, Period: period}, apperr.Infrastructure(err, "usage store unavailable")
}
