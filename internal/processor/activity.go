package processor

import (
	"context"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/dealintel/internal/apperr"
	"github.com/MikeSquared-Agency/dealintel/internal/store"
)

const (
	DefaultPageSize    = 50
	MaxPageSize        = 200
	DefaultSummaryDays = 30
	MaxSummaryDays     = 365
)

// ListRequests pages through a rep's requests, newest first. A zero limit
// means DefaultPageSize.
func (p *Processor) ListRequests(ctx context.Context, repID string, limit, offset int) ([]store.RequestSummary, error) {
	repID = strings.TrimSpace(repID)
	if repID == "" {
		return nil, apperr.Validation("rep id is required")
	}
	if limit == 0 {
		limit = DefaultPageSize
	}
	if limit < 0 || limit > MaxPageSize {
		return nil, apperr.Validation("limit must be between 1 and %d", MaxPageSize)
	}
	if offset < 0 {
		return nil, apperr.Validation("offset must not be negative")
	}

	out, err := p.repo.ListRequests(ctx, repID, limit, offset)
	if err != nil {
		return nil, apperr.Infrastructure(err, "list requests")
	}
	return out, nil
}

// Summary aggregates the last days of activity for one rep or, with several
// rep ids, a team. A zero days means DefaultSummaryDays.
func (p *Processor) Summary(ctx context.Context, repIDs []string, days int) (*store.Summary, error) {
	var ids []string
	seen := map[string]bool{}
	for _, id := range repIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, apperr.Validation("at least one rep id is required")
	}
	if days == 0 {
		days = DefaultSummaryDays
	}
	if days < 0 || days > MaxSummaryDays {
		return nil, apperr.Validation("days must be between 1 and %d", MaxSummaryDays)
	}

	since := p.now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -(days - 1))
	sum, err := p.repo.Summary(ctx, ids, since)
	if err != nil {
		return nil, apperr.Infrastructure(err, "summarize activity")
	}
	return sum, nil
}
