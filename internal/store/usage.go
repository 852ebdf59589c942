package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CurrentUsage returns the number of analyses recorded for a rep in period.
func (s *Store) CurrentUsage(ctx context.Context, repID, period string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT call_count FROM usage_records WHERE rep_id = $1 AND period = $2`,
		repID, period).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get usage: %w", err)
	}
	return n, nil
}

// IncrementIfBelow adds one to the rep's counter only while it is below
// limit. The conditional upsert is a single statement, so concurrent callers
// cannot push the count past the limit.
func (s *Store) IncrementIfBelow(ctx context.Context, repID, period string, limit int) (int, bool, error) {
	if limit <= 0 {
		n, err := s.CurrentUsage(ctx, repID, period)
		return n, false, err
	}
	var n int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO usage_records (rep_id, period, call_count, updated_at)
		VALUES ($1, $2, 1, now())
		ON CONFLICT (rep_id, period) DO UPDATE SET
			call_count = usage_records.call_count + 1,
			updated_at = now()
		WHERE usage_records.call_count < $3
		RETURNING call_count`,
		repID, period, limit).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		current, err := s.CurrentUsage(ctx, repID, period)
		return current, false, err
	}
	if err != nil {
		return 0, false, fmt.Errorf("increment usage: %w", err)
	}
	return n, true, nil
}
