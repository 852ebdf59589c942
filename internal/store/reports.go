package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/dealintel/internal/report"
)

func scanReport(row pgx.Row) (*report.InsightReport, error) {
	var body []byte
	if err := row.Scan(&body); err != nil {
		return nil, err
	}
	var rep report.InsightReport
	if err := json.Unmarshal(body, &rep); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &rep, nil
}

// GetReport returns the report stored for a completed request.
func (s *Store) GetReport(ctx context.Context, requestID uuid.UUID) (*report.InsightReport, error) {
	rep, err := scanReport(s.pool.QueryRow(ctx,
		`SELECT report FROM insight_reports WHERE request_id = $1`, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return rep, nil
}

// LatestReport returns the newest report for a fingerprint. It backs the
// result cache when the cache has evicted or never held the entry.
func (s *Store) LatestReport(ctx context.Context, fingerprint string) (*report.InsightReport, error) {
	rep, err := scanReport(s.pool.QueryRow(ctx, `
		SELECT report FROM insight_reports
		WHERE fingerprint = $1
		ORDER BY created_at DESC
		LIMIT 1`, fingerprint))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest report: %w", err)
	}
	return rep, nil
}
