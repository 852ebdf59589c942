package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MikeSquared-Agency/dealintel/internal/analysis"
	"github.com/MikeSquared-Agency/dealintel/internal/report"
)

const requestColumns = `id, fingerprint, rep_id, tier, transcript, metadata, analyzers, state,
	error_kind, error_message, degraded, worker_id, lease_expires_at, attempts,
	created_at, started_at, finished_at`

func scanRequest(row pgx.Row) (*Request, error) {
	var r Request
	var meta []byte
	var analyzers []string
	var state string
	err := row.Scan(&r.ID, &r.Fingerprint, &r.RepID, &r.Tier, &r.Transcript, &meta, &analyzers, &state,
		&r.ErrorKind, &r.ErrorMessage, &r.Degraded, &r.WorkerID, &r.LeaseExpiresAt, &r.Attempts,
		&r.CreatedAt, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &r.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	r.Analyzers = stringsToKinds(analyzers)
	r.State = State(state)
	return &r, nil
}

// CreateRequest inserts a pending request. It returns ErrDuplicate when a
// live request with the same fingerprint already exists.
func (s *Store) CreateRequest(ctx context.Context, r *Request) error {
	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.State = StatePending
	err = s.pool.QueryRow(ctx, `
		INSERT INTO analysis_requests (id, fingerprint, rep_id, tier, transcript, metadata, analyzers, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending')
		RETURNING created_at`,
		r.ID, r.Fingerprint, r.RepID, r.Tier, r.Transcript, meta, kindsToStrings(r.Analyzers),
	).Scan(&r.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (s *Store) GetRequest(ctx context.Context, id uuid.UUID) (*Request, error) {
	r, err := scanRequest(s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM analysis_requests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return r, nil
}

// FindLiveRequest returns the pending or running request for a fingerprint.
func (s *Store) FindLiveRequest(ctx context.Context, fingerprint string) (*Request, error) {
	r, err := scanRequest(s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM analysis_requests
		 WHERE fingerprint = $1 AND state IN ('pending', 'running')
		 LIMIT 1`, fingerprint))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find live request: %w", err)
	}
	return r, nil
}

// ClaimRequest moves a pending request, or a running one whose lease has
// expired, to running under workerID. Any other state is ErrStateConflict.
func (s *Store) ClaimRequest(ctx context.Context, id uuid.UUID, workerID string, lease time.Duration) (*Request, error) {
	r, err := scanRequest(s.pool.QueryRow(ctx, `
		UPDATE analysis_requests
		SET state = 'running',
		    worker_id = $2,
		    lease_expires_at = now() + make_interval(secs => $3),
		    attempts = attempts + 1,
		    started_at = COALESCE(started_at, now())
		WHERE id = $1
		  AND (state = 'pending' OR (state = 'running' AND lease_expires_at < now()))
		RETURNING `+requestColumns,
		id, workerID, lease.Seconds()))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.GetRequest(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, ErrStateConflict
	}
	if err != nil {
		return nil, fmt.Errorf("claim request: %w", err)
	}
	return r, nil
}

// CompleteRequest marks a running request completed and stores its report
// and partial results in one transaction.
func (s *Store) CompleteRequest(ctx context.Context, id uuid.UUID, workerID string, rep *report.InsightReport, partials []analysis.PartialResult) error {
	body, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var fingerprint string
	err = tx.QueryRow(ctx, `
		UPDATE analysis_requests
		SET state = 'completed', degraded = $3, finished_at = now(), lease_expires_at = NULL
		WHERE id = $1 AND state = 'running' AND worker_id = $2
		RETURNING fingerprint`,
		id, workerID, len(rep.DegradedAnalyzers) > 0,
	).Scan(&fingerprint)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrStateConflict
	}
	if err != nil {
		return fmt.Errorf("complete request: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO insight_reports (request_id, fingerprint, deal_score, risk_level, intent, confidence, report, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, fingerprint, rep.DealScore, nullIfEmpty(string(rep.RiskLevel)), nullIfEmpty(string(rep.IntentClassification)),
		rep.ConfidenceScore, body, rep.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}

	if err := insertPartials(ctx, tx, id, partials); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// nullIfEmpty stores analyzer-owned labels as NULL when the analyzer did not
// produce them.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// FailRequest marks a live request failed. An empty workerID fails the
// request regardless of which worker holds it.
func (s *Store) FailRequest(ctx context.Context, id uuid.UUID, workerID string, f Failure, partials []analysis.PartialResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `
		UPDATE analysis_requests
		SET state = 'failed', error_kind = $3, error_message = $4, degraded = $5,
		    finished_at = now(), lease_expires_at = NULL
		WHERE id = $1 AND state IN ('pending', 'running') AND ($2 = '' OR worker_id = $2)`,
		id, workerID, f.Kind, f.Message, f.Degraded)
	if err != nil {
		return fmt.Errorf("fail request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateConflict
	}
	if err := insertPartials(ctx, tx, id, partials); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertPartials(ctx context.Context, tx pgx.Tx, id uuid.UUID, partials []analysis.PartialResult) error {
	for _, p := range partials {
		var payload []byte
		if p.Payload != nil {
			b, err := json.Marshal(p.Payload)
			if err != nil {
				return fmt.Errorf("encode %s payload: %w", p.Kind, err)
			}
			payload = b
		}
		errText := ""
		if p.Err != nil {
			errText = p.Err.Error()
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO partial_results (request_id, analyzer, confidence, error, duration_ms, payload)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (request_id, analyzer) DO UPDATE SET
				confidence = EXCLUDED.confidence,
				error = EXCLUDED.error,
				duration_ms = EXCLUDED.duration_ms,
				payload = EXCLUDED.payload,
				recorded_at = now()`,
			id, string(p.Kind), p.Confidence, errText, p.Duration.Milliseconds(), payload)
		if err != nil {
			return fmt.Errorf("insert %s partial: %w", p.Kind, err)
		}
	}
	return nil
}

// DeleteRequest removes a request that never left pending. It is used to
// roll back a submission whose quota could not be recorded.
func (s *Store) DeleteRequest(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM analysis_requests WHERE id = $1 AND state = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStateConflict
	}
	return nil
}

// StaleRequests lists running requests whose lease has expired and pending
// requests older than grace that no worker has picked up.
func (s *Store) StaleRequests(ctx context.Context, grace time.Duration, limit int) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM analysis_requests
		WHERE (state = 'running' AND lease_expires_at < now())
		   OR (state = 'pending' AND created_at < now() - make_interval(secs => $1))
		ORDER BY created_at
		LIMIT $2`, grace.Seconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("query stale requests: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan stale requests: %w", err)
	}
	return ids, nil
}

// Purge deletes finished requests created before the cutoff, along with
// their reports and partials, and usage counters for earlier periods.
func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM analysis_requests
		WHERE created_at < $1 AND state IN ('completed', 'failed')`, before)
	if err != nil {
		return 0, fmt.Errorf("purge requests: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM usage_records WHERE period < $1`, before.UTC().Format("2006-01")); err != nil {
		return 0, fmt.Errorf("purge usage: %w", err)
	}
	return tag.RowsAffected(), nil
}
