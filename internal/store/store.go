package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/dealintel/internal/analysis"
)

//go:embed schema.sql
var schema string

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicate means a live request already exists for the fingerprint.
	ErrDuplicate = errors.New("live request exists for fingerprint")
	// ErrStateConflict means the row was not in a state that allows the
	// transition, or the caller no longer holds its lease.
	ErrStateConflict = errors.New("state transition not allowed")
)

type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Metadata is optional caller context stored with the transcript.
type Metadata struct {
	ProspectCompany     string  `json:"prospect_company,omitempty"`
	CallType            string  `json:"call_type,omitempty"`
	DealValue           float64 `json:"deal_value,omitempty"`
	CallDurationSeconds int     `json:"call_duration,omitempty"`
}

// Request is an analysis request row. The transcript is kept so a worker can
// run the request from storage alone.
type Request struct {
	ID             uuid.UUID
	Fingerprint    string
	RepID          string
	Tier           string
	Transcript     string
	Metadata       Metadata
	Analyzers      []analysis.Kind
	State          State
	ErrorKind      string
	ErrorMessage   string
	Degraded       bool
	WorkerID       string
	LeaseExpiresAt *time.Time
	Attempts       int
	CreatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

// LeaseLive reports whether a running request is still held by a worker.
func (r *Request) LeaseLive(now time.Time) bool {
	return r.State == StateRunning && r.LeaseExpiresAt != nil && r.LeaseExpiresAt.After(now)
}

// Failure is the terminal error recorded on a failed request.
type Failure struct {
	Kind     string
	Message  string
	Degraded bool
}

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func kindsToStrings(kinds []analysis.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func stringsToKinds(names []string) []analysis.Kind {
	out := make([]analysis.Kind, len(names))
	for i, n := range names {
		out[i] = analysis.Kind(n)
	}
	return out
}
