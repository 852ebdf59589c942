package processor

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/dealintel/internal/analysis"
	"github.com/MikeSquared-Agency/dealintel/internal/cache"
	"github.com/MikeSquared-Agency/dealintel/internal/hermes"
	"github.com/MikeSquared-Agency/dealintel/internal/report"
	"github.com/MikeSquared-Agency/dealintel/internal/store"
	"github.com/MikeSquared-Agency/dealintel/internal/transcript"
	"github.com/MikeSquared-Agency/dealintel/internal/usage"
)

// Repository is the persisted request state. *store.Store and *store.Memory
// both satisfy it.
type Repository interface {
	CreateRequest(ctx context.Context, r *store.Request) error
	GetRequest(ctx context.Context, id uuid.UUID) (*store.Request, error)
	FindLiveRequest(ctx context.Context, fingerprint string) (*store.Request, error)
	ClaimRequest(ctx context.Context, id uuid.UUID, workerID string, lease time.Duration) (*store.Request, error)
	CompleteRequest(ctx context.Context, id uuid.UUID, workerID string, rep *report.InsightReport, partials []analysis.PartialResult) error
	FailRequest(ctx context.Context, id uuid.UUID, workerID string, f store.Failure, partials []analysis.PartialResult) error
	DeleteRequest(ctx context.Context, id uuid.UUID) error
	GetReport(ctx context.Context, requestID uuid.UUID) (*report.InsightReport, error)
	LatestReport(ctx context.Context, fingerprint string) (*report.InsightReport, error)
	StaleRequests(ctx context.Context, grace time.Duration, limit int) ([]uuid.UUID, error)
	Purge(ctx context.Context, before time.Time) (int64, error)
	ListRequests(ctx context.Context, repID string, limit, offset int) ([]store.RequestSummary, error)
	Summary(ctx context.Context, repIDs []string, since time.Time) (*store.Summary, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, t hermes.Task) error
}

type Publisher interface {
	Publish(subject string, data any) error
}

// Deps are the collaborators of a Processor. Queue and Events may be nil: a
// nil queue leaves accepted requests pending for the caller to Execute, and
// a nil publisher skips terminal events.
type Deps struct {
	Repo       Repository
	Cache      cache.ResultCache
	Locker     cache.Locker
	Limiter    *usage.Limiter
	Queue      Enqueuer
	Events     Publisher
	Analyzers  analysis.Registry
	Normalizer *transcript.Normalizer
	Logger     *slog.Logger
}

type Options struct {
	WorkerID          string
	ProcessingTimeout time.Duration
	AnalyzerTimeout   time.Duration
	LeaseTTL          time.Duration
	PendingGrace      time.Duration
	Importance        report.Importance
	CacheTTL          map[usage.Tier]time.Duration
}

func (o *Options) applyDefaults() {
	if o.WorkerID == "" {
		o.WorkerID = "worker-" + uuid.NewString()[:8]
	}
	if o.ProcessingTimeout <= 0 {
		o.ProcessingTimeout = 120 * time.Second
	}
	if o.AnalyzerTimeout <= 0 {
		o.AnalyzerTimeout = 45 * time.Second
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = o.ProcessingTimeout + 30*time.Second
	}
	if o.PendingGrace <= 0 {
		o.PendingGrace = time.Minute
	}
	if o.Importance == nil {
		o.Importance = report.DefaultImportance()
	}
	if o.CacheTTL == nil {
		o.CacheTTL = map[usage.Tier]time.Duration{
			usage.TierProfessional: 24 * time.Hour,
			usage.TierBusiness:     72 * time.Hour,
		}
	}
}

const (
	submitLockTTL  = 10 * time.Second
	submitLockWait = 3 * time.Second
	staleBatch     = 500
)

// Processor is the analysis orchestrator. Submit and Poll serve the API;
// Execute and HandleTask serve workers.
type Processor struct {
	repo       Repository
	cache      cache.ResultCache
	locker     cache.Locker
	limiter    *usage.Limiter
	queue      Enqueuer
	events     Publisher
	analyzers  analysis.Registry
	normalizer *transcript.Normalizer
	logger     *slog.Logger
	opts       Options
	now        func() time.Time
}

func New(d Deps, opts Options) *Processor {
	opts.applyDefaults()
	if d.Cache == nil {
		d.Cache = cache.NewMemory()
	}
	if d.Locker == nil {
		d.Locker = cache.NewLocalLocker()
	}
	if d.Normalizer == nil {
		d.Normalizer = transcript.NewNormalizer(transcript.DefaultMaxLength)
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Processor{
		repo:       d.Repo,
		cache:      d.Cache,
		locker:     d.Locker,
		limiter:    d.Limiter,
		queue:      d.Queue,
		events:     d.Events,
		analyzers:  d.Analyzers,
		normalizer: d.Normalizer,
		logger:     d.Logger,
		opts:       opts,
		now:        time.Now,
	}
}

func (p *Processor) WorkerID() string { return p.opts.WorkerID }

func (p *Processor) cacheTTL(tier string) time.Duration {
	if ttl, ok := p.opts.CacheTTL[usage.Tier(tier)]; ok {
		return ttl
	}
	return 24 * time.Hour
}
