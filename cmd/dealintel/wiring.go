package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MikeSquared-Agency/dealintel/internal/analysis"
	"github.com/MikeSquared-Agency/dealintel/internal/anthropic"
	"github.com/MikeSquared-Agency/dealintel/internal/api"
	"github.com/MikeSquared-Agency/dealintel/internal/cache"
	"github.com/MikeSquared-Agency/dealintel/internal/config"
	"github.com/MikeSquared-Agency/dealintel/internal/hermes"
	"github.com/MikeSquared-Agency/dealintel/internal/processor"
	"github.com/MikeSquared-Agency/dealintel/internal/report"
	"github.com/MikeSquared-Agency/dealintel/internal/store"
	"github.com/MikeSquared-Agency/dealintel/internal/transcript"
	"github.com/MikeSquared-Agency/dealintel/internal/usage"
)

func buildAnalyzers(cfg config.Config, profile config.Profile, logger *slog.Logger) analysis.Registry {
	var llm analysis.Completer
	if cfg.AnthropicAPIKey != "" {
		llm = anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
		logger.Info("anthropic client ready", "model", cfg.AnthropicModel)
	} else {
		logger.Warn("ANTHROPIC_API_KEY not set, intent and entities use local analysis")
	}

	return analysis.NewRegistry(
		analysis.NewObjectionDetector(),
		analysis.NewIntentClassifier(llm, logger),
		analysis.NewDealScorer(analysis.Weights{
			TalkRatio:  profile.Scoring.TalkRatio,
			Objections: profile.Scoring.Objections,
			Intent:     profile.Scoring.Intent,
			Sentiment:  profile.Scoring.Sentiment,
		}),
		analysis.NewEntityExtractor(llm, profile.Competitors, logger),
	)
}

func importance(profile config.Profile) report.Importance {
	return report.Importance{
		analysis.KindObjections: profile.Importance.Objections,
		analysis.KindIntent:     profile.Importance.Intent,
		analysis.KindDealScore:  profile.Importance.DealScore,
		analysis.KindEntities:   profile.Importance.Entities,
	}
}

func quotas(cfg config.Config) usage.Quotas {
	return usage.Quotas{
		usage.TierProfessional: cfg.ProfessionalMonthlyLimit,
		usage.TierBusiness:     cfg.BusinessMonthlyLimit,
	}
}

func processorOptions(cfg config.Config, profile config.Profile) processor.Options {
	return processor.Options{
		WorkerID:          cfg.WorkerID,
		ProcessingTimeout: cfg.ProcessingTimeout,
		AnalyzerTimeout:   cfg.AnalyzerTimeout,
		LeaseTTL:          cfg.LeaseTTL,
		PendingGrace:      cfg.PendingGrace,
		Importance:        importance(profile),
		CacheTTL: map[usage.Tier]time.Duration{
			usage.TierProfessional: cfg.CacheTTLProfessional,
			usage.TierBusiness:     cfg.CacheTTLBusiness,
		},
	}
}

// infra holds the shared connections of a server or worker process.
type infra struct {
	db     *store.Store
	redis  *redis.Client
	hermes *hermes.Client
	queue  *hermes.Queue
}

func openInfra(ctx context.Context, cfg config.Config, logger *slog.Logger) (*infra, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	inf := &infra{}

	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	inf.db = db
	logger.Info("database connected")

	if cfg.RedisURL != "" {
		rdb, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			inf.close()
			return nil, err
		}
		inf.redis = rdb
		logger.Info("redis connected")
	} else {
		logger.Warn("REDIS_URL not set, using in-process cache and locks")
	}

	hc, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
	if err != nil {
		inf.close()
		return nil, err
	}
	inf.hermes = hc
	logger.Info("NATS connected", "url", cfg.NatsURL)

	q, err := hermes.NewQueue(ctx, hc, logger)
	if err != nil {
		inf.close()
		return nil, err
	}
	inf.queue = q
	return inf, nil
}

func (inf *infra) close() {
	if inf.hermes != nil {
		inf.hermes.Close()
	}
	if inf.redis != nil {
		_ = inf.redis.Close()
	}
	if inf.db != nil {
		inf.db.Close()
	}
}

func (inf *infra) checks() map[string]api.Check {
	checks := map[string]api.Check{
		"postgres": inf.db.Ping,
		"nats": func(context.Context) error {
			if !inf.hermes.Connected() {
				return errors.New("not connected")
			}
			return nil
		},
	}
	if inf.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return inf.redis.Ping(ctx).Err() }
	}
	return checks
}

func newProcessor(cfg config.Config, profile config.Profile, inf *infra, logger *slog.Logger) (*processor.Processor, error) {
	var (
		resultCache cache.ResultCache = cache.NewMemory()
		locker      cache.Locker      = cache.NewLocalLocker()
		usageStore  usage.Store       = inf.db
	)
	if inf.redis != nil {
		resultCache = cache.NewRedis(inf.redis, logger)
		locker = cache.NewRedisLocker(inf.redis)
	}
	switch cfg.UsageBackend {
	case "postgres":
	case "redis":
		if inf.redis == nil {
			return nil, errors.New("USAGE_BACKEND=redis requires REDIS_URL")
		}
		usageStore = usage.NewRedisStore(inf.redis)
	default:
		return nil, fmt.Errorf("unknown USAGE_BACKEND %q", cfg.UsageBackend)
	}

	return processor.New(processor.Deps{
		Repo:       inf.db,
		Cache:      resultCache,
		Locker:     locker,
		Limiter:    usage.NewLimiter(usageStore, quotas(cfg), cfg.UsageFailOpen, logger),
		Queue:      inf.queue,
		Events:     inf.hermes,
		Analyzers:  buildAnalyzers(cfg, profile, logger),
		Normalizer: transcript.NewNormalizer(cfg.MaxTranscriptLength),
		Logger:     logger,
	}, processorOptions(cfg, profile)), nil
}
