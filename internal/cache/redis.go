package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MikeSquared-Agency/dealintel/internal/metrics"
	"github.com/MikeSquared-Agency/dealintel/internal/report"
)

const reportKeyPrefix = "dealintel:report:"

// NewRedisClient parses a redis:// URL and verifies the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Redis stores reports as JSON strings with a TTL.
type Redis struct {
	client redis.UniversalClient
	logger *slog.Logger
}

func NewRedis(client redis.UniversalClient, logger *slog.Logger) *Redis {
	return &Redis{client: client, logger: logger}
}

func (r *Redis) Get(ctx context.Context, fingerprint string) (*report.InsightReport, bool) {
	raw, err := r.client.Get(ctx, reportKeyPrefix+fingerprint).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	if err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		r.logger.Warn("cache get failed", "fingerprint", fingerprint, "error", err)
		return nil, false
	}

	var rep report.InsightReport
	if err := json.Unmarshal(raw, &rep); err != nil {
		metrics.CacheLookups.WithLabelValues("error").Inc()
		r.logger.Warn("cache entry unreadable", "fingerprint", fingerprint, "error", err)
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return &rep, true
}

func (r *Redis) Put(ctx context.Context, fingerprint string, rep *report.InsightReport, ttl time.Duration) {
	if rep == nil {
		return
	}
	raw, err := json.Marshal(rep)
	if err != nil {
		r.logger.Warn("cache encode failed", "fingerprint", fingerprint, "error", err)
		return
	}
	if err := r.client.Set(ctx, reportKeyPrefix+fingerprint, raw, ttl).Err(); err != nil {
		r.logger.Warn("cache put failed", "fingerprint", fingerprint, "error", err)
	}
}
