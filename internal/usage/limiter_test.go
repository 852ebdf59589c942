package usage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/dealintel/internal/apperr"
)

type downStore struct{}

func (downStore) CurrentUsage(context.Context, string, string) (int, error) {
	return 0, errors.New("connection refused")
}

func (downStore) IncrementIfBelow(context.Context, string, string, int) (int, bool, error) {
	return 0, false, errors.New("connection refused")
}

func TestPeriod(t *testing.T) {
	assert.Equal(t, "2026-10", Period(time.Date(2026, 10, 31, 23, 59, 0, 0, time.UTC)))
	loc := time.FixedZone("UTC+3", 3*3600)
	assert.Equal(t, "2026-10", Period(time.Date(2026, 11, 1, 1, 0, 0, 0, loc)))
}

func TestParseTier(t *testing.T) {
	tier, err := ParseTier(" Business ")
	require.NoError(t, err)
	assert.Equal(t, TierBusiness, tier)

	_, err = ParseTier("enterprise")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestLimiter_AuthorizeAndRecord(t *testing.T) {
	l := NewLimiter(NewMemoryStore(), Quotas{TierProfessional: 2}, false, slog.Default())
	ctx := context.Background()

	d, err := l.Authorize(ctx, "rep-1", TierProfessional)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)

	for want := 1; want >= 0; want-- {
		d, err = l.Record(ctx, "rep-1", TierProfessional)
		require.NoError(t, err)
		assert.Equal(t, want, d.Remaining)
	}

	d, err = l.Authorize(ctx, "rep-1", TierProfessional)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	_, err = l.Record(ctx, "rep-1", TierProfessional)
	assert.True(t, apperr.Is(err, apperr.KindQuotaExceeded))

	// Other reps are unaffected.
	d, err = l.Authorize(ctx, "rep-2", TierProfessional)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLimiter_NewPeriodResets(t *testing.T) {
	l := NewLimiter(NewMemoryStore(), Quotas{TierProfessional: 1}, false, slog.Default())
	now := time.Date(2026, 9, 30, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := l.Record(ctx, "rep", TierProfessional)
	require.NoError(t, err)
	_, err = l.Record(ctx, "rep", TierProfessional)
	require.Error(t, err)

	now = now.AddDate(0, 0, 1)
	d, err := l.Record(ctx, "rep", TierProfessional)
	require.NoError(t, err)
	assert.Equal(t, "2026-10", d.Period)
}

func TestLimiter_UnknownTier(t *testing.T) {
	l := NewLimiter(NewMemoryStore(), nil, false, slog.Default())
	_, err := l.Authorize(context.Background(), "rep", Tier("gold"))
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestLimiter_FailsClosed(t *testing.T) {
	l := NewLimiter(downStore{}, nil, false, slog.Default())
	d, err := l.Authorize(context.Background(), "rep", TierBusiness)
	require.Error(t, err)
	assert.False(t, d.Allowed)
	assert.True(t, apperr.Is(err, apperr.KindInfrastructure))

	_, err = l.Record(context.Background(), "rep", TierBusiness)
	assert.True(t, apperr.Is(err, apperr.KindInfrastructure))
}

func TestLimiter_FailOpen(t *testing.T) {
	l := NewLimiter(downStore{}, nil, true, slog.Default())
	d, err := l.Authorize(context.Background(), "rep", TierBusiness)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, -1, d.Remaining)
}

func concurrentRecords(t *testing.T, l *Limiter, n int) int64 {
	t.Helper()
	var admitted atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := l.Record(context.Background(), "rep-race", TierProfessional); err == nil {
				admitted.Add(1)
			} else if !apperr.Is(err, apperr.KindQuotaExceeded) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()
	return admitted.Load()
}

func TestLimiter_ConcurrentNeverExceedsQuota(t *testing.T) {
	l := NewLimiter(NewMemoryStore(), Quotas{TierProfessional: 5}, false, slog.Default())
	assert.Equal(t, int64(5), concurrentRecords(t, l, 50))
}

func TestRedisStore_ConcurrentNeverExceedsQuota(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisStore(client)
	l := NewLimiter(store, Quotas{TierProfessional: 7}, false, slog.Default())
	assert.Equal(t, int64(7), concurrentRecords(t, l, 40))

	used, err := store.CurrentUsage(context.Background(), "rep-race", Period(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, 7, used)
}
