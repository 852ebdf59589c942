package cache

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/dealintel/internal/analysis"
	"github.com/MikeSquared-Agency/dealintel/internal/report"
	"github.com/MikeSquared-Agency/dealintel/internal/transcript"
)

func sampleReport() *report.InsightReport {
	score := 62
	return &report.InsightReport{
		CallID:               "6f1c2a4e-1111-4d2b-9a9a-000000000001",
		DealScore:            &score,
		RiskLevel:            analysis.RiskMedium,
		ScoringFactors:       map[string]float64{"intent": 0.65, "objections": 0.333},
		IntentClassification: analysis.IntentComparing,
		DetectedObjections: []analysis.Objection{
			{Text: "too expensive", Category: analysis.CategoryPrice, Timestamp: 0.42, TurnIndex: 3, RecommendedResponse: "reframe"},
		},
		TalkRatio:                transcript.TalkRatio{RepPercentage: 55.5, ProspectPercentage: 44.5, TotalWords: 812},
		SentimentTimeline:        []transcript.SentimentPoint{{Timestamp: 0.1, Speaker: transcript.RoleProspect, SentimentScore: 0.5, EngagementLevel: 0.4}},
		KeyTopics:                []string{"pricing"},
		DecisionMakersIdentified: []string{"Priya (CFO)"},
		BudgetMentions:           []string{"$50,000"},
		TimelineUrgency:          []string{"end of Q3"},
		CompetitorMentions:       []string{"Hubspot"},
		NextBestActions:          []report.NextAction{{Action: "Send ROI", Priority: report.PriorityHigh, DueDate: "2026-10-03", Owner: "rep"}},
		CoachableMoments:         []report.CoachableMoment{},
		ConfidenceScore:          0.71,
		ProcessingTimeMs:         1834,
		AnalyzerVersion:          analysis.Version,
		CreatedAt:                time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("rep: hi\n", []analysis.Kind{analysis.KindIntent, analysis.KindObjections})
	b := Fingerprint("rep: hi\n", []analysis.Kind{analysis.KindObjections, analysis.KindIntent})
	c := Fingerprint("rep: hi\n", []analysis.Kind{analysis.KindIntent})
	d := Fingerprint("rep: hello\n", []analysis.Kind{analysis.KindIntent, analysis.KindObjections})

	assert.Equal(t, a, b, "analyzer order must not matter")
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.Len(t, a, 64)
}

func TestRedis_RoundTrip(t *testing.T) {
	mr, client := newRedis(t)
	c := NewRedis(client, slog.Default())
	ctx := context.Background()

	_, ok := c.Get(ctx, "fp-1")
	assert.False(t, ok)

	want := sampleReport()
	c.Put(ctx, "fp-1", want, time.Hour)

	got, ok := c.Get(ctx, "fp-1")
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.Equal(t, time.Hour, mr.TTL(reportKeyPrefix+"fp-1"))

	mr.FastForward(2 * time.Hour)
	_, ok = c.Get(ctx, "fp-1")
	assert.False(t, ok)
}

func TestRedis_ErrorsAreMisses(t *testing.T) {
	mr, client := newRedis(t)
	c := NewRedis(client, slog.Default())
	ctx := context.Background()

	require.NoError(t, mr.Set(reportKeyPrefix+"garbled", "{not json"))
	_, ok := c.Get(ctx, "garbled")
	assert.False(t, ok)

	mr.Close()
	c.Put(ctx, "fp-2", sampleReport(), time.Minute)
	_, ok = c.Get(ctx, "fp-2")
	assert.False(t, ok)
}

func TestMemory_RoundTripAndExpiry(t *testing.T) {
	m := NewMemory()
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	want := sampleReport()
	m.Put(ctx, "fp", want, time.Minute)
	got, ok := m.Get(ctx, "fp")
	require.True(t, ok)
	assert.Equal(t, want, got)

	now = now.Add(2 * time.Minute)
	_, ok = m.Get(ctx, "fp")
	assert.False(t, ok)
}

func TestMemory_ReturnsIndependentCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.Put(ctx, "fp", sampleReport(), time.Minute)
	first, ok := m.Get(ctx, "fp")
	require.True(t, ok)
	first.DetectedObjections[0].Text = "changed"
	first.KeyTopics = append(first.KeyTopics[:0], "mutated")
	*first.DealScore = 1

	second, ok := m.Get(ctx, "fp")
	require.True(t, ok)
	assert.Equal(t, sampleReport(), second)
}

func TestRedisLocker_Exclusive(t *testing.T) {
	mr, client := newRedis(t)
	l := NewRedisLocker(client)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "fp", time.Second, 0)
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "fp", time.Second, 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockBusy)

	release(ctx)
	assert.False(t, mr.Exists(lockKeyPrefix+"fp"))

	release2, err := l.Acquire(ctx, "fp", time.Second, 0)
	require.NoError(t, err)
	defer release2(ctx)
}

func TestRedisLocker_StaleReleaseKeepsNewHolder(t *testing.T) {
	mr, client := newRedis(t)
	l := NewRedisLocker(client)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "fp", 100*time.Millisecond, 0)
	require.NoError(t, err)
	mr.FastForward(200 * time.Millisecond)

	_, err = l.Acquire(ctx, "fp", time.Second, 0)
	require.NoError(t, err)

	release(ctx)
	assert.True(t, mr.Exists(lockKeyPrefix+"fp"), "expired holder must not delete the new lease")
}

func TestLocalLocker_SerializesHolders(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(ctx, "fp", time.Second, 5*time.Second)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			release(ctx)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestLocalLocker_LeaseExpires(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	_, err := l.Acquire(ctx, "fp", 20*time.Millisecond, 0)
	require.NoError(t, err)

	release, err := l.Acquire(ctx, "fp", time.Second, time.Second)
	require.NoError(t, err)
	release(ctx)
}
