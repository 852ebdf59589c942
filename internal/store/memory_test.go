package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/dealintel/internal/analysis"
	"github.com/MikeSquared-Agency/dealintel/internal/report"
	"github.com/MikeSquared-Agency/dealintel/internal/transcript"
)

func TestMemory_LiveFingerprintIsUnique(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first := &Request{Fingerprint: "fp", RepID: "rep"}
	require.NoError(t, m.CreateRequest(ctx, first))
	assert.ErrorIs(t, m.CreateRequest(ctx, &Request{Fingerprint: "fp", RepID: "rep"}), ErrDuplicate)

	live, err := m.FindLiveRequest(ctx, "fp")
	require.NoError(t, err)
	assert.Equal(t, first.ID, live.ID)

	require.NoError(t, m.FailRequest(ctx, first.ID, "", Failure{Kind: "analyzer"}, nil))
	assert.NoError(t, m.CreateRequest(ctx, &Request{Fingerprint: "fp", RepID: "rep"}))
}

func TestMemory_ClaimLeaseAndComplete(t *testing.T) {
	m := NewMemory()
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })
	ctx := context.Background()

	req := &Request{Fingerprint: "fp", Analyzers: []analysis.Kind{analysis.KindDealScore}}
	require.NoError(t, m.CreateRequest(ctx, req))

	_, err := m.ClaimRequest(ctx, req.ID, "a", time.Minute)
	require.NoError(t, err)
	_, err = m.ClaimRequest(ctx, req.ID, "b", time.Minute)
	assert.ErrorIs(t, err, ErrStateConflict)

	now = now.Add(2 * time.Minute)
	ids, err := m.StaleRequests(ctx, time.Hour, 10)
	require.NoError(t, err)
	assert.Contains(t, ids, req.ID)

	claimed, err := m.ClaimRequest(ctx, req.ID, "b", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, claimed.Attempts)

	score := 55
	rep := &report.InsightReport{CallID: req.ID.String(), DealScore: &score, CreatedAt: now}
	assert.ErrorIs(t, m.CompleteRequest(ctx, req.ID, "a", rep, nil), ErrStateConflict)
	require.NoError(t, m.CompleteRequest(ctx, req.ID, "b", rep, []analysis.PartialResult{{Kind: analysis.KindDealScore, Confidence: 0.7}}))

	got, err := m.LatestReport(ctx, "fp")
	require.NoError(t, err)
	require.NotNil(t, got.DealScore)
	assert.Equal(t, 55, *got.DealScore)
	assert.Len(t, m.Partials(req.ID), 1)

	_, err = m.ClaimRequest(ctx, req.ID, "c", time.Minute)
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestMemory_PendingGrace(t *testing.T) {
	m := NewMemory()
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })
	ctx := context.Background()

	req := &Request{Fingerprint: "fp"}
	require.NoError(t, m.CreateRequest(ctx, req))

	ids, _ := m.StaleRequests(ctx, time.Minute, 10)
	assert.Empty(t, ids)

	now = now.Add(90 * time.Second)
	ids, _ = m.StaleRequests(ctx, time.Minute, 10)
	assert.Equal(t, req.ID, ids[0])
}

func TestMemory_Purge(t *testing.T) {
	m := NewMemory()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return now })
	ctx := context.Background()

	old := &Request{Fingerprint: "old"}
	require.NoError(t, m.CreateRequest(ctx, old))
	require.NoError(t, m.FailRequest(ctx, old.ID, "", Failure{Kind: "timeout"}, nil))
	live := &Request{Fingerprint: "live"}
	require.NoError(t, m.CreateRequest(ctx, live))
	_, _, err := m.IncrementIfBelow(ctx, "rep", "2026-06", 5)
	require.NoError(t, err)

	n, err := m.Purge(ctx, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = m.GetRequest(ctx, old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.GetRequest(ctx, live.ID)
	assert.NoError(t, err)
	used, _ := m.CurrentUsage(ctx, "rep", "2026-06")
	assert.Zero(t, used)
}

// finishCall creates a request for rep and completes it with the given
// score, prospect talk share and objection categories.
func finishCall(t *testing.T, m *Memory, repID, fp string, score *int, prospect float64, objections ...analysis.Category) *Request {
	t.Helper()
	ctx := context.Background()
	req := &Request{Fingerprint: fp, RepID: repID, Analyzers: analysis.AllKinds()}
	require.NoError(t, m.CreateRequest(ctx, req))
	_, err := m.ClaimRequest(ctx, req.ID, "w", time.Minute)
	require.NoError(t, err)

	rep := &report.InsightReport{
		CallID:    req.ID.String(),
		DealScore: score,
		TalkRatio: transcript.TalkRatio{RepPercentage: 100 - prospect, ProspectPercentage: prospect},
	}
	if score != nil {
		rep.RiskLevel = analysis.Risk(*score)
		rep.IntentClassification = analysis.IntentComparing
	}
	for _, c := range objections {
		rep.DetectedObjections = append(rep.DetectedObjections, analysis.Objection{Category: c})
	}
	require.NoError(t, m.CompleteRequest(ctx, req.ID, "w", rep, nil))
	return req
}

func scoreOf(n int) *int { return &n }

func TestMemory_ListRequestsPagesNewestFirst(t *testing.T) {
	m := NewMemory()
	now := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time {
		now = now.Add(time.Minute)
		return now
	})
	ctx := context.Background()

	oldest := finishCall(t, m, "rep", "a", scoreOf(81), 50)
	degraded := finishCall(t, m, "rep", "b", nil, 50)
	newest := &Request{Fingerprint: "c", RepID: "rep", Metadata: Metadata{ProspectCompany: "Acme"}}
	require.NoError(t, m.CreateRequest(ctx, newest))
	finishCall(t, m, "someone-else", "d", scoreOf(10), 50)

	page, err := m.ListRequests(ctx, "rep", 10, 0)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, newest.ID, page[0].RequestID)
	assert.Equal(t, "Acme", page[0].Metadata.ProspectCompany)
	assert.Equal(t, StatePending, page[0].State)
	assert.Equal(t, degraded.ID, page[1].RequestID)
	assert.Nil(t, page[1].DealScore)
	assert.Empty(t, page[1].RiskLevel)
	assert.Equal(t, oldest.ID, page[2].RequestID)
	require.NotNil(t, page[2].DealScore)
	assert.Equal(t, 81, *page[2].DealScore)
	assert.Equal(t, string(analysis.RiskLow), page[2].RiskLevel)
	assert.Equal(t, string(analysis.IntentComparing), page[2].Intent)

	page, err = m.ListRequests(ctx, "rep", 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, degraded.ID, page[0].RequestID)

	page, err = m.ListRequests(ctx, "nobody", 10, 0)
	require.NoError(t, err)
	assert.NotNil(t, page)
	assert.Empty(t, page)
}

func TestMemory_Summary(t *testing.T) {
	m := NewMemory()
	day := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
	now := day
	m.SetClock(func() time.Time { return now })
	ctx := context.Background()

	finishCall(t, m, "rep-a", "old", scoreOf(90), 50)

	now = day.AddDate(0, 0, 2)
	finishCall(t, m, "rep-a", "a1", scoreOf(80), 10, analysis.CategoryPrice, analysis.CategoryPrice)
	finishCall(t, m, "rep-a", "a2", scoreOf(30), 85, analysis.CategoryTiming)
	now = day.AddDate(0, 0, 3)
	finishCall(t, m, "rep-b", "b1", scoreOf(55), 50, analysis.CategoryPrice)
	finishCall(t, m, "rep-b", "b2", nil, 50)
	failed := &Request{Fingerprint: "b3", RepID: "rep-b"}
	require.NoError(t, m.CreateRequest(ctx, failed))
	require.NoError(t, m.FailRequest(ctx, failed.ID, "", Failure{Kind: "analyzer"}, nil))
	finishCall(t, m, "rep-c", "c1", scoreOf(5), 50)

	since := day.AddDate(0, 0, 1)
	sum, err := m.Summary(ctx, []string{"rep-a", "rep-b"}, since)
	require.NoError(t, err)

	assert.Equal(t, 5, sum.Submitted)
	assert.Equal(t, 4, sum.Analyzed)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 3, sum.Scored)
	require.NotNil(t, sum.AvgDealScore)
	assert.InDelta(t, 55.0, *sum.AvgDealScore, 0.001)
	assert.Equal(t, 1, sum.HighScoreCalls)
	assert.Equal(t, 1, sum.AtRiskCalls)
	assert.Equal(t, 4, sum.TotalObjections)
	assert.Equal(t, []CategoryCount{{Category: "price", Count: 3}, {Category: "timing", Count: 1}}, sum.TopObjections)
	assert.Equal(t, 2, sum.UnbalancedTalkCalls)

	require.Len(t, sum.Daily, 2)
	assert.Equal(t, "2026-10-03", sum.Daily[0].Date)
	assert.Equal(t, 2, sum.Daily[0].Analyzed)
	require.NotNil(t, sum.Daily[0].AvgDealScore)
	assert.InDelta(t, 55.0, *sum.Daily[0].AvgDealScore, 0.001)
	assert.Equal(t, "2026-10-04", sum.Daily[1].Date)
	assert.Equal(t, 2, sum.Daily[1].Analyzed)

	assert.Equal(t, []string{
		"1 calls with low deal scores (<40)",
		"Improve talk ratio balance in conversations",
	}, sum.CoachingOpportunities)
}

func TestSummarize_HighObjectionRate(t *testing.T) {
	objections := []string{"price", "price", "timing", "authority"}
	facts := []callFacts{
		{state: StateCompleted, createdAt: time.Now(), objections: objections},
		{state: StatePending, createdAt: time.Now()},
	}

	sum := summarize([]string{"rep"}, time.Time{}, facts)
	assert.Equal(t, 2, sum.Submitted)
	assert.Equal(t, 1, sum.Analyzed)
	assert.Nil(t, sum.AvgDealScore)
	assert.Equal(t, []string{"High objection rate: review objection handling techniques"}, sum.CoachingOpportunities)

	empty := summarize([]string{"rep"}, time.Time{}, nil)
	assert.Empty(t, empty.CoachingOpportunities)
	assert.NotNil(t, empty.TopObjections)
	assert.NotNil(t, empty.Daily)
}
