package report

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/dealintel/internal/analysis"
	"github.com/MikeSquared-Agency/dealintel/internal/apperr"
	"github.com/MikeSquared-Agency/dealintel/internal/transcript"
)

var fixedNow = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func okResult(kind analysis.Kind, conf float64, p analysis.Payload) analysis.PartialResult {
	return analysis.PartialResult{Kind: kind, Payload: p, Confidence: conf}
}

func failResult(kind analysis.Kind) analysis.PartialResult {
	return analysis.PartialResult{Kind: kind, Err: apperr.Timeout("%s timed out", kind)}
}

func allOK() []analysis.PartialResult {
	return []analysis.PartialResult{
		okResult(analysis.KindObjections, 0.8, &analysis.ObjectionPayload{Objections: []analysis.Objection{
			{Text: "too expensive", Category: analysis.CategoryPrice, Timestamp: 0.4},
		}}),
		okResult(analysis.KindIntent, 0.6, &analysis.IntentPayload{Label: analysis.IntentComparing}),
		okResult(analysis.KindDealScore, 0.9, &analysis.DealScorePayload{Score: 55, RiskLevel: analysis.RiskHigh}),
		okResult(analysis.KindEntities, 0.7, &analysis.EntityPayload{
			Topics:         []string{"pricing"},
			Competitors:    []string{"Hubspot"},
			BudgetMentions: []string{"$50,000"},
		}),
	}
}

func turns(t *testing.T) []transcript.Turn {
	t.Helper()
	tt, err := transcript.NewNormalizer(0).Normalize("Rep: Hello there.\nProspect: This is too expensive.")
	require.NoError(t, err)
	return tt
}

func TestConfidence_WeightedMean(t *testing.T) {
	im := DefaultImportance()
	got := Confidence(analysis.AllKinds(), allOK(), im)
	want := (0.3*0.8 + 0.25*0.6 + 0.3*0.9 + 0.15*0.7) / 1.0
	assert.InDelta(t, want, got, 0.001)
}

func TestConfidence_FailuresCountAsZero(t *testing.T) {
	results := allOK()
	results[1] = failResult(analysis.KindIntent)
	got := Confidence(analysis.AllKinds(), results, DefaultImportance())
	want := 0.3*0.8 + 0.3*0.9 + 0.15*0.7
	assert.InDelta(t, want, got, 0.001)

	// Missing result for a requested analyzer also counts as zero.
	got = Confidence(analysis.AllKinds(), results[:2], DefaultImportance())
	assert.InDelta(t, 0.3*0.8, got, 0.001)
}

func TestConfidence_UniformWhenNoWeights(t *testing.T) {
	got := Confidence([]analysis.Kind{analysis.KindIntent, analysis.KindEntities}, allOK(), Importance{})
	assert.InDelta(t, 0.65, got, 0.001)
}

func TestBuild_AllSucceed(t *testing.T) {
	rep, err := Build(Input{
		CallID:    "call-1",
		Turns:     turns(t),
		Requested: analysis.AllKinds(),
		Results:   allOK(),
		Elapsed:   1500 * time.Millisecond,
		Now:       fixedNow,
	})
	require.NoError(t, err)

	assert.Equal(t, "call-1", rep.CallID)
	require.NotNil(t, rep.DealScore)
	assert.Equal(t, 55, *rep.DealScore)
	assert.Equal(t, analysis.RiskHigh, rep.RiskLevel)
	assert.Equal(t, analysis.IntentComparing, rep.IntentClassification)
	assert.Len(t, rep.DetectedObjections, 1)
	assert.Equal(t, []string{"Hubspot"}, rep.CompetitorMentions)
	assert.Equal(t, int64(1500), rep.ProcessingTimeMs)
	assert.Empty(t, rep.DegradedAnalyzers)
	assert.InDelta(t, 100.0, rep.TalkRatio.RepPercentage+rep.TalkRatio.ProspectPercentage, 1e-9)
	assert.Equal(t, analysis.Version, rep.AnalyzerVersion)

	require.NotEmpty(t, rep.NextBestActions)
	assert.LessOrEqual(t, len(rep.NextBestActions), 5)
	assert.Equal(t, PriorityHigh, rep.NextBestActions[0].Priority)
	assert.Contains(t, rep.NextBestActions[0].Action, "ROI")
	assert.Equal(t, "2026-10-03", rep.NextBestActions[0].DueDate)
}

func TestBuild_HalfFailedIsDegraded(t *testing.T) {
	results := allOK()
	results[0] = failResult(analysis.KindObjections)
	results[3] = failResult(analysis.KindEntities)

	rep, err := Build(Input{CallID: "c", Turns: turns(t), Requested: analysis.AllKinds(), Results: results, Now: fixedNow})
	require.NoError(t, err)
	assert.ElementsMatch(t, []analysis.Kind{analysis.KindObjections, analysis.KindEntities}, rep.DegradedAnalyzers)
	assert.Empty(t, rep.DetectedObjections)
	assert.NotNil(t, rep.KeyTopics)
}

func TestBuild_FailedAnalyzerFieldsAreOmitted(t *testing.T) {
	results := allOK()
	results[1] = failResult(analysis.KindIntent)
	results[2] = failResult(analysis.KindDealScore)

	rep, err := Build(Input{CallID: "c", Turns: turns(t), Requested: analysis.AllKinds(), Results: results, Now: fixedNow})
	require.NoError(t, err)
	assert.ElementsMatch(t, []analysis.Kind{analysis.KindIntent, analysis.KindDealScore}, rep.DegradedAnalyzers)
	assert.Nil(t, rep.DealScore)
	assert.Empty(t, rep.RiskLevel)
	assert.Empty(t, rep.IntentClassification)

	body, err := json.Marshal(rep)
	require.NoError(t, err)
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &fields))
	for _, key := range []string{"deal_score", "risk_level", "intent_classification", "scoring_factors"} {
		assert.NotContains(t, fields, key)
	}
	assert.Contains(t, fields, "detected_objections")
}

func TestBuild_QuorumFailure(t *testing.T) {
	results := []analysis.PartialResult{
		failResult(analysis.KindObjections),
		failResult(analysis.KindIntent),
		failResult(analysis.KindEntities),
		allOK()[2],
	}
	rep, err := Build(Input{CallID: "c", Turns: turns(t), Requested: analysis.AllKinds(), Results: results, Now: fixedNow})
	require.Error(t, err)
	assert.Nil(t, rep)
	assert.True(t, apperr.Is(err, apperr.KindAnalyzer))

	var qe *QuorumError
	require.True(t, errors.As(err, &qe))
	assert.Len(t, qe.Failed, 3)
	assert.Equal(t, 4, qe.Requested)
}

func TestBuild_SubsetOfAnalyzers(t *testing.T) {
	rep, err := Build(Input{
		CallID:    "c",
		Turns:     turns(t),
		Requested: []analysis.Kind{analysis.KindIntent},
		Results:   allOK(),
		Now:       fixedNow,
	})
	require.NoError(t, err)
	assert.Equal(t, analysis.IntentComparing, rep.IntentClassification)
	assert.Empty(t, rep.DetectedObjections, "unrequested analyzers are ignored")
	assert.Equal(t, 0.6, rep.ConfidenceScore)
}

func TestCoaching(t *testing.T) {
	rep := &InsightReport{
		IntentClassification: analysis.IntentReadyToBuy,
		DetectedObjections:   []analysis.Objection{{Category: analysis.CategoryTiming, Timestamp: 0.85}},
		TalkRatio:            transcript.TalkRatio{RepPercentage: 80, ProspectPercentage: 20, TotalWords: 100},
		SentimentTimeline: []transcript.SentimentPoint{
			{Timestamp: 0.2, SentimentScore: 0.5},
			{Timestamp: 0.6, SentimentScore: -0.5},
		},
	}
	repTurns := []transcript.Turn{{Role: transcript.RoleRep, Text: "Thanks, talk soon."}}

	cats := map[string]bool{}
	for _, m := range Coaching(rep, repTurns) {
		cats[m.Category] = true
	}
	assert.True(t, cats["late_objection"])
	assert.True(t, cats["talk_ratio"])
	assert.True(t, cats["sentiment_drop"])
	assert.True(t, cats["missed_close"])
}
