package report

import (
	"fmt"
	"math"
	"time"

	"github.com/MikeSquared-Agency/dealintel/internal/analysis"
	"github.com/MikeSquared-Agency/dealintel/internal/apperr"
	"github.com/MikeSquared-Agency/dealintel/internal/transcript"
)

// Confidence is the importance-weighted mean of the requested analyzers'
// confidences. Failed or missing analyzers count as 0. When no requested
// analyzer has a positive weight, every analyzer weighs the same.
func Confidence(requested []analysis.Kind, results []analysis.PartialResult, im Importance) float64 {
	if len(requested) == 0 {
		return 0
	}
	byKind := indexResults(results)

	total := 0.0
	for _, k := range requested {
		total += im.weight(k)
	}
	uniform := total <= 0

	sum, denom := 0.0, 0.0
	for _, k := range requested {
		w := 1.0
		if !uniform {
			w = im.weight(k)
		}
		c := 0.0
		if r, ok := byKind[k]; ok && !r.Failed() {
			c = r.Confidence
		}
		sum += w * c
		denom += w
	}
	return math.Round(sum/denom*1000) / 1000
}

func indexResults(results []analysis.PartialResult) map[analysis.Kind]analysis.PartialResult {
	m := make(map[analysis.Kind]analysis.PartialResult, len(results))
	for _, r := range results {
		m[r.Kind] = r
	}
	return m
}

// QuorumError reports that most analyzers in a request failed.
type QuorumError struct {
	Failed    []analysis.Kind
	Requested int
}

func (e *QuorumError) Error() string {
	return fmt.Sprintf("%d of %d analyzers failed: %v", len(e.Failed), e.Requested, e.Failed)
}

type Input struct {
	CallID     string
	Turns      []transcript.Turn
	Requested  []analysis.Kind
	Results    []analysis.PartialResult
	Importance Importance
	Elapsed    time.Duration
	Now        time.Time
}

// Build merges partial results into a report. If more than half of the
// requested analyzers failed it returns an analyzer-kind error wrapping a
// *QuorumError instead. Any failure at or below half is recorded in
// DegradedAnalyzers.
func Build(in Input) (*InsightReport, error) {
	byKind := indexResults(in.Results)

	var failedKinds []analysis.Kind
	for _, k := range in.Requested {
		if r, ok := byKind[k]; !ok || r.Failed() {
			failedKinds = append(failedKinds, k)
		}
	}
	if len(failedKinds)*2 > len(in.Requested) {
		qe := &QuorumError{Failed: failedKinds, Requested: len(in.Requested)}
		return nil, apperr.Wrap(apperr.KindAnalyzer, qe, "quorum failure")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	im := in.Importance
	if im == nil {
		im = DefaultImportance()
	}

	rep := &InsightReport{
		CallID:                   in.CallID,
		DetectedObjections:       []analysis.Objection{},
		TalkRatio:                transcript.ComputeTalkRatio(in.Turns),
		SentimentTimeline:        transcript.SentimentTimeline(in.Turns),
		KeyTopics:                []string{},
		DecisionMakersIdentified: []string{},
		BudgetMentions:           []string{},
		TimelineUrgency:          []string{},
		CompetitorMentions:       []string{},
		ConfidenceScore:          Confidence(in.Requested, in.Results, im),
		ProcessingTimeMs:         in.Elapsed.Milliseconds(),
		DegradedAnalyzers:        failedKinds,
		AnalyzerVersion:          analysis.Version,
		CreatedAt:                now,
	}

	for _, k := range in.Requested {
		r, ok := byKind[k]
		if !ok || r.Failed() {
			continue
		}
		switch p := r.Payload.(type) {
		case *analysis.ObjectionPayload:
			rep.DetectedObjections = p.Objections
		case *analysis.IntentPayload:
			rep.IntentClassification = p.Label
			rep.IntentReasoning = p.Reasoning
		case *analysis.DealScorePayload:
			score := p.Score
			rep.DealScore = &score
			rep.RiskLevel = p.RiskLevel
			rep.ScoringFactors = p.Factors
		case *analysis.EntityPayload:
			rep.KeyTopics = p.Topics
			rep.DecisionMakersIdentified = p.DecisionMakers
			rep.BudgetMentions = p.BudgetMentions
			rep.TimelineUrgency = p.TimelineUrgency
			rep.CompetitorMentions = p.Competitors
		default:
			return nil, apperr.New(apperr.KindAnalyzer, "unexpected %T payload from %s analyzer", r.Payload, k)
		}
	}

	rep.NextBestActions = NextActions(rep, now)
	rep.CoachableMoments = Coaching(rep, in.Turns)
	return rep, nil
}
