// Package report merges analyzer partial results into the persisted
// InsightReport.
package report

import (
	"time"

	"github.com/MikeSquared-Agency/dealintel/internal/analysis"
	"github.com/MikeSquared-Agency/dealintel/internal/transcript"
)

// InsightReport is the stored, immutable result of one analysis request.
// Field names are part of the external contract. Fields owned by an analyzer
// that was not requested or failed are left unset and omitted, never zeroed.
type InsightReport struct {
	CallID                   string                      `json:"call_id"`
	DealScore                *int                        `json:"deal_score,omitempty"`
	RiskLevel                analysis.RiskLevel          `json:"risk_level,omitempty"`
	ScoringFactors           map[string]float64          `json:"scoring_factors,omitempty"`
	IntentClassification     analysis.Intent             `json:"intent_classification,omitempty"`
	IntentReasoning          string                      `json:"intent_reasoning,omitempty"`
	DetectedObjections       []analysis.Objection        `json:"detected_objections"`
	TalkRatio                transcript.TalkRatio        `json:"talk_ratio"`
	SentimentTimeline        []transcript.SentimentPoint `json:"sentiment_timeline"`
	KeyTopics                []string                    `json:"key_topics"`
	DecisionMakersIdentified []string                    `json:"decision_makers_identified"`
	BudgetMentions           []string                    `json:"budget_mentions"`
	TimelineUrgency          []string                    `json:"timeline_urgency"`
	CompetitorMentions       []string                    `json:"competitor_mentions"`
	NextBestActions          []NextAction                `json:"next_best_actions"`
	CoachableMoments         []CoachableMoment           `json:"coachable_moments"`
	ConfidenceScore          float64                     `json:"confidence_score"`
	ProcessingTimeMs         int64                       `json:"processing_time_ms"`
	DegradedAnalyzers        []analysis.Kind             `json:"degraded_analyzers,omitempty"`
	AnalyzerVersion          string                      `json:"analyzer_version"`
	CreatedAt                time.Time                   `json:"created_at"`
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	}
	return 2
}

type NextAction struct {
	Action   string   `json:"action"`
	Priority Priority `json:"priority"`
	DueDate  string   `json:"due_date,omitempty"`
	Owner    string   `json:"owner"`
}

type CoachableMoment struct {
	Timestamp   float64 `json:"timestamp"`
	Category    string  `json:"category"`
	Observation string  `json:"observation"`
	Suggestion  string  `json:"suggestion"`
}

// Importance weighs each analyzer's confidence in the report confidence.
type Importance map[analysis.Kind]float64

func DefaultImportance() Importance {
	return Importance{
		analysis.KindObjections: 0.30,
		analysis.KindIntent:     0.25,
		analysis.KindDealScore:  0.30,
		analysis.KindEntities:   0.15,
	}
}

func (im Importance) weight(k analysis.Kind) float64 {
	if w, ok := im[k]; ok && w > 0 {
		return w
	}
	return 0
}
