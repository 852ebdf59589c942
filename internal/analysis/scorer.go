package analysis

import (
	"context"
	"math"

	"github.com/MikeSquared-Agency/dealintel/internal/transcript"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Weights are the relative importance of each deal score factor. Only their
// ratios matter.
type Weights struct {
	TalkRatio  float64
	Objections float64
	Intent     float64
	Sentiment  float64
}

func DefaultWeights() Weights {
	return Weights{TalkRatio: 0.25, Objections: 0.35, Intent: 0.25, Sentiment: 0.15}
}

// Signals are the call features the deal score is computed from.
type Signals struct {
	ProspectShare        float64 `json:"prospect_share"`
	UnresolvedObjections int     `json:"unresolved_objections"`
	ResolvedObjections   int     `json:"resolved_objections"`
	Turns                int     `json:"turns"`
	Intent               Intent  `json:"intent"`
	SentimentSlope       float64 `json:"sentiment_slope"`
}

type DealScorePayload struct {
	Score     int                `json:"score"`
	RiskLevel RiskLevel          `json:"risk_level"`
	Factors   map[string]float64 `json:"factors"`
	Signals   Signals            `json:"signals"`
}

func (*DealScorePayload) kind() Kind { return KindDealScore }

const (
	idealProspectLow  = 40.0
	idealProspectHigh = 60.0
)

// Score combines the signals into a 0-100 deal health score:
//
//	score = 100 * sum(w_i * f_i) / sum(w_i)
//
// Every factor f_i lies in [0,1]:
//   - talk_ratio is 1 while the prospect holds 40-60% of the words and falls
//     linearly to 0 at either extreme.
//   - objections is 1/(1 + d*(2u + 0.5r)) for u unresolved and r resolved
//     objections, where d = 10/max(turns,10) scales by call length. It never
//     increases as u grows.
//   - intent is fixed per label: stalled < researching < comparing < ready_to_buy.
//   - sentiment is a logistic of the sentiment slope and never decreases as
//     the slope grows.
//
// Weights that are all zero or negative fall back to DefaultWeights.
func Score(s Signals, w Weights) (int, map[string]float64) {
	if w.TalkRatio < 0 || w.Objections < 0 || w.Intent < 0 || w.Sentiment < 0 ||
		w.TalkRatio+w.Objections+w.Intent+w.Sentiment <= 0 {
		w = DefaultWeights()
	}

	factors := map[string]float64{
		"talk_ratio": talkRatioFactor(s.ProspectShare),
		"objections": objectionFactor(s.UnresolvedObjections, s.ResolvedObjections, s.Turns),
		"intent":     intentFactor(s.Intent),
		"sentiment":  1 / (1 + math.Exp(-4*s.SentimentSlope)),
	}

	sum := w.TalkRatio*factors["talk_ratio"] +
		w.Objections*factors["objections"] +
		w.Intent*factors["intent"] +
		w.Sentiment*factors["sentiment"]
	total := w.TalkRatio + w.Objections + w.Intent + w.Sentiment

	score := int(math.Round(100 * sum / total))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	for k, v := range factors {
		factors[k] = math.Round(v*1000) / 1000
	}
	return score, factors
}

func talkRatioFactor(prospectShare float64) float64 {
	switch {
	case prospectShare < idealProspectLow:
		return clamp01(prospectShare / idealProspectLow)
	case prospectShare > idealProspectHigh:
		return clamp01((100 - prospectShare) / (100 - idealProspectHigh))
	}
	return 1
}

func objectionFactor(unresolved, resolvedCount, turns int) float64 {
	if unresolved < 0 {
		unresolved = 0
	}
	if resolvedCount < 0 {
		resolvedCount = 0
	}
	density := 10 / math.Max(float64(turns), 10)
	return 1 / (1 + density*(2*float64(unresolved)+0.5*float64(resolvedCount)))
}

func intentFactor(i Intent) float64 {
	switch i {
	case IntentReadyToBuy:
		return 0.95
	case IntentComparing:
		return 0.65
	case IntentStalled:
		return 0.15
	}
	return 0.45
}

// Risk maps a deal score to a risk level.
func Risk(score int) RiskLevel {
	switch {
	case score >= 80:
		return RiskLow
	case score >= 60:
		return RiskMedium
	case score >= 40:
		return RiskHigh
	}
	return RiskCritical
}

// DealScorer derives its own signals from the turns so it does not depend on
// the other analyzers finishing.
type DealScorer struct {
	weights Weights
}

func NewDealScorer(w Weights) *DealScorer { return &DealScorer{weights: w} }

func (s *DealScorer) Kind() Kind { return KindDealScore }

func (s *DealScorer) Analyze(ctx context.Context, turns []transcript.Turn) PartialResult {
	if err := ctx.Err(); err != nil {
		return failed(KindDealScore, err)
	}
	sig := SignalsFor(turns)
	score, factors := Score(sig, s.weights)

	confidence := 0.4 + 0.05*float64(len(turns))
	if confidence > 0.9 {
		confidence = 0.9
	}
	return PartialResult{
		Kind: KindDealScore,
		Payload: &DealScorePayload{
			Score:     score,
			RiskLevel: Risk(score),
			Factors:   factors,
			Signals:   sig,
		},
		Confidence: confidence,
	}
}

// SignalsFor extracts scoring signals from turns using the local detectors.
func SignalsFor(turns []transcript.Turn) Signals {
	objections := DetectObjections(turns)
	unresolved := 0
	for _, o := range objections {
		if !o.Resolved {
			unresolved++
		}
	}
	return Signals{
		ProspectShare:        transcript.ComputeTalkRatio(turns).ProspectPercentage,
		UnresolvedObjections: unresolved,
		ResolvedObjections:   len(objections) - unresolved,
		Turns:                len(turns),
		Intent:               ClassifyIntent(turns).Label,
		SentimentSlope:       transcript.SentimentSlope(transcript.SentimentTimeline(turns)),
	}
}
