package analysis

import (
	"context"

	"github.com/MikeSquared-Agency/dealintel/internal/transcript"
)

type Category string

const (
	CategoryPrice      Category = "price"
	CategoryTiming     Category = "timing"
	CategoryCompetitor Category = "competitor"
	CategoryAuthority  Category = "authority"
	CategoryOther      Category = "other"
)

type Objection struct {
	Text                string   `json:"text"`
	Category            Category `json:"category"`
	Timestamp           float64  `json:"timestamp"`
	TurnIndex           int      `json:"turn_index"`
	Resolved            bool     `json:"resolved"`
	RecommendedResponse string   `json:"recommended_response"`
	matchCount          int
}

type ObjectionPayload struct {
	Objections []Objection `json:"objections"`
}

func (*ObjectionPayload) kind() Kind { return KindObjections }

// Unresolved counts objections the rep never closed out.
func (p *ObjectionPayload) Unresolved() int {
	n := 0
	for _, o := range p.Objections {
		if !o.Resolved {
			n++
		}
	}
	return n
}

var categoryOrder = []Category{CategoryPrice, CategoryTiming, CategoryCompetitor, CategoryAuthority, CategoryOther}

var objectionPatterns = map[Category]phrases{
	CategoryPrice: newPhrases(
		"expensive", "too much", "costs too", "cost too", "over budget", "out of our budget",
		"budget is tight", "no budget", "can't afford", "cannot afford", "cheaper", "pricey",
		"price is too", "too high", "pricing is high",
	),
	CategoryTiming: newPhrases(
		"too busy", "not now", "bad time", "wrong time", "not ready", "next quarter", "next year",
		"wait until", "hold off", "not a priority", "maybe later", "circle back",
	),
	CategoryCompetitor: newPhrases(
		"competitor", "alternative", "alternatives", "other option", "other options", "already using",
		"already have a", "current vendor", "locked into", "contract with", "other vendors",
	),
	CategoryAuthority: newPhrases(
		"need to check", "check with", "my boss", "my manager", "the committee", "not my decision",
		"approval", "sign off", "run it by", "the board", "procurement", "need buy-in",
	),
	CategoryOther: newPhrases(
		"not sure we need", "don't see the value", "not convinced", "concerned about", "worried about",
		"too complicated", "too complex", "don't trust", "security concerns", "hard to implement",
	),
}

var recommendedResponses = map[Category]string{
	CategoryPrice:      "Reframe around ROI and cost of inaction; offer a phased or smaller starting package.",
	CategoryTiming:     "Quantify the cost of waiting and agree on a concrete follow-up date tied to their timeline.",
	CategoryCompetitor: "Acknowledge the alternative, then differentiate on the outcomes that matter most to them.",
	CategoryAuthority:  "Offer to prepare material for the decision maker and ask to include them in the next call.",
	CategoryOther:      "Ask a clarifying question to surface the underlying concern before answering it.",
}

// Markers in a prospect's reply that signal the concern still stands.
var unresolvedMarkers = newPhrases("but", "however", "still", "even though", "not sure")

// DetectObjections finds objection language in prospect turns. An objection
// is resolved when a later rep turn responds to it, the prospect's next reply
// does not push back, and the category is not raised again.
func DetectObjections(turns []transcript.Turn) []Objection {
	var out []Objection
	padded := make([]string, len(turns))
	for i, t := range turns {
		padded[i] = transcript.Padded(t.Text)
	}

	for i, t := range turns {
		if t.Role != transcript.RoleProspect {
			continue
		}
		for _, cat := range categoryOrder {
			n := objectionPatterns[cat].count(padded[i])
			if n == 0 {
				continue
			}
			out = append(out, Objection{
				Text:                truncate(t.Text, 240),
				Category:            cat,
				Timestamp:           t.Timestamp,
				TurnIndex:           t.Index,
				Resolved:            resolved(turns, padded, i, cat),
				RecommendedResponse: recommendedResponses[cat],
				matchCount:          n,
			})
		}
	}
	return out
}

func resolved(turns []transcript.Turn, padded []string, at int, cat Category) bool {
	answered := false
	for j := at + 1; j < len(turns); j++ {
		if turns[j].Role == transcript.RoleRep {
			answered = true
			continue
		}
		if objectionPatterns[cat].count(padded[j]) > 0 {
			return false
		}
		if answered && unresolvedMarkers.count(padded[j]) > 0 {
			return false
		}
		if answered {
			// The first prospect reply after the rep's answer decides it;
			// later turns only matter if they repeat the category.
			for k := j + 1; k < len(turns); k++ {
				if turns[k].Role == transcript.RoleProspect && objectionPatterns[cat].count(padded[k]) > 0 {
					return false
				}
			}
			return true
		}
	}
	return answered
}

type ObjectionDetector struct{}

func NewObjectionDetector() *ObjectionDetector { return &ObjectionDetector{} }

func (d *ObjectionDetector) Kind() Kind { return KindObjections }

func (d *ObjectionDetector) Analyze(ctx context.Context, turns []transcript.Turn) PartialResult {
	if err := ctx.Err(); err != nil {
		return failed(KindObjections, err)
	}
	objections := DetectObjections(turns)

	confidence := 0.7
	if len(objections) > 0 {
		total := 0
		for _, o := range objections {
			total += o.matchCount
		}
		avg := float64(total) / float64(len(objections))
		confidence = 0.6 + 0.1*avg
		if confidence > 0.95 {
			confidence = 0.95
		}
	}
	if objections == nil {
		objections = []Objection{}
	}
	return PartialResult{
		Kind:       KindObjections,
		Payload:    &ObjectionPayload{Objections: objections},
		Confidence: confidence,
	}
}
