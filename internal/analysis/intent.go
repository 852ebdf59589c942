package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"github.com/MikeSquared-Agency/dealintel/internal/anthropic"
	"github.com/MikeSquared-Agency/dealintel/internal/transcript"
)

type Intent string

const (
	IntentResearching Intent = "researching"
	IntentComparing   Intent = "comparing"
	IntentReadyToBuy  Intent = "ready_to_buy"
	IntentStalled     Intent = "stalled"
)

func (i Intent) Valid() bool {
	switch i {
	case IntentResearching, IntentComparing, IntentReadyToBuy, IntentStalled:
		return true
	}
	return false
}

type IntentPayload struct {
	Label      Intent             `json:"label"`
	Confidence float64            `json:"confidence"`
	Reasoning  string             `json:"reasoning,omitempty"`
	Scores     map[Intent]float64 `json:"scores,omitempty"`
}

func (*IntentPayload) kind() Kind { return KindIntent }

type intentSignal struct {
	intent  Intent
	weight  float64
	phrases phrases
}

// Tie-break order when two intents score the same.
var intentSignals = []intentSignal{
	{IntentReadyToBuy, 1.0, newPhrases(
		"buy", "purchase", "sign", "contract", "agree", "ready", "let's do it", "when can we start",
		"next steps", "send the proposal", "move forward", "get started",
	)},
	{IntentComparing, 0.7, newPhrases(
		"compare", "versus", "vs", "alternative", "competitor", "other options", "difference between",
		"how are you different", "looking at", "evaluating",
	)},
	{IntentResearching, 0.5, newPhrases(
		"information", "details", "how does", "what is", "explain", "demo", "show me", "learn more",
		"curious", "understand",
	)},
	{IntentStalled, 0.3, newPhrases(
		"think about it", "maybe later", "not sure", "need time", "let me get back", "hold off",
		"not a priority", "circle back", "revisit",
	)},
}

var negativeIndicators = newPhrases(
	"not interested", "no budget", "not a fit", "too expensive", "not ready", "no thanks",
)

// ClassifyIntent scores prospect language against keyword signals.
// Negative indicators cut purchase intent and feed the stalled score; a
// prospect who barely talks leans stalled, one who carries the conversation
// leans toward buying or comparing.
func ClassifyIntent(turns []transcript.Turn) IntentPayload {
	scores := map[Intent]float64{}
	negatives := 0
	for _, t := range turns {
		if t.Role != transcript.RoleProspect {
			continue
		}
		p := transcript.Padded(t.Text)
		for _, sig := range intentSignals {
			scores[sig.intent] += sig.weight * float64(sig.phrases.count(p))
		}
		negatives += negativeIndicators.count(p)
	}

	if negatives > 0 {
		scores[IntentReadyToBuy] = math.Max(0, scores[IntentReadyToBuy]-0.5*float64(negatives))
		scores[IntentStalled] += 0.3 * float64(negatives)
	}

	tr := transcript.ComputeTalkRatio(turns)
	switch {
	case tr.TotalWords == 0:
	case tr.ProspectPercentage > 55:
		scores[IntentReadyToBuy] *= 1.2
		scores[IntentComparing] *= 1.2
	case tr.ProspectPercentage < 25:
		scores[IntentStalled] += 0.3
	}

	best, top, second := IntentResearching, 0.0, 0.0
	for _, sig := range intentSignals {
		s := scores[sig.intent]
		if s > top {
			second = top
			best, top = sig.intent, s
		} else if s > second {
			second = s
		}
	}

	out := IntentPayload{Label: best, Scores: map[Intent]float64{}}
	for k, v := range scores {
		out.Scores[k] = math.Round(v*100) / 100
	}
	if top == 0 {
		out.Confidence = 0.4
		out.Reasoning = "no clear buying signals; defaulting to researching"
		return out
	}
	out.Confidence = 0.5 + 0.45*(top-second)/top
	out.Reasoning = fmt.Sprintf("strongest signal %s (%.2f) over runner-up (%.2f)", best, top, second)
	return out
}

// IntentClassifier uses the LLM when one is configured and keyword scoring
// otherwise.
type IntentClassifier struct {
	llm    Completer
	logger *slog.Logger
}

func NewIntentClassifier(llm Completer, logger *slog.Logger) *IntentClassifier {
	return &IntentClassifier{llm: llm, logger: logger}
}

func (c *IntentClassifier) Kind() Kind { return KindIntent }

func (c *IntentClassifier) Analyze(ctx context.Context, turns []transcript.Turn) PartialResult {
	if c.llm == nil {
		p := ClassifyIntent(turns)
		return PartialResult{Kind: KindIntent, Payload: &p, Confidence: p.Confidence}
	}

	raw, err := c.llm.Complete(ctx, intentSystemPrompt, []anthropic.Message{
		{Role: "user", Content: fmt.Sprintf(intentUserPrompt, transcript.Text(turns))},
	}, 512)
	if err != nil {
		return failed(KindIntent, fmt.Errorf("llm intent: %w", err))
	}

	var resp struct {
		Intent     Intent  `json:"intent"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	body := anthropic.ExtractJSON(raw)
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		c.logger.Error("failed to parse intent response", "error", err, "raw", raw)
		return failed(KindIntent, errorf(KindIntent, "parse llm response: %v", err))
	}
	if !resp.Intent.Valid() {
		return failed(KindIntent, errorf(KindIntent, "llm returned unknown intent %q", resp.Intent))
	}
	if resp.Confidence < 0 || resp.Confidence > 1 || math.IsNaN(resp.Confidence) {
		return failed(KindIntent, errorf(KindIntent, "llm confidence %v out of range", resp.Confidence))
	}

	return PartialResult{
		Kind:       KindIntent,
		Payload:    &IntentPayload{Label: resp.Intent, Confidence: resp.Confidence, Reasoning: resp.Reasoning},
		Confidence: resp.Confidence,
	}
}
