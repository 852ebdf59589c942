package analysis

import (
	"context"

	"github.com/MikeSquared-Agency/dealintel/internal/anthropic"
)

// Completer is the slice of the LLM client the analyzers use.
type Completer interface {
	Complete(ctx context.Context, system string, messages []anthropic.Message, maxTokens int) (string, error)
}

const intentSystemPrompt = `You classify the buying intent of the prospect in a B2B sales call transcript.

Choose exactly one label:
- researching: gathering information, early in the process, no comparison or purchase language
- comparing: actively weighing this product against alternatives or competitors
- ready_to_buy: discussing contracts, signatures, start dates, or explicit next steps to purchase
- stalled: deferring, deprioritising, or disengaging from the conversation

Judge the prospect's words, not the rep's. Respond with ONLY a JSON object:
{"intent": "<label>", "confidence": <0.0-1.0>, "reasoning": "<one sentence>"}`

const intentUserPrompt = `Transcript (speaker: text, in call order):

%s`

const entitySystemPrompt = `You extract deal entities from a B2B sales call transcript.

Return ONLY a JSON object with these keys, each an array of short strings (empty array if none):
- decision_makers: people or roles with buying authority, e.g. "Priya (CFO)" or "procurement committee"
- budget_mentions: amounts or budget statements, quoted as said
- competitors: competing vendors or products named by either side
- timeline_urgency: phrases that set a deadline or urgency, e.g. "before end of Q3"
- key_topics: up to six subjects the call covered, lower case

Do not invent entities that are not in the transcript.`

const entityUserPrompt = `Transcript (speaker: text, in call order):

%s`
