package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/MikeSquared-Agency/dealintel/internal/anthropic"
	"github.com/MikeSquared-Agency/dealintel/internal/transcript"
)

type EntityPayload struct {
	DecisionMakers  []string `json:"decision_makers"`
	BudgetMentions  []string `json:"budget_mentions"`
	Competitors     []string `json:"competitors"`
	TimelineUrgency []string `json:"timeline_urgency"`
	Topics          []string `json:"key_topics"`
}

func (*EntityPayload) kind() Kind { return KindEntities }

const titleAlts = `CEO|CFO|CTO|COO|CIO|CRO|VP(?: of [A-Z][a-z]+)?|Vice President(?: of [A-Z][a-z]+)?|Director(?: of [A-Z][a-z]+)?|Head of [A-Z][a-z]+|[Ff]ounder|[Oo]wner|[Pp]resident`

var (
	// "Priya, our CFO"
	namedBefore = regexp.MustCompile(`\b([A-Z][a-z]+),? (?:our|my|the) (` + titleAlts + `)`)
	// "our CFO, Priya" and "my boss Dan"
	namedAfter = regexp.MustCompile(`\b(?:our|my|the) (` + titleAlts + `|boss|manager),? ([A-Z][a-z]+)\b`)
	titleOnly  = regexp.MustCompile(`\b(?:` + titleAlts + `)\b`)
	groupsOnly = newPhrases("procurement", "the committee", "buying committee", "the board", "legal team", "finance team")
	moneyRegex = regexp.MustCompile(`(?i)\$\s?\d[\d,]*(?:\.\d+)?\s?(?:k|m|mm|million|thousand)?\b|\b\d[\d,]*(?:\.\d+)?\s?(?:k|million|thousand)?\s?(?:dollars|usd)\b`)
	budgetCue  = regexp.MustCompile(`(?i)[^.!?]*\bbudget\b[^.!?]*[.!?]?`)
	dateRegex  = regexp.MustCompile(`(?i)\b(?:by|before|until|end of) (?:jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:tember)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?|q[1-4])\b(?: \d{1,2})?`)
)

// Capitalized sentence openers that namedBefore would otherwise read as names.
var notNames = map[string]bool{
	"Thanks": true, "Yes": true, "No": true, "So": true, "Well": true, "And": true, "But": true,
	"Also": true, "Actually": true, "Okay": true, "Sure": true, "Honestly": true, "Right": true,
}

var urgencyPhrases = newPhrases(
	"asap", "urgent", "urgently", "immediately", "right away", "this week", "next week", "this month",
	"next month", "this quarter", "next quarter", "end of the quarter", "end of quarter",
	"end of the month", "end of the year", "end of year", "deadline", "in two weeks", "by friday",
)

var topicKeywords = []struct {
	topic   string
	phrases phrases
}{
	{"pricing", newPhrases("price", "pricing", "cost", "budget", "discount", "license", "per seat")},
	{"features", newPhrases("feature", "features", "functionality", "capability", "dashboard", "reporting")},
	{"implementation", newPhrases("implementation", "onboarding", "rollout", "setup", "migration", "deploy")},
	{"timeline", newPhrases("timeline", "deadline", "quarter", "launch", "go live", "schedule")},
	{"support", newPhrases("support", "training", "help desk", "customer success", "sla")},
	{"competition", newPhrases("competitor", "alternative", "versus", "compared to", "other vendors")},
	{"decision process", newPhrases("decision", "approval", "sign off", "committee", "procurement", "stakeholders")},
	{"technical", newPhrases("api", "integration", "integrations", "security", "sso", "data", "infrastructure")},
}

// ExtractEntities pulls deal entities out of turns with patterns and keyword
// tables. competitors are matched case-insensitively as whole words.
func ExtractEntities(turns []transcript.Turn, competitors []string) EntityPayload {
	var dms, budget, comps, urgency []string
	topicCounts := map[string]int{}
	compPhrases := newPhrases(competitors...)

	for _, t := range turns {
		padded := transcript.Padded(t.Text)

		for _, m := range namedBefore.FindAllStringSubmatch(t.Text, -1) {
			if !notNames[m[1]] {
				dms = append(dms, fmt.Sprintf("%s (%s)", m[1], m[2]))
			}
		}
		for _, m := range namedAfter.FindAllStringSubmatch(t.Text, -1) {
			dms = append(dms, fmt.Sprintf("%s (%s)", m[2], m[1]))
		}
		for _, m := range titleOnly.FindAllString(t.Text, -1) {
			dms = append(dms, m)
		}
		dms = append(dms, groupsOnly.matches(padded)...)

		budget = append(budget, moneyRegex.FindAllString(t.Text, -1)...)
		if t.Role == transcript.RoleProspect {
			for _, s := range budgetCue.FindAllString(t.Text, -1) {
				budget = append(budget, strings.TrimSpace(s))
			}
		}

		for i, ph := range compPhrases {
			if strings.Contains(padded, ph) {
				comps = append(comps, displayName(competitors[i]))
			}
		}

		urgency = append(urgency, urgencyPhrases.matches(padded)...)
		urgency = append(urgency, dateRegex.FindAllString(t.Text, -1)...)

		for _, tk := range topicKeywords {
			topicCounts[tk.topic] += tk.phrases.count(padded)
		}
	}

	return EntityPayload{
		DecisionMakers:  nonNil(collapseTitles(dedupe(dms))),
		BudgetMentions:  nonNil(dedupe(budget)),
		Competitors:     nonNil(dedupe(comps)),
		TimelineUrgency: nonNil(dedupe(urgency)),
		Topics:          rankTopics(topicCounts),
	}
}

// collapseTitles drops a bare title when a named entry already carries it,
// so "Priya (CFO)" wins over "CFO".
func collapseTitles(items []string) []string {
	var out []string
	for _, it := range items {
		redundant := false
		if !strings.Contains(it, "(") {
			for _, other := range items {
				if other != it && strings.Contains(other, "(") && strings.Contains(other, it) {
					redundant = true
					break
				}
			}
		}
		if !redundant {
			out = append(out, it)
		}
	}
	return out
}

func rankTopics(counts map[string]int) []string {
	topics := make([]string, 0, len(counts))
	for t, n := range counts {
		if n > 0 {
			topics = append(topics, t)
		}
	}
	sort.Slice(topics, func(i, j int) bool {
		if counts[topics[i]] != counts[topics[j]] {
			return counts[topics[i]] > counts[topics[j]]
		}
		return topics[i] < topics[j]
	})
	return topics
}

func displayName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

type EntityExtractor struct {
	llm         Completer
	competitors []string
	logger      *slog.Logger
}

func NewEntityExtractor(llm Completer, competitors []string, logger *slog.Logger) *EntityExtractor {
	return &EntityExtractor{llm: llm, competitors: competitors, logger: logger}
}

func (e *EntityExtractor) Kind() Kind { return KindEntities }

func (e *EntityExtractor) Analyze(ctx context.Context, turns []transcript.Turn) PartialResult {
	local := ExtractEntities(turns, e.competitors)
	if e.llm == nil {
		return PartialResult{Kind: KindEntities, Payload: &local, Confidence: entityConfidence(local)}
	}

	raw, err := e.llm.Complete(ctx, entitySystemPrompt, []anthropic.Message{
		{Role: "user", Content: fmt.Sprintf(entityUserPrompt, transcript.Text(turns))},
	}, 1024)
	if err != nil {
		return failed(KindEntities, fmt.Errorf("llm entities: %w", err))
	}

	var resp struct {
		DecisionMakers  []string `json:"decision_makers"`
		BudgetMentions  []string `json:"budget_mentions"`
		Competitors     []string `json:"competitors"`
		TimelineUrgency []string `json:"timeline_urgency"`
		KeyTopics       []string `json:"key_topics"`
	}
	if err := json.Unmarshal([]byte(anthropic.ExtractJSON(raw)), &resp); err != nil {
		e.logger.Error("failed to parse entity response", "error", err, "raw", raw)
		return failed(KindEntities, errorf(KindEntities, "parse llm response: %v", err))
	}

	p := EntityPayload{
		DecisionMakers:  nonNil(dedupe(resp.DecisionMakers)),
		BudgetMentions:  nonNil(dedupe(resp.BudgetMentions)),
		Competitors:     nonNil(dedupe(append(resp.Competitors, local.Competitors...))),
		TimelineUrgency: nonNil(dedupe(resp.TimelineUrgency)),
		Topics:          nonNil(dedupe(resp.KeyTopics)),
	}
	if len(p.Topics) == 0 {
		p.Topics = local.Topics
	}
	return PartialResult{Kind: KindEntities, Payload: &p, Confidence: entityConfidence(p) + 0.05}
}

func entityConfidence(p EntityPayload) float64 {
	c := 0.5
	for _, l := range [][]string{p.DecisionMakers, p.BudgetMentions, p.Competitors, p.TimelineUrgency, p.Topics} {
		if len(l) > 0 {
			c += 0.08
		}
	}
	return c
}
