package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/dealintel/internal/analysis"
	"github.com/MikeSquared-Agency/dealintel/internal/transcript"
)

const maxNextActions = 5

// NextActions derives follow-ups from unresolved objections, intent and
// entities. At most five are returned, highest priority first.
func NextActions(rep *InsightReport, now time.Time) []NextAction {
	var actions []NextAction
	add := func(p Priority, owner, format string, args ...any) {
		actions = append(actions, NextAction{
			Action:   fmt.Sprintf(format, args...),
			Priority: p,
			DueDate:  dueDate(now, p),
			Owner:    owner,
		})
	}

	seen := map[analysis.Category]bool{}
	for _, o := range rep.DetectedObjections {
		if o.Resolved || seen[o.Category] {
			continue
		}
		seen[o.Category] = true
		switch o.Category {
		case analysis.CategoryPrice:
			add(PriorityHigh, "rep", "Send an ROI summary and pricing options that address the budget concern")
		case analysis.CategoryAuthority:
			add(PriorityHigh, "rep", "Schedule a follow-up that includes the economic decision maker")
		case analysis.CategoryCompetitor:
			if len(rep.CompetitorMentions) > 0 {
				add(PriorityHigh, "rep", "Prepare a comparison against %s", strings.Join(rep.CompetitorMentions, ", "))
			} else {
				add(PriorityMedium, "rep", "Prepare a competitive differentiation brief")
			}
		case analysis.CategoryTiming:
			add(PriorityMedium, "rep", "Agree on a follow-up date aligned with the prospect's timeline")
		default:
			add(PriorityMedium, "rep", "Follow up on the open concern: %q", o.Text)
		}
	}

	switch rep.IntentClassification {
	case analysis.IntentReadyToBuy:
		add(PriorityHigh, "rep", "Send the contract and propose a start date")
	case analysis.IntentComparing:
		add(PriorityMedium, "rep", "Share customer references and a differentiation summary")
	case analysis.IntentResearching:
		add(PriorityMedium, "rep", "Send a product overview and offer a tailored demo")
	case analysis.IntentStalled:
		add(PriorityLow, "rep", "Re-engage with a short value-focused check-in")
	}

	if len(rep.DecisionMakersIdentified) > 0 && !seen[analysis.CategoryAuthority] {
		add(PriorityMedium, "rep", "Loop in %s on the next call", rep.DecisionMakersIdentified[0])
	}
	if len(rep.BudgetMentions) > 0 && !seen[analysis.CategoryPrice] {
		add(PriorityLow, "rep", "Confirm the proposal fits the stated budget")
	}
	if rep.RiskLevel == analysis.RiskCritical || rep.RiskLevel == analysis.RiskHigh {
		add(PriorityMedium, "manager", "Review the deal strategy with the rep")
	}

	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].Priority.rank() < actions[j].Priority.rank()
	})
	if len(actions) > maxNextActions {
		actions = actions[:maxNextActions]
	}
	if actions == nil {
		actions = []NextAction{}
	}
	return actions
}

func dueDate(now time.Time, p Priority) string {
	days := 14
	switch p {
	case PriorityHigh:
		days = 2
	case PriorityMedium:
		days = 7
	}
	return now.AddDate(0, 0, days).Format("2006-01-02")
}

// Coaching flags moments a manager would review: late objections, lopsided
// talk time and sharp drops in prospect sentiment.
func Coaching(rep *InsightReport, turns []transcript.Turn) []CoachableMoment {
	moments := []CoachableMoment{}

	for _, o := range rep.DetectedObjections {
		if o.Timestamp > 0.7 {
			moments = append(moments, CoachableMoment{
				Timestamp:   o.Timestamp,
				Category:    "late_objection",
				Observation: fmt.Sprintf("A %s objection surfaced late in the call", o.Category),
				Suggestion:  "Surface this concern during discovery so it is handled before the close",
			})
		}
	}

	if rep.TalkRatio.TotalWords > 0 {
		switch {
		case rep.TalkRatio.RepPercentage > 70:
			moments = append(moments, CoachableMoment{
				Category:    "talk_ratio",
				Observation: fmt.Sprintf("Rep spoke %.0f%% of the time", rep.TalkRatio.RepPercentage),
				Suggestion:  "Ask more open questions and let the prospect talk",
			})
		case rep.TalkRatio.ProspectPercentage > 70:
			moments = append(moments, CoachableMoment{
				Category:    "talk_ratio",
				Observation: fmt.Sprintf("Prospect spoke %.0f%% of the time", rep.TalkRatio.ProspectPercentage),
				Suggestion:  "Take more control of the agenda and steer toward next steps",
			})
		}
	}

	points := rep.SentimentTimeline
	for i := 1; i < len(points); i++ {
		if points[i-1].SentimentScore-points[i].SentimentScore >= 1 {
			moments = append(moments, CoachableMoment{
				Timestamp:   points[i].Timestamp,
				Category:    "sentiment_drop",
				Observation: "Prospect sentiment dropped sharply",
				Suggestion:  "Pause and acknowledge the concern before continuing",
			})
		}
	}

	if rep.IntentClassification == analysis.IntentReadyToBuy && !repProposedNextStep(turns) {
		moments = append(moments, CoachableMoment{
			Category:    "missed_close",
			Observation: "Prospect showed buying signals but no next step was proposed",
			Suggestion:  "Ask for the commitment and book the next meeting before hanging up",
		})
	}
	return moments
}

var nextStepCues = []string{" next step", " follow up", " follow-up", " send ", " schedule", " contract", " calendar invite", " proposal"}

func repProposedNextStep(turns []transcript.Turn) bool {
	for _, t := range turns {
		if t.Role != transcript.RoleRep {
			continue
		}
		text := " " + strings.ToLower(t.Text) + " "
		for _, cue := range nextStepCues {
			if strings.Contains(text, cue) {
				return true
			}
		}
	}
	return false
}
