package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/dealintel/internal/analysis"
)

// Score bands used by rep and team summaries.
const (
	HighScoreThreshold = 70
	AtRiskThreshold    = 40
	topObjectionLimit  = 5

	// A rep averaging more objections per call than this needs coaching.
	highObjectionRate = 3.0
	// Share of calls whose prospect talk share is outside 30-70%.
	unbalancedTalkShare = 0.3
)

// RequestSummary is one row of a rep's call history. The transcript is not
// included.
type RequestSummary struct {
	RequestID  uuid.UUID       `json:"request_id"`
	State      State           `json:"state"`
	Metadata   Metadata        `json:"metadata"`
	Analyzers  []analysis.Kind `json:"analyzers"`
	Degraded   bool            `json:"degraded"`
	ErrorKind  string          `json:"error_kind,omitempty"`
	DealScore  *int            `json:"deal_score,omitempty"`
	RiskLevel  string          `json:"risk_level,omitempty"`
	Intent     string          `json:"intent_classification,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

type DailyActivity struct {
	Date         string   `json:"date"`
	Analyzed     int      `json:"calls_analyzed"`
	AvgDealScore *float64 `json:"avg_deal_score,omitempty"`
}

// Summary aggregates the calls one or more reps submitted since a point in
// time. Averages only cover calls that have a deal score.
type Summary struct {
	RepIDs                []string        `json:"rep_ids"`
	Since                 time.Time       `json:"since"`
	Submitted             int             `json:"calls_submitted"`
	Analyzed              int             `json:"calls_analyzed"`
	Failed                int             `json:"calls_failed"`
	Scored                int             `json:"calls_scored"`
	AvgDealScore          *float64        `json:"avg_deal_score,omitempty"`
	HighScoreCalls        int             `json:"high_score_calls"`
	AtRiskCalls           int             `json:"at_risk_calls"`
	TotalObjections       int             `json:"total_objections"`
	TopObjections         []CategoryCount `json:"top_objections"`
	UnbalancedTalkCalls   int             `json:"unbalanced_talk_calls"`
	Daily                 []DailyActivity `json:"daily"`
	CoachingOpportunities []string        `json:"coaching_opportunities"`
}

// callFacts is what a summary needs from one request and its report.
type callFacts struct {
	state         State
	createdAt     time.Time
	dealScore     *int
	prospectShare *float64
	objections    []string
}

func summarize(repIDs []string, since time.Time, facts []callFacts) *Summary {
	s := &Summary{
		RepIDs:                repIDs,
		Since:                 since,
		TopObjections:         []CategoryCount{},
		Daily:                 []DailyActivity{},
		CoachingOpportunities: []string{},
	}

	type day struct {
		analyzed, scored, total int
	}
	days := map[string]*day{}
	categories := map[string]int{}
	scoreTotal := 0

	for _, f := range facts {
		s.Submitted++
		switch f.state {
		case StateFailed:
			s.Failed++
			continue
		case StateCompleted:
		default:
			continue
		}
		s.Analyzed++

		key := f.createdAt.UTC().Format("2006-01-02")
		d := days[key]
		if d == nil {
			d = &day{}
			days[key] = d
		}
		d.analyzed++

		if f.dealScore != nil {
			score := *f.dealScore
			s.Scored++
			scoreTotal += score
			d.scored++
			d.total += score
			if score >= HighScoreThreshold {
				s.HighScoreCalls++
			}
			if score < AtRiskThreshold {
				s.AtRiskCalls++
			}
		}
		if f.prospectShare != nil && (*f.prospectShare < 30 || *f.prospectShare > 70) {
			s.UnbalancedTalkCalls++
		}
		for _, c := range f.objections {
			s.TotalObjections++
			categories[c]++
		}
	}

	if s.Scored > 0 {
		s.AvgDealScore = average(scoreTotal, s.Scored)
	}

	for c, n := range categories {
		s.TopObjections = append(s.TopObjections, CategoryCount{Category: c, Count: n})
	}
	sort.Slice(s.TopObjections, func(i, j int) bool {
		a, b := s.TopObjections[i], s.TopObjections[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Category < b.Category
	})
	if len(s.TopObjections) > topObjectionLimit {
		s.TopObjections = s.TopObjections[:topObjectionLimit]
	}

	for key, d := range days {
		da := DailyActivity{Date: key, Analyzed: d.analyzed}
		if d.scored > 0 {
			da.AvgDealScore = average(d.total, d.scored)
		}
		s.Daily = append(s.Daily, da)
	}
	sort.Slice(s.Daily, func(i, j int) bool { return s.Daily[i].Date < s.Daily[j].Date })

	if s.AtRiskCalls > 0 {
		s.CoachingOpportunities = append(s.CoachingOpportunities,
			fmt.Sprintf("%d calls with low deal scores (<%d)", s.AtRiskCalls, AtRiskThreshold))
	}
	if s.Analyzed > 0 && float64(s.TotalObjections)/float64(s.Analyzed) > highObjectionRate {
		s.CoachingOpportunities = append(s.CoachingOpportunities,
			"High objection rate: review objection handling techniques")
	}
	if float64(s.UnbalancedTalkCalls) > float64(s.Analyzed)*unbalancedTalkShare {
		s.CoachingOpportunities = append(s.CoachingOpportunities,
			"Improve talk ratio balance in conversations")
	}
	return s
}

func average(total, n int) *float64 {
	v := math.Round(float64(total)/float64(n)*10) / 10
	return &v
}

// ListRequests returns a rep's requests, newest first.
func (s *Store) ListRequests(ctx context.Context, repID string, limit, offset int) ([]RequestSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.state, r.metadata, r.analyzers, r.degraded, r.error_kind, r.created_at, r.finished_at,
		       i.deal_score, i.risk_level, i.intent
		FROM analysis_requests r
		LEFT JOIN insight_reports i ON i.request_id = r.id
		WHERE r.rep_id = $1
		ORDER BY r.created_at DESC, r.id
		LIMIT $2 OFFSET $3`, repID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (RequestSummary, error) {
		var (
			rs               RequestSummary
			state            string
			meta             []byte
			analyzers        []string
			riskLevel, label *string
		)
		if err := row.Scan(&rs.RequestID, &state, &meta, &analyzers, &rs.Degraded, &rs.ErrorKind,
			&rs.CreatedAt, &rs.FinishedAt, &rs.DealScore, &riskLevel, &label); err != nil {
			return rs, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &rs.Metadata); err != nil {
				return rs, fmt.Errorf("decode metadata: %w", err)
			}
		}
		rs.State = State(state)
		rs.Analyzers = stringsToKinds(analyzers)
		if riskLevel != nil {
			rs.RiskLevel = *riskLevel
		}
		if label != nil {
			rs.Intent = *label
		}
		return rs, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan requests: %w", err)
	}
	if out == nil {
		out = []RequestSummary{}
	}
	return out, nil
}

// Summary aggregates the requests of repIDs created at or after since.
func (s *Store) Summary(ctx context.Context, repIDs []string, since time.Time) (*Summary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.state, r.created_at, i.deal_score,
		       (i.report -> 'talk_ratio' ->> 'prospect_percentage')::float8,
		       COALESCE(jsonb_path_query_array(i.report, '$.detected_objections[*].category'), '[]'::jsonb)
		FROM analysis_requests r
		LEFT JOIN insight_reports i ON i.request_id = r.id
		WHERE r.rep_id = ANY($1) AND r.created_at >= $2`, repIDs, since)
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	facts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (callFacts, error) {
		var (
			f          callFacts
			state      string
			objections []byte
		)
		if err := row.Scan(&state, &f.createdAt, &f.dealScore, &f.prospectShare, &objections); err != nil {
			return f, err
		}
		f.state = State(state)
		if err := json.Unmarshal(objections, &f.objections); err != nil {
			return f, fmt.Errorf("decode objection categories: %w", err)
		}
		return f, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan summary: %w", err)
	}
	return summarize(repIDs, since, facts), nil
}
