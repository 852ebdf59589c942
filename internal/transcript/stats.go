package transcript

import (
	"math"
	"strings"
)

type TalkRatio struct {
	RepPercentage      float64 `json:"rep_percentage"`
	ProspectPercentage float64 `json:"prospect_percentage"`
	TotalWords         int     `json:"total_words"`
}

// ComputeTalkRatio splits speaking share by word count. The two percentages
// always sum to 100; a call with no words is reported as 50/50.
func ComputeTalkRatio(turns []Turn) TalkRatio {
	var rep, total int
	for _, t := range turns {
		total += t.WordCount
		if t.Role == RoleRep {
			rep += t.WordCount
		}
	}
	if total == 0 {
		return TalkRatio{RepPercentage: 50, ProspectPercentage: 50}
	}
	repPct := round1(float64(rep) * 100 / float64(total))
	return TalkRatio{
		RepPercentage:      repPct,
		ProspectPercentage: round1(100 - repPct),
		TotalWords:         total,
	}
}

type SentimentPoint struct {
	Timestamp       float64 `json:"timestamp"`
	Speaker         Role    `json:"speaker"`
	SentimentScore  float64 `json:"sentiment_score"`
	EngagementLevel float64 `json:"engagement_level"`
}

var positiveWords = wordSet(
	"great", "good", "excellent", "love", "like", "perfect", "amazing", "helpful",
	"interested", "excited", "impressive", "valuable", "useful", "awesome", "fantastic",
	"yes", "definitely", "absolutely", "agree", "exactly", "happy", "glad", "nice",
)

var negativeWords = wordSet(
	"bad", "terrible", "hate", "problem", "issue", "difficult", "expensive", "concerned",
	"worried", "unfortunately", "frustrated", "confusing", "disappointed", "no", "not",
	"never", "unsure", "doubt", "risky", "complicated", "annoying", "slow",
)

func wordSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// Sentiment scores text in [-1, 1]; each positive word adds 0.5 and each
// negative word subtracts 0.5.
func Sentiment(text string) float64 {
	score := 0.0
	for _, tok := range Tokens(text) {
		tok = strings.TrimSuffix(tok, "'s")
		switch {
		case positiveWords[tok]:
			score += 0.5
		case negativeWords[tok]:
			score -= 0.5
		}
	}
	return math.Max(-1, math.Min(1, score))
}

// SentimentTimeline emits one point per prospect turn, which is the side
// whose mood moves the deal.
func SentimentTimeline(turns []Turn) []SentimentPoint {
	points := make([]SentimentPoint, 0, len(turns)/2+1)
	for _, t := range turns {
		if t.Role != RoleProspect {
			continue
		}
		points = append(points, SentimentPoint{
			Timestamp:       round3(t.Timestamp),
			Speaker:         t.Role,
			SentimentScore:  Sentiment(t.Text),
			EngagementLevel: round3(math.Min(float64(t.WordCount)/20, 1)),
		})
	}
	return points
}

// SentimentSlope is the least-squares slope of sentiment over call position.
// Fewer than two points, or points at a single position, give 0.
func SentimentSlope(points []SentimentPoint) float64 {
	n := float64(len(points))
	if n < 2 {
		return 0
	}
	var sx, sy, sxx, sxy float64
	for _, p := range points {
		sx += p.Timestamp
		sy += p.SentimentScore
		sxx += p.Timestamp * p.Timestamp
		sxy += p.Timestamp * p.SentimentScore
	}
	den := n*sxx - sx*sx
	if math.Abs(den) < 1e-12 {
		return 0
	}
	return (n*sxy - sx*sy) / den
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
