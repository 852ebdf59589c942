package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeTalkRatio(t *testing.T) {
	turns := []Turn{
		{Role: RoleRep, WordCount: 30},
		{Role: RoleProspect, WordCount: 10},
	}
	tr := ComputeTalkRatio(turns)
	assert.Equal(t, 75.0, tr.RepPercentage)
	assert.Equal(t, 25.0, tr.ProspectPercentage)
	assert.Equal(t, 40, tr.TotalWords)

	thirds := ComputeTalkRatio([]Turn{{Role: RoleRep, WordCount: 1}, {Role: RoleProspect, WordCount: 2}})
	assert.InDelta(t, 100.0, thirds.RepPercentage+thirds.ProspectPercentage, 1e-9)
}

func TestComputeTalkRatio_Empty(t *testing.T) {
	tr := ComputeTalkRatio(nil)
	assert.Equal(t, 50.0, tr.RepPercentage)
	assert.Equal(t, 50.0, tr.ProspectPercentage)
	assert.Zero(t, tr.TotalWords)
}

func TestSentiment(t *testing.T) {
	assert.Equal(t, 1.0, Sentiment("This is great, I love it, absolutely perfect"))
	assert.Equal(t, -0.5, Sentiment("That is expensive"))
	assert.Equal(t, 0.0, Sentiment("We meet on Tuesday"))
}

func TestSentimentTimeline_ProspectOnly(t *testing.T) {
	turns := []Turn{
		{Role: RoleRep, Text: "Great to meet you", WordCount: 4, Timestamp: 0},
		{Role: RoleProspect, Text: "This looks great", WordCount: 3, Timestamp: 0.2},
		{Role: RoleRep, Text: "Any concerns", WordCount: 2, Timestamp: 0.5},
		{Role: RoleProspect, Text: "Honestly it is too expensive and I am worried", WordCount: 9, Timestamp: 0.6},
	}
	points := SentimentTimeline(turns)
	if assert.Len(t, points, 2) {
		assert.Equal(t, 0.5, points[0].SentimentScore)
		assert.Equal(t, -1.0, points[1].SentimentScore)
		assert.Equal(t, 0.15, points[0].EngagementLevel)
	}
	assert.Less(t, SentimentSlope(points), 0.0)
}

func TestSentimentSlope_Degenerate(t *testing.T) {
	assert.Zero(t, SentimentSlope(nil))
	assert.Zero(t, SentimentSlope([]SentimentPoint{{Timestamp: 0.3, SentimentScore: 1}}))
	assert.Zero(t, SentimentSlope([]SentimentPoint{{Timestamp: 0.3, SentimentScore: 1}, {Timestamp: 0.3, SentimentScore: -1}}))
}
