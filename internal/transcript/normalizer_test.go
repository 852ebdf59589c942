package transcript

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/dealintel/internal/apperr"
)

func TestNormalize_SpeakerLabels(t *testing.T) {
	raw := `Discovery call with Acme
[00:01] Rep: Thanks for joining today.
[00:05] Prospect: Happy to be here.
We have about twenty minutes.
[00:12] Rep: Great, let's start with your goals.
Rep: What does success look like?
Customer: Faster onboarding for new hires.`

	turns, err := NewNormalizer(0).Normalize(raw)
	require.NoError(t, err)
	require.Len(t, turns, 4)

	assert.Equal(t, RoleRep, turns[0].Role)
	assert.Equal(t, "Thanks for joining today.", turns[0].Text)
	assert.Equal(t, RoleProspect, turns[1].Role)
	assert.Equal(t, "Happy to be here. We have about twenty minutes.", turns[1].Text)
	assert.Equal(t, RoleRep, turns[2].Role)
	assert.Contains(t, turns[2].Text, "What does success look like?")
	assert.Equal(t, RoleProspect, turns[3].Role)

	for i, turn := range turns {
		assert.Equal(t, i, turn.Index)
		assert.False(t, turn.Inferred)
		assert.Greater(t, turn.WordCount, 0)
		if i > 0 {
			assert.Greater(t, turn.Timestamp, turns[i-1].Timestamp, "turns must be strictly ordered")
		}
		assert.Less(t, turn.Timestamp, 1.0)
	}
	assert.Equal(t, 0.0, turns[0].Timestamp)
}

func TestNormalize_MarkerTimestamps(t *testing.T) {
	raw := `[00:00] Rep: hi
[09:00] Prospect: we still need to check the budget with finance first
[10:00] Rep: ok`

	turns, err := NewNormalizer(0).Normalize(raw)
	require.NoError(t, err)
	require.Len(t, turns, 3)

	assert.Equal(t, 0.0, turns[0].Timestamp)
	assert.InDelta(t, 0.9, turns[1].Timestamp, 0.01)
	assert.Greater(t, turns[2].Timestamp, turns[1].Timestamp)
	assert.Less(t, turns[2].Timestamp, 1.0)
}

func TestNormalize_HourMarkers(t *testing.T) {
	raw := "[0:00:00] Rep: hello\n[1:00:00] Prospect: sounds good\n[2:00:00] Rep: great"

	turns, err := NewNormalizer(0).Normalize(raw)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.InDelta(t, 0.5, turns[1].Timestamp, 0.01)
}

func TestNormalize_UnorderedMarkersFallBackToWords(t *testing.T) {
	raw := "[05:00] Rep: one two three\n[01:00] Prospect: four\n[06:00] Rep: five six seven eight"

	turns, err := NewNormalizer(0).Normalize(raw)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, 0.0, turns[0].Timestamp)
	assert.InDelta(t, 0.375, turns[1].Timestamp, 0.001)
	assert.InDelta(t, 0.5, turns[2].Timestamp, 0.001)
}

func TestNormalize_NamedSpeakers(t *testing.T) {
	raw := "Dana Lee: Hi Sam, thanks for the time.\nSam (Customer): Sure.\nDana Lee: Shall we dive in?\nSam (Customer): Yes."

	turns, err := NewNormalizer(0).Normalize(raw)
	require.NoError(t, err)
	require.Len(t, turns, 4)
	assert.Equal(t, RoleRep, turns[0].Role)
	assert.Equal(t, RoleProspect, turns[1].Role)
	assert.Equal(t, RoleRep, turns[2].Role)
}

func TestNormalize_HeuristicFallback(t *testing.T) {
	raw := "Thanks for taking the call. How is your quarter going? It has been busy but good. We are hiring a lot.\n\nThat makes sense. Would a demo next week help?"

	turns, err := NewNormalizer(0).Normalize(raw)
	require.NoError(t, err)
	require.Len(t, turns, 3)

	assert.Equal(t, RoleRep, turns[0].Role)
	assert.Equal(t, RoleProspect, turns[1].Role)
	assert.Equal(t, RoleRep, turns[2].Role)
	for _, turn := range turns {
		assert.True(t, turn.Inferred)
	}
}

func TestNormalize_TooLong(t *testing.T) {
	n := NewNormalizer(100)
	_, err := n.Normalize("Rep: " + strings.Repeat("a", 200))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestNormalize_NoTurns(t *testing.T) {
	for _, raw := range []string{"", "   \n\t ", "... ?! --"} {
		_, err := NewNormalizer(0).Normalize(raw)
		require.Error(t, err, "input %q", raw)
		assert.True(t, apperr.Is(err, apperr.KindValidation))
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	raw := "Rep: Hello there.\nProspect: Hi."
	a, err := NewNormalizer(0).Normalize(raw)
	require.NoError(t, err)
	b, err := NewNormalizer(0).Normalize(raw + "\n")
	require.NoError(t, err)
	assert.Equal(t, Text(a), Text(b))
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"we", "can't", "afford", "50,000", "this", "year"}, Tokens("We can’t afford $50,000 this year."))
	assert.Equal(t, " too expensive ", Padded("Too expensive!"))
}
