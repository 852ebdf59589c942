package analysis

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractEntities(t *testing.T) {
	turns := normalize(t, `Rep: Who else is involved in the decision?
Prospect: Priya, our CFO, signs off. We have a budget of $50,000 for this and need it live by end of Q3.
Rep: Are you looking at anyone else?
Prospect: We looked at HubSpot and Pipedrive. Our integration with the API is the main worry, and it's urgent.`)

	p := ExtractEntities(turns, []string{"hubspot", "pipedrive", "salesforce"})

	assert.Contains(t, p.DecisionMakers, "Priya (CFO)")
	assert.NotContains(t, p.DecisionMakers, "CFO")
	assert.Contains(t, p.BudgetMentions, "$50,000")
	assert.Equal(t, []string{"Hubspot", "Pipedrive"}, p.Competitors)
	assert.Contains(t, p.TimelineUrgency, "urgent")
	assert.Contains(t, p.TimelineUrgency, "end of Q3")
	assert.Contains(t, p.Topics, "technical")
	assert.Contains(t, p.Topics, "pricing")
}

func TestExtractEntities_EmptyListsNotNil(t *testing.T) {
	p := ExtractEntities(normalize(t, "Rep: Hi.\nProspect: Hello."), nil)
	assert.NotNil(t, p.DecisionMakers)
	assert.NotNil(t, p.BudgetMentions)
	assert.NotNil(t, p.Competitors)
	assert.NotNil(t, p.TimelineUrgency)
	assert.NotNil(t, p.Topics)
}

func TestEntityExtractor_LLM(t *testing.T) {
	turns := normalize(t, "Rep: Hi.\nProspect: We use Salesforce today.")
	out := `Here you go: {"decision_makers":["Dan (VP Sales)"],"budget_mentions":[],"competitors":["Gong"],"timeline_urgency":["this quarter"],"key_topics":["forecasting"]}`

	res := NewEntityExtractor(fakeCompleter{out: out}, []string{"salesforce"}, slog.Default()).Analyze(context.Background(), turns)
	require.NoError(t, res.Err)
	p := res.Payload.(*EntityPayload)
	assert.Equal(t, []string{"Dan (VP Sales)"}, p.DecisionMakers)
	assert.ElementsMatch(t, []string{"Gong", "Salesforce"}, p.Competitors)
	assert.Equal(t, []string{"forecasting"}, p.Topics)
}
