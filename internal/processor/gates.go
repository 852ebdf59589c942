package processor

import (
	"strings"

	"github.com/MikeSquared-Agency/dealintel/internal/analysis"
	"github.com/MikeSquared-Agency/dealintel/internal/apperr"
	"github.com/MikeSquared-Agency/dealintel/internal/store"
	"github.com/MikeSquared-Agency/dealintel/internal/usage"
)

// SubmitInput is one analysis submission as received from the API.
type SubmitInput struct {
	RepID      string
	Tier       string
	Transcript string
	Metadata   store.Metadata
	Analyzers  []string
	// Force reruns the analysis even when a completed report exists.
	Force bool
}

type admitted struct {
	repID string
	tier  usage.Tier
	kinds []analysis.Kind
}

// admit checks the caller-supplied fields that do not need the transcript.
func admit(in SubmitInput) (admitted, error) {
	repID := strings.TrimSpace(in.RepID)
	if repID == "" {
		return admitted{}, apperr.Validation("rep id is required")
	}
	tier, err := usage.ParseTier(in.Tier)
	if err != nil {
		return admitted{}, err
	}
	kinds, err := analysis.ParseKinds(in.Analyzers)
	if err != nil {
		return admitted{}, err
	}
	if in.Metadata.DealValue < 0 {
		return admitted{}, apperr.Validation("deal_value must not be negative")
	}
	if in.Metadata.CallDurationSeconds < 0 {
		return admitted{}, apperr.Validation("call_duration must not be negative")
	}
	return admitted{repID: repID, tier: tier, kinds: kinds}, nil
}
