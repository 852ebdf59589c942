package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Profile tunes scoring without a redeploy. Missing sections keep defaults.
type Profile struct {
	Scoring     ScoringWeights    `toml:"scoring"`
	Importance  ImportanceWeights `toml:"importance"`
	Competitors []string          `toml:"competitors"`
}

// ScoringWeights are the deal score factor weights.
type ScoringWeights struct {
	TalkRatio  float64 `toml:"talk_ratio"`
	Objections float64 `toml:"objections"`
	Intent     float64 `toml:"intent"`
	Sentiment  float64 `toml:"sentiment"`
}

// ImportanceWeights weigh each analyzer's confidence in the report confidence.
type ImportanceWeights struct {
	Objections float64 `toml:"objections"`
	Intent     float64 `toml:"intent"`
	DealScore  float64 `toml:"deal_score"`
	Entities   float64 `toml:"entities"`
}

func DefaultProfile() Profile {
	return Profile{
		Scoring: ScoringWeights{
			TalkRatio:  0.25,
			Objections: 0.35,
			Intent:     0.25,
			Sentiment:  0.15,
		},
		Importance: ImportanceWeights{
			Objections: 0.30,
			Intent:     0.25,
			DealScore:  0.30,
			Entities:   0.15,
		},
		Competitors: []string{"salesforce", "hubspot", "zoho", "pipedrive", "freshworks", "gong", "outreach", "salesloft"},
	}
}

// LoadProfile reads a TOML profile on top of the defaults. An empty path
// returns the defaults.
func LoadProfile(path string) (Profile, error) {
	profile := DefaultProfile()
	path = strings.TrimSpace(path)
	if path == "" {
		return profile, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return profile, fmt.Errorf("open scoring profile: %w", err)
	}
	defer file.Close()

	if err := toml.NewDecoder(file).Decode(&profile); err != nil {
		return profile, fmt.Errorf("decode scoring profile %s: %w", path, err)
	}
	if err := profile.Validate(); err != nil {
		return profile, fmt.Errorf("scoring profile %s: %w", path, err)
	}
	return profile, nil
}

func (p Profile) Validate() error {
	s := p.Scoring
	for _, w := range []float64{s.TalkRatio, s.Objections, s.Intent, s.Sentiment} {
		if w < 0 {
			return errors.New("scoring weights must be non-negative")
		}
	}
	if s.TalkRatio+s.Objections+s.Intent+s.Sentiment <= 0 {
		return errors.New("at least one scoring weight must be positive")
	}
	i := p.Importance
	for _, w := range []float64{i.Objections, i.Intent, i.DealScore, i.Entities} {
		if w < 0 {
			return errors.New("importance weights must be non-negative")
		}
	}
	return nil
}
