package analysis

import (
	"strings"

	"github.com/MikeSquared-Agency/dealintel/internal/transcript"
)

// phrases is a keyword list pre-normalized for whole-word matching against
// transcript.Padded output.
type phrases []string

func newPhrases(list ...string) phrases {
	out := make(phrases, 0, len(list))
	for _, p := range list {
		out = append(out, transcript.Padded(p))
	}
	return out
}

// count returns how many of the phrases occur in padded text.
func (p phrases) count(padded string) int {
	n := 0
	for _, ph := range p {
		if strings.Contains(padded, ph) {
			n++
		}
	}
	return n
}

// matches returns the phrases found in padded text, trimmed.
func (p phrases) matches(padded string) []string {
	var out []string
	for _, ph := range p {
		if strings.Contains(padded, ph) {
			out = append(out, strings.TrimSpace(ph))
		}
	}
	return out
}

func dedupe(items []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(items))
	for _, it := range items {
		key := strings.ToLower(strings.TrimSpace(it))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, strings.TrimSpace(it))
	}
	return out
}
