// Package analysis holds the closed set of transcript analyzers and the
// harness that runs each one under its own deadline.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/dealintel/internal/apperr"
	"github.com/MikeSquared-Agency/dealintel/internal/transcript"
)

// Version identifies the analyzer logic. Bumping it invalidates cached reports.
const Version = "2026.10.1"

type Kind string

const (
	KindObjections Kind = "objections"
	KindIntent     Kind = "intent"
	KindDealScore  Kind = "deal_score"
	KindEntities   Kind = "entities"
)

// AllKinds lists every analyzer in a fixed order.
func AllKinds() []Kind {
	return []Kind{KindObjections, KindIntent, KindDealScore, KindEntities}
}

func (k Kind) Valid() bool {
	switch k {
	case KindObjections, KindIntent, KindDealScore, KindEntities:
		return true
	}
	return false
}

// ParseKinds validates, de-duplicates and sorts the requested analyzer set.
// An empty request means all analyzers.
func ParseKinds(names []string) ([]Kind, error) {
	if len(names) == 0 {
		return SortKinds(AllKinds()), nil
	}
	seen := map[Kind]bool{}
	var out []Kind
	for _, n := range names {
		k := Kind(strings.ToLower(strings.TrimSpace(n)))
		if !k.Valid() {
			return nil, apperr.Validation("unknown analyzer %q", n)
		}
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return SortKinds(out), nil
}

func SortKinds(kinds []Kind) []Kind {
	out := append([]Kind(nil), kinds...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Payload is one of *ObjectionPayload, *IntentPayload, *DealScorePayload or
// *EntityPayload.
type Payload interface {
	kind() Kind
}

// PartialResult is a single analyzer's contribution to a report.
type PartialResult struct {
	Kind       Kind
	Payload    Payload
	Confidence float64
	Err        error
	Duration   time.Duration
}

func (r PartialResult) Failed() bool { return r.Err != nil }

func failed(kind Kind, err error) PartialResult {
	return PartialResult{Kind: kind, Err: err}
}

type Analyzer interface {
	Kind() Kind
	Analyze(ctx context.Context, turns []transcript.Turn) PartialResult
}

// Run executes a with its own timeout. A hanging analyzer is abandoned and
// reported as a timeout; a panic becomes an analyzer error. The returned
// result always has a's kind and a confidence of 0 on failure.
func Run(ctx context.Context, a Analyzer, turns []transcript.Turn, timeout time.Duration) PartialResult {
	start := time.Now()
	kind := a.Kind()

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan PartialResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- failed(kind, apperr.New(apperr.KindAnalyzer, "%s analyzer panicked: %v", kind, r))
			}
		}()
		done <- a.Analyze(runCtx, turns)
	}()

	var res PartialResult
	select {
	case res = <-done:
	case <-runCtx.Done():
		res = failed(kind, apperr.Timeout("%s analyzer did not finish within %s", kind, timeout))
	}

	res.Kind = kind
	res.Duration = time.Since(start)
	if res.Err == nil && res.Payload == nil {
		res.Err = apperr.New(apperr.KindAnalyzer, "%s analyzer returned no payload", kind)
	}
	if res.Err == nil && res.Payload.kind() != kind {
		res.Err = apperr.New(apperr.KindAnalyzer, "%s analyzer returned a %s payload", kind, res.Payload.kind())
	}
	if res.Err != nil {
		if errors.Is(res.Err, context.DeadlineExceeded) && !apperr.Is(res.Err, apperr.KindTimeout) {
			res.Err = apperr.Wrap(apperr.KindTimeout, res.Err, "%s analyzer timed out", kind)
		}
		res.Payload = nil
		res.Confidence = 0
		return res
	}
	res.Confidence = clamp01(res.Confidence)
	return res
}

// Registry maps each kind to the analyzer that produces it.
type Registry map[Kind]Analyzer

func NewRegistry(analyzers ...Analyzer) Registry {
	r := make(Registry, len(analyzers))
	for _, a := range analyzers {
		r[a.Kind()] = a
	}
	return r
}

// Get returns the analyzer for k or an analyzer error when none is registered.
func (r Registry) Get(k Kind) (Analyzer, error) {
	a, ok := r[k]
	if !ok {
		return nil, apperr.New(apperr.KindAnalyzer, "no analyzer registered for %s", k)
	}
	return a, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}

func errorf(kind Kind, format string, args ...any) error {
	return apperr.New(apperr.KindAnalyzer, "%s: %s", kind, fmt.Sprintf(format, args...))
}
