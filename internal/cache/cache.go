// Package cache holds completed reports keyed by fingerprint and the
// fingerprint lock that serializes submissions.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/dealintel/internal/analysis"
	"github.com/MikeSquared-Agency/dealintel/internal/metrics"
	"github.com/MikeSquared-Agency/dealintel/internal/report"
)

// ResultCache never returns errors: a broken cache behaves like an empty one.
type ResultCache interface {
	Get(ctx context.Context, fingerprint string) (*report.InsightReport, bool)
	Put(ctx context.Context, fingerprint string, rep *report.InsightReport, ttl time.Duration)
}

// Fingerprint identifies one unit of analysis: the normalized transcript,
// the analyzer set and the analyzer logic version.
func Fingerprint(normalizedText string, kinds []analysis.Kind) string {
	sorted := analysis.SortKinds(kinds)
	names := make([]string, len(sorted))
	for i, k := range sorted {
		names[i] = string(k)
	}

	h := sha256.New()
	h.Write([]byte(analysis.Version))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(names, ",")))
	h.Write([]byte{0})
	h.Write([]byte(normalizedText))
	return hex.EncodeToString(h.Sum(nil))
}

type memoryItem struct {
	body    []byte
	expires time.Time
}

// Memory is a process-local ResultCache. Reports are held encoded, so callers
// never share state with the cached entry.
type Memory struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

func NewMemory() *Memory {
	return &Memory{items: map[string]memoryItem{}, now: time.Now}
}

func (m *Memory) Get(_ context.Context, fingerprint string) (*report.InsightReport, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[fingerprint]
	if !ok {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	if !it.expires.IsZero() && m.now().After(it.expires) {
		delete(m.items, fingerprint)
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	var rep report.InsightReport
	if err := json.Unmarshal(it.body, &rep); err != nil {
		delete(m.items, fingerprint)
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.CacheLookups.WithLabelValues("hit").Inc()
	return &rep, true
}

func (m *Memory) Put(_ context.Context, fingerprint string, rep *report.InsightReport, ttl time.Duration) {
	if rep == nil {
		return
	}
	body, err := json.Marshal(rep)
	if err != nil {
		return
	}
	var expires time.Time
	if ttl > 0 {
		expires = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.items[fingerprint] = memoryItem{body: body, expires: expires}
	m.mu.Unlock()
}
