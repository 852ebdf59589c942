package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/dealintel/internal/analysis"
	"github.com/MikeSquared-Agency/dealintel/internal/report"
)

type memoryReport struct {
	fingerprint string
	createdAt   time.Time
	body        []byte
}

// Memory is an in-process repository with the same semantics as Store. It
// backs the one-shot analyze command and the processor tests.
type Memory struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*Request
	reports  map[uuid.UUID]memoryReport
	partials map[uuid.UUID]map[analysis.Kind]analysis.PartialResult
	usage    map[string]int
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		requests: map[uuid.UUID]*Request{},
		reports:  map[uuid.UUID]memoryReport{},
		partials: map[uuid.UUID]map[analysis.Kind]analysis.PartialResult{},
		usage:    map[string]int{},
		now:      time.Now,
	}
}

// SetClock replaces the time source. Tests use it to expire leases.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func copyRequest(r *Request) *Request {
	c := *r
	c.Analyzers = append([]analysis.Kind(nil), r.Analyzers...)
	return &c
}

func (m *Memory) CreateRequest(_ context.Context, r *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.requests {
		if existing.Fingerprint == r.Fingerprint && !existing.State.Terminal() {
			return ErrDuplicate
		}
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.State = StatePending
	r.CreatedAt = m.now()
	m.requests[r.ID] = copyRequest(r)
	return nil
}

func (m *Memory) GetRequest(_ context.Context, id uuid.UUID) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRequest(r), nil
}

func (m *Memory) FindLiveRequest(_ context.Context, fingerprint string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.requests {
		if r.Fingerprint == fingerprint && !r.State.Terminal() {
			return copyRequest(r), nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ClaimRequest(_ context.Context, id uuid.UUID, workerID string, lease time.Duration) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	now := m.now()
	if r.State != StatePending && !(r.State == StateRunning && !r.LeaseLive(now)) {
		return nil, ErrStateConflict
	}
	expires := now.Add(lease)
	r.State = StateRunning
	r.WorkerID = workerID
	r.LeaseExpiresAt = &expires
	r.Attempts++
	if r.StartedAt == nil {
		r.StartedAt = &now
	}
	return copyRequest(r), nil
}

func (m *Memory) CompleteRequest(_ context.Context, id uuid.UUID, workerID string, rep *report.InsightReport, partials []analysis.PartialResult) error {
	body, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.State != StateRunning || r.WorkerID != workerID {
		return ErrStateConflict
	}
	now := m.now()
	r.State = StateCompleted
	r.Degraded = len(rep.DegradedAnalyzers) > 0
	r.FinishedAt = &now
	r.LeaseExpiresAt = nil
	m.reports[id] = memoryReport{fingerprint: r.Fingerprint, createdAt: rep.CreatedAt, body: body}
	m.storePartials(id, partials)
	return nil
}

func (m *Memory) FailRequest(_ context.Context, id uuid.UUID, workerID string, f Failure, partials []analysis.PartialResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.State.Terminal() || (workerID != "" && r.WorkerID != workerID) {
		return ErrStateConflict
	}
	now := m.now()
	r.State = StateFailed
	r.ErrorKind = f.Kind
	r.ErrorMessage = f.Message
	r.Degraded = f.Degraded
	r.FinishedAt = &now
	r.LeaseExpiresAt = nil
	m.storePartials(id, partials)
	return nil
}

func (m *Memory) storePartials(id uuid.UUID, partials []analysis.PartialResult) {
	if len(partials) == 0 {
		return
	}
	byKind := m.partials[id]
	if byKind == nil {
		byKind = map[analysis.Kind]analysis.PartialResult{}
		m.partials[id] = byKind
	}
	for _, p := range partials {
		byKind[p.Kind] = p
	}
}

// Partials returns the recorded partial results for a request, ordered by
// analyzer kind.
func (m *Memory) Partials(id uuid.UUID) []analysis.PartialResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]analysis.PartialResult, 0, len(m.partials[id]))
	for _, p := range m.partials[id] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

func (m *Memory) DeleteRequest(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok || r.State != StatePending {
		return ErrStateConflict
	}
	delete(m.requests, id)
	return nil
}

func (m *Memory) StaleRequests(_ context.Context, grace time.Duration, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var stale []*Request
	for _, r := range m.requests {
		switch {
		case r.State == StateRunning && !r.LeaseLive(now):
			stale = append(stale, r)
		case r.State == StatePending && r.CreatedAt.Before(now.Add(-grace)):
			stale = append(stale, r)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	ids := make([]uuid.UUID, len(stale))
	for i, r := range stale {
		ids[i] = r.ID
	}
	return ids, nil
}

func (m *Memory) Purge(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.requests {
		if r.State.Terminal() && r.CreatedAt.Before(before) {
			delete(m.requests, id)
			delete(m.reports, id)
			delete(m.partials, id)
			n++
		}
	}
	cutoff := before.UTC().Format("2006-01")
	for key := range m.usage {
		if period := key[len(key)-7:]; period < cutoff {
			delete(m.usage, key)
		}
	}
	return n, nil
}

func decodeReport(body []byte) (*report.InsightReport, error) {
	var rep report.InsightReport
	if err := json.Unmarshal(body, &rep); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &rep, nil
}

func (m *Memory) GetReport(_ context.Context, requestID uuid.UUID) (*report.InsightReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.reports[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	return decodeReport(stored.body)
}

func (m *Memory) LatestReport(_ context.Context, fingerprint string) (*report.InsightReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *memoryReport
	for _, stored := range m.reports {
		if stored.fingerprint != fingerprint {
			continue
		}
		if latest == nil || stored.createdAt.After(latest.createdAt) {
			s := stored
			latest = &s
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return decodeReport(latest.body)
}

func usageKey(repID, period string) string { return repID + "|" + period }

func (m *Memory) CurrentUsage(_ context.Context, repID, period string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage[usageKey(repID, period)], nil
}

func (m *Memory) IncrementIfBelow(_ context.Context, repID, period string, limit int) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := usageKey(repID, period)
	if m.usage[key] >= limit {
		return m.usage[key], false, nil
	}
	m.usage[key]++
	return m.usage[key], true, nil
}

func (m *Memory) ListRequests(_ context.Context, repID string, limit, offset int) ([]RequestSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var mine []*Request
	for _, r := range m.requests {
		if r.RepID == repID {
			mine = append(mine, r)
		}
	}
	sort.Slice(mine, func(i, j int) bool {
		if !mine[i].CreatedAt.Equal(mine[j].CreatedAt) {
			return mine[i].CreatedAt.After(mine[j].CreatedAt)
		}
		return mine[i].ID.String() < mine[j].ID.String()
	})

	out := []RequestSummary{}
	for i := offset; i < len(mine) && len(out) < limit; i++ {
		r := mine[i]
		rs := RequestSummary{
			RequestID:  r.ID,
			State:      r.State,
			Metadata:   r.Metadata,
			Analyzers:  append([]analysis.Kind(nil), r.Analyzers...),
			Degraded:   r.Degraded,
			ErrorKind:  r.ErrorKind,
			CreatedAt:  r.CreatedAt,
			FinishedAt: r.FinishedAt,
		}
		if stored, ok := m.reports[r.ID]; ok {
			rep, err := decodeReport(stored.body)
			if err != nil {
				return nil, err
			}
			rs.DealScore = rep.DealScore
			rs.RiskLevel = string(rep.RiskLevel)
			rs.Intent = string(rep.IntentClassification)
		}
		out = append(out, rs)
	}
	return out, nil
}

func (m *Memory) Summary(_ context.Context, repIDs []string, since time.Time) (*Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]bool, len(repIDs))
	for _, id := range repIDs {
		wanted[id] = true
	}

	var facts []callFacts
	for _, r := range m.requests {
		if !wanted[r.RepID] || r.CreatedAt.Before(since) {
			continue
		}
		f := callFacts{state: r.State, createdAt: r.CreatedAt}
		if stored, ok := m.reports[r.ID]; ok {
			rep, err := decodeReport(stored.body)
			if err != nil {
				return nil, err
			}
			f.dealScore = rep.DealScore
			share := rep.TalkRatio.ProspectPercentage
			f.prospectShare = &share
			for _, o := range rep.DetectedObjections {
				f.objections = append(f.objections, string(o.Category))
			}
		}
		facts = append(facts, f)
	}
	return summarize(repIDs, since, facts), nil
}
