package hermes

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeMsg struct {
	acked, termed bool
	nakDelay      time.Duration
}

func (m *fakeMsg) Ack() error { m.acked = true; return nil }
func (m *fakeMsg) Term() error {
	m.termed = true
	return nil
}
func (m *fakeMsg) NakWithDelay(d time.Duration) error {
	m.nakDelay = d
	return nil
}

var errRetry = errors.New("retry me")

func isRetry(err error) bool { return errors.Is(err, errRetry) }

func TestSettle(t *testing.T) {
	tests := []struct {
		name      string
		delivered uint64
		err       error
		want      string
	}{
		{"success", 1, nil, "ack"},
		{"retryable", 1, errRetry, "nak"},
		{"retryable on last delivery", MaxDeliver, errRetry, "term"},
		{"permanent", 1, errors.New("bad input"), "term"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &fakeMsg{}
			if got := settle(msg, tt.delivered, tt.err, isRetry); got != tt.want {
				t.Fatalf("settle = %q, want %q", got, tt.want)
			}
			switch tt.want {
			case "ack":
				if !msg.acked {
					t.Error("expected ack")
				}
			case "nak":
				if msg.nakDelay <= 0 {
					t.Error("expected nak with delay")
				}
			case "term":
				if !msg.termed {
					t.Error("expected term")
				}
			}
		})
	}
}

func TestSettle_BacksOffWithDeliveryCount(t *testing.T) {
	first, third := &fakeMsg{}, &fakeMsg{}
	settle(first, 1, errRetry, isRetry)
	settle(third, 3, errRetry, isRetry)
	if third.nakDelay <= first.nakDelay {
		t.Errorf("expected longer delay on later delivery: %v vs %v", third.nakDelay, first.nakDelay)
	}
}

func TestDecodeTask(t *testing.T) {
	id := uuid.New()
	task, err := DecodeTask([]byte(`{"request_id":"` + id.String() + `","enqueued_at":"2026-10-01T09:00:00Z"}`))
	if err != nil {
		t.Fatalf("DecodeTask failed: %v", err)
	}
	if task.RequestID != id {
		t.Errorf("expected %s, got %s", id, task.RequestID)
	}

	if _, err := DecodeTask([]byte(`{"enqueued_at":"2026-10-01T09:00:00Z"}`)); err == nil {
		t.Error("expected error for missing request_id")
	}
	if _, err := DecodeTask([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestAnalysisEventSubject(t *testing.T) {
	if got := (AnalysisEvent{State: "completed"}).Subject(); got != SubjectAnalysisCompleted {
		t.Errorf("completed subject = %q", got)
	}
	if got := (AnalysisEvent{State: "failed"}).Subject(); got != SubjectAnalysisFailed {
		t.Errorf("failed subject = %q", got)
	}
}
