package hermes

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// SubjectAnalyzeTask carries queued analysis requests on the work stream.
	SubjectAnalyzeTask = "dealintel.tasks.analyze"
	// SubjectAnalysisCompleted and SubjectAnalysisFailed announce terminal
	// request states to downstream consumers.
	SubjectAnalysisCompleted = "dealintel.analysis.completed"
	SubjectAnalysisFailed    = "dealintel.analysis.failed"
	SubjectAnalysisAll       = "dealintel.analysis.>"

	StreamTasks = "DEALINTEL_TASKS"
)

// Task is the work item for one analysis request. Workers load everything
// else from the request row.
type Task struct {
	RequestID  uuid.UUID `json:"request_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func DecodeTask(data []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	if t.RequestID == uuid.Nil {
		return Task{}, fmt.Errorf("decode task: missing request_id")
	}
	return t, nil
}

// AnalysisEvent is published when a request reaches completed or failed.
type AnalysisEvent struct {
	RequestID         string    `json:"request_id"`
	RepID             string    `json:"rep_id"`
	ProspectCompany   string    `json:"prospect_company,omitempty"`
	State             string    `json:"state"`
	DealScore         *int      `json:"deal_score,omitempty"`
	RiskLevel         string    `json:"risk_level,omitempty"`
	Intent            string    `json:"intent,omitempty"`
	ErrorKind         string    `json:"error_kind,omitempty"`
	DegradedAnalyzers []string  `json:"degraded_analyzers,omitempty"`
	ProcessingTimeMs  int64     `json:"processing_time_ms"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// Subject returns the subject the event is published on.
func (e AnalysisEvent) Subject() string {
	if e.State == "completed" {
		return SubjectAnalysisCompleted
	}
	return SubjectAnalysisFailed
}
