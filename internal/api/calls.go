package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/dealintel/internal/apperr"
	"github.com/MikeSquared-Agency/dealintel/internal/processor"
	"github.com/MikeSquared-Agency/dealintel/internal/report"
	"github.com/MikeSquared-Agency/dealintel/internal/store"
	"github.com/MikeSquared-Agency/dealintel/internal/usage"
)

// Set by the authentication layer in front of this service.
const (
	headerRepID   = "X-Rep-ID"
	headerRepTier = "X-Rep-Tier"
)

const maxBodyBytes = 1 << 20

// AnalyzeRequest is the body of POST /api/v1/calls/analyze.
type AnalyzeRequest struct {
	TranscriptText string         `json:"transcript_text"`
	Metadata       store.Metadata `json:"metadata"`
	Analyzers      []string       `json:"analyzers,omitempty"`
	Force          bool           `json:"force,omitempty"`
}

type AnalyzeResponse struct {
	RequestID string                `json:"request_id"`
	State     store.State           `json:"state"`
	Cached    bool                  `json:"cached"`
	Duplicate bool                  `json:"duplicate"`
	Remaining *int                  `json:"remaining_quota,omitempty"`
	Report    *report.InsightReport `json:"report,omitempty"`
}

type RequestStatus struct {
	RequestID  string                `json:"request_id"`
	State      store.State           `json:"state"`
	Degraded   bool                  `json:"degraded"`
	Attempts   int                   `json:"attempts"`
	CreatedAt  time.Time             `json:"created_at"`
	FinishedAt *time.Time            `json:"finished_at,omitempty"`
	Error      *errorBody            `json:"error,omitempty"`
	Report     *report.InsightReport `json:"report,omitempty"`
}

// analyze handles POST /api/v1/calls/analyze
func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, apperr.Validation("request body exceeds %d bytes", maxBodyBytes))
			return
		}
		s.writeError(w, r, apperr.Validation("invalid JSON: %v", err))
		return
	}

	sub, err := s.svc.Submit(r.Context(), processor.SubmitInput{
		RepID:      r.Header.Get(headerRepID),
		Tier:       r.Header.Get(headerRepTier),
		Transcript: req.TranscriptText,
		Metadata:   req.Metadata,
		Analyzers:  req.Analyzers,
		Force:      req.Force,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := AnalyzeResponse{
		RequestID: sub.RequestID.String(),
		State:     sub.State,
		Cached:    sub.Cached,
		Duplicate: sub.Duplicate,
		Report:    sub.Report,
	}
	if sub.Remaining >= 0 {
		resp.Remaining = &sub.Remaining
	}

	code := http.StatusAccepted
	if sub.Report != nil {
		code = http.StatusOK
	}
	writeJSON(w, code, resp)
}

// getRequest handles GET /api/v1/requests/{id}
func (s *Server) getRequest(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, apperr.Validation("invalid request id"))
		return
	}

	st, err := s.svc.Poll(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := RequestStatus{
		RequestID:  st.RequestID.String(),
		State:      st.State,
		Degraded:   st.Degraded,
		Attempts:   st.Attempts,
		CreatedAt:  st.CreatedAt,
		FinishedAt: st.FinishedAt,
		Report:     st.Report,
	}
	if st.State == store.StateFailed {
		kind := apperr.Kind(st.ErrorKind)
		resp.Error = &errorBody{Kind: kind, Message: st.ErrorMessage, Guidance: apperr.Guidance(kind)}
	}
	writeJSON(w, http.StatusOK, resp)
}

// usage handles GET /api/v1/usage
func (s *Server) usage(w http.ResponseWriter, r *http.Request) {
	repID := r.Header.Get(headerRepID)
	if repID == "" {
		s.writeError(w, r, apperr.Validation("rep id is required"))
		return
	}
	tier, err := usage.ParseTier(r.Header.Get(headerRepTier))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.svc.Remaining(r.Context(), repID, tier)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type RequestList struct {
	Requests []store.RequestSummary `json:"requests"`
	Limit    int                    `json:"limit"`
	Offset   int                    `json:"offset"`
}

// listRequests handles GET /api/v1/requests?limit=&offset=
func (s *Server) listRequests(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", processor.DefaultPageSize)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	list, err := s.svc.ListRequests(r.Context(), r.Header.Get(headerRepID), limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RequestList{Requests: list, Limit: limit, Offset: offset})
}

// repSummary handles GET /api/v1/reps/me/summary?days=N
func (s *Server) repSummary(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", processor.DefaultSummaryDays)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	repID := r.Header.Get(headerRepID)
	if repID == "" {
		s.writeError(w, r, apperr.Validation("rep id is required"))
		return
	}

	sum, err := s.svc.Summary(r.Context(), []string{repID}, days)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation("%s must be an integer", name)
	}
	return n, nil
}
