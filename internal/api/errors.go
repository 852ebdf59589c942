package api

import (
	"net/http"

	"github.com/MikeSquared-Agency/dealintel/internal/apperr"
)

type errorBody struct {
	Kind     apperr.Kind `json:"kind"`
	Message  string      `json:"message"`
	Guidance string      `json:"guidance,omitempty"`
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAnalyzer:
		return http.StatusBadGateway
	case apperr.KindTimeout:
		return http.StatusGatewayTimeout
	case apperr.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case apperr.KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusServiceUnavailable
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	code := statusFor(kind)
	if code >= 500 {
		s.logger.Error("request failed", "path", r.URL.Path, "error_kind", kind, "error", err)
	}
	if kind == apperr.KindTimeout || kind == apperr.KindInfrastructure {
		w.Header().Set("Retry-After", "30")
	}
	msg := apperr.Message(err)
	if kind == apperr.KindInfrastructure {
		// Driver errors stay in the logs.
		msg = "a backing service is unavailable"
	}
	writeJSON(w, code, map[string]errorBody{"error": {
		Kind:     kind,
		Message:  msg,
		Guidance: apperr.Guidance(kind),
	}})
}
