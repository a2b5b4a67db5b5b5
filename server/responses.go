package server

import (
	"encoding/json"
	"net/http"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/secura/anonymizer/pii"
)

type detailResponse struct {
	Detail any `json:"detail"`
}

type anonymizationErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorKind string `json:"error_kind"`
	Retryable bool   `json:"retryable"`
}

type analyzeResponse struct {
	Results []pii.Analysis `json:"results"`
}

type rootResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

type healthResponse struct {
	Status      string         `json:"status"`
	Version     string         `json:"version"`
	Environment string         `json:"environment"`
	Recognizer  *pii.ModelInfo `json:"recognizer,omitempty"`
}

type reloadResponse struct {
	Status string        `json:"status"`
	Model  pii.ModelInfo `json:"model"`
}

type auditEventsResponse struct {
	Events []pii.AuditEvent `json:"events"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", zap.Error(err))
	}
}

func (s *Server) writeDetail(w http.ResponseWriter, status int, detail any) {
	s.writeJSON(w, status, detailResponse{Detail: detail})
}

// writeAnonymizationError maps an orchestrator error to its HTTP response.
// Invalid input is the caller's fault and gets 422; everything else is 500.
func (s *Server) writeAnonymizationError(w http.ResponseWriter, r *http.Request, err error) {
	kind := pii.KindOf(err)
	if kind == pii.KindInvalidInput {
		s.writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if kind == pii.KindRecognitionFailed {
		hub := sentry.GetHubFromContext(r.Context())
		if hub == nil {
			hub = sentry.CurrentHub()
		}
		hub.CaptureException(err)
	}

	s.writeJSON(w, http.StatusInternalServerError, anonymizationErrorResponse{
		Detail:    "Error during anonymization: " + err.Error(),
		ErrorKind: kind.String(),
		Retryable: pii.IsRetryable(err),
	})
}
