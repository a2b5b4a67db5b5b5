package server

import (
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/secura/anonymizer/metrics"
	"github.com/secura/anonymizer/pii"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

type anonymizeRequest struct {
	Text string `json:"text"`
}

type analyzeRequest struct {
	Text           string   `json:"text"`
	Entities       []string `json:"entities"`
	ScoreThreshold *float64 `json:"score_threshold"`
}

type reloadRequest struct {
	Directory string `json:"directory"`
}

func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req anonymizeRequest
	if !s.decode(w, r, anonymizeSchema, &req, "anonymize", false) {
		return
	}

	result, err := s.service.Anonymize(r.Context(), req.Text)
	outcome := outcomeOf(err)
	elapsed := time.Since(start)
	metrics.ObserveRequest("anonymize", outcome, elapsed)

	var counts map[string]int
	if err == nil {
		counts = pii.CountEntities(result.Entities)
		metrics.ObserveEntities(counts)
	}
	s.recordAudit(r, "anonymize", outcome, req.Text, counts, elapsed)

	if err != nil {
		s.logger.Warn("Anonymization failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("error_kind", outcome),
			zap.Error(err),
		)
		s.writeAnonymizationError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req analyzeRequest
	if !s.decode(w, r, analyzeSchema, &req, "analyze", false) {
		return
	}

	threshold := -1.0
	if req.ScoreThreshold != nil {
		threshold = *req.ScoreThreshold
	}

	results, err := s.service.Analyze(r.Context(), req.Text, req.Entities, threshold)
	outcome := outcomeOf(err)
	elapsed := time.Since(start)
	metrics.ObserveRequest("analyze", outcome, elapsed)

	var counts map[string]int
	if err == nil {
		counts = make(map[string]int)
		for _, a := range results {
			counts[a.EntityType]++
		}
	}
	s.recordAudit(r, "analyze", outcome, req.Text, counts, elapsed)

	if err != nil {
		s.writeAnonymizationError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, analyzeResponse{Results: results})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, rootResponse{Status: "ok", Service: s.config.ServiceName})
}

// handleHealth always answers 200; an unhealthy recognizer degrades the status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Version:     s.config.ServiceVersion,
		Environment: s.config.Environment,
	}
	if s.models != nil && !s.models.IsHealthy() {
		info := s.models.GetInfo()
		resp.Status = "degraded"
		resp.Recognizer = &info
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleModelInfo(w http.ResponseWriter, _ *http.Request) {
	if s.models == nil {
		s.writeDetail(w, http.StatusNotFound, "Model-backed recognizer is not enabled")
		return
	}
	s.writeJSON(w, http.StatusOK, s.models.GetInfo())
}

func (s *Server) handleModelReload(w http.ResponseWriter, r *http.Request) {
	if s.models == nil {
		s.writeDetail(w, http.StatusNotFound, "Model-backed recognizer is not enabled")
		return
	}

	var req reloadRequest
	if !s.decode(w, r, reloadSchema, &req, "model_reload", true) {
		return
	}
	directory := req.Directory
	if directory == "" {
		directory = s.models.GetInfo().Directory
	}

	s.logger.Info("Reloading model", zap.String("directory", directory))
	if err := s.models.ReloadModel(directory); err != nil {
		s.logger.Error("Model reload failed", zap.String("directory", directory), zap.Error(err))
		s.writeDetail(w, http.StatusInternalServerError, "Model reload failed: "+err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, reloadResponse{Status: "reloaded", Model: s.models.GetInfo()})
}

func (s *Server) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		s.writeDetail(w, http.StatusNotFound, "Audit is not enabled")
		return
	}

	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeDetail(w, http.StatusUnprocessableEntity, []validationIssue{{
				Loc:  []any{"query", "limit"},
				Msg:  "Input should be a positive integer",
				Type: "int_parsing",
			}})
			return
		}
		limit = min(n, maxAuditLimit)
	}

	events, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to read audit events", zap.Error(err))
		s.writeDetail(w, http.StatusInternalServerError, "Failed to read audit events")
		return
	}
	s.writeJSON(w, http.StatusOK, auditEventsResponse{Events: events})
}

// decode validates the body and writes the 422 or 500 response itself when
// it cannot be used.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, schema *gojsonschema.Schema, dst any, operation string, allowEmpty bool) bool {
	issues, err := decodeBody(w, r, schema, dst, allowEmpty)
	if err != nil {
		s.logger.Error("Failed to decode request", zap.Error(err))
		s.writeDetail(w, http.StatusInternalServerError, "Failed to read request")
		return false
	}
	if issues != nil {
		metrics.ObserveRequest(operation, metrics.OutcomeInvalidSchema, 0)
		s.writeDetail(w, http.StatusUnprocessableEntity, issues)
		return false
	}
	return true
}

// recordAudit stores counts and sizes only. A failing store never fails the
// request.
func (s *Server) recordAudit(r *http.Request, operation, outcome, text string, counts map[string]int, elapsed time.Duration) {
	if s.audit == nil {
		return
	}
	event := pii.AuditEvent{
		RequestID:    RequestID(r.Context()),
		Operation:    operation,
		Outcome:      outcome,
		TextLength:   utf8.RuneCountInString(text),
		EntityCounts: counts,
		DurationMS:   float64(elapsed.Microseconds()) / 1000,
	}
	if err := s.audit.Record(r.Context(), event); err != nil {
		s.logger.Warn("Failed to record audit event", zap.String("request_id", event.RequestID), zap.Error(err))
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return metrics.OutcomeSuccess
	}
	return pii.KindOf(err).String()
}
