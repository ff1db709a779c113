package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/qen-labs/execserv/internal/monitor"
	"github.com/qen-labs/execserv/internal/result"
	"github.com/qen-labs/execserv/internal/service"
	"github.com/qen-labs/execserv/internal/trace"
)

func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, "validation_error", "malformed request body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeJSONError(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
		return false
	}
	return true
}

func (s *Server) handleStartTestCase(w http.ResponseWriter, r *http.Request) {
	var req service.StartCaseRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	tr, err := s.svc.StartTestCase(userFromContext(r), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, service.ProjectTrace(tr, nil, service.FieldsSummary, service.StepFieldsBasic))
}

func (s *Server) handleStartTestSuite(w http.ResponseWriter, r *http.Request) {
	var req service.StartSuiteRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	tr, err := s.svc.StartTestSuite(userFromContext(r), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, service.ProjectTrace(tr, nil, service.FieldsSummary, service.StepFieldsBasic))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	tr, steps, err := s.svc.Get(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	fields := service.ParseTraceFields(r.URL.Query().Get("include_fields"))
	stepFields := service.ParseStepFields(r.URL.Query().Get("include_steps"))
	writeJSON(w, http.StatusOK, service.ProjectTrace(tr, steps, fields, stepFields))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := trace.ListFilter{
		ExecType:    trace.ExecutionType(q.Get("execution_type")),
		TestCaseID:  q.Get("test_case_id"),
		TestSuiteID: q.Get("test_suite_id"),
		SortBy:      q.Get("sort_by"),
		SortDesc:    q.Get("sort_desc") == "true",
	}
	if st := q.Get("status"); st != "" {
		filter.Status = []trace.Status{trace.Status(st)}
	}
	if page, err := strconv.Atoi(q.Get("page")); err == nil {
		filter.Page = page
	}
	if pageSize, err := strconv.Atoi(q.Get("page_size")); err == nil {
		filter.PageSize = pageSize
	}

	traces, total, err := s.svc.List(userFromContext(r), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	fields := service.ParseTraceFields(q.Get("include_fields"))
	stepFields := service.ParseStepFields(q.Get("include_steps"))
	views := make([]service.TraceView, 0, len(traces))
	for i := range traces {
		views = append(views, service.ProjectTrace(&traces[i], nil, fields, stepFields))
	}
	writeJSON(w, http.StatusOK, struct {
		Executions []service.TraceView `json:"executions"`
		Total      int                 `json:"total"`
	}{views, total})
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		NewStatus string         `json:"new_status" validate:"required"`
		Reason    string         `json:"reason"`
		Metadata  map[string]any `json:"metadata"`
	}
	if !s.decodeAndValidate(w, r, &body) {
		return
	}
	tr, err := s.svc.UpdateStatus(id, trace.Status(body.NewStatus), userFromContext(r), body.Reason, body.Metadata)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, service.ProjectTrace(tr, nil, service.FieldsSummary, service.StepFieldsBasic))
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	tr, err := s.svc.Progress(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ExecutionID string                     `json:"execution_id"`
		Status      trace.Status               `json:"status"`
		Statistics  trace.ExecutionStatistics  `json:"statistics"`
	}{tr.ExecutionID, tr.Status, tr.Statistics})
}

// handleStream serves a chunked text/event-stream of state-change and
// progress events for one execution, for callers that want push
// updates instead of polling /progress. It satisfies spec §1's "no
// custom transport" non-goal by staying on plain HTTP rather than
// upgrading to a websocket.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}

	subscriberID := uuid.NewString()
	ch, cancel, err := s.svc.Stream(r.Context(), id, subscriberID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.EventType, evt.JSON())
			flusher.Flush()
		}
	}
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.QueueStatus()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleQueuePause(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.PauseQueue(); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{"paused"})
}

func (s *Server) handleQueueResume(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ResumeQueue(); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{"active"})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	tr, steps, err := s.svc.Get(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	includeDetails := r.URL.Query().Get("include_details") == "true"
	processed := s.processor.Process(steps, tr.Status)
	report := result.NewReport(*tr, processed, steps, includeDetails)

	format := result.ReportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = result.FormatJSON
	}
	body, err := result.Render(report, format)
	if err != nil {
		writeServiceError(w, fmt.Errorf("render report: %w", err))
		return
	}

	switch format {
	case result.FormatHTML:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	case result.FormatCSV:
		w.Header().Set("Content-Type", "text/csv")
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	hours, _ := strconv.Atoi(r.URL.Query().Get("time_range_hours"))
	if hours == 0 {
		hours = 24
	}
	analytics, err := s.svc.Analytics(userFromContext(r), hours)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analytics)
}

func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	if days == 0 {
		days = 7
	}
	trends, err := s.svc.Trends(userFromContext(r), days)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Trends []service.TrendPoint `json:"trends"`
	}{trends})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Statistics(userFromContext(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	if s.mon == nil {
		writeJSONError(w, http.StatusInternalServerError, "internal_error", "monitoring not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.mon.LastHealth())
}

// handleLiveness is the cheap unauthenticated liveness probe: 200 when
// overall health isn't DOWN, 503 otherwise (spec §6 "GET /health").
func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.mon == nil {
		writeJSON(w, http.StatusOK, struct {
			Status string `json:"status"`
		}{"ok"})
		return
	}
	health := s.mon.LastHealth()
	status := http.StatusOK
	if health.Overall == monitor.HealthDown {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, struct {
		Status string `json:"status"`
	}{string(health.Overall)})
}
