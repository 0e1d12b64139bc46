// Package api exposes the HTTP surface: log submission, detection
// queries, alert management and operational endpoints.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"agent-sentinel/internal/alerting"
	"agent-sentinel/internal/buffer"
	"agent-sentinel/internal/pattern"
	"agent-sentinel/internal/pipeline"
	"agent-sentinel/internal/schema"
)

// maxPayloadBytes bounds a single submission body.
const maxPayloadBytes = 1 << 20

// Handler serves the HTTP API.
type Handler struct {
	pipeline  *pipeline.Pipeline
	buffer    *buffer.Buffer
	alerts    *alerting.Manager
	library   *pattern.Library
	startTime time.Time
}

// NewHandler creates a Handler over the processing pipeline.
func NewHandler(p *pipeline.Pipeline, buf *buffer.Buffer, alerts *alerting.Manager, library *pattern.Library) *Handler {
	return &Handler{
		pipeline:  p,
		buffer:    buf,
		alerts:    alerts,
		library:   library,
		startTime: time.Now(),
	}
}

// Routes registers all endpoints on a new mux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/logs", h.handleSubmit)
	mux.HandleFunc("GET /v1/logs", h.handleRecentLogs)
	mux.HandleFunc("GET /v1/logs/stats", h.handleLogStats)
	mux.HandleFunc("GET /v1/issues", h.handleIssues)
	mux.HandleFunc("GET /v1/issues/summary", h.handleIssueSummary)
	mux.HandleFunc("GET /v1/patterns", h.handlePatterns)
	mux.HandleFunc("GET /v1/alerts", h.handleListAlerts)
	mux.HandleFunc("GET /v1/alerts/stats", h.handleAlertStats)
	mux.HandleFunc("GET /v1/alerts/{id}", h.handleGetAlert)
	mux.HandleFunc("POST /v1/alerts/{id}/ack", h.handleAcknowledge)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /metrics", h.handleMetrics)
	return mux
}

// alertView is the external alert representation.
type alertView struct {
	ID             string             `json:"id"`
	Title          string             `json:"title"`
	Severity       alerting.Severity  `json:"severity"`
	Status         alerting.Status    `json:"status"`
	SuppressReason string             `json:"suppress_reason,omitempty"`
	Source         string             `json:"source"`
	IssueType      string             `json:"issue_type"`
	ThreatLevel    schema.ThreatLevel `json:"threat_level"`
	Confidence     float64            `json:"confidence"`
	SourceEventID  int64              `json:"source_event_id"`
	CreatedAt      time.Time          `json:"created_at"`
	AckedBy        string             `json:"acked_by,omitempty"`
}

func viewAlert(a *alerting.Alert) alertView {
	return alertView{
		ID:             a.ID.String(),
		Title:          a.Title,
		Severity:       a.Severity,
		Status:         a.Status,
		SuppressReason: string(a.SuppressReason),
		Source:         a.Source,
		IssueType:      a.IssueType,
		ThreatLevel:    a.ThreatLevel,
		Confidence:     a.Confidence,
		SourceEventID:  a.SourceEventID,
		CreatedAt:      a.CreatedAt,
		AckedBy:        a.AckedBy,
	}
}

// submitResponse is the response for POST /v1/logs.
type submitResponse struct {
	RequestID string                     `json:"request_id"`
	EventID   int64                      `json:"event_id"`
	Issues    []schema.SecurityIssueView `json:"issues"`
	Alerts    []alertView                `json:"alerts"`
	Partial   bool                       `json:"partial"`
}

// handleSubmit handles POST /v1/logs: one event through the full
// detection and alerting path.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.New().String()

	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, http.StatusRequestEntityTooLarge, "payload too large", requestID)
			return
		}
		respondError(w, http.StatusBadRequest, "failed to read request body", requestID)
		return
	}

	var input schema.SubmitInput
	if err := json.Unmarshal(body, &input); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err), requestID)
		return
	}

	outcome, err := h.pipeline.Submit(r.Context(), &input)
	if err != nil {
		var verr *schema.ValidationError
		if errors.As(err, &verr) {
			respondError(w, http.StatusBadRequest, verr.Error(), requestID)
			return
		}
		respondError(w, http.StatusInternalServerError, "submission failed", requestID)
		return
	}

	resp := submitResponse{
		RequestID: requestID,
		EventID:   outcome.Event.ID,
		Issues:    make([]schema.SecurityIssueView, 0, len(outcome.Issues)),
		Alerts:    make([]alertView, 0, len(outcome.Alerts)),
		Partial:   outcome.Partial,
	}
	for _, issue := range outcome.Issues {
		resp.Issues = append(resp.Issues, issue.View())
	}
	for _, alert := range outcome.Alerts {
		resp.Alerts = append(resp.Alerts, viewAlert(alert))
	}

	status := http.StatusOK
	if len(resp.Issues) > 0 {
		status = http.StatusCreated
	}
	respondJSON(w, status, resp)
}

// handleRecentLogs handles GET /v1/logs?limit=&level=.
func (h *Handler) handleRecentLogs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)

	var level schema.Level
	if raw := r.URL.Query().Get("level"); raw != "" {
		parsed, err := schema.ParseLevel(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error(), "")
			return
		}
		level = parsed
	}

	events := h.buffer.Recent(limit, level)
	respondJSON(w, http.StatusOK, map[string]any{
		"count":  len(events),
		"events": events,
	})
}

// handleLogStats handles GET /v1/logs/stats.
func (h *Handler) handleLogStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.buffer.Stats())
}

// handleIssues handles GET /v1/issues?limit=&category=&min_threat=.
func (h *Handler) handleIssues(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)

	category := schema.Category(r.URL.Query().Get("category"))
	if category != "" && !category.IsValid() {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown category %q", category), "")
		return
	}
	minThreat := schema.ThreatLevel(r.URL.Query().Get("min_threat"))
	if minThreat != "" && !minThreat.IsValid() {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown threat level %q", minThreat), "")
		return
	}

	issues := h.pipeline.RecentIssues(limit, category, minThreat)
	type issueWithEvent struct {
		schema.SecurityIssueView
		Source        string    `json:"source"`
		SourceEventID int64     `json:"source_event_id"`
		DetectedAt    time.Time `json:"detected_at"`
	}
	views := make([]issueWithEvent, 0, len(issues))
	for _, issue := range issues {
		views = append(views, issueWithEvent{
			SecurityIssueView: issue.View(),
			Source:            issue.Source,
			SourceEventID:     issue.SourceEventID,
			DetectedAt:        issue.DetectedAt,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"count":  len(views),
		"issues": views,
	})
}

// handleIssueSummary handles GET /v1/issues/summary.
func (h *Handler) handleIssueSummary(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.pipeline.IssueSummary())
}

// handlePatterns handles GET /v1/patterns: the compiled rule catalog.
func (h *Handler) handlePatterns(w http.ResponseWriter, r *http.Request) {
	type ruleView struct {
		Type           string          `json:"type"`
		Category       schema.Category `json:"category"`
		BaseConfidence float64         `json:"base_confidence"`
		Description    string          `json:"description"`
	}
	rules := h.library.Rules()
	views := make([]ruleView, 0, len(rules))
	for _, rule := range rules {
		views = append(views, ruleView{
			Type:           rule.Type,
			Category:       rule.Category,
			BaseConfidence: rule.BaseConfidence,
			Description:    rule.Description,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"version": pattern.LibraryVersion,
		"count":   len(views),
		"rules":   views,
	})
}

// handleListAlerts handles GET /v1/alerts?severity=&status=&source=&limit=.
func (h *Handler) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	filter := alerting.Filter{
		Severity: alerting.Severity(r.URL.Query().Get("severity")),
		Status:   alerting.Status(r.URL.Query().Get("status")),
		Source:   r.URL.Query().Get("source"),
		Limit:    queryInt(r, "limit", 100),
	}

	alerts := h.alerts.List(filter)
	views := make([]alertView, 0, len(alerts))
	for _, alert := range alerts {
		views = append(views, viewAlert(alert))
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"count":  len(views),
		"alerts": views,
	})
}

// handleAlertStats handles GET /v1/alerts/stats.
func (h *Handler) handleAlertStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.alerts.Stats())
}

// handleGetAlert handles GET /v1/alerts/{id}.
func (h *Handler) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid alert id", "")
		return
	}

	alert, err := h.alerts.Get(id)
	if err != nil {
		respondAlertError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewAlert(alert))
}

// ackRequest is the body for POST /v1/alerts/{id}/ack.
type ackRequest struct {
	AcknowledgedBy string `json:"acknowledged_by"`
}

// handleAcknowledge handles POST /v1/alerts/{id}/ack.
func (h *Handler) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid alert id", "")
		return
	}

	var req ackRequest
	if r.Body != nil {
		// An empty or absent body is fine; the acknowledger is optional.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	alert, err := h.alerts.Acknowledge(id, req.AcknowledgedBy)
	if err != nil {
		respondAlertError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, viewAlert(alert))
}

// respondAlertError maps manager errors to HTTP status codes.
func respondAlertError(w http.ResponseWriter, err error) {
	var nferr *schema.NotFoundError
	if errors.As(err, &nferr) {
		respondError(w, http.StatusNotFound, nferr.Error(), "")
		return
	}
	respondError(w, http.StatusConflict, err.Error(), "")
}

// handleHealth handles GET /health.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := h.buffer.Stats()

	status := "healthy"
	if stats.Capacity > 0 && stats.Depth > int(float64(stats.Capacity)*0.9) {
		status = "degraded"
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":          status,
		"buffer_depth":    stats.Depth,
		"buffer_capacity": stats.Capacity,
		"pattern_rules":   h.library.Len(),
		"uptime_seconds":  int(time.Since(h.startTime).Seconds()),
	})
}

// handleMetrics handles GET /metrics (Prometheus format).
func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	bufStats := h.buffer.Stats()
	pipeMetrics := h.pipeline.Metrics()
	alertStats := h.alerts.Stats()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(w, "# HELP sentinel_events_submitted_total Total log events accepted\n")
	fmt.Fprintf(w, "# TYPE sentinel_events_submitted_total counter\n")
	fmt.Fprintf(w, "sentinel_events_submitted_total %d\n\n", bufStats.Submitted)

	fmt.Fprintf(w, "# HELP sentinel_events_rejected_total Total submissions rejected by validation\n")
	fmt.Fprintf(w, "# TYPE sentinel_events_rejected_total counter\n")
	fmt.Fprintf(w, "sentinel_events_rejected_total %d\n\n", bufStats.Rejected)

	fmt.Fprintf(w, "# HELP sentinel_events_evicted_total Total events evicted from the buffer\n")
	fmt.Fprintf(w, "# TYPE sentinel_events_evicted_total counter\n")
	fmt.Fprintf(w, "sentinel_events_evicted_total %d\n\n", bufStats.Evicted)

	fmt.Fprintf(w, "# HELP sentinel_buffer_depth Current buffer depth\n")
	fmt.Fprintf(w, "# TYPE sentinel_buffer_depth gauge\n")
	fmt.Fprintf(w, "sentinel_buffer_depth %d\n\n", bufStats.Depth)

	fmt.Fprintf(w, "# HELP sentinel_issues_detected_total Total security issues detected\n")
	fmt.Fprintf(w, "# TYPE sentinel_issues_detected_total counter\n")
	fmt.Fprintf(w, "sentinel_issues_detected_total %d\n\n", pipeMetrics.Detected)

	fmt.Fprintf(w, "# HELP sentinel_partial_evaluations_total Evaluations degraded to rule-only results\n")
	fmt.Fprintf(w, "# TYPE sentinel_partial_evaluations_total counter\n")
	fmt.Fprintf(w, "sentinel_partial_evaluations_total %d\n\n", pipeMetrics.Partials)

	fmt.Fprintf(w, "# HELP sentinel_alerts_total Total alerts in the store\n")
	fmt.Fprintf(w, "# TYPE sentinel_alerts_total gauge\n")
	fmt.Fprintf(w, "sentinel_alerts_total %d\n\n", alertStats.Total)

	fmt.Fprintf(w, "# HELP sentinel_alerts_suppressed_cooldown_total Alerts suppressed by cooldown\n")
	fmt.Fprintf(w, "# TYPE sentinel_alerts_suppressed_cooldown_total counter\n")
	fmt.Fprintf(w, "sentinel_alerts_suppressed_cooldown_total %d\n\n", alertStats.SuppressedCooldown)

	fmt.Fprintf(w, "# HELP sentinel_alerts_suppressed_rate_cap_total Alerts suppressed by the hourly cap\n")
	fmt.Fprintf(w, "# TYPE sentinel_alerts_suppressed_rate_cap_total counter\n")
	fmt.Fprintf(w, "sentinel_alerts_suppressed_rate_cap_total %d\n\n", alertStats.SuppressedRateCap)

	fmt.Fprintf(w, "# HELP sentinel_uptime_seconds Uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE sentinel_uptime_seconds gauge\n")
	fmt.Fprintf(w, "sentinel_uptime_seconds %d\n", int(time.Since(h.startTime).Seconds()))
}

// queryInt parses an integer query parameter with a fallback.
func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes a JSON error response.
func respondError(w http.ResponseWriter, status int, message, requestID string) {
	resp := map[string]any{
		"success": false,
		"error":   message,
	}
	if requestID != "" {
		resp["request_id"] = requestID
	}
	respondJSON(w, status, resp)
}
