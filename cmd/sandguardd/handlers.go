package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sandguard/sandguard/pkg/alerting"
	"github.com/sandguard/sandguard/pkg/domain"
	"github.com/sandguard/sandguard/pkg/lifecycle"
	"github.com/sandguard/sandguard/pkg/metrics"
	"github.com/sandguard/sandguard/pkg/obs"
	"github.com/sandguard/sandguard/pkg/throttle"
)

// apiServer exposes the lifecycle manager over HTTP. All request and response
// bodies are JSON; durations in payloads are whole seconds.
type apiServer struct {
	manager      *lifecycle.Manager
	counters     *metrics.UsageCounters
	profileRules []domain.ThrottleRule
	logger       obs.Logger
}

func (s *apiServer) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /sandboxes", s.handleCreate)
	mux.HandleFunc("GET /sandboxes/{module}/{tenant}/{version}", s.handleGet)
	mux.HandleFunc("DELETE /sandboxes/{module}/{tenant}/{version}", s.handleDestroy)
	mux.HandleFunc("GET /sandboxes/{module}/{tenant}/{version}/metrics", s.handleMetrics)
	mux.HandleFunc("GET /sandboxes/{module}/{tenant}/{version}/violations", s.handleViolations)
	mux.HandleFunc("POST /sandboxes/{module}/{tenant}/{version}/suspend", s.handleSuspend)
	mux.HandleFunc("POST /sandboxes/{module}/{tenant}/{version}/resume", s.handleResume)
	mux.HandleFunc("PUT /sandboxes/{module}/{tenant}/{version}/limits", s.handleUpdateLimits)
	mux.HandleFunc("POST /sandboxes/{module}/{tenant}/{version}/throttle", s.handleThrottle)
	mux.HandleFunc("POST /sandboxes/{module}/{tenant}/{version}/rules", s.handleAddRule)
	mux.HandleFunc("POST /sandboxes/{module}/{tenant}/{version}/usage", s.handleUsage)
	mux.HandleFunc("GET /alerts", s.handleListAlerts)
	mux.HandleFunc("POST /alerts/{id}/ack", s.handleAckAlert)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return mux
}

func pathKey(r *http.Request) domain.SandboxKey {
	return domain.SandboxKey{
		ModuleID: r.PathValue("module"),
		TenantID: r.PathValue("tenant"),
		Version:  r.PathValue("version"),
	}
}

type rulePayload struct {
	Resource        string  `json:"resource"`
	Condition       string  `json:"condition"`
	Threshold       float64 `json:"threshold"`
	Action          string  `json:"action"`
	DurationSeconds int     `json:"duration_seconds"`
	CooldownSeconds int     `json:"cooldown_seconds"`
	Enabled         *bool   `json:"enabled"`
	Expression      string  `json:"expression"`
}

func (p rulePayload) toRule() domain.ThrottleRule {
	enabled := true
	if p.Enabled != nil {
		enabled = *p.Enabled
	}
	return domain.ThrottleRule{
		Resource:   domain.ResourceType(p.Resource),
		Condition:  domain.RuleCondition(p.Condition),
		Threshold:  p.Threshold,
		Action:     domain.RuleAction(p.Action),
		Duration:   time.Duration(p.DurationSeconds) * time.Second,
		Cooldown:   time.Duration(p.CooldownSeconds) * time.Second,
		Enabled:    enabled,
		Expression: p.Expression,
	}
}

type createPayload struct {
	ModuleID        string                    `json:"module_id"`
	TenantID        string                    `json:"tenant_id"`
	Version         string                    `json:"version"`
	Isolation       string                    `json:"isolation"`
	Overrides       *domain.ResourceLimits    `json:"overrides"`
	Rules           []rulePayload             `json:"rules"`
	IntervalSeconds int                       `json:"interval_seconds"`
	AlertThreshold  int                       `json:"alert_threshold"`
	AutoScale       *domain.AutoScalingConfig `json:"auto_scale"`
}

func (s *apiServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	var p createPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	req := lifecycle.CreateRequest{
		ModuleID:   p.ModuleID,
		TenantID:   p.TenantID,
		Version:    p.Version,
		Isolation:  domain.IsolationLevel(p.Isolation),
		Overrides:  p.Overrides,
		ExtraRules: append([]domain.ThrottleRule(nil), s.profileRules...),
		AutoScale:  p.AutoScale,
	}
	for _, rp := range p.Rules {
		req.ExtraRules = append(req.ExtraRules, rp.toRule())
	}
	if p.IntervalSeconds > 0 || p.AlertThreshold > 0 {
		req.Monitoring = &domain.MonitoringConfig{
			Interval:       time.Duration(p.IntervalSeconds) * time.Second,
			AlertThreshold: p.AlertThreshold,
		}
	}

	sb, err := s.manager.CreateSandbox(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, sb)
}

func (s *apiServer) handleGet(w http.ResponseWriter, r *http.Request) {
	sb, err := s.manager.GetSandbox(r.Context(), pathKey(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sb)
}

func (s *apiServer) handleDestroy(w http.ResponseWriter, r *http.Request) {
	key := pathKey(r)
	if err := s.manager.Destroy(r.Context(), key); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.counters.Drop(key)
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	report, err := s.manager.GetMetrics(r.Context(), pathKey(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *apiServer) handleViolations(w http.ResponseWriter, r *http.Request) {
	violations, err := s.manager.Violations(r.Context(), pathKey(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, violations)
}

func (s *apiServer) handleSuspend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Reason == "" {
		body.Reason = "operator request"
	}
	if err := s.manager.Suspend(r.Context(), pathKey(r), body.Reason); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Resume(r.Context(), pathKey(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleUpdateLimits(w http.ResponseWriter, r *http.Request) {
	var partial domain.ResourceLimits
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.manager.UpdateLimits(r.Context(), pathKey(r), partial); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleThrottle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Resource        string `json:"resource"`
		Level           string `json:"level"`
		DurationSeconds int    `json:"duration_seconds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	level := throttle.LevelSoft
	if body.Level == string(throttle.LevelHard) {
		level = throttle.LevelHard
	}
	err := s.manager.ApplyThrottle(r.Context(), pathKey(r),
		domain.ResourceType(body.Resource), level,
		time.Duration(body.DurationSeconds)*time.Second)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var p rulePayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	id, err := s.manager.AddThrottleRule(r.Context(), pathKey(r), p.toRule())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// handleUsage receives gateway-fed api/database/storage readings that the
// process sampler cannot observe on its own.
func (s *apiServer) handleUsage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		APIRequestsPerMinute float64 `json:"api_requests_per_minute"`
		APIInFlight          int     `json:"api_in_flight"`
		DBConnections        int     `json:"db_connections"`
		DBQueriesPerMinute   float64 `json:"db_queries_per_minute"`
		StorageMB            float64 `json:"storage_mb"`
		StorageFiles         int     `json:"storage_files"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	key := pathKey(r)
	if _, err := s.manager.GetSandbox(r.Context(), key); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.counters.RecordAPI(key, body.APIRequestsPerMinute, body.APIInFlight)
	s.counters.RecordDatabase(key, body.DBConnections, body.DBQueriesPerMinute)
	s.counters.RecordStorage(key, body.StorageMB, body.StorageFiles)
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := alerting.AlertFilter{
		ModuleID: q.Get("module"),
		TenantID: q.Get("tenant"),
	}
	if v := q.Get("acknowledged"); v != "" {
		acked := v == "true"
		f.Acknowledged = &acked
	}
	alerts, err := s.manager.ListAlerts(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, alerts)
}

func (s *apiServer) handleAckAlert(w http.ResponseWriter, r *http.Request) {
	var body struct {
		By string `json:"by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.manager.AcknowledgeAlert(r.Context(), r.PathValue("id"), body.By); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.manager.GetStatistics(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		notFound     *domain.NotFoundError
		exists       *domain.AlreadyExistsError
		invalid      *domain.ValidationError
		notSuspended *domain.NotSuspendedError
		collection   *domain.CollectionError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &exists):
		status = http.StatusConflict
	case errors.As(err, &invalid):
		status = http.StatusBadRequest
	case errors.As(err, &notSuspended):
		status = http.StatusConflict
	case errors.As(err, &collection):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error(r.Context(), "Request failed", map[string]any{
			"path": r.URL.Path, "error": err.Error(),
		})
	}
	http.Error(w, err.Error(), status)
}
