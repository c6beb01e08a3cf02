package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/synaptiq/scheduler/internal/approval"
	"github.com/synaptiq/scheduler/internal/envelope"
	"github.com/synaptiq/scheduler/internal/executor"
	"github.com/synaptiq/scheduler/internal/health"
	"github.com/synaptiq/scheduler/internal/history"
	"github.com/synaptiq/scheduler/internal/middleware"
	"github.com/synaptiq/scheduler/internal/routing"
	"github.com/synaptiq/scheduler/internal/security"
	"github.com/synaptiq/scheduler/internal/types"
)

// planRetention bounds how long an unexecuted plan stays resident. It
// matches the execution token TTL so a plan never outlives its token.
const planRetention = approval.TokenTTL

// Server represents the HTTP server
type Server struct {
	engine             *routing.Engine
	issuer             *approval.Issuer
	executor           *executor.Adapter
	healthTracker      *health.Tracker
	historyStore       *history.Store
	baselines          map[types.ProviderID]types.ProviderBaseline
	plans              *planStore
	httpServer         *http.Server
	logger             *logrus.Logger
	config             *ServerConfig
	securityMiddleware *middleware.SecurityMiddleware
	openapiMiddleware  *middleware.ValidationMiddleware
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           string                               `yaml:"port"`
	ReadTimeout    time.Duration                        `yaml:"read_timeout"`
	WriteTimeout   time.Duration                        `yaml:"write_timeout"`
	MaxHeaderBytes int                                  `yaml:"max_header_bytes"`
	Security       *middleware.SecurityMiddlewareConfig `yaml:"security"`
	OpenAPI        *middleware.ValidationConfig         `yaml:"openapi"`
}

// Deps bundles the engine components the server fronts.
type Deps struct {
	Engine        *routing.Engine
	Issuer        *approval.Issuer
	Executor      *executor.Adapter
	HealthTracker *health.Tracker
	HistoryStore  *history.Store
	Baselines     map[types.ProviderID]types.ProviderBaseline
}

// NewServer creates a new server instance
func NewServer(deps Deps, config *ServerConfig, logger *logrus.Logger) (*Server, error) {
	server := &Server{
		engine:        deps.Engine,
		issuer:        deps.Issuer,
		executor:      deps.Executor,
		healthTracker: deps.HealthTracker,
		historyStore:  deps.HistoryStore,
		baselines:     deps.Baselines,
		plans:         newPlanStore(),
		logger:        logger,
		config:        config,
	}

	if config.Security != nil {
		securityMiddleware, err := middleware.NewSecurityMiddleware(config.Security, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize security middleware: %w", err)
		}
		server.securityMiddleware = securityMiddleware
	}

	if config.OpenAPI != nil && config.OpenAPI.Enabled {
		openapiMiddleware, err := middleware.NewValidationMiddleware(config.OpenAPI, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAPI validation: %w", err)
		}
		server.openapiMiddleware = openapiMiddleware
	}

	return server, nil
}

// Start starts the HTTP server
func (s *Server) Start() error {
	r := s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           ":" + s.config.Port,
		Handler:        r,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.WithField("port", s.config.Port).Info("Starting scheduler server")
	return s.httpServer.ListenAndServe()
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping scheduler server")

	if s.securityMiddleware != nil {
		s.securityMiddleware.Stop()
	}

	return s.httpServer.Shutdown(ctx)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	if s.securityMiddleware != nil {
		r.Use(s.securityMiddleware.Handler())
	}
	if s.openapiMiddleware != nil {
		r.Use(s.openapiMiddleware.Middleware)
	}

	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.contentTypeMiddleware)

	// API routes
	api := r.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/route", s.handleRoute).Methods("POST")
	api.HandleFunc("/plans/{id}/approve", s.handleApprovePlan).Methods("POST")
	api.HandleFunc("/execute", s.handleExecute).Methods("POST")

	api.HandleFunc("/providers", s.handleListProviders).Methods("GET")
	api.HandleFunc("/health", s.handleProviderHealth).Methods("GET")
	api.HandleFunc("/history/{provider}", s.handleProviderHistory).Methods("GET")

	// Health check endpoint (no /v1 prefix)
	r.HandleFunc("/health", s.handleHealthCheck).Methods("GET")

	// API documentation
	s.setupDocsRoutes(r)

	return r
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: 200}

		next.ServeHTTP(wrapped, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"user_agent":  r.UserAgent(),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) contentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" || r.Method == "PUT" {
			contentType := r.Header.Get("Content-Type")
			if contentType != "application/json" && contentType != "" {
				s.writeErrorResponse(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Handlers

// RouteRequestBody is the wire form of a routing request.
type RouteRequestBody struct {
	Payload          map[string]interface{} `json:"payload"`
	UserID           string                 `json:"user_id,omitempty"`
	Source           string                 `json:"source,omitempty"`
	Policy           *types.Policy          `json:"policy,omitempty"`
	UseLearning      bool                   `json:"use_learning,omitempty"`
	UsePriors        bool                   `json:"use_priors,omitempty"`
	RequireValidator bool                   `json:"require_validator,omitempty"`
	Telemetry        bool                   `json:"telemetry,omitempty"`
	LiveRun          bool                   `json:"live_run,omitempty"`
}

// handleRoute builds an envelope from the request body and routes it.
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var body RouteRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}

	env := envelope.Build(body.Payload, envelope.Options{
		UserID:           body.UserID,
		Source:           body.Source,
		Policy:           body.Policy,
		UseLearning:      body.UseLearning,
		UsePriors:        body.UsePriors,
		RequireValidator: body.RequireValidator,
		TelemetryEnabled: body.Telemetry,
		LiveRun:          body.LiveRun,
	})

	result, err := s.engine.RouteRequest(r.Context(), env)
	if err != nil {
		s.writeErrorResponse(w, http.StatusUnprocessableEntity, fmt.Sprintf("Routing failed: %v", err))
		return
	}

	// A decision-only result still needs a plan before it can be approved
	// and executed, so wrap it in a single-assignment plan.
	plan := result.ExecutionPlan
	if plan == nil && result.Decision != nil && result.Decision.SelectedProvider != "" {
		plan = s.engine.PlanForDecision(env, result.Decision)
		result.ExecutionPlan = plan
	}
	if plan != nil {
		s.plans.put(plan, env)
	}

	event := security.RouteDecided
	if result.Decision != nil && result.Decision.SelectedProvider == "" {
		event = security.RoutingDisabled
	}
	details := map[string]interface{}{
		"mode":     result.Mode,
		"provider": selectedProvider(result),
	}
	if env.TelemetryEnabled && result.Decision != nil {
		details["confidence"] = result.Decision.Confidence
		details["reason"] = result.Decision.Reason
		if result.Decision.CostEstimate != nil {
			details["estimated_cost_cents"] = result.Decision.CostEstimate.CostCents
			details["estimated_latency_ms"] = result.Decision.CostEstimate.LatencyMs
		}
	}
	s.audit(event, env.RequestID, env.UserID,
		fmt.Sprintf("routing mode %s", result.Mode), details)

	s.writeJSON(w, http.StatusOK, result)
}

// ApproveRequestBody is the wire form of a plan approval.
type ApproveRequestBody struct {
	ApproverID   string `json:"approver_id"`
	ApproverRole string `json:"approver_role"`
	Reason       string `json:"reason,omitempty"`
}

// ApproveResponse carries the approval record and its execution token.
type ApproveResponse struct {
	Approval  types.Approval `json:"approval"`
	TokenID   string         `json:"token_id"`
	SignedJWT string         `json:"signed_jwt"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// handleApprovePlan approves a previously routed plan and issues a
// single-use execution token for it.
func (s *Server) handleApprovePlan(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	planID := vars["id"]

	var body ApproveRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}
	if body.ApproverID == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, "approver_id is required")
		return
	}

	entry, ok := s.plans.get(planID)
	if !ok {
		s.writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("Plan %s not found", planID))
		return
	}

	app := s.issuer.ApprovePlan(entry.plan, body.ApproverID, body.ApproverRole, body.Reason)
	token := s.issuer.IssueExecutionToken(app)
	s.plans.attachApproval(planID, app, token)

	s.audit(security.PlanApproved, entry.plan.RequestID, body.ApproverID,
		fmt.Sprintf("plan %s approved", planID), map[string]interface{}{
			"plan_id": planID,
		})
	s.audit(security.TokenIssued, entry.plan.RequestID, body.ApproverID,
		fmt.Sprintf("execution token issued for plan %s", planID), map[string]interface{}{
			"plan_id":    planID,
			"token_id":   token.TokenID,
			"expires_at": token.ExpiresAt,
		})

	s.writeJSON(w, http.StatusOK, ApproveResponse{
		Approval:  app,
		TokenID:   token.TokenID,
		SignedJWT: token.SignedJWT,
		ExpiresAt: token.ExpiresAt,
	})
}

// ExecuteRequestBody is the wire form of an execution request.
type ExecuteRequestBody struct {
	PlanID  string `json:"plan_id"`
	TokenID string `json:"token_id"`
}

// handleExecute dispatches an approved plan to its selected provider.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var body ExecuteRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}

	entry, ok := s.plans.get(body.PlanID)
	if !ok {
		s.writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("Plan %s not found", body.PlanID))
		return
	}
	if entry.approval == nil || entry.token == nil {
		s.writeErrorResponse(w, http.StatusForbidden, fmt.Sprintf("Plan %s has not been approved", body.PlanID))
		return
	}
	if body.TokenID != "" && body.TokenID != entry.token.TokenID {
		s.audit(security.TokenRejected, entry.plan.RequestID, "",
			"token mismatch on execute", map[string]interface{}{"plan_id": body.PlanID})
		s.writeErrorResponse(w, http.StatusForbidden, "Execution token does not match plan")
		return
	}

	result, err := s.executor.ExecutePlan(r.Context(), entry.plan, *entry.approval, entry.token)
	if err != nil {
		s.audit(security.TokenRejected, entry.plan.RequestID, "",
			fmt.Sprintf("execution rejected: %v", err), map[string]interface{}{"plan_id": body.PlanID})
		s.writeErrorResponse(w, http.StatusForbidden, fmt.Sprintf("Execution rejected: %v", err))
		return
	}

	s.audit(security.ExecutionRecorded, result.RequestID, "",
		fmt.Sprintf("plan %s executed on %s", result.PlanID, result.Provider), map[string]interface{}{
			"plan_id":   result.PlanID,
			"provider":  result.Provider,
			"ok":        result.OK,
			"simulated": result.Simulated,
		})

	s.writeJSON(w, http.StatusOK, result)
}

// handleListProviders lists the configured provider baselines with their
// current health snapshots.
func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	snapshots := s.healthTracker.Snapshots()

	providerInfo := make([]map[string]interface{}, 0, len(s.baselines))
	for _, id := range types.KnownProviders() {
		baseline, ok := s.baselines[id]
		if !ok {
			continue
		}
		providerInfo = append(providerInfo, map[string]interface{}{
			"provider":     id,
			"baseline":     baseline,
			"health":       snapshots[id],
			"capabilities": baseline.Capabilities,
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": providerInfo,
		"count":     len(providerInfo),
	})
}

// handleProviderHealth returns the health window state for every provider.
func (s *Server) handleProviderHealth(w http.ResponseWriter, r *http.Request) {
	snapshots := s.healthTracker.Snapshots()

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": snapshots,
		"timestamp": time.Now().Unix(),
	})
}

// handleProviderHistory returns the recent-window aggregate and prior for
// one provider.
func (s *Server) handleProviderHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	provider := types.ProviderID(vars["provider"])

	if !types.IsKnownProvider(provider) {
		s.writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("Provider %s not found", provider))
		return
	}

	window := history.DefaultPriorWindow
	if n := r.URL.Query().Get("window"); n != "" {
		if _, err := fmt.Sscanf(n, "%d", &window); err != nil || window <= 0 {
			s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid window: %q", n))
			return
		}
	}

	agg := s.historyStore.Aggregate(provider, window)

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"provider":  provider,
		"aggregate": agg,
		"prior":     s.historyStore.Prior(provider, window),
		"timestamp": time.Now().Unix(),
	})
}

// handleHealthCheck returns overall service health.
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	snapshots := s.healthTracker.Snapshots()

	degraded := 0
	for _, snap := range snapshots {
		if snap.Degraded || snap.Unavailable {
			degraded++
		}
	}

	status := "healthy"
	if degraded > 0 {
		status = "degraded"
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"providers": snapshots,
		"timestamp": time.Now().Unix(),
	})
}

// Helper functions

func (s *Server) audit(eventType security.AuditEventType, requestID, userID, message string, details map[string]interface{}) {
	if s.securityMiddleware == nil {
		return
	}
	auditor := s.securityMiddleware.Auditor()
	if auditor == nil {
		return
	}
	auditor.LogEvent(eventType, requestID, userID, message, details)
}

func selectedProvider(result *types.RouteResult) string {
	if result.Decision != nil {
		return string(result.Decision.SelectedProvider)
	}
	return ""
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "api_error",
			"code":    statusCode,
		},
		"timestamp": time.Now().Unix(),
	}

	json.NewEncoder(w).Encode(errorResp)
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// planStore keeps routed plans resident between the route, approve, and
// execute calls. Entries expire with their execution tokens.
type planStore struct {
	mu      sync.Mutex
	entries map[string]*planEntry
}

type planEntry struct {
	plan      types.Plan
	envelope  types.Envelope
	approval  *types.Approval
	token     *approval.ExecutionToken
	createdAt time.Time
}

func newPlanStore() *planStore {
	return &planStore{entries: make(map[string]*planEntry)}
}

func (p *planStore) put(plan *types.Plan, env types.Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sweepLocked()
	p.entries[plan.PlanID] = &planEntry{
		plan:      *plan,
		envelope:  env,
		createdAt: time.Now(),
	}
}

func (p *planStore) get(planID string) (*planEntry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.entries[planID]
	if !ok {
		return nil, false
	}
	if time.Since(entry.createdAt) > planRetention {
		delete(p.entries, planID)
		return nil, false
	}
	return entry, true
}

func (p *planStore) attachApproval(planID string, app types.Approval, token *approval.ExecutionToken) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.entries[planID]; ok {
		entry.approval = &app
		entry.token = token
	}
}

func (p *planStore) sweepLocked() {
	for id, entry := range p.entries {
		if time.Since(entry.createdAt) > planRetention {
			delete(p.entries, id)
		}
	}
}
