package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/synaptiq/scheduler/internal/approval"
	"github.com/synaptiq/scheduler/internal/costmodel"
	"github.com/synaptiq/scheduler/internal/decision"
	"github.com/synaptiq/scheduler/internal/executor"
	"github.com/synaptiq/scheduler/internal/providers"
	"github.com/synaptiq/scheduler/internal/routing"
	"github.com/synaptiq/scheduler/internal/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func testBaselines() map[types.ProviderID]types.ProviderBaseline {
	return map[types.ProviderID]types.ProviderBaseline{
		types.ProviderOpenAI: {
			CostCentsPer1K: 0.60,
			LatencyMs:      800,
			Reliability:    0.97,
			Capabilities:   []types.Capability{types.CapabilityChat, types.CapabilityCode, types.CapabilityAnalysis},
		},
		types.ProviderMistral: {
			CostCentsPer1K: 0.25,
			LatencyMs:      700,
			Reliability:    0.93,
			Capabilities:   []types.Capability{types.CapabilityChat, types.CapabilityCode},
		},
	}
}

// newTestServer wires a full engine stack with no security middleware and
// no live provider clients, so every execution is simulated.
func newTestServer(t *testing.T, routingEnabled bool) *Server {
	t.Helper()

	logger := testLogger()
	baselines := testBaselines()

	state := routing.NewState(map[types.ProviderID]float64{
		types.ProviderOpenAI:  0.90,
		types.ProviderMistral: 0.75,
	}, logger)

	decisions := decision.NewEngine(baselines, state.Health, state.History, true, logger)
	engine := routing.NewEngine(decisions, routingEnabled, logger)
	issuer := approval.NewIssuer("server-test-secret", logger)

	model := costmodel.New(baselines, state.Health, nil, logger)
	adapter := executor.NewAdapter(providers.NewRegistry(), model, state.Health, state.History, issuer,
		executor.Config{LiveEnabled: false}, logger)

	srv, err := NewServer(Deps{
		Engine:        engine,
		Issuer:        issuer,
		Executor:      adapter,
		HealthTracker: state.Health,
		HistoryStore:  state.History,
		Baselines:     baselines,
	}, &ServerConfig{Port: "0"}, logger)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return srv
}

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request body: %v", err)
	}
	req := httptest.NewRequest("POST", path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
}

func TestRouteApproveExecute_RoundTrip(t *testing.T) {
	srv := newTestServer(t, true)
	router := srv.setupRoutes()

	// Route a single task.
	w := postJSON(t, router, "/v1/route", RouteRequestBody{
		Payload: map[string]interface{}{"prompt": "summarize the quarterly report"},
		UserID:  "user-1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("route returned %d: %s", w.Code, w.Body.String())
	}

	var result types.RouteResult
	decodeBody(t, w, &result)
	if result.Decision == nil || result.Decision.SelectedProvider == "" {
		t.Fatal("Expected a provider decision")
	}
	if result.ExecutionPlan == nil || result.ExecutionPlan.PlanID == "" {
		t.Fatal("Expected the decision to be wrapped in an execution plan")
	}
	planID := result.ExecutionPlan.PlanID

	// Approve the plan.
	w = postJSON(t, router, "/v1/plans/"+planID+"/approve", ApproveRequestBody{
		ApproverID:   "reviewer-7",
		ApproverRole: "operator",
		Reason:       "routine",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("approve returned %d: %s", w.Code, w.Body.String())
	}

	var approveResp ApproveResponse
	decodeBody(t, w, &approveResp)
	if approveResp.TokenID == "" || approveResp.SignedJWT == "" {
		t.Fatalf("Expected token in approve response, got %+v", approveResp)
	}
	if approveResp.Approval.PlanID != planID {
		t.Errorf("Approval.PlanID = %s, want %s", approveResp.Approval.PlanID, planID)
	}

	// Execute it.
	w = postJSON(t, router, "/v1/execute", ExecuteRequestBody{PlanID: planID, TokenID: approveResp.TokenID})
	if w.Code != http.StatusOK {
		t.Fatalf("execute returned %d: %s", w.Code, w.Body.String())
	}

	var execResult types.ExecutionResult
	decodeBody(t, w, &execResult)
	if !execResult.OK {
		t.Errorf("Expected simulated execution to succeed: %+v", execResult)
	}
	if !execResult.Simulated {
		t.Error("Execution without live clients should be simulated")
	}
	if execResult.Provider != result.Decision.SelectedProvider {
		t.Errorf("Executed on %s, routed to %s", execResult.Provider, result.Decision.SelectedProvider)
	}

	// The execution token is single use.
	w = postJSON(t, router, "/v1/execute", ExecuteRequestBody{PlanID: planID})
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 on token reuse, got %d", w.Code)
	}
}

func TestApprove_UnknownPlan(t *testing.T) {
	srv := newTestServer(t, true)
	router := srv.setupRoutes()

	w := postJSON(t, router, "/v1/plans/plan-does-not-exist/approve", ApproveRequestBody{ApproverID: "reviewer-7"})
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown plan, got %d", w.Code)
	}
}

func TestApprove_MissingApprover(t *testing.T) {
	srv := newTestServer(t, true)
	router := srv.setupRoutes()

	w := postJSON(t, router, "/v1/route", RouteRequestBody{
		Payload: map[string]interface{}{"prompt": "hello"},
	})
	var result types.RouteResult
	decodeBody(t, w, &result)

	w = postJSON(t, router, "/v1/plans/"+result.ExecutionPlan.PlanID+"/approve", ApproveRequestBody{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing approver_id, got %d", w.Code)
	}
}

func TestExecute_UnapprovedPlan(t *testing.T) {
	srv := newTestServer(t, true)
	router := srv.setupRoutes()

	w := postJSON(t, router, "/v1/route", RouteRequestBody{
		Payload: map[string]interface{}{"prompt": "hello"},
	})
	var result types.RouteResult
	decodeBody(t, w, &result)

	w = postJSON(t, router, "/v1/execute", ExecuteRequestBody{PlanID: result.ExecutionPlan.PlanID})
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for unapproved plan, got %d", w.Code)
	}
}

func TestExecute_TokenMismatch(t *testing.T) {
	srv := newTestServer(t, true)
	router := srv.setupRoutes()

	w := postJSON(t, router, "/v1/route", RouteRequestBody{
		Payload: map[string]interface{}{"prompt": "hello"},
	})
	var result types.RouteResult
	decodeBody(t, w, &result)
	planID := result.ExecutionPlan.PlanID

	postJSON(t, router, "/v1/plans/"+planID+"/approve", ApproveRequestBody{ApproverID: "reviewer-7"})

	w = postJSON(t, router, "/v1/execute", ExecuteRequestBody{PlanID: planID, TokenID: "not-the-token"})
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for token mismatch, got %d", w.Code)
	}
}

func TestRoute_KillSwitch(t *testing.T) {
	srv := newTestServer(t, false)
	router := srv.setupRoutes()

	w := postJSON(t, router, "/v1/route", RouteRequestBody{
		Payload: map[string]interface{}{"prompt": "hello"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("route returned %d: %s", w.Code, w.Body.String())
	}

	var result types.RouteResult
	decodeBody(t, w, &result)
	if result.Decision == nil {
		t.Fatal("Expected a degenerate decision")
	}
	if result.Decision.SelectedProvider != "" {
		t.Errorf("Kill switch should select no provider, got %s", result.Decision.SelectedProvider)
	}
	if result.ExecutionPlan != nil {
		t.Error("Kill switch should produce no execution plan")
	}
}

func TestRoute_InvalidJSON(t *testing.T) {
	srv := newTestServer(t, true)
	router := srv.setupRoutes()

	req := httptest.NewRequest("POST", "/v1/route", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed JSON, got %d", w.Code)
	}
}

func TestContentTypeEnforcement(t *testing.T) {
	srv := newTestServer(t, true)
	router := srv.setupRoutes()

	req := httptest.NewRequest("POST", "/v1/route", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnsupportedMediaType {
		t.Errorf("Expected 415 for text/plain, got %d", w.Code)
	}
}

func TestListProviders(t *testing.T) {
	srv := newTestServer(t, true)
	router := srv.setupRoutes()

	req := httptest.NewRequest("GET", "/v1/providers", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("providers returned %d: %s", w.Code, w.Body.String())
	}

	var body map[string]interface{}
	decodeBody(t, w, &body)
	providerList, ok := body["providers"].([]interface{})
	if !ok {
		t.Fatalf("Expected providers array, got %v", body)
	}
	if len(providerList) != len(testBaselines()) {
		t.Errorf("Expected %d providers, got %d", len(testBaselines()), len(providerList))
	}
}

func TestProviderHistoryEndpoint(t *testing.T) {
	srv := newTestServer(t, true)
	router := srv.setupRoutes()

	// Unknown provider is rejected.
	req := httptest.NewRequest("GET", "/v1/history/cohere", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown provider, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/v1/history/openai?window=5", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("history returned %d: %s", w.Code, w.Body.String())
	}
}

func TestHealthCheckEndpoint(t *testing.T) {
	srv := newTestServer(t, true)
	router := srv.setupRoutes()

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("health returned %d: %s", w.Code, w.Body.String())
	}

	var body map[string]interface{}
	decodeBody(t, w, &body)
	if body["status"] != "healthy" {
		t.Errorf("Expected healthy status with no recorded failures, got %v", body["status"])
	}
}

func TestPlanStore_Expiry(t *testing.T) {
	store := newPlanStore()
	plan := &types.Plan{PlanID: "plan-exp", RequestID: "req-exp"}
	store.put(plan, types.Envelope{RequestID: "req-exp"})

	entry, ok := store.get("plan-exp")
	if !ok || entry.plan.PlanID != "plan-exp" {
		t.Fatal("Expected fresh plan to be retrievable")
	}

	// Age the entry past retention and confirm it is swept on access.
	store.mu.Lock()
	store.entries["plan-exp"].createdAt = entry.createdAt.Add(-2 * planRetention)
	store.mu.Unlock()

	if _, ok := store.get("plan-exp"); ok {
		t.Error("Expected expired plan to be dropped")
	}
}

func TestExecuteOutcomesFeedHealth(t *testing.T) {
	srv := newTestServer(t, true)
	router := srv.setupRoutes()

	for i := 0; i < 3; i++ {
		w := postJSON(t, router, "/v1/route", RouteRequestBody{
			Payload: map[string]interface{}{"prompt": fmt.Sprintf("task %d", i)},
		})
		var result types.RouteResult
		decodeBody(t, w, &result)
		planID := result.ExecutionPlan.PlanID

		postJSON(t, router, "/v1/plans/"+planID+"/approve", ApproveRequestBody{ApproverID: "reviewer-7"})
		postJSON(t, router, "/v1/execute", ExecuteRequestBody{PlanID: planID})
	}

	if srv.historyStore.Len() != 3 {
		t.Errorf("Expected 3 history records after 3 executions, got %d", srv.historyStore.Len())
	}
}
