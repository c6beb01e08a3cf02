package routing

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/synaptiq/scheduler/internal/decision"
	"github.com/synaptiq/scheduler/internal/envelope"
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
		},
		types.ProviderMistral: {
			CostCentsPer1K: 0.25,
			LatencyMs:      700,
			Reliability:    0.93,
		},
	}
}

func newTestEngine(routingEnabled bool) *Engine {
	state := NewState(nil, testLogger())
	decisions := decision.NewEngine(testBaselines(), state.Health, state.History, true, testLogger())
	return NewEngine(decisions, routingEnabled, testLogger())
}

func TestRouteRequest_MissingPayload(t *testing.T) {
	engine := newTestEngine(true)
	env := envelope.Build(nil, envelope.Options{})

	_, err := engine.RouteRequest(context.Background(), env)
	if !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("expected ErrInvalidEnvelope, got %v", err)
	}

	env = envelope.Build(map[string]interface{}{}, envelope.Options{})
	if _, err := engine.RouteRequest(context.Background(), env); !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("expected ErrInvalidEnvelope for empty payload, got %v", err)
	}
}

func TestRouteRequest_CancelledContext(t *testing.T) {
	engine := newTestEngine(true)
	env := envelope.Build(map[string]interface{}{"prompt": "x"}, envelope.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.RouteRequest(ctx, env)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRouteRequest_KillSwitch(t *testing.T) {
	engine := newTestEngine(false)
	env := envelope.Build(map[string]interface{}{"prompt": "x"}, envelope.Options{})

	result, err := engine.RouteRequest(context.Background(), env)
	if err != nil {
		t.Fatalf("kill switch must not error: %v", err)
	}
	if result.Decision == nil {
		t.Fatal("degenerate decision expected")
	}
	if result.Decision.SelectedProvider != "" {
		t.Errorf("provider = %s, want none", result.Decision.SelectedProvider)
	}
	if result.Decision.Reason == "" {
		t.Error("degenerate decision must explain itself")
	}
	if result.ExecutionPlan != nil {
		t.Error("kill switch must not produce a plan")
	}
}

func TestRouteRequest_SingleTask(t *testing.T) {
	engine := newTestEngine(true)
	env := envelope.Build(map[string]interface{}{"prompt": "summarize"}, envelope.Options{})

	result, err := engine.RouteRequest(context.Background(), env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Mode != types.KindSingleTask {
		t.Errorf("mode = %s, want single_task", result.Mode)
	}
	if result.Decision == nil || result.Decision.SelectedProvider == "" {
		t.Fatal("single task must select a provider")
	}
	if result.ExecutionPlan != nil {
		t.Error("single task routing does not build a plan")
	}
}

func TestRouteRequest_OrchestratedTask(t *testing.T) {
	engine := newTestEngine(true)
	env := envelope.Build(map[string]interface{}{
		"objective": "build the report pipeline",
		"taskType":  "code_generation",
	}, envelope.Options{})

	result, err := engine.RouteRequest(context.Background(), env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Mode != types.KindOrchestratedTask {
		t.Errorf("mode = %s, want orchestrated_task", result.Mode)
	}
	if result.ExecutionPlan == nil {
		t.Fatal("orchestrated task must produce a plan")
	}
	if len(result.ExecutionPlan.Assignments) != 1 {
		t.Fatalf("expected one assignment, got %d", len(result.ExecutionPlan.Assignments))
	}

	// The headline decision mirrors the plan's executor slot.
	assignment := result.ExecutionPlan.Assignments[0]
	if result.Decision == nil {
		t.Fatal("orchestrated result must carry a headline decision")
	}
	if result.Decision.SelectedProvider != assignment.Provider {
		t.Errorf("decision provider %s != executor provider %s",
			result.Decision.SelectedProvider, assignment.Provider)
	}
}

func TestPlanForDecision_Passthrough(t *testing.T) {
	engine := newTestEngine(true)
	env := envelope.Build(map[string]interface{}{"prompt": "hello"}, envelope.Options{})

	result, err := engine.RouteRequest(context.Background(), env)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	plan := engine.PlanForDecision(env, result.Decision)
	if plan == nil {
		t.Fatal("expected a plan")
	}
	assignment, ok := plan.ExecutorAssignment()
	if !ok {
		t.Fatal("plan must carry an executor assignment")
	}
	if assignment.Provider != result.Decision.SelectedProvider {
		t.Errorf("assignment provider = %s, want %s", assignment.Provider, result.Decision.SelectedProvider)
	}
}

func TestNewState_SharedComponents(t *testing.T) {
	state := NewState(map[types.ProviderID]float64{types.ProviderOpenAI: 0.9}, testLogger())
	if state.Health == nil || state.History == nil {
		t.Fatal("state must construct both shared components")
	}
}
