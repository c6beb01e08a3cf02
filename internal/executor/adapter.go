package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/synaptiq/scheduler/internal/approval"
	"github.com/synaptiq/scheduler/internal/costmodel"
	"github.com/synaptiq/scheduler/internal/health"
	"github.com/synaptiq/scheduler/internal/history"
	"github.com/synaptiq/scheduler/internal/providers"
	"github.com/synaptiq/scheduler/internal/types"
)

// ErrNoExecutor is returned when a plan carries no executor assignment.
var ErrNoExecutor = errors.New("plan has no executor assignment")

// DefaultCallTimeout bounds each live upstream call. A timeout is recorded
// as a failure observation like any other ok=false outcome.
const DefaultCallTimeout = 25 * time.Second

// Config controls the adapter's dispatch behavior.
type Config struct {
	// LiveEnabled is the global live-provider switch. When off, every
	// execution uses the simulated responder.
	LiveEnabled bool

	// CallTimeout bounds each live call; zero means DefaultCallTimeout.
	CallTimeout time.Duration
}

// Adapter executes approved plans against live or simulated providers and
// feeds every outcome back into the health tracker and history store. That
// feedback loop is what lets routing adapt: today's failures raise
// tomorrow's penalty. The adapter never auto-retries; fallback chains are
// the caller's concern.
type Adapter struct {
	registry *providers.Registry
	model    *costmodel.Model
	health   *health.Tracker
	history  *history.Store
	issuer   *approval.Issuer
	config   Config
	logger   *logrus.Logger
}

// NewAdapter creates an execution adapter.
func NewAdapter(registry *providers.Registry, model *costmodel.Model, tracker *health.Tracker, store *history.Store, issuer *approval.Issuer, config Config, logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultCallTimeout
	}
	return &Adapter{
		registry: registry,
		model:    model,
		health:   tracker,
		history:  store,
		issuer:   issuer,
		config:   config,
		logger:   logger,
	}
}

// ExecutePlan runs the plan's executor assignment under the authority of an
// execution token. Token-state problems (expired, already used, signature or
// plan mismatch) are returned as errors and nothing executes. Provider-side
// failures are not errors: they come back as an OK=false result, already
// recorded as a failure observation.
func (a *Adapter) ExecutePlan(ctx context.Context, plan types.Plan, app types.Approval, token *approval.ExecutionToken) (types.ExecutionResult, error) {
	if err := a.issuer.VerifyApproval(app, plan); err != nil {
		return types.ExecutionResult{}, err
	}
	if token.PlanID != plan.PlanID {
		return types.ExecutionResult{}, fmt.Errorf("%w: token for %s, plan %s", approval.ErrPlanMismatch, token.PlanID, plan.PlanID)
	}
	if err := token.Claim(); err != nil {
		a.logger.WithFields(logrus.Fields{
			"plan_id":  plan.PlanID,
			"token_id": token.TokenID,
		}).WithError(err).Warn("Execution token rejected")
		return types.ExecutionResult{}, err
	}

	assignment, ok := plan.ExecutorAssignment()
	if !ok {
		return types.ExecutionResult{}, ErrNoExecutor
	}

	result := a.dispatch(ctx, plan, assignment)
	a.record(result, assignment.Capability)

	a.logger.WithFields(logrus.Fields{
		"plan_id":    plan.PlanID,
		"provider":   result.Provider,
		"ok":         result.OK,
		"simulated":  result.Simulated,
		"latency_ms": result.LatencyMs,
		"cost_cents": result.CostCents,
	}).Info("Plan executed")

	return result, nil
}

// dispatch picks live vs simulated execution for the assignment.
func (a *Adapter) dispatch(ctx context.Context, plan types.Plan, assignment types.Assignment) types.ExecutionResult {
	if a.config.LiveEnabled {
		if client, ok := a.registry.Get(assignment.Provider); ok {
			return a.executeLive(ctx, client, plan, assignment)
		}
		a.logger.WithField("provider", assignment.Provider).Debug("No live client registered, simulating")
	}
	return a.simulate(plan, assignment)
}

func (a *Adapter) executeLive(ctx context.Context, client providers.LiveClient, plan types.Plan, assignment types.Assignment) types.ExecutionResult {
	callCtx, cancel := context.WithTimeout(ctx, a.config.CallTimeout)
	defer cancel()

	tokens := tokensFor(assignment)
	live := client.ExecuteLive(callCtx, providers.LiveRequest{
		Provider:  assignment.Provider,
		Input:     plan.Objective,
		Tokens:    tokens,
		RequestID: plan.RequestID,
	})

	costCents := assignment.EstimatedCostCents
	if live.TokensUsed > 0 {
		if baseline, ok := a.model.Baselines()[assignment.Provider]; ok {
			costCents = float64(live.TokensUsed) / 1000.0 * baseline.CostCentsPer1K
		}
	}

	return types.ExecutionResult{
		PlanID:      plan.PlanID,
		RequestID:   plan.RequestID,
		Provider:    assignment.Provider,
		OK:          live.OK,
		Output:      live.RawOutput,
		Model:       live.Model,
		TokensUsed:  live.TokensUsed,
		LatencyMs:   live.LatencyMs,
		CostCents:   costCents,
		Simulated:   false,
		CompletedAt: time.Now().UTC(),
	}
}

// simulate fabricates a deterministic response from the cost model so the
// full routing loop can run and be demoed without credentials or network.
func (a *Adapter) simulate(plan types.Plan, assignment types.Assignment) types.ExecutionResult {
	tokens := tokensFor(assignment)
	est, err := a.model.EstimateProviderCost(assignment.Provider, tokens, assignment.Capability, plan.RequestID)
	if err != nil {
		// Unknown provider in a plan is a configuration bug; surface it as
		// a failed execution so it still lands in the learning signal.
		return types.ExecutionResult{
			PlanID:      plan.PlanID,
			RequestID:   plan.RequestID,
			Provider:    assignment.Provider,
			OK:          false,
			Output:      fmt.Sprintf("simulation failed: %v", err),
			Simulated:   true,
			CompletedAt: time.Now().UTC(),
		}
	}

	output := fmt.Sprintf("[simulated:%s] completed task %s (%d tokens, %.0fms)",
		assignment.Provider, plan.RequestID, est.Tokens, est.LatencyMs)

	return types.ExecutionResult{
		PlanID:      plan.PlanID,
		RequestID:   plan.RequestID,
		Provider:    assignment.Provider,
		OK:          true,
		Output:      output,
		TokensUsed:  est.Tokens,
		LatencyMs:   int64(est.LatencyMs),
		CostCents:   est.CostCents,
		Simulated:   true,
		CompletedAt: time.Now().UTC(),
	}
}

// record feeds the outcome into both learning layers, unconditionally for
// live and simulated executions alike.
func (a *Adapter) record(result types.ExecutionResult, capability types.Capability) {
	a.health.Record(result.Provider, result.OK, result.LatencyMs)
	a.history.Add(types.HistoryRecord{
		Timestamp:  result.CompletedAt,
		Provider:   result.Provider,
		OK:         result.OK,
		LatencyMs:  result.LatencyMs,
		TokensUsed: result.TokensUsed,
		Capability: capability,
	})
}

func tokensFor(assignment types.Assignment) int {
	if assignment.CostModel != nil && assignment.CostModel.Tokens > 0 {
		return assignment.CostModel.Tokens
	}
	return 1000
}
