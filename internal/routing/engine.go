package routing

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/synaptiq/scheduler/internal/decision"
	"github.com/synaptiq/scheduler/internal/health"
	"github.com/synaptiq/scheduler/internal/history"
	"github.com/synaptiq/scheduler/internal/types"
)

// ErrInvalidEnvelope is returned for envelopes with no payload. This is the
// only fatal validation the router performs; everything downstream always
// produces a ranked answer.
var ErrInvalidEnvelope = errors.New("invalid envelope: missing payload")

// State bundles the two shared mutable structures (health tracker and
// history store) so they are owned by the caller and injected into every
// component instead of living as process globals. Both are internally
// mutex-guarded; a single State is safe to share across concurrent requests.
type State struct {
	Health  *health.Tracker
	History *history.Store
}

// NewState creates fresh, empty routing state.
func NewState(baselinePriors map[types.ProviderID]float64, logger *logrus.Logger) *State {
	return &State{
		Health:  health.NewTracker(logger),
		History: history.NewStore(baselinePriors, logger),
	}
}

// Engine is the sole entry point upstream callers consume. It validates the
// envelope, dispatches on the envelope's kind, and invokes the decision
// engine. The routing-enabled flag is the system kill switch: when off,
// every request gets a degenerate decision carrying only a reason, with no
// scoring at all.
type Engine struct {
	decisions      *decision.Engine
	routingEnabled bool
	logger         *logrus.Logger
}

// NewEngine creates a routing engine over an injected decision engine.
func NewEngine(decisions *decision.Engine, routingEnabled bool, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		decisions:      decisions,
		routingEnabled: routingEnabled,
		logger:         logger,
	}
}

// RouteRequest routes one envelope. Single-task envelopes get a decision;
// orchestrated envelopes additionally resolve an execution plan.
func (e *Engine) RouteRequest(ctx context.Context, env types.Envelope) (*types.RouteResult, error) {
	if !env.HasPayload() {
		return nil, ErrInvalidEnvelope
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !e.routingEnabled {
		e.logger.WithField("request_id", env.RequestID).Warn("Routing disabled, returning degenerate decision")
		return &types.RouteResult{
			Mode: env.Kind,
			Decision: &types.Decision{
				RequestID: env.RequestID,
				Reason:    "routing disabled by kill switch; no provider selected",
			},
		}, nil
	}

	switch env.Kind {
	case types.KindOrchestratedTask:
		return e.routeOrchestrated(env)
	default:
		return e.routeSingle(env)
	}
}

// PlanForDecision exposes the decision engine's decision-to-plan wrapper so
// callers can push a single-task decision through the approval path.
func (e *Engine) PlanForDecision(env types.Envelope, d *types.Decision) *types.Plan {
	return e.decisions.PlanForDecision(env, d)
}

func (e *Engine) routeSingle(env types.Envelope) (*types.RouteResult, error) {
	d, err := e.decisions.DecideSingleProvider(env)
	if err != nil {
		return nil, err
	}
	return &types.RouteResult{
		Mode:     types.KindSingleTask,
		Decision: d,
	}, nil
}

func (e *Engine) routeOrchestrated(env types.Envelope) (*types.RouteResult, error) {
	plan, err := e.decisions.Orchestrate(env)
	if err != nil {
		return nil, err
	}

	// The plan's executor slot doubles as the headline decision so callers
	// see a uniform result shape across both modes.
	var d *types.Decision
	if assignment, ok := plan.ExecutorAssignment(); ok {
		d = &types.Decision{
			SelectedProvider: assignment.Provider,
			Reason:           "orchestrated plan executor assignment",
			RequestID:        env.RequestID,
			CostEstimate:     assignment.CostModel,
		}
	}

	return &types.RouteResult{
		Mode:          types.KindOrchestratedTask,
		Decision:      d,
		ExecutionPlan: plan,
	}, nil
}
