package decision

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/synaptiq/scheduler/internal/costmodel"
	"github.com/synaptiq/scheduler/internal/health"
	"github.com/synaptiq/scheduler/internal/history"
	"github.com/synaptiq/scheduler/internal/types"
)

// ErrNoCandidates is returned when no configured provider can serve the
// request. With a populated baseline table this does not happen: the engine
// always produces a ranked answer, even with zero history.
var ErrNoCandidates = errors.New("no candidate providers available")

const defaultTokens = 1000

// Engine picks a provider (single-task mode) or builds a role-assignment
// plan (orchestrated mode) from cost-model scores, health penalties, and
// learned priors.
type Engine struct {
	baselines       map[types.ProviderID]types.ProviderBaseline
	health          *health.Tracker
	history         *history.Store
	learningEnabled bool
	logger          *logrus.Logger
}

// NewEngine creates a decision engine. learningEnabled is the global switch;
// individual envelopes still opt in per request via UseLearning/UsePriors.
func NewEngine(baselines map[types.ProviderID]types.ProviderBaseline, tracker *health.Tracker, store *history.Store, learningEnabled bool, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		baselines:       baselines,
		health:          tracker,
		history:         store,
		learningEnabled: learningEnabled,
		logger:          logger,
	}
}

// scoredCandidate pairs a raw estimate with its prior-adjusted score.
type scoredCandidate struct {
	estimate types.CostEstimate
	prior    float64
	adjusted float64
}

// DecideSingleProvider scores every known provider for the envelope's task,
// applies learned priors when the envelope opts in, and returns the lowest
// adjusted score as the winner.
func (e *Engine) DecideSingleProvider(env types.Envelope) (*types.Decision, error) {
	tokens, capability := taskShape(env.Payload)

	ranked, err := e.rank(env, tokens, capability)
	if err != nil {
		return nil, err
	}

	winner := ranked[0]
	est := winner.estimate
	reason := fmt.Sprintf("selected %s: %.2f cents, %.0fms latency, %.2f reliability, score %.2f",
		est.Provider, est.CostCents, est.LatencyMs, est.Reliability, winner.adjusted)
	if env.UsePriors {
		reason += fmt.Sprintf(" (prior %.2f)", winner.prior)
	}

	decision := &types.Decision{
		SelectedProvider: est.Provider,
		Reason:           reason,
		Confidence:       confidence(ranked),
		RequestID:        env.RequestID,
		CostEstimate:     &est,
	}

	e.logger.WithFields(logrus.Fields{
		"request_id": env.RequestID,
		"provider":   est.Provider,
		"score":      winner.adjusted,
		"confidence": decision.Confidence,
		"use_priors": env.UsePriors,
	}).Info("Single-provider decision made")

	return decision, nil
}

// Orchestrate builds a plan for an orchestrated task. Plans currently carry
// exactly one executor role assignment; the architect/validator/bulk-worker
// vocabulary exists in types for a genuinely multi-role extension.
func (e *Engine) Orchestrate(env types.Envelope) (*types.Plan, error) {
	tokens, capability := taskShape(env.Payload)

	ranked, err := e.rank(env, tokens, capability)
	if err != nil {
		return nil, err
	}

	est := ranked[0].estimate
	objective, _ := env.Payload["objective"].(string)
	plan := &types.Plan{
		PlanID:    newPlanID(),
		RequestID: env.RequestID,
		Objective: objective,
		CreatedAt: time.Now().UTC(),
		Assignments: []types.Assignment{
			{
				Role:               types.RoleExecutor,
				Provider:           est.Provider,
				Capability:         capability,
				EstimatedCostCents: est.CostCents,
				EstimatedLatencyMs: est.LatencyMs,
				CostModel:          &est,
			},
		},
	}

	e.logger.WithFields(logrus.Fields{
		"request_id": env.RequestID,
		"plan_id":    plan.PlanID,
		"executor":   est.Provider,
		"capability": capability,
	}).Info("Orchestration plan built")

	return plan, nil
}

// PlanForDecision wraps a single-provider decision into a one-assignment
// plan so Mode A outcomes flow through the same approval and token path as
// orchestrated plans.
func (e *Engine) PlanForDecision(env types.Envelope, d *types.Decision) *types.Plan {
	_, capability := taskShape(env.Payload)
	est := d.CostEstimate

	assignment := types.Assignment{
		Role:       types.RoleExecutor,
		Provider:   d.SelectedProvider,
		Capability: capability,
	}
	if est != nil {
		assignment.EstimatedCostCents = est.CostCents
		assignment.EstimatedLatencyMs = est.LatencyMs
		assignment.CostModel = est
	}

	return &types.Plan{
		PlanID:      newPlanID(),
		RequestID:   env.RequestID,
		Objective:   taskInput(env.Payload),
		CreatedAt:   time.Now().UTC(),
		Assignments: []types.Assignment{assignment},
	}
}

// taskInput pulls the task text out of a payload, trying the common field
// names in order.
func taskInput(payload map[string]interface{}) string {
	for _, key := range []string{"objective", "input", "prompt", "message"} {
		if v, ok := payload[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// rank scores all known providers and sorts ascending by adjusted score.
func (e *Engine) rank(env types.Envelope, tokens int, capability types.Capability) ([]scoredCandidate, error) {
	// The learned history multiplier only participates when both the global
	// switch and the envelope opt in.
	var historySource costmodel.HistoryPenaltySource
	if e.learningEnabled && env.UseLearning {
		historySource = e.history
	}
	model := costmodel.New(e.baselines, e.health, historySource, e.logger)

	estimates := model.ScoreProvidersForSubtask(types.KnownProviders(), tokens, capability, env.RequestID)
	if len(estimates) == 0 {
		return nil, ErrNoCandidates
	}

	ranked := make([]scoredCandidate, 0, len(estimates))
	for _, est := range estimates {
		c := scoredCandidate{estimate: est, prior: 1.0, adjusted: est.TotalScore}
		if env.UsePriors {
			c.prior = e.history.Prior(est.Provider, history.DefaultPriorWindow)
			c.adjusted = est.TotalScore / c.prior
		}
		ranked = append(ranked, c)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].adjusted < ranked[j].adjusted
	})
	return ranked, nil
}

// confidence derives a rough confidence from the margin between the winner
// and the runner-up.
func confidence(ranked []scoredCandidate) float64 {
	if len(ranked) < 2 {
		return 0.75
	}
	first, second := ranked[0].adjusted, ranked[1].adjusted
	if second <= 0 {
		return 0.75
	}
	margin := (second - first) / second
	conf := 0.5 + 0.5*margin
	if conf > 0.99 {
		conf = 0.99
	}
	return conf
}

// taskShape extracts the token estimate and capability hint from a payload.
// Missing or malformed fields fall back to defaults rather than failing.
func taskShape(payload map[string]interface{}) (int, types.Capability) {
	tokens := defaultTokens
	switch v := payload["tokens"].(type) {
	case float64:
		if v > 0 {
			tokens = int(v)
		}
	case int:
		if v > 0 {
			tokens = v
		}
	}

	capability := types.CapabilityChat
	if c, ok := payload["capability"].(string); ok && c != "" {
		capability = types.Capability(c)
	} else if taskType, ok := payload["taskType"].(string); ok {
		capability = capabilityForTaskType(taskType)
	}
	return tokens, capability
}

func capabilityForTaskType(taskType string) types.Capability {
	switch taskType {
	case "code_generation", "refactor", "module_build":
		return types.CapabilityCode
	case "analysis", "review":
		return types.CapabilityAnalysis
	case "bulk", "batch":
		return types.CapabilityBulk
	default:
		return types.CapabilityChat
	}
}

func newPlanID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("plan-%d", time.Now().UnixNano())
	}
	return "plan-" + hex.EncodeToString(buf)
}
