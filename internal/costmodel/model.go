package costmodel

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/synaptiq/scheduler/internal/types"
)

// ErrUnknownProvider is returned when an estimate is requested for a provider
// outside the configured baseline table.
var ErrUnknownProvider = errors.New("unknown provider")

// Scoring weights. Cost dominates, latency and reliability share the rest;
// the reliability term is scaled so a 1% reliability drop costs 2 score
// points, keeping it comparable to cents and milliseconds.
const (
	costWeight       = 0.6
	latencyWeight    = 0.2
	reliabilityScale = 200.0
	jitterRangeMs    = 50
)

// HealthPenaltySource supplies the rolling-window health multiplier for a
// provider (1.0 healthy, 1.3 degraded, 2.0 unavailable).
type HealthPenaltySource interface {
	Penalty(provider types.ProviderID) float64
}

// HistoryPenaltySource supplies the longer-window learned multiplier derived
// from past outcomes.
type HistoryPenaltySource interface {
	Penalty(provider types.ProviderID) float64
}

// Model scores candidate providers for a task. Scoring is deterministic: the
// same (provider, tokens, capability, requestID) always yields the same
// estimate, so dry-run inspection and tests see stable numbers. Health and
// history penalties stack multiplicatively on the weighted base score.
type Model struct {
	baselines map[types.ProviderID]types.ProviderBaseline
	health    HealthPenaltySource
	history   HistoryPenaltySource
	logger    *logrus.Logger
}

// New creates a cost model over the configured baseline table. Either penalty
// source may be nil, in which case that multiplier is 1.0.
func New(baselines map[types.ProviderID]types.ProviderBaseline, health HealthPenaltySource, history HistoryPenaltySource, logger *logrus.Logger) *Model {
	if logger == nil {
		logger = logrus.New()
	}
	return &Model{
		baselines: baselines,
		health:    health,
		history:   history,
		logger:    logger,
	}
}

// EstimateProviderCost computes a fresh cost estimate for one provider.
func (m *Model) EstimateProviderCost(provider types.ProviderID, tokens int, capability types.Capability, requestID string) (types.CostEstimate, error) {
	baseline, ok := m.baselines[provider]
	if !ok {
		return types.CostEstimate{}, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	costCents := float64(tokens) / 1000.0 * baseline.CostCentsPer1K
	latencyMs := baseline.LatencyMs + latencyJitter(requestID, provider, capability)
	if latencyMs < 0 {
		latencyMs = 0
	}

	score := costCents*costWeight + latencyMs*latencyWeight + (1.0-baseline.Reliability)*reliabilityScale
	score *= m.healthPenalty(provider)
	score *= m.historyPenalty(provider)

	return types.CostEstimate{
		Provider:    provider,
		Tokens:      tokens,
		CostCents:   costCents,
		LatencyMs:   latencyMs,
		Reliability: baseline.Reliability,
		TotalScore:  score,
	}, nil
}

// ScoreProvidersForSubtask batches estimates over a candidate list and
// returns them sorted ascending by total score. Candidates outside the
// baseline table or lacking the capability are skipped, not failed: the
// decision engine always gets a ranked answer for valid input.
func (m *Model) ScoreProvidersForSubtask(candidates []types.ProviderID, tokens int, capability types.Capability, requestID string) []types.CostEstimate {
	estimates := make([]types.CostEstimate, 0, len(candidates))
	for _, provider := range candidates {
		baseline, ok := m.baselines[provider]
		if !ok {
			m.logger.WithField("provider", provider).Warn("Skipping provider with no baseline")
			continue
		}
		if !baseline.SupportsCapability(capability) {
			continue
		}
		est, err := m.EstimateProviderCost(provider, tokens, capability, requestID)
		if err != nil {
			continue
		}
		estimates = append(estimates, est)
	}

	sort.SliceStable(estimates, func(i, j int) bool {
		return estimates[i].TotalScore < estimates[j].TotalScore
	})
	return estimates
}

// Baselines returns the configured baseline table.
func (m *Model) Baselines() map[types.ProviderID]types.ProviderBaseline {
	return m.baselines
}

func (m *Model) healthPenalty(provider types.ProviderID) float64 {
	if m.health == nil {
		return 1.0
	}
	return m.health.Penalty(provider)
}

func (m *Model) historyPenalty(provider types.ProviderID) float64 {
	if m.history == nil {
		return 1.0
	}
	return m.history.Penalty(provider)
}

// latencyJitter derives a bounded [-50, +50] ms offset from the request
// identity so repeated estimates for the same request are identical while
// different requests still spread across the range.
func latencyJitter(requestID string, provider types.ProviderID, capability types.Capability) float64 {
	h := fnv.New64a()
	h.Write([]byte(requestID))
	h.Write([]byte(provider))
	h.Write([]byte(capability))
	span := int64(jitterRangeMs*2 + 1)
	return float64(int64(h.Sum64()%uint64(span)) - jitterRangeMs)
}
