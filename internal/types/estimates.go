package types

import (
	"time"
)

// CostEstimate is an ephemeral, per-decision scored candidate. It is computed
// fresh for every decision and never persisted. Lower TotalScore wins.
type CostEstimate struct {
	Provider    ProviderID `json:"provider"`
	Tokens      int        `json:"tokens"`
	CostCents   float64    `json:"cost_cents"`
	LatencyMs   float64    `json:"latency_ms"`
	Reliability float64    `json:"reliability"`
	TotalScore  float64    `json:"total_score"`
}

// HealthSnapshot is a read-only copy of one provider's rolling-window health
// state, exposed for operators and for telemetry.
type HealthSnapshot struct {
	Provider     ProviderID `json:"provider"`
	Successes    int64      `json:"successes"`
	Failures     int64      `json:"failures"`
	WindowSize   int        `json:"window_size"`
	FailureRate  float64    `json:"failure_rate"`
	AvgLatencyMs float64    `json:"avg_latency_ms"`
	Degraded     bool       `json:"degraded"`
	Unavailable  bool       `json:"unavailable"`
	LastObserved time.Time  `json:"last_observed,omitempty"`
}

// HistoryRecord is one observed execution outcome, appended after every
// live or simulated attempt.
type HistoryRecord struct {
	Timestamp  time.Time  `json:"timestamp"`
	Provider   ProviderID `json:"provider"`
	OK         bool       `json:"ok"`
	LatencyMs  int64      `json:"latency_ms"`
	TokensUsed int        `json:"tokens_used"`
	Capability Capability `json:"capability,omitempty"`
}

// HistoryAggregate summarizes the most recent n records for one provider.
// An empty window yields the optimistic default (SuccessRate 1.0) so a
// never-seen provider is not penalized for having no track record.
type HistoryAggregate struct {
	WindowSize   int     `json:"window_size"`
	SuccessRate  float64 `json:"success_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	AvgTokens    float64 `json:"avg_tokens"`
	Score        float64 `json:"score"`
}
