package types

import (
	"time"
)

// RequestKind is the routing mode, decided once at envelope-build time from
// the payload shape. A payload carrying both "objective" and "taskType" is an
// orchestrated task; anything else, including ambiguous payloads, is a single
// task. This is a structural predicate, not a learned classifier.
type RequestKind string

const (
	KindSingleTask       RequestKind = "single_task"
	KindOrchestratedTask RequestKind = "orchestrated_task"
)

// Policy carries the caller-supplied routing criteria attached to an
// envelope. Rules are opaque to the engine; budget and validator requirements
// are honored where the relevant component consumes them.
type Policy struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Rules            []string `json:"rules,omitempty"`
	MaxBudgetCents   *float64 `json:"max_budget_cents,omitempty"`
	RequireValidator bool     `json:"require_validator"`
}

// Envelope is the immutable, normalized wrapper around one inbound routing
// request. It is created exactly once per request by the envelope builder and
// passed by value through the pipeline; nothing mutates it after
// construction.
type Envelope struct {
	RequestID        string                 `json:"request_id"`
	Timestamp        time.Time              `json:"timestamp"`
	UserID           string                 `json:"user_id,omitempty"`
	Source           string                 `json:"source,omitempty"`
	Kind             RequestKind            `json:"kind"`
	Policy           *Policy                `json:"policy,omitempty"`
	UseLearning      bool                   `json:"use_learning"`
	UsePriors        bool                   `json:"use_priors"`
	RequireValidator bool                   `json:"require_validator"`
	DryRun           bool                   `json:"dry_run"`
	TelemetryEnabled bool                   `json:"telemetry_enabled"`
	Payload          map[string]interface{} `json:"payload"`
}

// HasPayload reports whether the envelope carries anything routable.
func (e Envelope) HasPayload() bool {
	return len(e.Payload) > 0
}
