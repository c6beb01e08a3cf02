package types

import (
	"time"
)

// Role names a slot in an orchestrated plan. Plans currently assign only
// RoleExecutor; the remaining vocabulary exists for multi-role orchestration.
type Role string

const (
	RoleExecutor   Role = "executor"
	RoleArchitect  Role = "architect"
	RoleValidator  Role = "validator"
	RoleBulkWorker Role = "bulk_worker"
)

// Decision is a Mode A (single-provider) routing outcome. Immutable once
// returned; callers re-run the decision for a fresh one rather than mutating
// it in place.
type Decision struct {
	SelectedProvider ProviderID    `json:"selected_provider"`
	Reason           string        `json:"reason"`
	Confidence       float64       `json:"confidence"`
	RequestID        string        `json:"request_id"`
	CostEstimate     *CostEstimate `json:"cost_estimate,omitempty"`
}

// Assignment binds one plan role to a provider with its estimates.
type Assignment struct {
	Role               Role          `json:"role"`
	Provider           ProviderID    `json:"provider"`
	Capability         Capability    `json:"capability,omitempty"`
	EstimatedCostCents float64       `json:"estimated_cost_cents"`
	EstimatedLatencyMs float64       `json:"estimated_latency_ms"`
	CostModel          *CostEstimate `json:"cost_model,omitempty"`
}

// Plan is a Mode B (orchestrated) routing outcome: role assignments across
// providers. Immutable once returned. Objective is the task text the
// executor hands to the assigned provider.
type Plan struct {
	PlanID      string       `json:"plan_id"`
	RequestID   string       `json:"request_id"`
	Objective   string       `json:"objective,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	Assignments []Assignment `json:"assignments"`
}

// ExecutorAssignment returns the plan's executor slot, if present.
func (p Plan) ExecutorAssignment() (Assignment, bool) {
	for _, a := range p.Assignments {
		if a.Role == RoleExecutor {
			return a, true
		}
	}
	return Assignment{}, false
}

// Approval records a human (or upstream automation) signing off on a plan.
// One approval per plan; approvals are never reused across plans.
type Approval struct {
	PlanID       string    `json:"plan_id"`
	ApproverID   string    `json:"approver_id"`
	ApproverRole string    `json:"approver_role"`
	Reason       string    `json:"reason"`
	Timestamp    time.Time `json:"timestamp"`
	Signature    string    `json:"signature"`
}

// RouteResult is what the router returns to upstream callers: the mode the
// request classified into, the decision, and (for orchestrated requests) the
// resolved plan.
type RouteResult struct {
	Mode          RequestKind `json:"mode"`
	Decision      *Decision   `json:"decision,omitempty"`
	ExecutionPlan *Plan       `json:"execution_plan,omitempty"`
}

// ExecutionResult is the adapter's report of one live or simulated provider
// call. Provider failures surface here as OK=false with the error text in
// Output; they are never raised as Go errors past the adapter boundary.
type ExecutionResult struct {
	PlanID      string     `json:"plan_id"`
	RequestID   string     `json:"request_id"`
	Provider    ProviderID `json:"provider"`
	OK          bool       `json:"ok"`
	Output      string     `json:"output"`
	Model       string     `json:"model,omitempty"`
	TokensUsed  int        `json:"tokens_used"`
	LatencyMs   int64      `json:"latency_ms"`
	CostCents   float64    `json:"cost_cents"`
	Simulated   bool       `json:"simulated"`
	CompletedAt time.Time  `json:"completed_at"`
}

// LiveResult is the contract every live provider client returns. Clients
// must never return a Go error for provider-side failures; they signal via
// OK=false.
type LiveResult struct {
	OK         bool   `json:"ok"`
	RawOutput  string `json:"raw_output"`
	TokensUsed int    `json:"tokens_used"`
	LatencyMs  int64  `json:"latency_ms,omitempty"`
	Model      string `json:"model,omitempty"`
}
