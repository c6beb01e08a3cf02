package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/synaptiq/scheduler/internal/types"
)

// Options carries everything a caller may set on an envelope beyond the
// payload. Zero-value Options gives the safe defaults: dry-run on, learning
// and priors off.
type Options struct {
	UserID           string
	Source           string
	Policy           *types.Policy
	UseLearning      bool
	UsePriors        bool
	RequireValidator bool
	TelemetryEnabled bool

	// LiveRun must be set explicitly to produce a non-dry-run envelope.
	LiveRun bool
}

// Build normalizes an arbitrary inbound payload into a canonical envelope.
// It never fails: malformed input still yields a best-effort envelope. The
// request ID is a content+time hash, unique enough for request-scoped
// identification and never used as a security token.
func Build(payload map[string]interface{}, opts Options) types.Envelope {
	now := time.Now().UTC()

	return types.Envelope{
		RequestID:        requestID(payload, now),
		Timestamp:        now,
		UserID:           opts.UserID,
		Source:           opts.Source,
		Kind:             classify(payload),
		Policy:           opts.Policy,
		UseLearning:      opts.UseLearning,
		UsePriors:        opts.UsePriors,
		RequireValidator: opts.RequireValidator || (opts.Policy != nil && opts.Policy.RequireValidator),
		DryRun:           !opts.LiveRun,
		TelemetryEnabled: opts.TelemetryEnabled,
		Payload:          payload,
	}
}

// classify decides the routing mode once, at build time: a payload carrying
// both "objective" and "taskType" is an orchestrated task, everything else
// (including ambiguous payloads) is a single task.
func classify(payload map[string]interface{}) types.RequestKind {
	objective, hasObjective := payload["objective"].(string)
	taskType, hasTaskType := payload["taskType"].(string)
	if hasObjective && hasTaskType && objective != "" && taskType != "" {
		return types.KindOrchestratedTask
	}
	return types.KindSingleTask
}

// requestID hashes the canonical JSON form of the payload together with the
// issue time in milliseconds, truncated to 16 hex characters. Collisions at
// this length are accepted as negligible for request-scoped IDs.
func requestID(payload map[string]interface{}, issuedAt time.Time) string {
	body, err := json.Marshal(payload)
	if err != nil {
		// Maps with unmarshalable values still get a stable best-effort ID.
		body = []byte(fmt.Sprintf("%v", payload))
	}

	h := sha256.New()
	h.Write(body)
	h.Write([]byte(strconv.FormatInt(issuedAt.UnixMilli(), 10)))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
