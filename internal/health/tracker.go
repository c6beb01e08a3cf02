package health

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/synaptiq/scheduler/internal/types"
)

// Window and threshold constants for the rolling health window. A provider
// needs a full window of samples before it can be marked degraded or
// unavailable; both states reverse automatically as bad samples slide out.
const (
	WindowSize          = 20
	DegradedFailureRate = 0.25
	UnavailableFailRate = 0.50
	PenaltyHealthy      = 1.0
	PenaltyDegraded     = 1.3
	PenaltyUnavailable  = 2.0
)

type observation struct {
	ok        bool
	latencyMs int64
}

type providerState struct {
	successes    int64
	failures     int64
	window       []observation // bounded at WindowSize, oldest first
	lastObserved time.Time
}

// Tracker keeps rolling-window reliability state per provider. It is written
// after every execution attempt and read by every scoring pass, so all state
// is mutex-guarded. State lives for the process lifetime; there is no manual
// reset.
type Tracker struct {
	mu     sync.RWMutex
	states map[types.ProviderID]*providerState
	logger *logrus.Logger
}

// NewTracker creates an empty tracker.
func NewTracker(logger *logrus.Logger) *Tracker {
	if logger == nil {
		logger = logrus.New()
	}
	return &Tracker{
		states: make(map[types.ProviderID]*providerState),
		logger: logger,
	}
}

// Record adds one observation for a provider. Each call is one observation,
// never a correction of a previous one.
func (t *Tracker) Record(provider types.ProviderID, ok bool, latencyMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state := t.states[provider]
	if state == nil {
		state = &providerState{}
		t.states[provider] = state
	}

	if ok {
		state.successes++
	} else {
		state.failures++
	}
	state.window = append(state.window, observation{ok: ok, latencyMs: latencyMs})
	if len(state.window) > WindowSize {
		state.window = state.window[len(state.window)-WindowSize:]
	}
	state.lastObserved = time.Now()

	rate := failureRate(state.window)
	if len(state.window) >= WindowSize && rate > DegradedFailureRate {
		t.logger.WithFields(logrus.Fields{
			"provider":     provider,
			"failure_rate": rate,
		}).Warn("Provider health window over threshold")
	}
}

// Penalty returns the cost multiplier for a provider: 1.0 healthy, 1.3
// degraded (>25% failures over a full window), 2.0 unavailable (>50%).
// Providers with no observations, or fewer than a full window, are healthy.
func (t *Tracker) Penalty(provider types.ProviderID) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	state := t.states[provider]
	if state == nil || len(state.window) < WindowSize {
		return PenaltyHealthy
	}

	switch rate := failureRate(state.window); {
	case rate > UnavailableFailRate:
		return PenaltyUnavailable
	case rate > DegradedFailureRate:
		return PenaltyDegraded
	default:
		return PenaltyHealthy
	}
}

// Snapshot returns a read-only copy of one provider's health state.
func (t *Tracker) Snapshot(provider types.ProviderID) types.HealthSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := types.HealthSnapshot{Provider: provider}
	state := t.states[provider]
	if state == nil {
		return snap
	}

	snap.Successes = state.successes
	snap.Failures = state.failures
	snap.WindowSize = len(state.window)
	snap.FailureRate = failureRate(state.window)
	snap.AvgLatencyMs = avgLatency(state.window)
	snap.LastObserved = state.lastObserved
	if len(state.window) >= WindowSize {
		snap.Unavailable = snap.FailureRate > UnavailableFailRate
		snap.Degraded = !snap.Unavailable && snap.FailureRate > DegradedFailureRate
	}
	return snap
}

// Snapshots returns health state for every provider seen so far.
func (t *Tracker) Snapshots() map[types.ProviderID]types.HealthSnapshot {
	t.mu.RLock()
	providers := make([]types.ProviderID, 0, len(t.states))
	for provider := range t.states {
		providers = append(providers, provider)
	}
	t.mu.RUnlock()

	out := make(map[types.ProviderID]types.HealthSnapshot, len(providers))
	for _, provider := range providers {
		out[provider] = t.Snapshot(provider)
	}
	return out
}

func failureRate(window []observation) float64 {
	if len(window) == 0 {
		return 0
	}
	var failures int
	for _, obs := range window {
		if !obs.ok {
			failures++
		}
	}
	return float64(failures) / float64(len(window))
}

func avgLatency(window []observation) float64 {
	if len(window) == 0 {
		return 0
	}
	var total int64
	for _, obs := range window {
		total += obs.latencyMs
	}
	return float64(total) / float64(len(window))
}
