package history

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/synaptiq/scheduler/internal/types"
)

const (
	// MaxRecords caps the in-memory log; the oldest record is evicted first.
	MaxRecords = 10000

	// DefaultPriorWindow is how many recent records feed a provider prior.
	DefaultPriorWindow = 50

	// penaltyWindow is how many recent records feed the learned cost-model
	// multiplier.
	penaltyWindow = 20

	// latencyCeilingMs is where the normalized latency score bottoms out.
	latencyCeilingMs = 2000.0

	priorFloor = 0.3
	priorCeil  = 1.0

	// defaultBaselinePrior is used for providers with no configured prior.
	defaultBaselinePrior = 0.8
)

// Store is the append-only execution outcome log, capped at MaxRecords with
// FIFO eviction, plus the prior computation layered on top of it. Reads and
// writes are mutex-guarded; every execution writes and every learned decision
// reads.
type Store struct {
	mu             sync.RWMutex
	buf            []types.HistoryRecord
	next           int
	count          int
	baselinePriors map[types.ProviderID]float64
	logger         *logrus.Logger
}

// NewStore creates an empty store. baselinePriors is the hand-set starting
// prior per provider; missing entries fall back to a neutral default.
func NewStore(baselinePriors map[types.ProviderID]float64, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{
		buf:            make([]types.HistoryRecord, MaxRecords),
		baselinePriors: baselinePriors,
		logger:         logger,
	}
}

// Add appends one record, evicting the oldest when the buffer is full.
func (s *Store) Add(rec types.HistoryRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf[s.next] = rec
	s.next = (s.next + 1) % MaxRecords
	if s.count < MaxRecords {
		s.count++
	}
}

// Len returns the number of retained records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// All returns the retained records in insertion order, oldest first.
func (s *Store) All() []types.HistoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allLocked()
}

func (s *Store) allLocked() []types.HistoryRecord {
	out := make([]types.HistoryRecord, 0, s.count)
	start := 0
	if s.count == MaxRecords {
		start = s.next
	}
	for i := 0; i < s.count; i++ {
		out = append(out, s.buf[(start+i)%MaxRecords])
	}
	return out
}

// recentForLocked returns up to n most recent records for one provider, newest
// last. Caller must hold at least a read lock.
func (s *Store) recentForLocked(provider types.ProviderID, n int) []types.HistoryRecord {
	all := s.allLocked()
	out := make([]types.HistoryRecord, 0, n)
	for i := len(all) - 1; i >= 0 && len(out) < n; i-- {
		if all[i].Provider == provider {
			out = append(out, all[i])
		}
	}
	// Reverse back to chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Aggregate summarizes the most recent n records for a provider. A provider
// with no history gets the optimistic default: success rate 1.0 rather than
// an error or a zero, so cold-start providers are not unfairly penalized.
func (s *Store) Aggregate(provider types.ProviderID, n int) types.HistoryAggregate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recent := s.recentForLocked(provider, n)
	if len(recent) == 0 {
		return types.HistoryAggregate{
			WindowSize:  0,
			SuccessRate: 1.0,
			Score:       1.0,
		}
	}

	var okCount int
	var totalLatency int64
	var totalTokens int
	for _, rec := range recent {
		if rec.OK {
			okCount++
		}
		totalLatency += rec.LatencyMs
		totalTokens += rec.TokensUsed
	}

	size := len(recent)
	successRate := float64(okCount) / float64(size)
	avgLatency := float64(totalLatency) / float64(size)
	agg := types.HistoryAggregate{
		WindowSize:   size,
		SuccessRate:  successRate,
		AvgLatencyMs: avgLatency,
		AvgTokens:    float64(totalTokens) / float64(size),
	}
	agg.Score = 0.7*successRate + 0.3*latencyScore(avgLatency)
	return agg
}

// Prior blends the hand-set baseline prior (50%) with the live success rate
// (30%) and the normalized latency score (20%), clamped to [0.3, 1.0] so a
// noisy short window cannot swing routing too hard either way. The prior is
// applied to cost-model output as a divisor: a better track record divides
// the score down.
func (s *Store) Prior(provider types.ProviderID, window int) float64 {
	if window <= 0 {
		window = DefaultPriorWindow
	}
	baseline, ok := s.baselinePriors[provider]
	if !ok {
		baseline = defaultBaselinePrior
	}

	agg := s.Aggregate(provider, window)
	prior := 0.5*baseline + 0.3*agg.SuccessRate + 0.2*latencyScore(agg.AvgLatencyMs)
	if prior < priorFloor {
		return priorFloor
	}
	if prior > priorCeil {
		return priorCeil
	}
	return prior
}

// Penalty implements the cost model's learned multiplier: 1.0 for a clean
// recent record, rising toward 2.0 as the recent success rate collapses.
// Note this stacks multiplicatively with the health penalty, so a genuinely
// struggling provider is penalized by both layers.
func (s *Store) Penalty(provider types.ProviderID) float64 {
	agg := s.Aggregate(provider, penaltyWindow)
	if agg.WindowSize == 0 {
		return 1.0
	}
	return 1.0 + (1.0 - agg.SuccessRate)
}

// latencyScore maps average latency onto [0,1]: 1.0 at zero latency, 0 at
// latencyCeilingMs and beyond. A provider with no latency data scores 1.0.
func latencyScore(avgLatencyMs float64) float64 {
	if avgLatencyMs <= 0 {
		return 1.0
	}
	if avgLatencyMs >= latencyCeilingMs {
		return 0
	}
	return 1.0 - avgLatencyMs/latencyCeilingMs
}
