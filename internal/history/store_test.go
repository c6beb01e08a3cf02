package history

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/synaptiq/scheduler/internal/types"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func record(provider types.ProviderID, ok bool, latencyMs int64) types.HistoryRecord {
	return types.HistoryRecord{
		Timestamp:  time.Now().UTC(),
		Provider:   provider,
		OK:         ok,
		LatencyMs:  latencyMs,
		TokensUsed: 1000,
		Capability: types.CapabilityChat,
	}
}

func TestAdd_FIFOEviction(t *testing.T) {
	store := NewStore(nil, testLogger())

	const overflow = 50
	for i := 0; i < MaxRecords+overflow; i++ {
		rec := record(types.ProviderOpenAI, true, int64(i))
		rec.TokensUsed = i
		store.Add(rec)
	}

	if store.Len() != MaxRecords {
		t.Fatalf("len = %d, want %d", store.Len(), MaxRecords)
	}

	all := store.All()
	if len(all) != MaxRecords {
		t.Fatalf("All() returned %d records, want %d", len(all), MaxRecords)
	}
	// The oldest surviving record is insert number `overflow`.
	if all[0].TokensUsed != overflow {
		t.Errorf("oldest record = insert %d, want %d", all[0].TokensUsed, overflow)
	}
	if all[len(all)-1].TokensUsed != MaxRecords+overflow-1 {
		t.Errorf("newest record = insert %d, want %d", all[len(all)-1].TokensUsed, MaxRecords+overflow-1)
	}
}

func TestAll_InsertionOrder(t *testing.T) {
	store := NewStore(nil, testLogger())
	for i := 0; i < 5; i++ {
		rec := record(types.ProviderMistral, true, 100)
		rec.TokensUsed = i
		store.Add(rec)
	}

	all := store.All()
	if len(all) != 5 {
		t.Fatalf("len = %d, want 5", len(all))
	}
	for i, rec := range all {
		if rec.TokensUsed != i {
			t.Errorf("record %d out of order: %d", i, rec.TokensUsed)
		}
	}
}

func TestAggregate_ColdStartOptimistic(t *testing.T) {
	store := NewStore(nil, testLogger())

	agg := store.Aggregate(types.ProviderGoogle, 50)
	if agg.WindowSize != 0 {
		t.Errorf("window size = %d, want 0", agg.WindowSize)
	}
	if agg.SuccessRate != 1.0 {
		t.Errorf("cold-start success rate = %f, want 1.0", agg.SuccessRate)
	}
	if agg.Score != 1.0 {
		t.Errorf("cold-start score = %f, want 1.0", agg.Score)
	}
}

func TestAggregate_RecentWindow(t *testing.T) {
	store := NewStore(nil, testLogger())

	// 10 failures then 10 successes; a window of 10 sees only successes.
	for i := 0; i < 10; i++ {
		store.Add(record(types.ProviderOpenAI, false, 1000))
	}
	for i := 0; i < 10; i++ {
		store.Add(record(types.ProviderOpenAI, true, 500))
	}

	recent := store.Aggregate(types.ProviderOpenAI, 10)
	if recent.SuccessRate != 1.0 {
		t.Errorf("recent success rate = %f, want 1.0", recent.SuccessRate)
	}
	if recent.AvgLatencyMs != 500 {
		t.Errorf("recent avg latency = %f, want 500", recent.AvgLatencyMs)
	}

	full := store.Aggregate(types.ProviderOpenAI, 20)
	if full.SuccessRate != 0.5 {
		t.Errorf("full-window success rate = %f, want 0.5", full.SuccessRate)
	}
}

func TestAggregate_FiltersByProvider(t *testing.T) {
	store := NewStore(nil, testLogger())
	store.Add(record(types.ProviderOpenAI, true, 100))
	store.Add(record(types.ProviderMistral, false, 2000))
	store.Add(record(types.ProviderOpenAI, true, 300))

	agg := store.Aggregate(types.ProviderOpenAI, 50)
	if agg.WindowSize != 2 {
		t.Fatalf("window size = %d, want 2", agg.WindowSize)
	}
	if agg.SuccessRate != 1.0 {
		t.Errorf("success rate = %f, want 1.0", agg.SuccessRate)
	}
	if agg.AvgLatencyMs != 200 {
		t.Errorf("avg latency = %f, want 200", agg.AvgLatencyMs)
	}
}

func TestPrior_ColdStartUsesBaseline(t *testing.T) {
	priors := map[types.ProviderID]float64{types.ProviderOpenAI: 0.9}
	store := NewStore(priors, testLogger())

	// 0.5*0.9 + 0.3*1.0 + 0.2*1.0 with no history.
	want := 0.5*0.9 + 0.3 + 0.2
	if got := store.Prior(types.ProviderOpenAI, 50); math.Abs(got-want) > 1e-9 {
		t.Errorf("prior = %f, want %f", got, want)
	}
}

func TestPrior_MissingBaselineDefaults(t *testing.T) {
	store := NewStore(nil, testLogger())

	want := 0.5*0.8 + 0.3 + 0.2
	if got := store.Prior(types.ProviderDeepSeek, 50); math.Abs(got-want) > 1e-9 {
		t.Errorf("prior = %f, want %f", got, want)
	}
}

func TestPrior_ClampedToFloor(t *testing.T) {
	priors := map[types.ProviderID]float64{types.ProviderMistral: 0.0}
	store := NewStore(priors, testLogger())

	// All failures at the latency ceiling: raw prior would be 0.
	for i := 0; i < 50; i++ {
		store.Add(record(types.ProviderMistral, false, 3000))
	}
	if got := store.Prior(types.ProviderMistral, 50); got != 0.3 {
		t.Errorf("prior = %f, want floor 0.3", got)
	}
}

func TestPenalty(t *testing.T) {
	store := NewStore(nil, testLogger())

	// No history: neutral.
	if got := store.Penalty(types.ProviderOpenAI); got != 1.0 {
		t.Errorf("cold-start penalty = %f, want 1.0", got)
	}

	// 20 recent records, half failing: 1.0 + (1 - 0.5).
	for i := 0; i < 20; i++ {
		store.Add(record(types.ProviderOpenAI, i%2 == 0, 500))
	}
	if got := store.Penalty(types.ProviderOpenAI); math.Abs(got-1.5) > 1e-9 {
		t.Errorf("penalty = %f, want 1.5", got)
	}

	// All failing: doubled.
	for i := 0; i < 20; i++ {
		store.Add(record(types.ProviderOpenAI, false, 500))
	}
	if got := store.Penalty(types.ProviderOpenAI); math.Abs(got-2.0) > 1e-9 {
		t.Errorf("penalty = %f, want 2.0", got)
	}
}

func TestLatencyScore(t *testing.T) {
	tests := []struct {
		latency float64
		want    float64
	}{
		{0, 1.0},
		{-5, 1.0},
		{1000, 0.5},
		{2000, 0},
		{5000, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.0fms", tt.latency), func(t *testing.T) {
			if got := latencyScore(tt.latency); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("latencyScore(%f) = %f, want %f", tt.latency, got, tt.want)
			}
		})
	}
}
