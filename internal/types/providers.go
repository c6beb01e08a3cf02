package types

// ProviderID identifies one of the known upstream model providers. The set is
// closed: routing only ever considers providers listed in KnownProviders, and
// configuration may tune their baselines but not add new ones at runtime.
type ProviderID string

const (
	ProviderOpenAI    ProviderID = "openai"
	ProviderAnthropic ProviderID = "anthropic"
	ProviderGoogle    ProviderID = "google"
	ProviderMistral   ProviderID = "mistral"
	ProviderDeepSeek  ProviderID = "deepseek"
)

// Capability classifies what kind of work a task needs from a provider.
type Capability string

const (
	CapabilityChat     Capability = "chat"
	CapabilityCode     Capability = "code"
	CapabilityAnalysis Capability = "analysis"
	CapabilityBulk     Capability = "bulk"
)

// ProviderBaseline holds the static per-provider pricing and performance
// figures the cost model starts from. These are configuration data, not code;
// see config.Defaults for the shipped table.
type ProviderBaseline struct {
	CostCentsPer1K float64      `yaml:"cost_cents_per_1k" json:"cost_cents_per_1k"`
	LatencyMs      float64      `yaml:"latency_ms" json:"latency_ms"`
	Reliability    float64      `yaml:"reliability" json:"reliability"` // 0..1
	Capabilities   []Capability `yaml:"capabilities" json:"capabilities"`
}

// SupportsCapability reports whether the baseline lists the capability. An
// empty capability list means the provider accepts any task.
func (b ProviderBaseline) SupportsCapability(c Capability) bool {
	if len(b.Capabilities) == 0 || c == "" {
		return true
	}
	for _, have := range b.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// KnownProviders returns the closed provider set in stable order.
func KnownProviders() []ProviderID {
	return []ProviderID{
		ProviderOpenAI,
		ProviderAnthropic,
		ProviderGoogle,
		ProviderMistral,
		ProviderDeepSeek,
	}
}

// IsKnownProvider reports whether id names a member of the closed set.
func IsKnownProvider(id ProviderID) bool {
	for _, p := range KnownProviders() {
		if p == id {
			return true
		}
	}
	return false
}
