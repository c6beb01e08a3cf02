package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/synaptiq/scheduler/internal/middleware"
	"github.com/synaptiq/scheduler/internal/providers/anthropic"
	"github.com/synaptiq/scheduler/internal/providers/openai"
	"github.com/synaptiq/scheduler/internal/security"
	"github.com/synaptiq/scheduler/internal/server"
	"github.com/synaptiq/scheduler/internal/types"
)

// Config represents the complete application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineConfig    `yaml:"engine"`
	Providers ProvidersConfig `yaml:"providers"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string        `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
}

// EngineConfig holds the routing engine's feature flags and tuning knobs.
type EngineConfig struct {
	// RoutingEnabled is the kill switch: when false, every request gets a
	// degenerate decision with no scoring.
	RoutingEnabled bool `yaml:"routing_enabled"`

	// LiveProvidersEnabled gates live execution; when false, all plans run
	// against the simulated responder.
	LiveProvidersEnabled bool `yaml:"live_providers_enabled"`

	// LearningEnabled is the global switch for history-based penalties and
	// priors; envelopes still opt in per request.
	LearningEnabled bool `yaml:"learning_enabled"`

	// CallTimeout bounds each live upstream call.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// TokenSecret signs approvals and execution tokens.
	TokenSecret string `yaml:"token_secret"`
}

// ProvidersConfig holds the per-provider static tables and live client
// settings. Baselines and priors are data, not code: they can be tuned
// without touching the decision engine.
type ProvidersConfig struct {
	Baselines      map[types.ProviderID]types.ProviderBaseline `yaml:"baselines"`
	BaselinePriors map[types.ProviderID]float64                `yaml:"baseline_priors"`
	OpenAI         *openai.Config                              `yaml:"openai"`
	Anthropic      *anthropic.Config                           `yaml:"anthropic"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
	Output string `yaml:"output"` // "stdout", "stderr", or file path
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	APIKeys           []string                    `yaml:"api_keys"`
	JWTSecret         string                      `yaml:"jwt_secret"`
	RateLimiting      security.RateLimitConfig    `yaml:"rate_limiting"`
	RequestValidation security.ValidationConfig   `yaml:"request_validation"`
	Audit             security.AuditConfig        `yaml:"audit"`
	OpenAPIValidation middleware.ValidationConfig `yaml:"openapi_validation"`
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}
	config.setDefaults()

	if configPath != "" {
		if err := config.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	config.loadFromEnv()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// setDefaults sets default configuration values.
func (c *Config) setDefaults() {
	c.Server = ServerConfig{
		Port:           "8080",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	c.Engine = EngineConfig{
		RoutingEnabled:       true,
		LiveProvidersEnabled: false,
		LearningEnabled:      true,
		CallTimeout:          25 * time.Second,
		TokenSecret:          "scheduler-dev-secret",
	}

	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}

	c.Security = SecurityConfig{
		APIKeys: []string{},
		RateLimiting: security.RateLimitConfig{
			Enabled:           false,
			RequestsPerMinute: 60,
			BurstSize:         10,
		},
		RequestValidation: security.ValidationConfig{
			MaxRequestSize: 10 << 20,
			MaxJSONDepth:   20,
			MaxFieldLength: 100000,
		},
		Audit: security.AuditConfig{
			Enabled:       true,
			BufferSize:    1000,
			FlushInterval: 10 * time.Second,
		},
		OpenAPIValidation: middleware.ValidationConfig{
			Enabled:  false,
			SpecPath: "docs/openapi.yaml",
		},
	}

	c.Providers = ProvidersConfig{
		Baselines: map[types.ProviderID]types.ProviderBaseline{
			types.ProviderOpenAI: {
				CostCentsPer1K: 0.60,
				LatencyMs:      800,
				Reliability:    0.97,
				Capabilities:   []types.Capability{types.CapabilityChat, types.CapabilityCode, types.CapabilityAnalysis, types.CapabilityBulk},
			},
			types.ProviderAnthropic: {
				CostCentsPer1K: 0.90,
				LatencyMs:      1200,
				Reliability:    0.98,
				Capabilities:   []types.Capability{types.CapabilityChat, types.CapabilityCode, types.CapabilityAnalysis},
			},
			types.ProviderGoogle: {
				CostCentsPer1K: 0.40,
				LatencyMs:      900,
				Reliability:    0.95,
				Capabilities:   []types.Capability{types.CapabilityChat, types.CapabilityAnalysis, types.CapabilityBulk},
			},
			types.ProviderMistral: {
				CostCentsPer1K: 0.25,
				LatencyMs:      700,
				Reliability:    0.93,
				Capabilities:   []types.Capability{types.CapabilityChat, types.CapabilityCode},
			},
			types.ProviderDeepSeek: {
				CostCentsPer1K: 0.15,
				LatencyMs:      1500,
				Reliability:    0.92,
				Capabilities:   []types.Capability{types.CapabilityChat, types.CapabilityCode, types.CapabilityBulk},
			},
		},
		BaselinePriors: map[types.ProviderID]float64{
			types.ProviderOpenAI:    0.90,
			types.ProviderAnthropic: 0.90,
			types.ProviderGoogle:    0.80,
			types.ProviderMistral:   0.75,
			types.ProviderDeepSeek:  0.70,
		},
		OpenAI: &openai.Config{
			Timeout: 25 * time.Second,
		},
		Anthropic: &anthropic.Config{
			Timeout: 25 * time.Second,
		},
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnv loads configuration from environment variables.
func (c *Config) loadFromEnv() {
	if port := os.Getenv("SCHEDULER_PORT"); port != "" {
		c.Server.Port = port
	}

	if openaiKey := os.Getenv("OPENAI_API_KEY"); openaiKey != "" && c.Providers.OpenAI != nil {
		c.Providers.OpenAI.APIKey = openaiKey
	}
	if anthropicKey := os.Getenv("ANTHROPIC_API_KEY"); anthropicKey != "" && c.Providers.Anthropic != nil {
		c.Providers.Anthropic.APIKey = anthropicKey
	}

	if level := os.Getenv("SCHEDULER_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("SCHEDULER_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}

	if v := os.Getenv("SCHEDULER_ROUTING_ENABLED"); v != "" {
		c.Engine.RoutingEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SCHEDULER_LIVE_PROVIDERS_ENABLED"); v != "" {
		c.Engine.LiveProvidersEnabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SCHEDULER_LEARNING_ENABLED"); v != "" {
		c.Engine.LearningEnabled = v == "true" || v == "1"
	}
	if secret := os.Getenv("SCHEDULER_TOKEN_SECRET"); secret != "" {
		c.Engine.TokenSecret = secret
	}
}

// validate validates the configuration.
func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if len(c.Providers.Baselines) == 0 {
		return fmt.Errorf("at least one provider baseline must be configured")
	}
	for provider, baseline := range c.Providers.Baselines {
		if !types.IsKnownProvider(provider) {
			return fmt.Errorf("baseline configured for unknown provider: %s", provider)
		}
		if baseline.Reliability < 0 || baseline.Reliability > 1 {
			return fmt.Errorf("provider %s reliability must be in [0,1], got %f", provider, baseline.Reliability)
		}
		if baseline.CostCentsPer1K < 0 {
			return fmt.Errorf("provider %s cost must be non-negative", provider)
		}
	}
	for provider, prior := range c.Providers.BaselinePriors {
		if !types.IsKnownProvider(provider) {
			return fmt.Errorf("baseline prior configured for unknown provider: %s", provider)
		}
		if prior < 0 || prior > 1 {
			return fmt.Errorf("provider %s baseline prior must be in [0,1], got %f", provider, prior)
		}
	}

	if c.Engine.LiveProvidersEnabled {
		hasLive := (c.Providers.OpenAI != nil && c.Providers.OpenAI.APIKey != "") ||
			(c.Providers.Anthropic != nil && c.Providers.Anthropic.APIKey != "")
		if !hasLive {
			return fmt.Errorf("live providers enabled but no provider API key configured")
		}
	}

	if c.Engine.TokenSecret == "" {
		return fmt.Errorf("engine token secret cannot be empty")
	}

	return nil
}

// ToServerConfig converts to server.ServerConfig.
func (c *Config) ToServerConfig() *server.ServerConfig {
	return &server.ServerConfig{
		Port:           c.Server.Port,
		ReadTimeout:    c.Server.ReadTimeout,
		WriteTimeout:   c.Server.WriteTimeout,
		MaxHeaderBytes: c.Server.MaxHeaderBytes,
		Security:       c.ToSecurityMiddlewareConfig(),
		OpenAPI:        &c.Security.OpenAPIValidation,
	}
}

// ToSecurityMiddlewareConfig converts to middleware.SecurityMiddlewareConfig.
func (c *Config) ToSecurityMiddlewareConfig() *middleware.SecurityMiddlewareConfig {
	return &middleware.SecurityMiddlewareConfig{
		Auth: &security.Config{
			APIKeys:     c.Security.APIKeys,
			JWTSecret:   c.Security.JWTSecret,
			RequireAuth: len(c.Security.APIKeys) > 0,
		},
		RateLimit:  &c.Security.RateLimiting,
		Validation: &c.Security.RequestValidation,
		Audit:      &c.Security.Audit,
	}
}

// SaveToFile saves the current configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LiveClientProviders returns the providers with live credentials
// configured.
func (c *Config) LiveClientProviders() []types.ProviderID {
	var out []types.ProviderID
	if c.Providers.OpenAI != nil && c.Providers.OpenAI.APIKey != "" {
		out = append(out, types.ProviderOpenAI)
	}
	if c.Providers.Anthropic != nil && c.Providers.Anthropic.APIKey != "" {
		out = append(out, types.ProviderAnthropic)
	}
	return out
}
