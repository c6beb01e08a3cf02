package anthropic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"

	"github.com/synaptiq/scheduler/internal/providers"
	"github.com/synaptiq/scheduler/internal/types"
)

// Config holds Anthropic-specific configuration.
type Config struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

const defaultModel = "claude-3-5-haiku-20241022"

// Client is the live Anthropic adapter. Provider-side failures are reported
// via LiveResult.OK=false, never as Go errors.
type Client struct {
	client *anthropic.Client
	config *Config
	logger *logrus.Logger
}

// NewClient creates a live Anthropic client.
func NewClient(config *Config, logger *logrus.Logger) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if config.Model == "" {
		config.Model = defaultModel
	}

	client := anthropic.NewClient(opts...)
	return &Client{
		client: &client,
		config: config,
		logger: logger,
	}
}

// ProviderID implements providers.LiveClient.
func (c *Client) ProviderID() types.ProviderID {
	return types.ProviderAnthropic
}

// ExecuteLive runs one message against the Anthropic API.
func (c *Client) ExecuteLive(ctx context.Context, req providers.LiveRequest) types.LiveResult {
	start := time.Now()

	maxTokens := int64(req.Tokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.config.Model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Input)),
		},
	})
	latency := time.Since(start).Milliseconds()

	if err != nil {
		c.logger.WithError(err).WithField("request_id", req.RequestID).Warn("Anthropic call failed")
		return types.LiveResult{
			OK:        false,
			RawOutput: fmt.Sprintf("anthropic call failed: %v", err),
			LatencyMs: latency,
			Model:     c.config.Model,
		}
	}

	var output strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			output.WriteString(block.Text)
		}
	}

	return types.LiveResult{
		OK:         true,
		RawOutput:  output.String(),
		TokensUsed: int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		LatencyMs:  latency,
		Model:      string(resp.Model),
	}
}

// HealthCheck verifies the API is reachable with the configured credentials.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.config.Model),
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	if err != nil {
		c.logger.WithError(err).Error("Anthropic health check failed")
		return fmt.Errorf("anthropic health check failed: %w", err)
	}
	c.logger.Debug("Anthropic health check passed")
	return nil
}

var _ providers.LiveClient = (*Client)(nil)
