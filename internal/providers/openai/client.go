package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/synaptiq/scheduler/internal/providers"
	"github.com/synaptiq/scheduler/internal/types"
)

// Config holds OpenAI-specific configuration.
type Config struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	OrgID   string        `yaml:"org_id"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

const defaultModel = "gpt-4o-mini"

// Client is the live OpenAI adapter. Provider-side failures are reported via
// LiveResult.OK=false, never as Go errors.
type Client struct {
	client *openai.Client
	config *Config
	logger *logrus.Logger
}

// NewClient creates a live OpenAI client.
func NewClient(config *Config, logger *logrus.Logger) *Client {
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.OrgID != "" {
		clientConfig.OrgID = config.OrgID
	}
	if config.Model == "" {
		config.Model = defaultModel
	}

	return &Client{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		logger: logger,
	}
}

// ProviderID implements providers.LiveClient.
func (c *Client) ProviderID() types.ProviderID {
	return types.ProviderOpenAI
}

// ExecuteLive runs one completion against the OpenAI API.
func (c *Client) ExecuteLive(ctx context.Context, req providers.LiveRequest) types.LiveResult {
	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.config.Model,
		MaxTokens: req.Tokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Input},
		},
	})
	latency := time.Since(start).Milliseconds()

	if err != nil {
		c.logger.WithError(err).WithField("request_id", req.RequestID).Warn("OpenAI call failed")
		return types.LiveResult{
			OK:        false,
			RawOutput: fmt.Sprintf("openai call failed: %v", err),
			LatencyMs: latency,
			Model:     c.config.Model,
		}
	}

	var output string
	if len(resp.Choices) > 0 {
		output = resp.Choices[0].Message.Content
	}

	return types.LiveResult{
		OK:         true,
		RawOutput:  output,
		TokensUsed: resp.Usage.TotalTokens,
		LatencyMs:  latency,
		Model:      resp.Model,
	}
}

// HealthCheck verifies the API is reachable with the configured credentials.
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		c.logger.WithError(err).Error("OpenAI health check failed")
		return fmt.Errorf("openai health check failed: %w", err)
	}
	c.logger.Debug("OpenAI health check passed")
	return nil
}

var _ providers.LiveClient = (*Client)(nil)
