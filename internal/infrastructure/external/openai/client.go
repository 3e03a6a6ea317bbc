package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/garyjia/contract-pipeline/internal/domain/apperr"
	"github.com/garyjia/contract-pipeline/internal/extraction"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Client implements extraction.ChatClient against an OpenAI-compatible chat
// completion API, requesting JSON-object output at low temperature.
type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	logger      *zap.Logger
}

// defaultTimeout bounds one chat completion round trip when no timeout is
// configured.
const defaultTimeout = 60 * time.Second

// Config holds the model capability settings.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// NewClient creates a chat client. BaseURL is optional and supports
// OpenAI-compatible gateways.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = httpClientFor(cfg)
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		logger:      logger,
	}
}

func httpClientFor(cfg Config) *http.Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// Chat sends one system+user exchange and returns the raw content.
func (c *Client) Chat(ctx context.Context, system, user string) (*extraction.ChatResponse, error) {
	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	latency := time.Since(start)

	if err != nil {
		return nil, c.mapError(err, latency)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		c.logger.Error("Model returned empty response",
			zap.String("model", c.model),
			zap.Duration("latency", latency))
		return nil, apperr.New(apperr.CodeLLMMalformedResponse, "model returned empty response content", false)
	}

	c.logger.Info("Chat completion succeeded",
		zap.String("model", resp.Model),
		zap.Duration("latency", latency),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens))

	return &extraction.ChatResponse{
		Content:   resp.Choices[0].Message.Content,
		Model:     resp.Model,
		LatencyMs: latency.Milliseconds(),
	}, nil
}

func (c *Client) mapError(err error, latency time.Duration) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 401:
			c.logger.Error("Model API authentication failed", zap.Duration("latency", latency), zap.Error(err))
			return apperr.Wrap(apperr.CodeLLMAuthError, "model API authentication failed", false, err)
		case apiErr.HTTPStatusCode == 429:
			c.logger.Warn("Model API rate limited", zap.Duration("latency", latency), zap.Error(err))
			return apperr.Wrap(apperr.CodeLLMRateLimited, "model API rate limited", true, err)
		case apiErr.HTTPStatusCode >= 500:
			c.logger.Error("Model API server error", zap.Duration("latency", latency), zap.Error(err))
			return apperr.Wrap(apperr.CodeLLMAPIError,
				fmt.Sprintf("model API returned %d", apiErr.HTTPStatusCode), true, err)
		}
	}
	c.logger.Error("Model API call failed", zap.Duration("latency", latency), zap.Error(err))
	return apperr.Wrap(apperr.CodeLLMAPIError, "model API call failed", true, err)
}
