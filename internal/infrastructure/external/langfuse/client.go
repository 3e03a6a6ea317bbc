package langfuse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/garyjia/contract-pipeline/internal/prompt"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Client talks to the Langfuse public REST API. It implements both the prompt
// Source and the generation Tracer capabilities.
type Client struct {
	baseURL    string
	publicKey  string
	secretKey  string
	httpClient *http.Client
	logger     *zap.Logger
}

// Config holds the Langfuse connection settings.
type Config struct {
	BaseURL   string
	PublicKey string
	SecretKey string
	Timeout   time.Duration
}

// NewClient creates a Langfuse API client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://cloud.langfuse.com"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		publicKey:  cfg.PublicKey,
		secretKey:  cfg.SecretKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type promptResponse struct {
	Name   string                 `json:"name"`
	Prompt string                 `json:"prompt"`
	Config map[string]interface{} `json:"config"`
}

// FetchPrompt retrieves a text prompt by name and label.
func (c *Client) FetchPrompt(ctx context.Context, name, label string) (*prompt.Compiled, error) {
	endpoint := fmt.Sprintf("%s/api/public/v2/prompts/%s", c.baseURL, url.PathEscape(name))
	if label != "" {
		endpoint += "?label=" + url.QueryEscape(label)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build prompt request: %w", err)
	}
	req.SetBasicAuth(c.publicKey, c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("prompt fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("prompt fetch returned %d: %s", resp.StatusCode, string(body))
	}

	var pr promptResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("failed to decode prompt response: %w", err)
	}

	compiled := &prompt.Compiled{Name: pr.Name, Prompt: pr.Prompt, Config: pr.Config}
	if compiled.Config == nil {
		compiled.Config = map[string]interface{}{}
	}
	return compiled, nil
}

type ingestionEvent struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	Body      interface{} `json:"body"`
}

type ingestionBatch struct {
	Batch []ingestionEvent `json:"batch"`
}

// TraceGeneration records one model generation. Failures are logged and
// swallowed; tracing must never fail the pipeline.
func (c *Client) TraceGeneration(ctx context.Context, gen prompt.Generation) {
	batch := ingestionBatch{Batch: []ingestionEvent{
		{
			ID:        uuid.NewString(),
			Type:      "trace-create",
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Body: map[string]interface{}{
				"id":       gen.TraceID,
				"name":     gen.Name,
				"metadata": gen.Metadata,
			},
		},
		{
			ID:        uuid.NewString(),
			Type:      "generation-create",
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Body: map[string]interface{}{
				"traceId":   gen.TraceID,
				"name":      gen.Name,
				"model":     gen.Model,
				"input":     gen.Input,
				"output":    gen.Output,
				"startTime": gen.StartTime.UTC().Format(time.RFC3339Nano),
				"endTime":   gen.EndTime.UTC().Format(time.RFC3339Nano),
				"metadata":  mergeMetadata(gen),
			},
		},
	}}

	payload, err := json.Marshal(batch)
	if err != nil {
		c.logger.Warn("Failed to encode generation trace", zap.String("trace_id", gen.TraceID), zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/public/ingestion", bytes.NewReader(payload))
	if err != nil {
		c.logger.Warn("Failed to build trace request", zap.String("trace_id", gen.TraceID), zap.Error(err))
		return
	}
	req.SetBasicAuth(c.publicKey, c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Failed to send generation trace", zap.String("trace_id", gen.TraceID), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.logger.Warn("Trace ingestion rejected",
			zap.String("trace_id", gen.TraceID),
			zap.Int("status", resp.StatusCode))
		return
	}

	c.logger.Debug("Traced model generation",
		zap.String("trace_id", gen.TraceID),
		zap.String("model", gen.Model))
}

func mergeMetadata(gen prompt.Generation) map[string]interface{} {
	merged := map[string]interface{}{"promptName": gen.PromptName}
	for k, v := range gen.Metadata {
		merged[k] = v
	}
	return merged
}
