package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/contract-pipeline/internal/domain/apperr"
	"github.com/garyjia/contract-pipeline/internal/domain/entity"
	"github.com/garyjia/contract-pipeline/internal/prompt"
	"go.uber.org/zap"
)

// ChatResponse is the model capability's answer to one chat call.
type ChatResponse struct {
	Content   string
	Model     string
	LatencyMs int64
}

// ChatClient is the language-model capability: system + user message in,
// structured text out.
type ChatClient interface {
	Chat(ctx context.Context, system, user string) (*ChatResponse, error)
}

// Result is a successful extraction: the parsed object plus the model's
// self-reported confidence.
type Result struct {
	ExtractedData map[string]interface{}
	LLMConfidence float64
	RawResponse   string
	Model         string
	LatencyMs     int64
}

// Orchestrator fetches a compiled prompt, calls the model, and parses the
// structured output with one bounded retry on malformed JSON.
type Orchestrator struct {
	prompts *prompt.Cache
	llm     ChatClient
	tracer  prompt.Tracer
	label   string
	retry   RetryPolicy
	logger  *zap.Logger
}

// NewOrchestrator creates an extraction orchestrator. tracer may be nil when
// no observability collaborator is configured.
func NewOrchestrator(prompts *prompt.Cache, llm ChatClient, tracer prompt.Tracer, label string, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		prompts: prompts,
		llm:     llm,
		tracer:  tracer,
		label:   label,
		retry:   RetryPolicy{MaxAttempts: 2},
		logger:  logger,
	}
}

// Extract runs one extraction for the document text using the merged config's
// prompt. Required fields travel in cfg but are consumed by the scorer, not
// here.
func (o *Orchestrator) Extract(ctx context.Context, docText string, vertical *entity.Vertical, cfg *entity.MergedConfig, workflowID string) (*Result, error) {
	o.logger.Info("Starting contract extraction",
		zap.String("workflow_id", workflowID),
		zap.String("vertical", vertical.Slug),
		zap.String("prompt_name", cfg.PromptName))

	compiled, err := o.prompts.Get(ctx, cfg.PromptName, o.label)
	if err != nil {
		return nil, err
	}

	systemPrompt := strings.NewReplacer(
		"{{contract_text}}", docText,
		"{{vertical}}", vertical.Slug,
	).Replace(compiled.Prompt)

	var resp *ChatResponse
	var parsed map[string]interface{}

	err = o.retry.Do(func(attempt int) error {
		r, chatErr := o.llm.Chat(ctx, systemPrompt, docText)
		if chatErr != nil {
			return chatErr
		}
		resp = r

		p, ok := tryParseObject(r.Content)
		if !ok {
			if attempt < o.retry.MaxAttempts {
				o.logger.Warn("Model returned malformed JSON, retrying once",
					zap.String("workflow_id", workflowID),
					zap.Int("attempt", attempt))
			}
			return fmt.Errorf("attempt %d: %w", attempt, errMalformed)
		}
		parsed = p
		return nil
	})
	if err != nil {
		if !errors.Is(err, errMalformed) {
			return nil, err
		}
		appErr := apperr.New(apperr.CodeLLMMalformedResponse,
			"model returned invalid JSON on both attempts", false)
		if resp != nil {
			appErr = appErr.WithDetails(resp.Content)
		}
		o.logger.Error("Model returned malformed JSON on both attempts",
			zap.String("workflow_id", workflowID))
		return nil, appErr
	}

	confidence := 0.0
	if v, ok := toNumber(parsed["confidence"]); ok && v >= 0 && v <= 100 {
		confidence = v
	}

	result := &Result{
		ExtractedData: parsed,
		LLMConfidence: confidence,
		RawResponse:   resp.Content,
		Model:         resp.Model,
		LatencyMs:     resp.LatencyMs,
	}

	o.trace(ctx, workflowID, vertical.Slug, compiled.Name, systemPrompt, resp)

	o.logger.Info("Extraction completed",
		zap.String("workflow_id", workflowID),
		zap.String("model", resp.Model),
		zap.Int64("latency_ms", resp.LatencyMs),
		zap.Float64("confidence", confidence))

	return result, nil
}

// trace emits a best-effort generation trace. It must never fail extraction;
// the tracer contract is fire-and-forget.
func (o *Orchestrator) trace(ctx context.Context, workflowID, verticalSlug, promptName, input string, resp *ChatResponse) {
	if o.tracer == nil {
		return
	}
	end := time.Now()
	o.tracer.TraceGeneration(ctx, prompt.Generation{
		TraceID:    workflowID,
		Name:       "extraction-" + verticalSlug,
		Model:      resp.Model,
		Input:      input,
		Output:     resp.Content,
		PromptName: promptName,
		StartTime:  end.Add(-time.Duration(resp.LatencyMs) * time.Millisecond),
		EndTime:    end,
		Metadata:   map[string]interface{}{"vertical": verticalSlug},
	})
}

// tryParseObject parses content as a JSON object, rejecting arrays and other
// non-object documents. A nil map after a successful unmarshal means the
// document was the literal null, which is not an object either.
func tryParseObject(content string) (map[string]interface{}, bool) {
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, false
	}
	if parsed == nil {
		return nil, false
	}
	return parsed, true
}
