package pipeline

import (
	"context"
	"encoding/base64"

	"github.com/garyjia/contract-pipeline/internal/domain/apperr"
	"github.com/garyjia/contract-pipeline/internal/domain/entity"
	"github.com/garyjia/contract-pipeline/internal/extraction"
	"github.com/garyjia/contract-pipeline/internal/registry"
	"github.com/garyjia/contract-pipeline/internal/review"
	"github.com/garyjia/contract-pipeline/internal/workflow"
	"go.uber.org/zap"
)

// ContractStore is the contract persistence the pipeline needs.
type ContractStore interface {
	Insert(ctx context.Context, c *entity.Contract) error
	GetByWorkflowID(ctx context.Context, workflowID string) (*entity.Contract, error)
}

// Service drives one document's run through the pipeline steps, routing every
// step failure through the workflow escalation policy before surfacing it.
type Service struct {
	machine   *workflow.Service
	registry  *registry.Resolver
	extractor *extraction.Orchestrator
	contracts ContractStore
	reviews   *review.Manager
	parser    TextParser
	storage   DocumentStorage
	logger    *zap.Logger
}

// TextParser is the parseText capability: document bytes in, plain text out.
type TextParser interface {
	ExtractText(data []byte, workflowID string) (string, error)
}

// DocumentStorage persists the raw uploaded document.
type DocumentStorage interface {
	Store(data []byte, workflowID, filename string) (string, error)
}

// NewService creates the pipeline orchestration service.
func NewService(
	machine *workflow.Service,
	reg *registry.Resolver,
	extractor *extraction.Orchestrator,
	contracts ContractStore,
	reviews *review.Manager,
	parser TextParser,
	storage DocumentStorage,
	logger *zap.Logger,
) *Service {
	return &Service{
		machine:   machine,
		registry:  reg,
		extractor: extractor,
		contracts: contracts,
		reviews:   reviews,
		parser:    parser,
		storage:   storage,
		logger:    logger,
	}
}

// failStep records a step failure through the workflow escalation policy so
// state, audit log and retry counter are updated before the error surfaces to
// the caller. Failures of the bookkeeping itself are logged, not returned.
func (s *Service) failStep(ctx context.Context, workflowID string, step entity.State, appErr *apperr.Error) {
	if _, err := s.machine.Fail(ctx, workflowID, string(appErr.Code), appErr.Message, step); err != nil {
		s.logger.Error("Failed to record step failure",
			zap.String("workflow_id", workflowID),
			zap.String("step", step.String()),
			zap.Error(err))
	}
}

// IngestInput is one uploaded contract document.
type IngestInput struct {
	PDFBase64    string
	VerticalSlug string
	Filename     string
}

// IngestResult reports the opened workflow and the parsed document text.
type IngestResult struct {
	WorkflowID string
	VerticalID string
	State      entity.State
	PDFText    string
}

// Ingest opens a workflow for the document, stores the bytes, parses the text
// and leaves the workflow in extracting. Parse failures are routed through the
// escalation policy.
func (s *Service) Ingest(ctx context.Context, input IngestInput) (*IngestResult, error) {
	vertical, err := s.registry.GetVertical(ctx, input.VerticalSlug)
	if err != nil {
		return nil, err
	}

	data, err := base64.StdEncoding.DecodeString(input.PDFBase64)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodePDFParseFailed, "invalid base64 input", false, err)
	}

	var filename *string
	if input.Filename != "" {
		filename = &input.Filename
	}
	wf, err := s.machine.Create(ctx, workflow.CreateInput{
		VerticalID:  vertical.ID,
		PDFFilename: filename,
	})
	if err != nil {
		return nil, err
	}

	path, err := s.storage.Store(data, wf.ID, input.Filename)
	if err != nil {
		return nil, err
	}
	if err := s.machine.SetPDFStoragePath(ctx, wf.ID, path); err != nil {
		return nil, err
	}

	if _, err := s.machine.Transition(ctx, wf.ID, entity.StateParsingPDF, nil); err != nil {
		return nil, err
	}

	text, err := s.parser.ExtractText(data, wf.ID)
	if err != nil {
		s.failStep(ctx, wf.ID, entity.StateParsingPDF, apperr.From(err))
		return nil, err
	}

	if _, err := s.machine.Transition(ctx, wf.ID, entity.StateExtracting, nil); err != nil {
		return nil, err
	}

	s.logger.Info("PDF ingested and parsed",
		zap.String("workflow_id", wf.ID),
		zap.String("vertical", vertical.Slug))

	return &IngestResult{
		WorkflowID: wf.ID,
		VerticalID: vertical.ID,
		State:      entity.StateExtracting,
		PDFText:    text,
	}, nil
}

// ExtractResult reports the validated extraction and the review decision.
type ExtractResult struct {
	WorkflowID      string
	State           entity.State
	ContractID      string
	ReviewTaskID    string
	ExtractedData   map[string]interface{}
	LLMConfidence   float64
	FinalConfidence float64
	Adjustments     []extraction.Adjustment
	NeedsReview     bool
}

// Extract runs model extraction and validation for a workflow currently in
// extracting, creates the contract, and routes to review or validated.
func (s *Service) Extract(ctx context.Context, workflowID, pdfText, verticalSlug string) (*ExtractResult, error) {
	if _, err := s.machine.Get(ctx, workflowID); err != nil {
		return nil, err
	}
	vertical, err := s.registry.GetVertical(ctx, verticalSlug)
	if err != nil {
		s.failStep(ctx, workflowID, entity.StateExtracting, apperr.From(err))
		return nil, err
	}

	// Extraction runs against the vertical's default config; the provider is
	// only known once the model has read the document.
	baseCfg, err := s.registry.GetMergedConfig(ctx, vertical.ID, nil)
	if err != nil {
		s.failStep(ctx, workflowID, entity.StateExtracting, apperr.From(err))
		return nil, err
	}

	result, err := s.extractor.Extract(ctx, pdfText, vertical, baseCfg, workflowID)
	if err != nil {
		s.failStep(ctx, workflowID, entity.StateExtracting, apperr.From(err))
		return nil, err
	}

	if _, err := s.machine.Transition(ctx, workflowID, entity.StateValidating, nil); err != nil {
		return nil, err
	}

	var providerID *string
	if name, ok := result.ExtractedData["provider"].(string); ok && name != "" {
		provider, lookupErr := s.registry.FindProvider(ctx, registry.ProviderSlug(name), vertical.ID)
		if lookupErr != nil {
			// Provider-specific overrides are an enrichment; a failed lookup
			// degrades to vertical defaults rather than failing the workflow.
			s.logger.Warn("Provider lookup failed, scoring with vertical defaults",
				zap.String("workflow_id", workflowID),
				zap.String("provider_name", name),
				zap.Error(lookupErr))
		} else if provider != nil {
			providerID = &provider.ID
		}
	}

	cfg, err := s.registry.GetMergedConfig(ctx, vertical.ID, providerID)
	if err != nil {
		s.failStep(ctx, workflowID, entity.StateValidating, apperr.From(err))
		return nil, err
	}

	score := extraction.Score(result.ExtractedData, result.LLMConfidence, cfg.RequiredFields, cfg.ValidationRules)

	contract := &entity.Contract{
		WorkflowID:      workflowID,
		VerticalID:      vertical.ID,
		ProviderID:      providerID,
		ExtractedData:   result.ExtractedData,
		LLMConfidence:   result.LLMConfidence,
		FinalConfidence: score.FinalConfidence,
	}
	if err := s.contracts.Insert(ctx, contract); err != nil {
		appErr := apperr.Wrap(apperr.CodeDBConnectionError, "failed to create contract", true, err)
		s.failStep(ctx, workflowID, entity.StateValidating, appErr)
		return nil, appErr
	}

	out := &ExtractResult{
		WorkflowID:      workflowID,
		ContractID:      contract.ID,
		ExtractedData:   result.ExtractedData,
		LLMConfidence:   result.LLMConfidence,
		FinalConfidence: score.FinalConfidence,
		Adjustments:     score.Adjustments,
		NeedsReview:     score.NeedsReview,
	}

	if score.NeedsReview {
		// The task is created before the transition: review_required has no
		// edge to failed, so a task-creation failure can only be escalated
		// while the workflow is still in validating.
		task, err := s.reviews.Create(ctx, workflowID, contract.ID, s.reviews.ComputeTimeoutAt())
		if err != nil {
			s.failStep(ctx, workflowID, entity.StateValidating, apperr.From(err))
			return nil, err
		}
		if _, err := s.machine.Transition(ctx, workflowID, entity.StateReviewRequired, map[string]interface{}{
			"finalConfidence": score.FinalConfidence,
			"adjustments":     len(score.Adjustments),
		}); err != nil {
			return nil, err
		}
		out.State = entity.StateReviewRequired
		out.ReviewTaskID = task.ID

		s.logger.Info("Review required",
			zap.String("workflow_id", workflowID),
			zap.String("contract_id", contract.ID),
			zap.Float64("final_confidence", score.FinalConfidence))
		return out, nil
	}

	if _, err := s.machine.Transition(ctx, workflowID, entity.StateValidated, nil); err != nil {
		return nil, err
	}
	out.State = entity.StateValidated

	s.logger.Info("Validation passed",
		zap.String("workflow_id", workflowID),
		zap.String("contract_id", contract.ID),
		zap.Float64("final_confidence", score.FinalConfidence))
	return out, nil
}

// Compare runs the tariff-comparison step and completes the workflow.
func (s *Service) Compare(ctx context.Context, workflowID string) (*ComparisonResult, error) {
	if _, err := s.machine.Get(ctx, workflowID); err != nil {
		return nil, err
	}

	if _, err := s.machine.Transition(ctx, workflowID, entity.StateComparing, nil); err != nil {
		return nil, err
	}

	contract, err := s.contracts.GetByWorkflowID(ctx, workflowID)
	if err != nil {
		appErr := apperr.Wrap(apperr.CodeDBConnectionError, "failed to fetch contract", true, err)
		s.failStep(ctx, workflowID, entity.StateComparing, appErr)
		return nil, appErr
	}
	if contract == nil {
		return nil, apperr.New(apperr.CodeContractNotFound,
			"no contract found for workflow "+workflowID, false)
	}

	comparison := CompareTariffs(contract)

	if _, err := s.machine.Transition(ctx, workflowID, entity.StateCompleted, nil); err != nil {
		return nil, err
	}

	comparison.WorkflowID = workflowID
	comparison.State = entity.StateCompleted
	return comparison, nil
}

// StatusResult is the read model for one workflow: current state plus the
// contract, when one exists.
type StatusResult struct {
	Workflow *entity.Workflow
	Contract *entity.Contract
}

// Status returns the workflow and its contract if one has been created.
func (s *Service) Status(ctx context.Context, workflowID string) (*StatusResult, error) {
	wf, err := s.machine.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	contract, err := s.contracts.GetByWorkflowID(ctx, workflowID)
	if err != nil {
		s.logger.Warn("Failed to fetch contract for status",
			zap.String("workflow_id", workflowID),
			zap.Error(err))
		contract = nil
	}
	return &StatusResult{Workflow: wf, Contract: contract}, nil
}
