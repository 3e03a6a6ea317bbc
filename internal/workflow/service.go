package workflow

import (
	"context"
	"fmt"

	"github.com/garyjia/contract-pipeline/internal/domain/apperr"
	"github.com/garyjia/contract-pipeline/internal/domain/entity"
	"go.uber.org/zap"
)

// MaxRetries is the retry budget before a failed workflow is auto-rejected.
const MaxRetries = 3

// Store is the persistence capability the state machine depends on.
// SwapState must be an atomic conditional update: the state write and the
// audit-log append commit together, and nothing is written when the stored
// state no longer equals from.
type Store interface {
	Insert(ctx context.Context, wf *entity.Workflow) error
	GetByID(ctx context.Context, id string) (*entity.Workflow, error)
	SwapState(ctx context.Context, id string, from, to entity.State, errorMessage *string, metadata map[string]interface{}) (bool, error)
	IncrementRetryCount(ctx context.Context, id string) (int, error)
	UpdatePDFStoragePath(ctx context.Context, id, path string) error
	History(ctx context.Context, id string) ([]entity.WorkflowStateLog, error)
}

// Service validates and records workflow state transitions and applies the
// retry/escalation policy.
type Service struct {
	store  Store
	logger *zap.Logger
}

// NewService creates a new workflow state machine service.
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// CreateInput carries the fields needed to open a workflow at ingest.
type CreateInput struct {
	VerticalID     string
	PDFStoragePath string
	PDFFilename    *string
}

// Create opens a new workflow in state pending and records the creation
// entry (nil fromState) in the audit log.
func (s *Service) Create(ctx context.Context, input CreateInput) (*entity.Workflow, error) {
	wf := &entity.Workflow{
		VerticalID:     input.VerticalID,
		PDFStoragePath: input.PDFStoragePath,
		PDFFilename:    input.PDFFilename,
		State:          entity.StatePending,
	}

	if err := s.store.Insert(ctx, wf); err != nil {
		s.logger.Error("Failed to create workflow",
			zap.String("vertical_id", input.VerticalID),
			zap.Error(err))
		return nil, apperr.Wrap(apperr.CodeDBConnectionError, "failed to create workflow", true, err)
	}

	s.logger.Info("Workflow created",
		zap.String("workflow_id", wf.ID),
		zap.String("vertical_id", input.VerticalID))
	return wf, nil
}

// Get loads a workflow by id.
func (s *Service) Get(ctx context.Context, workflowID string) (*entity.Workflow, error) {
	wf, err := s.store.GetByID(ctx, workflowID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDBConnectionError, "failed to fetch workflow", true, err)
	}
	if wf == nil {
		return nil, apperr.New(apperr.CodeWorkflowNotFound,
			fmt.Sprintf("workflow %q not found", workflowID), false)
	}
	return wf, nil
}

// History returns the workflow's audit trail in transition-acceptance order.
func (s *Service) History(ctx context.Context, workflowID string) ([]entity.WorkflowStateLog, error) {
	if _, err := s.Get(ctx, workflowID); err != nil {
		return nil, err
	}
	entries, err := s.store.History(ctx, workflowID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDBConnectionError, "failed to fetch workflow history", true, err)
	}
	return entries, nil
}

// SetPDFStoragePath records where the ingested document was stored.
func (s *Service) SetPDFStoragePath(ctx context.Context, workflowID, path string) error {
	if err := s.store.UpdatePDFStoragePath(ctx, workflowID, path); err != nil {
		return apperr.Wrap(apperr.CodeDBConnectionError, "failed to update pdf storage path", true, err)
	}
	return nil
}

// Transition moves the workflow to the target state if the transition table
// permits it, updating the row and appending one audit entry atomically.
// The stored error message is touched only when to == failed, taken from
// metadata["errorMessage"].
func (s *Service) Transition(ctx context.Context, workflowID string, to entity.State, metadata map[string]interface{}) (*entity.Workflow, error) {
	wf, err := s.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if !CanTransition(wf.State, to) {
		s.logger.Warn("Invalid state transition attempted",
			zap.String("workflow_id", workflowID),
			zap.String("from_state", wf.State.String()),
			zap.String("to_state", to.String()))
		return nil, apperr.New(apperr.CodeInvalidTransition,
			fmt.Sprintf("cannot transition from %q to %q", wf.State, to), false)
	}

	var errorMessage *string
	if to == entity.StateFailed {
		if msg, ok := metadata["errorMessage"].(string); ok {
			errorMessage = &msg
		}
	}

	swapped, err := s.store.SwapState(ctx, workflowID, wf.State, to, errorMessage, metadata)
	if err != nil {
		s.logger.Error("Failed to transition workflow state",
			zap.String("workflow_id", workflowID),
			zap.String("to_state", to.String()),
			zap.Error(err))
		return nil, apperr.Wrap(apperr.CodeDBConnectionError, "failed to transition workflow state", true, err)
	}
	if !swapped {
		// A concurrent caller moved the workflow first; the conditional
		// update matched zero rows and wrote nothing.
		return nil, apperr.New(apperr.CodeInvalidTransition,
			fmt.Sprintf("workflow %q left state %q before the transition committed", workflowID, wf.State), false)
	}

	s.logger.Info("Workflow state transition",
		zap.String("workflow_id", workflowID),
		zap.String("from_state", wf.State.String()),
		zap.String("to_state", to.String()))

	return s.Get(ctx, workflowID)
}

// Fail transitions the workflow to failed with the given error context and
// increments the retry counter. Once the post-increment count reaches
// MaxRetries the workflow is automatically rejected.
func (s *Service) Fail(ctx context.Context, workflowID, errorCode, errorMessage string, failedAtStep entity.State) (*entity.Workflow, error) {
	wf, err := s.Transition(ctx, workflowID, entity.StateFailed, map[string]interface{}{
		"errorCode":    errorCode,
		"errorMessage": errorMessage,
		"failedAtStep": failedAtStep.String(),
	})
	if err != nil {
		return nil, err
	}

	retryCount, err := s.store.IncrementRetryCount(ctx, workflowID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDBConnectionError, "failed to increment retry count", true, err)
	}
	wf.RetryCount = retryCount

	if retryCount >= MaxRetries {
		s.logger.Warn("Max retries exceeded, rejecting workflow",
			zap.String("workflow_id", workflowID),
			zap.Int("retry_count", retryCount))
		return s.Transition(ctx, workflowID, entity.StateRejected, map[string]interface{}{
			"triggeredBy": "max_retries_exceeded",
			"retryCount":  retryCount,
		})
	}

	return wf, nil
}
