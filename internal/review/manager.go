package review

import (
	"context"
	"fmt"
	"time"

	"github.com/garyjia/contract-pipeline/internal/domain/apperr"
	"github.com/garyjia/contract-pipeline/internal/domain/entity"
	"github.com/garyjia/contract-pipeline/internal/workflow"
	"go.uber.org/zap"
)

// DefaultTimeout is the advisory review deadline when none is configured.
const DefaultTimeout = 24 * time.Hour

// Store is the review-task persistence capability. Resolve is a conditional
// update restricted to status='pending'; it returns false when the task was
// already resolved by another caller.
type Store interface {
	Insert(ctx context.Context, task *entity.ReviewTask) error
	GetByID(ctx context.Context, id string) (*entity.ReviewTask, error)
	PendingByWorkflow(ctx context.Context, workflowID string) (*entity.ReviewTask, error)
	Pending(ctx context.Context) ([]entity.ReviewTask, error)
	TimedOut(ctx context.Context, now time.Time) ([]entity.ReviewTask, error)
	Resolve(ctx context.Context, id string, status entity.ReviewStatus, correctedData map[string]interface{}, notes *string, reviewedAt time.Time) (bool, error)
}

// ContractStore is the slice of contract persistence the manager needs to
// apply corrections.
type ContractStore interface {
	UpdateData(ctx context.Context, contractID string, data map[string]interface{}, finalConfidence float64) (bool, error)
}

// Manager creates and resolves human-review tasks and drives the matching
// workflow transitions.
type Manager struct {
	store     Store
	contracts ContractStore
	machine   *workflow.Service
	timeout   time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewManager creates a review task manager. A non-positive timeout falls back
// to DefaultTimeout.
func NewManager(store Store, contracts ContractStore, machine *workflow.Service, timeout time.Duration, logger *zap.Logger) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		store:     store,
		contracts: contracts,
		machine:   machine,
		timeout:   timeout,
		now:       time.Now,
		logger:    logger,
	}
}

// ComputeTimeoutAt returns the advisory deadline for a task created now.
func (m *Manager) ComputeTimeoutAt() time.Time {
	return m.now().Add(m.timeout)
}

// Create opens a pending review task for the workflow/contract pair.
//
// A workflow that re-enters review_required after a failed/validating retry
// may already carry an unresolved task; whether that duplicate is intended is
// an open product decision, so the duplicate is allowed and logged rather
// than blocked.
func (m *Manager) Create(ctx context.Context, workflowID, contractID string, timeoutAt time.Time) (*entity.ReviewTask, error) {
	existing, err := m.store.PendingByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDBConnectionError, "failed to check pending reviews", true, err)
	}
	if existing != nil {
		m.logger.Warn("Creating review task while another is still pending",
			zap.String("workflow_id", workflowID),
			zap.String("existing_task_id", existing.ID))
	}

	task := &entity.ReviewTask{
		WorkflowID: workflowID,
		ContractID: contractID,
		Status:     entity.ReviewPending,
		TimeoutAt:  &timeoutAt,
	}
	if err := m.store.Insert(ctx, task); err != nil {
		m.logger.Error("Failed to create review task",
			zap.String("workflow_id", workflowID),
			zap.Error(err))
		return nil, apperr.Wrap(apperr.CodeDBConnectionError, "failed to create review task", true, err)
	}

	m.logger.Info("Review task created",
		zap.String("workflow_id", workflowID),
		zap.String("review_task_id", task.ID),
		zap.Time("timeout_at", timeoutAt))
	return task, nil
}

// Pending returns all unresolved review tasks.
func (m *Manager) Pending(ctx context.Context) ([]entity.ReviewTask, error) {
	tasks, err := m.store.Pending(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDBConnectionError, "failed to fetch pending reviews", true, err)
	}
	return tasks, nil
}

// PendingForWorkflow returns the unresolved task for a workflow, or a
// REVIEW_NOT_FOUND error when none exists.
func (m *Manager) PendingForWorkflow(ctx context.Context, workflowID string) (*entity.ReviewTask, error) {
	task, err := m.store.PendingByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDBConnectionError, "failed to fetch pending review", true, err)
	}
	if task == nil {
		return nil, apperr.New(apperr.CodeReviewNotFound,
			fmt.Sprintf("no pending review found for workflow %q", workflowID), false)
	}
	return task, nil
}

// TimedOut returns pending tasks whose advisory deadline has elapsed.
func (m *Manager) TimedOut(ctx context.Context, now time.Time) ([]entity.ReviewTask, error) {
	tasks, err := m.store.TimedOut(ctx, now)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDBConnectionError, "failed to fetch timed out reviews", true, err)
	}
	return tasks, nil
}

// Approve resolves the task as approved and moves the workflow to validated.
func (m *Manager) Approve(ctx context.Context, taskID string, notes *string) (*entity.ReviewTask, error) {
	return m.resolve(ctx, taskID, entity.ReviewApproved, nil, notes, entity.StateValidated)
}

// Reject resolves the task as rejected and moves the workflow to rejected.
func (m *Manager) Reject(ctx context.Context, taskID string, notes *string) (*entity.ReviewTask, error) {
	return m.resolve(ctx, taskID, entity.ReviewRejected, nil, notes, entity.StateRejected)
}

// Timeout resolves the task as timed_out and moves the workflow to timed_out.
func (m *Manager) Timeout(ctx context.Context, taskID string) (*entity.ReviewTask, error) {
	return m.resolve(ctx, taskID, entity.ReviewTimedOut, nil, nil, entity.StateTimedOut)
}

// Correct replaces the contract's extracted data (forcing final confidence to
// 100) and resolves the task as corrected. The task stays pending if the
// contract write fails.
func (m *Manager) Correct(ctx context.Context, taskID string, correctedData map[string]interface{}, notes *string) (*entity.ReviewTask, error) {
	task, err := m.pendingTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	updated, err := m.contracts.UpdateData(ctx, task.ContractID, correctedData, 100)
	if err != nil {
		m.logger.Error("Failed to apply correction to contract",
			zap.String("review_task_id", taskID),
			zap.String("contract_id", task.ContractID),
			zap.Error(err))
		return nil, apperr.Wrap(apperr.CodeDBConnectionError, "failed to update contract data", true, err)
	}
	if !updated {
		return nil, apperr.New(apperr.CodeContractNotFound,
			fmt.Sprintf("contract %q not found", task.ContractID), false)
	}

	return m.finishResolution(ctx, task, entity.ReviewCorrected, correctedData, notes, entity.StateValidated)
}

func (m *Manager) resolve(ctx context.Context, taskID string, status entity.ReviewStatus, correctedData map[string]interface{}, notes *string, target entity.State) (*entity.ReviewTask, error) {
	task, err := m.pendingTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return m.finishResolution(ctx, task, status, correctedData, notes, target)
}

func (m *Manager) pendingTask(ctx context.Context, taskID string) (*entity.ReviewTask, error) {
	task, err := m.store.GetByID(ctx, taskID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDBConnectionError, "failed to fetch review task", true, err)
	}
	if task == nil {
		return nil, apperr.New(apperr.CodeReviewNotFound,
			fmt.Sprintf("review task %q not found", taskID), false)
	}
	if task.Status.IsResolved() {
		return nil, apperr.New(apperr.CodeReviewResolved,
			fmt.Sprintf("review task %q already resolved with status %q", taskID, task.Status), false)
	}
	return task, nil
}

func (m *Manager) finishResolution(ctx context.Context, task *entity.ReviewTask, status entity.ReviewStatus, correctedData map[string]interface{}, notes *string, target entity.State) (*entity.ReviewTask, error) {
	reviewedAt := m.now()
	resolved, err := m.store.Resolve(ctx, task.ID, status, correctedData, notes, reviewedAt)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDBConnectionError, "failed to resolve review task", true, err)
	}
	if !resolved {
		return nil, apperr.New(apperr.CodeReviewResolved,
			fmt.Sprintf("review task %q already resolved", task.ID), false)
	}

	if _, err := m.machine.Transition(ctx, task.WorkflowID, target, map[string]interface{}{
		"triggeredBy": "human_review",
		"reviewTask":  task.ID,
	}); err != nil {
		return nil, err
	}

	task.Status = status
	task.CorrectedData = correctedData
	task.ReviewerNotes = notes
	task.ReviewedAt = &reviewedAt

	m.logger.Info("Review task resolved",
		zap.String("workflow_id", task.WorkflowID),
		zap.String("review_task_id", task.ID),
		zap.String("status", status.String()))
	return task, nil
}
