package review

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/garyjia/contract-pipeline/internal/domain/apperr"
	"github.com/garyjia/contract-pipeline/internal/domain/entity"
	"github.com/garyjia/contract-pipeline/internal/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeWorkflowStore backs the state machine with the same conditional-swap
// semantics as the SQLite repository.
type fakeWorkflowStore struct {
	workflows map[string]*entity.Workflow
	logs      map[string][]entity.WorkflowStateLog
}

func newFakeWorkflowStore() *fakeWorkflowStore {
	return &fakeWorkflowStore{
		workflows: make(map[string]*entity.Workflow),
		logs:      make(map[string][]entity.WorkflowStateLog),
	}
}

func (f *fakeWorkflowStore) Insert(_ context.Context, wf *entity.Workflow) error {
	wf.ID = fmt.Sprintf("wf-%d", len(f.workflows)+1)
	copied := *wf
	f.workflows[wf.ID] = &copied
	return nil
}

func (f *fakeWorkflowStore) GetByID(_ context.Context, id string) (*entity.Workflow, error) {
	wf, ok := f.workflows[id]
	if !ok {
		return nil, nil
	}
	copied := *wf
	return &copied, nil
}

func (f *fakeWorkflowStore) SwapState(_ context.Context, id string, from, to entity.State, errorMessage *string, metadata map[string]interface{}) (bool, error) {
	wf, ok := f.workflows[id]
	if !ok || wf.State != from {
		return false, nil
	}
	wf.State = to
	fromCopy := from
	f.logs[id] = append(f.logs[id], entity.WorkflowStateLog{
		WorkflowID: id,
		FromState:  &fromCopy,
		ToState:    to,
		Metadata:   metadata,
	})
	return true, nil
}

func (f *fakeWorkflowStore) IncrementRetryCount(_ context.Context, id string) (int, error) {
	f.workflows[id].RetryCount++
	return f.workflows[id].RetryCount, nil
}

func (f *fakeWorkflowStore) UpdatePDFStoragePath(_ context.Context, id, path string) error {
	f.workflows[id].PDFStoragePath = path
	return nil
}

func (f *fakeWorkflowStore) History(_ context.Context, id string) ([]entity.WorkflowStateLog, error) {
	return f.logs[id], nil
}

// fakeReviewStore keeps tasks in memory with pending-only resolution.
type fakeReviewStore struct {
	tasks map[string]*entity.ReviewTask
}

func newFakeReviewStore() *fakeReviewStore {
	return &fakeReviewStore{tasks: make(map[string]*entity.ReviewTask)}
}

func (f *fakeReviewStore) Insert(_ context.Context, task *entity.ReviewTask) error {
	task.ID = fmt.Sprintf("rt-%d", len(f.tasks)+1)
	copied := *task
	f.tasks[task.ID] = &copied
	return nil
}

func (f *fakeReviewStore) GetByID(_ context.Context, id string) (*entity.ReviewTask, error) {
	task, ok := f.tasks[id]
	if !ok {
		return nil, nil
	}
	copied := *task
	return &copied, nil
}

func (f *fakeReviewStore) PendingByWorkflow(_ context.Context, workflowID string) (*entity.ReviewTask, error) {
	for _, task := range f.tasks {
		if task.WorkflowID == workflowID && task.Status == entity.ReviewPending {
			copied := *task
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeReviewStore) Pending(_ context.Context) ([]entity.ReviewTask, error) {
	var out []entity.ReviewTask
	for _, task := range f.tasks {
		if task.Status == entity.ReviewPending {
			out = append(out, *task)
		}
	}
	return out, nil
}

func (f *fakeReviewStore) TimedOut(_ context.Context, now time.Time) ([]entity.ReviewTask, error) {
	var out []entity.ReviewTask
	for _, task := range f.tasks {
		if task.Status == entity.ReviewPending && task.TimeoutAt != nil && !task.TimeoutAt.After(now) {
			out = append(out, *task)
		}
	}
	return out, nil
}

func (f *fakeReviewStore) Resolve(_ context.Context, id string, status entity.ReviewStatus, correctedData map[string]interface{}, notes *string, reviewedAt time.Time) (bool, error) {
	task, ok := f.tasks[id]
	if !ok || task.Status != entity.ReviewPending {
		return false, nil
	}
	task.Status = status
	if correctedData != nil {
		task.CorrectedData = correctedData
	}
	if notes != nil {
		task.ReviewerNotes = notes
	}
	task.ReviewedAt = &reviewedAt
	return true, nil
}

type fakeContractStore struct {
	data       map[string]map[string]interface{}
	confidence map[string]float64
	updateErr  error
	missing    bool
}

func newFakeContractStore() *fakeContractStore {
	return &fakeContractStore{
		data:       make(map[string]map[string]interface{}),
		confidence: make(map[string]float64),
	}
}

func (f *fakeContractStore) UpdateData(_ context.Context, contractID string, data map[string]interface{}, finalConfidence float64) (bool, error) {
	if f.updateErr != nil {
		return false, f.updateErr
	}
	if f.missing {
		return false, nil
	}
	f.data[contractID] = data
	f.confidence[contractID] = finalConfidence
	return true, nil
}

type reviewFixture struct {
	manager    *Manager
	reviews    *fakeReviewStore
	contracts  *fakeContractStore
	workflows  *fakeWorkflowStore
	machine    *workflow.Service
	workflowID string
	taskID     string
}

// newReviewFixture builds a manager with one workflow parked in
// review_required and one pending task for it.
func newReviewFixture(t *testing.T) *reviewFixture {
	t.Helper()

	wfStore := newFakeWorkflowStore()
	machine := workflow.NewService(wfStore, zap.NewNop())
	reviews := newFakeReviewStore()
	contracts := newFakeContractStore()
	manager := NewManager(reviews, contracts, machine, time.Hour, zap.NewNop())

	wf, err := machine.Create(context.Background(), workflow.CreateInput{VerticalID: "v-1"})
	require.NoError(t, err)
	for _, to := range []entity.State{entity.StateParsingPDF, entity.StateExtracting, entity.StateValidating, entity.StateReviewRequired} {
		_, err = machine.Transition(context.Background(), wf.ID, to, nil)
		require.NoError(t, err)
	}

	task, err := manager.Create(context.Background(), wf.ID, "c-1", manager.ComputeTimeoutAt())
	require.NoError(t, err)

	return &reviewFixture{
		manager:    manager,
		reviews:    reviews,
		contracts:  contracts,
		workflows:  wfStore,
		machine:    machine,
		workflowID: wf.ID,
		taskID:     task.ID,
	}
}

func (fx *reviewFixture) workflowState(t *testing.T) entity.State {
	t.Helper()
	wf, err := fx.machine.Get(context.Background(), fx.workflowID)
	require.NoError(t, err)
	return wf.State
}

func TestApproveMovesWorkflowToValidated(t *testing.T) {
	fx := newReviewFixture(t)

	notes := "looks right"
	task, err := fx.manager.Approve(context.Background(), fx.taskID, &notes)
	require.NoError(t, err)

	assert.Equal(t, entity.ReviewApproved, task.Status)
	assert.NotNil(t, task.ReviewedAt)
	assert.Equal(t, entity.StateValidated, fx.workflowState(t))

	logs := fx.workflows.logs[fx.workflowID]
	last := logs[len(logs)-1]
	assert.Equal(t, "human_review", last.Metadata["triggeredBy"])
	assert.Equal(t, fx.taskID, last.Metadata["reviewTask"])
}

func TestRejectMovesWorkflowToRejected(t *testing.T) {
	fx := newReviewFixture(t)

	task, err := fx.manager.Reject(context.Background(), fx.taskID, nil)
	require.NoError(t, err)
	assert.Equal(t, entity.ReviewRejected, task.Status)
	assert.Equal(t, entity.StateRejected, fx.workflowState(t))
}

func TestTimeoutMovesWorkflowToTimedOut(t *testing.T) {
	fx := newReviewFixture(t)

	task, err := fx.manager.Timeout(context.Background(), fx.taskID)
	require.NoError(t, err)
	assert.Equal(t, entity.ReviewTimedOut, task.Status)
	assert.Equal(t, entity.StateTimedOut, fx.workflowState(t))
}

func TestCorrectWritesContractBeforeResolving(t *testing.T) {
	fx := newReviewFixture(t)

	corrected := map[string]interface{}{"monthly_rate": 49.99}
	task, err := fx.manager.Correct(context.Background(), fx.taskID, corrected, nil)
	require.NoError(t, err)

	assert.Equal(t, entity.ReviewCorrected, task.Status)
	assert.Equal(t, entity.StateValidated, fx.workflowState(t))
	assert.Equal(t, corrected, fx.contracts.data["c-1"])
	assert.Equal(t, 100.0, fx.contracts.confidence["c-1"])
}

func TestCorrectLeavesTaskPendingWhenContractWriteFails(t *testing.T) {
	fx := newReviewFixture(t)
	fx.contracts.updateErr = errors.New("disk full")

	_, err := fx.manager.Correct(context.Background(), fx.taskID, map[string]interface{}{"x": 1}, nil)
	require.Error(t, err)

	// The task stays pending and the workflow is untouched, so the reviewer
	// can retry the correction.
	stored := fx.reviews.tasks[fx.taskID]
	assert.Equal(t, entity.ReviewPending, stored.Status)
	assert.Equal(t, entity.StateReviewRequired, fx.workflowState(t))
}

func TestSecondResolutionConflicts(t *testing.T) {
	fx := newReviewFixture(t)

	_, err := fx.manager.Approve(context.Background(), fx.taskID, nil)
	require.NoError(t, err)

	_, err = fx.manager.Reject(context.Background(), fx.taskID, nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeReviewResolved))

	// First resolution wins; nothing about the task or workflow changed.
	assert.Equal(t, entity.ReviewApproved, fx.reviews.tasks[fx.taskID].Status)
	assert.Equal(t, entity.StateValidated, fx.workflowState(t))
}

func TestResolveUnknownTask(t *testing.T) {
	fx := newReviewFixture(t)

	_, err := fx.manager.Approve(context.Background(), "missing", nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeReviewNotFound))
}

func TestTimedOutQuery(t *testing.T) {
	fx := newReviewFixture(t)

	before, err := fx.manager.TimedOut(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, before)

	after, err := fx.manager.TimedOut(context.Background(), time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, fx.taskID, after[0].ID)
}
