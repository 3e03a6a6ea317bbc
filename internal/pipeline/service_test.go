package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/garyjia/contract-pipeline/internal/domain/entity"
	"github.com/garyjia/contract-pipeline/internal/extraction"
	"github.com/garyjia/contract-pipeline/internal/prompt"
	"github.com/garyjia/contract-pipeline/internal/registry"
	"github.com/garyjia/contract-pipeline/internal/review"
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
	if errorMessage != nil {
		wf.ErrorMessage = errorMessage
	}
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

// fakeRegistryStore serves reference data from maps with injectable failures.
type fakeRegistryStore struct {
	verticalsBySlug map[string]*entity.Vertical
	verticalsByID   map[string]*entity.Vertical
	providers       map[string]*entity.Provider
	slugErr         error
	idErr           error
	providerErr     error
}

func (f *fakeRegistryStore) VerticalBySlug(_ context.Context, slug string) (*entity.Vertical, error) {
	if f.slugErr != nil {
		return nil, f.slugErr
	}
	return f.verticalsBySlug[slug], nil
}

func (f *fakeRegistryStore) VerticalByID(_ context.Context, id string) (*entity.Vertical, error) {
	if f.idErr != nil {
		return nil, f.idErr
	}
	return f.verticalsByID[id], nil
}

func (f *fakeRegistryStore) ProviderBySlug(_ context.Context, slug, _ string) (*entity.Provider, error) {
	if f.providerErr != nil {
		return nil, f.providerErr
	}
	return f.providers[slug], nil
}

func (f *fakeRegistryStore) ActiveProviderConfig(_ context.Context, _ string) (*entity.ProviderConfig, error) {
	return nil, nil
}

// fakeReviewStore keeps tasks in memory; Insert can be made to fail.
type fakeReviewStore struct {
	tasks     []*entity.ReviewTask
	insertErr error
}

func (f *fakeReviewStore) Insert(_ context.Context, task *entity.ReviewTask) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	task.ID = fmt.Sprintf("rt-%d", len(f.tasks)+1)
	copied := *task
	f.tasks = append(f.tasks, &copied)
	return nil
}

func (f *fakeReviewStore) GetByID(_ context.Context, id string) (*entity.ReviewTask, error) {
	for _, task := range f.tasks {
		if task.ID == id {
			copied := *task
			return &copied, nil
		}
	}
	return nil, nil
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
	for _, task := range f.tasks {
		if task.ID == id && task.Status == entity.ReviewPending {
			task.Status = status
			task.CorrectedData = correctedData
			task.ReviewerNotes = notes
			task.ReviewedAt = &reviewedAt
			return true, nil
		}
	}
	return false, nil
}

// fakeContractRepo serves both the pipeline's and the review manager's slice
// of contract persistence.
type fakeContractRepo struct {
	byWorkflow map[string]*entity.Contract
	insertErr  error
}

func newFakeContractRepo() *fakeContractRepo {
	return &fakeContractRepo{byWorkflow: make(map[string]*entity.Contract)}
}

func (f *fakeContractRepo) Insert(_ context.Context, c *entity.Contract) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	c.ID = fmt.Sprintf("c-%d", len(f.byWorkflow)+1)
	copied := *c
	f.byWorkflow[c.WorkflowID] = &copied
	return nil
}

func (f *fakeContractRepo) GetByWorkflowID(_ context.Context, workflowID string) (*entity.Contract, error) {
	c, ok := f.byWorkflow[workflowID]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (f *fakeContractRepo) UpdateData(_ context.Context, contractID string, data map[string]interface{}, finalConfidence float64) (bool, error) {
	for _, c := range f.byWorkflow {
		if c.ID == contractID {
			c.ExtractedData = data
			c.FinalConfidence = finalConfidence
			return true, nil
		}
	}
	return false, nil
}

type fakePromptSource struct {
	prompt *prompt.Compiled
	err    error
}

func (f *fakePromptSource) FetchPrompt(context.Context, string, string) (*prompt.Compiled, error) {
	return f.prompt, f.err
}

type fakeChatClient struct {
	responses []string
	calls     int
}

func (f *fakeChatClient) Chat(_ context.Context, _, _ string) (*extraction.ChatResponse, error) {
	content := f.responses[f.calls]
	f.calls++
	return &extraction.ChatResponse{Content: content, Model: "test-model", LatencyMs: 5}, nil
}

type pipelineFixture struct {
	svc        *Service
	machine    *workflow.Service
	workflows  *fakeWorkflowStore
	registry   *fakeRegistryStore
	reviews    *fakeReviewStore
	contracts  *fakeContractRepo
	chat       *fakeChatClient
	workflowID string
}

// newPipelineFixture wires a real pipeline service over in-memory stores with
// one workflow parked in extracting, ready for Extract.
func newPipelineFixture(t *testing.T, responses ...string) *pipelineFixture {
	t.Helper()
	nop := zap.NewNop()

	wfStore := newFakeWorkflowStore()
	machine := workflow.NewService(wfStore, nop)

	vertical := &entity.Vertical{
		ID:                 "v-1",
		Slug:               "energy",
		DefaultPromptName:  "contract-extraction-energy",
		BaseRequiredFields: []string{"provider", "monthly_rate"},
	}
	regStore := &fakeRegistryStore{
		verticalsBySlug: map[string]*entity.Vertical{"energy": vertical},
		verticalsByID:   map[string]*entity.Vertical{"v-1": vertical},
	}
	resolver := registry.NewResolver(regStore, nop)

	source := &fakePromptSource{prompt: &prompt.Compiled{
		Name:   "contract-extraction-energy",
		Prompt: "Extract from {{contract_text}}",
	}}
	chat := &fakeChatClient{responses: responses}
	cache := prompt.NewCache(source, 0, nop)
	extractor := extraction.NewOrchestrator(cache, chat, nil, "production", nop)

	reviewStore := &fakeReviewStore{}
	contracts := newFakeContractRepo()
	manager := review.NewManager(reviewStore, contracts, machine, time.Hour, nop)

	svc := NewService(machine, resolver, extractor, contracts, manager, nil, nil, nop)

	wf, err := machine.Create(context.Background(), workflow.CreateInput{VerticalID: "v-1"})
	require.NoError(t, err)
	for _, to := range []entity.State{entity.StateParsingPDF, entity.StateExtracting} {
		_, err = machine.Transition(context.Background(), wf.ID, to, nil)
		require.NoError(t, err)
	}

	return &pipelineFixture{
		svc:        svc,
		machine:    machine,
		workflows:  wfStore,
		registry:   regStore,
		reviews:    reviewStore,
		contracts:  contracts,
		chat:       chat,
		workflowID: wf.ID,
	}
}

func (fx *pipelineFixture) workflowState(t *testing.T) entity.State {
	t.Helper()
	wf, err := fx.machine.Get(context.Background(), fx.workflowID)
	require.NoError(t, err)
	return wf.State
}

func (fx *pipelineFixture) lastLog(t *testing.T) entity.WorkflowStateLog {
	t.Helper()
	logs := fx.workflows.logs[fx.workflowID]
	require.NotEmpty(t, logs)
	return logs[len(logs)-1]
}

func TestExtractValidatesCleanContract(t *testing.T) {
	fx := newPipelineFixture(t,
		`{"provider": "E.ON", "monthly_rate": 49.9, "vertical_match": true, "confidence": 95}`)

	out, err := fx.svc.Extract(context.Background(), fx.workflowID, "contract text", "energy")
	require.NoError(t, err)

	assert.Equal(t, entity.StateValidated, out.State)
	assert.False(t, out.NeedsReview)
	assert.Equal(t, 95.0, out.FinalConfidence)
	assert.Equal(t, entity.StateValidated, fx.workflowState(t))
	require.NotNil(t, fx.contracts.byWorkflow[fx.workflowID])
}

func TestExtractOpensReviewTaskBeforeTransition(t *testing.T) {
	// monthly_rate missing drops the score to 70 and forces review.
	fx := newPipelineFixture(t,
		`{"provider": "E.ON", "vertical_match": true, "confidence": 85}`)

	out, err := fx.svc.Extract(context.Background(), fx.workflowID, "contract text", "energy")
	require.NoError(t, err)

	assert.Equal(t, entity.StateReviewRequired, out.State)
	assert.True(t, out.NeedsReview)
	require.NotEmpty(t, out.ReviewTaskID)
	require.Len(t, fx.reviews.tasks, 1)
	assert.Equal(t, entity.ReviewPending, fx.reviews.tasks[0].Status)
	assert.Equal(t, entity.StateReviewRequired, fx.workflowState(t))
}

func TestExtractFailsWorkflowWhenVerticalLookupFails(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.registry.slugErr = errors.New("db down")

	_, err := fx.svc.Extract(context.Background(), fx.workflowID, "contract text", "energy")
	require.Error(t, err)

	// The failure is escalated before the error surfaces: state, audit log
	// and retry counter all reflect it.
	assert.Equal(t, entity.StateFailed, fx.workflowState(t))
	assert.Equal(t, 1, fx.workflows.workflows[fx.workflowID].RetryCount)
	last := fx.lastLog(t)
	assert.Equal(t, entity.StateFailed, last.ToState)
	assert.Equal(t, "extracting", last.Metadata["failedAtStep"])
}

func TestExtractFailsWorkflowWhenConfigLookupFails(t *testing.T) {
	fx := newPipelineFixture(t)
	fx.registry.idErr = errors.New("db down")

	_, err := fx.svc.Extract(context.Background(), fx.workflowID, "contract text", "energy")
	require.Error(t, err)

	assert.Equal(t, entity.StateFailed, fx.workflowState(t))
	assert.Equal(t, "extracting", fx.lastLog(t).Metadata["failedAtStep"])
	assert.Zero(t, fx.chat.calls, "no model call without a merged config")
}

func TestExtractDegradesWhenProviderLookupFails(t *testing.T) {
	fx := newPipelineFixture(t,
		`{"provider": "E.ON", "monthly_rate": 49.9, "vertical_match": true, "confidence": 95}`)
	fx.registry.providerErr = errors.New("db down")

	out, err := fx.svc.Extract(context.Background(), fx.workflowID, "contract text", "energy")
	require.NoError(t, err, "a failed provider lookup falls back to vertical defaults")

	assert.Equal(t, entity.StateValidated, out.State)
	assert.Nil(t, fx.contracts.byWorkflow[fx.workflowID].ProviderID)
}

func TestExtractFailsWorkflowWhenReviewTaskCreationFails(t *testing.T) {
	fx := newPipelineFixture(t,
		`{"provider": "E.ON", "vertical_match": true, "confidence": 85}`)
	fx.reviews.insertErr = errors.New("disk full")

	_, err := fx.svc.Extract(context.Background(), fx.workflowID, "contract text", "energy")
	require.Error(t, err)

	// The task is created while the workflow is still in validating, so its
	// failure is escalated from there instead of stranding the workflow in
	// review_required with no task.
	assert.Equal(t, entity.StateFailed, fx.workflowState(t))
	last := fx.lastLog(t)
	assert.Equal(t, "validating", last.Metadata["failedAtStep"])
	for _, log := range fx.workflows.logs[fx.workflowID] {
		assert.NotEqual(t, entity.StateReviewRequired, log.ToState)
	}
}
