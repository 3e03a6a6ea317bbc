package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/garyjia/contract-pipeline/internal/domain/entity"
	"github.com/garyjia/contract-pipeline/pkg/database"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReviewRepository implements review.Store on SQLite.
type ReviewRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewReviewRepository creates a new review task repository.
func NewReviewRepository(db *database.DB, logger *zap.Logger) *ReviewRepository {
	return &ReviewRepository{db: db, logger: logger}
}

// Insert creates a review task row.
func (r *ReviewRepository) Insert(ctx context.Context, task *entity.ReviewTask) error {
	task.ID = uuid.NewString()
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	var timeoutAt interface{}
	if task.TimeoutAt != nil {
		timeoutAt = task.TimeoutAt.UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO review_tasks (id, workflow_id, contract_id, status,
			corrected_data, reviewer_notes, timeout_at, reviewed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, NULL, NULL, ?, NULL, ?, ?)`,
		task.ID, task.WorkflowID, task.ContractID, task.Status.String(), timeoutAt, now, now)
	if err != nil {
		r.logger.Error("Failed to insert review task",
			zap.String("workflow_id", task.WorkflowID),
			zap.Error(err))
		return fmt.Errorf("failed to insert review task: %w", err)
	}
	return nil
}

// GetByID returns the task, or nil when no row exists.
func (r *ReviewRepository) GetByID(ctx context.Context, id string) (*entity.ReviewTask, error) {
	tasks, err := r.query(ctx, reviewSelect+` WHERE id = ?`, id)
	if err != nil || len(tasks) == 0 {
		return nil, err
	}
	return &tasks[0], nil
}

// PendingByWorkflow returns the oldest unresolved task for a workflow, or nil.
func (r *ReviewRepository) PendingByWorkflow(ctx context.Context, workflowID string) (*entity.ReviewTask, error) {
	tasks, err := r.query(ctx, reviewSelect+`
		WHERE workflow_id = ? AND status = 'pending' ORDER BY created_at ASC`, workflowID)
	if err != nil || len(tasks) == 0 {
		return nil, err
	}
	return &tasks[0], nil
}

// Pending returns all unresolved tasks, oldest first.
func (r *ReviewRepository) Pending(ctx context.Context) ([]entity.ReviewTask, error) {
	return r.query(ctx, reviewSelect+` WHERE status = 'pending' ORDER BY created_at ASC`)
}

// TimedOut returns unresolved tasks whose advisory deadline has elapsed.
func (r *ReviewRepository) TimedOut(ctx context.Context, now time.Time) ([]entity.ReviewTask, error) {
	return r.query(ctx, reviewSelect+`
		WHERE status = 'pending' AND timeout_at IS NOT NULL AND timeout_at <= ?
		ORDER BY created_at ASC`, now.UTC())
}

// Resolve moves a pending task to its terminal status. The WHERE clause on
// status makes resolution one-way and exactly-once; false means another
// caller got there first.
func (r *ReviewRepository) Resolve(ctx context.Context, id string, status entity.ReviewStatus, correctedData map[string]interface{}, notes *string, reviewedAt time.Time) (bool, error) {
	var dataJSON sql.NullString
	if correctedData != nil {
		raw, err := json.Marshal(correctedData)
		if err != nil {
			return false, fmt.Errorf("failed to marshal corrected data: %w", err)
		}
		dataJSON = sql.NullString{String: string(raw), Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE review_tasks
		SET status = ?, corrected_data = COALESCE(?, corrected_data),
			reviewer_notes = COALESCE(?, reviewer_notes),
			reviewed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		status.String(), dataJSON, nullString(notes), reviewedAt.UTC(), time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("failed to resolve review task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

const reviewSelect = `
	SELECT id, workflow_id, contract_id, status,
		corrected_data, reviewer_notes, timeout_at, reviewed_at, created_at, updated_at
	FROM review_tasks`

func (r *ReviewRepository) query(ctx context.Context, q string, args ...interface{}) ([]entity.ReviewTask, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query review tasks: %w", err)
	}
	defer rows.Close()

	var tasks []entity.ReviewTask
	for rows.Next() {
		var t entity.ReviewTask
		var correctedData, notes sql.NullString
		var timeoutAt, reviewedAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.WorkflowID, &t.ContractID, &t.Status,
			&correctedData, &notes, &timeoutAt, &reviewedAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review task: %w", err)
		}
		if correctedData.Valid && correctedData.String != "" {
			if err := json.Unmarshal([]byte(correctedData.String), &t.CorrectedData); err != nil {
				return nil, fmt.Errorf("failed to unmarshal corrected data: %w", err)
			}
		}
		t.ReviewerNotes = stringPtr(notes)
		if timeoutAt.Valid {
			v := timeoutAt.Time
			t.TimeoutAt = &v
		}
		if reviewedAt.Valid {
			v := reviewedAt.Time
			t.ReviewedAt = &v
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
