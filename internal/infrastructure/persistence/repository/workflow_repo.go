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

// WorkflowRepository implements workflow.Store on SQLite.
type WorkflowRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *database.DB, logger *zap.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// Insert creates the workflow row and its creation audit entry in one
// transaction.
func (r *WorkflowRepository) Insert(ctx context.Context, wf *entity.Workflow) error {
	wf.ID = uuid.NewString()
	now := time.Now().UTC()
	wf.CreatedAt = now
	wf.UpdatedAt = now

	return r.db.WithTransaction(func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO workflows (id, vertical_id, provider_id, pdf_storage_path, pdf_filename,
				state, retry_count, error_message, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 0, NULL, ?, ?)`,
			wf.ID, wf.VerticalID, nullString(wf.ProviderID), wf.PDFStoragePath,
			nullString(wf.PDFFilename), wf.State.String(), now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert workflow: %w", err)
		}
		return r.appendStateLog(ctx, tx, wf.ID, nil, wf.State, nil, now)
	})
}

// GetByID returns the workflow, or nil when no row exists.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*entity.Workflow, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, vertical_id, provider_id, pdf_storage_path, pdf_filename,
			state, retry_count, error_message, created_at, updated_at
		FROM workflows WHERE id = ?`, id)
	return scanWorkflow(row)
}

// SwapState atomically moves the workflow from → to and appends the audit
// entry, committing both together. Returns false without writing anything
// when the stored state no longer equals from.
func (r *WorkflowRepository) SwapState(ctx context.Context, id string, from, to entity.State, errorMessage *string, metadata map[string]interface{}) (bool, error) {
	now := time.Now().UTC()
	swapped := false

	err := r.db.WithTransaction(func(tx *sql.Tx) error {
		var res sql.Result
		var err error
		if to == entity.StateFailed {
			res, err = tx.ExecContext(ctx, `
				UPDATE workflows SET state = ?, error_message = ?, updated_at = ?
				WHERE id = ? AND state = ?`,
				to.String(), nullString(errorMessage), now, id, from.String())
		} else {
			res, err = tx.ExecContext(ctx, `
				UPDATE workflows SET state = ?, updated_at = ?
				WHERE id = ? AND state = ?`,
				to.String(), now, id, from.String())
		}
		if err != nil {
			return fmt.Errorf("failed to update workflow state: %w", err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if affected == 0 {
			return nil
		}

		if err := r.appendStateLog(ctx, tx, id, &from, to, metadata, now); err != nil {
			return err
		}
		swapped = true
		return nil
	})
	return swapped, err
}

// IncrementRetryCount bumps the retry counter and returns the new value.
func (r *WorkflowRepository) IncrementRetryCount(ctx context.Context, id string) (int, error) {
	_, err := r.db.ExecContext(ctx, `
		UPDATE workflows SET retry_count = retry_count + 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return 0, fmt.Errorf("failed to increment retry count: %w", err)
	}

	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT retry_count FROM workflows WHERE id = ?`, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to read retry count: %w", err)
	}
	return count, nil
}

// UpdatePDFStoragePath records the stored document location.
func (r *WorkflowRepository) UpdatePDFStoragePath(ctx context.Context, id, path string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE workflows SET pdf_storage_path = ?, updated_at = ? WHERE id = ?`,
		path, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update pdf storage path: %w", err)
	}
	return nil
}

// History returns the audit trail in acceptance order.
func (r *WorkflowRepository) History(ctx context.Context, id string) ([]entity.WorkflowStateLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, workflow_id, from_state, to_state, metadata, created_at
		FROM workflow_state_logs WHERE workflow_id = ?
		ORDER BY created_at ASC, rowid ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query state logs: %w", err)
	}
	defer rows.Close()

	var entries []entity.WorkflowStateLog
	for rows.Next() {
		var e entity.WorkflowStateLog
		var fromState, metadata sql.NullString
		if err := rows.Scan(&e.ID, &e.WorkflowID, &fromState, &e.ToState, &metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan state log: %w", err)
		}
		if fromState.Valid {
			s := entity.State(fromState.String)
			e.FromState = &s
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
				r.logger.Warn("Unparseable state log metadata",
					zap.String("log_id", e.ID),
					zap.Error(err))
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *WorkflowRepository) appendStateLog(ctx context.Context, tx *sql.Tx, workflowID string, from *entity.State, to entity.State, metadata map[string]interface{}, at time.Time) error {
	var metaJSON sql.NullString
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal transition metadata: %w", err)
		}
		metaJSON = sql.NullString{String: string(raw), Valid: true}
	}

	var fromStr sql.NullString
	if from != nil {
		fromStr = sql.NullString{String: from.String(), Valid: true}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO workflow_state_logs (id, workflow_id, from_state, to_state, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), workflowID, fromStr, to.String(), metaJSON, at)
	if err != nil {
		return fmt.Errorf("failed to append state log: %w", err)
	}
	return nil
}

func scanWorkflow(row *sql.Row) (*entity.Workflow, error) {
	var wf entity.Workflow
	var providerID, pdfFilename, errorMessage sql.NullString
	err := row.Scan(&wf.ID, &wf.VerticalID, &providerID, &wf.PDFStoragePath, &pdfFilename,
		&wf.State, &wf.RetryCount, &errorMessage, &wf.CreatedAt, &wf.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}
	wf.ProviderID = stringPtr(providerID)
	wf.PDFFilename = stringPtr(pdfFilename)
	wf.ErrorMessage = stringPtr(errorMessage)
	return &wf, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
