package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/garyjia/contract-pipeline/internal/domain/entity"
	"github.com/garyjia/contract-pipeline/pkg/database"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ContractRepository persists extracted contract data.
type ContractRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewContractRepository creates a new contract repository.
func NewContractRepository(db *database.DB, logger *zap.Logger) *ContractRepository {
	return &ContractRepository{db: db, logger: logger}
}

// Insert creates a contract row. Confidence values are stored at two-decimal
// precision.
func (r *ContractRepository) Insert(ctx context.Context, c *entity.Contract) error {
	c.ID = uuid.NewString()
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now

	data, err := json.Marshal(c.ExtractedData)
	if err != nil {
		return fmt.Errorf("failed to marshal extracted data: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO contracts (id, workflow_id, vertical_id, provider_id,
			extracted_data, llm_confidence, final_confidence, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.WorkflowID, c.VerticalID, nullString(c.ProviderID),
		string(data), round2(c.LLMConfidence), round2(c.FinalConfidence), now, now)
	if err != nil {
		r.logger.Error("Failed to insert contract",
			zap.String("workflow_id", c.WorkflowID),
			zap.Error(err))
		return fmt.Errorf("failed to insert contract: %w", err)
	}
	return nil
}

// GetByID returns the contract, or nil when no row exists.
func (r *ContractRepository) GetByID(ctx context.Context, id string) (*entity.Contract, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, contractSelect+` WHERE id = ?`, id))
}

// GetByWorkflowID returns the workflow's contract, or nil when none exists.
func (r *ContractRepository) GetByWorkflowID(ctx context.Context, workflowID string) (*entity.Contract, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, contractSelect+` WHERE workflow_id = ?`, workflowID))
}

// UpdateData replaces the extracted data and final confidence. Returns false
// when the contract does not exist.
func (r *ContractRepository) UpdateData(ctx context.Context, contractID string, data map[string]interface{}, finalConfidence float64) (bool, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return false, fmt.Errorf("failed to marshal extracted data: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE contracts SET extracted_data = ?, final_confidence = ?, updated_at = ?
		WHERE id = ?`,
		string(raw), round2(finalConfidence), time.Now().UTC(), contractID)
	if err != nil {
		return false, fmt.Errorf("failed to update contract data: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

const contractSelect = `
	SELECT id, workflow_id, vertical_id, provider_id,
		extracted_data, llm_confidence, final_confidence, created_at, updated_at
	FROM contracts`

func (r *ContractRepository) scanOne(row *sql.Row) (*entity.Contract, error) {
	var c entity.Contract
	var providerID sql.NullString
	var data string
	err := row.Scan(&c.ID, &c.WorkflowID, &c.VerticalID, &providerID,
		&data, &c.LLMConfidence, &c.FinalConfidence, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan contract: %w", err)
	}
	c.ProviderID = stringPtr(providerID)
	if err := json.Unmarshal([]byte(data), &c.ExtractedData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal extracted data: %w", err)
	}
	return &c, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
