package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/contract-pipeline/internal/domain/entity"
	"github.com/garyjia/contract-pipeline/pkg/database"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RegistryRepository implements registry.Store on SQLite.
type RegistryRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewRegistryRepository creates a new reference-data repository.
func NewRegistryRepository(db *database.DB, logger *zap.Logger) *RegistryRepository {
	return &RegistryRepository{db: db, logger: logger}
}

const verticalSelect = `
	SELECT id, slug, display_name, default_prompt_name, base_required_fields,
		active, created_at, updated_at
	FROM verticals`

// VerticalBySlug returns the vertical, or nil when no row exists.
func (r *RegistryRepository) VerticalBySlug(ctx context.Context, slug string) (*entity.Vertical, error) {
	return scanVertical(r.db.QueryRowContext(ctx, verticalSelect+` WHERE slug = ?`, slug))
}

// VerticalByID returns the vertical, or nil when no row exists.
func (r *RegistryRepository) VerticalByID(ctx context.Context, id string) (*entity.Vertical, error) {
	return scanVertical(r.db.QueryRowContext(ctx, verticalSelect+` WHERE id = ?`, id))
}

// ProviderBySlug returns the provider within a vertical, or nil.
func (r *RegistryRepository) ProviderBySlug(ctx context.Context, slug, verticalID string) (*entity.Provider, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, slug, display_name, vertical_id, metadata, active, created_at, updated_at
		FROM providers WHERE slug = ? AND vertical_id = ?`, slug, verticalID)

	var p entity.Provider
	var metadata sql.NullString
	err := row.Scan(&p.ID, &p.Slug, &p.DisplayName, &p.VerticalID, &metadata,
		&p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan provider: %w", err)
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &p.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal provider metadata: %w", err)
		}
	}
	return &p, nil
}

// ActiveProviderConfig returns the provider's active config, or nil.
// Validation rules keep the stored mapping order so scoring output stays
// reproducible.
func (r *RegistryRepository) ActiveProviderConfig(ctx context.Context, providerID string) (*entity.ProviderConfig, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, provider_id, product_type, required_fields, validation_rules,
			langfuse_prompt_name, active, created_at, updated_at
		FROM provider_configs WHERE provider_id = ? AND active = 1
		ORDER BY updated_at DESC`, providerID)

	var c entity.ProviderConfig
	var requiredFields, validationRules, promptName sql.NullString
	err := row.Scan(&c.ID, &c.ProviderID, &c.ProductType, &requiredFields, &validationRules,
		&promptName, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan provider config: %w", err)
	}

	if requiredFields.Valid && requiredFields.String != "" {
		if err := json.Unmarshal([]byte(requiredFields.String), &c.RequiredFields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal required fields: %w", err)
		}
	}
	if validationRules.Valid && validationRules.String != "" {
		rules, err := parseOrderedRules(validationRules.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse validation rules: %w", err)
		}
		c.ValidationRules = rules
	}
	c.LangfusePromptName = stringPtr(promptName)
	return &c, nil
}

// SeedVertical inserts or refreshes a vertical row, returning its id.
func (r *RegistryRepository) SeedVertical(ctx context.Context, v *entity.Vertical) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	fields, err := json.Marshal(v.BaseRequiredFields)
	if err != nil {
		return fmt.Errorf("failed to marshal required fields: %w", err)
	}
	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO verticals (id, slug, display_name, default_prompt_name,
			base_required_fields, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			display_name = excluded.display_name,
			default_prompt_name = excluded.default_prompt_name,
			base_required_fields = excluded.base_required_fields,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		v.ID, v.Slug, v.DisplayName, v.DefaultPromptName, string(fields), v.Active, now, now)
	if err != nil {
		return fmt.Errorf("failed to seed vertical: %w", err)
	}
	return r.db.QueryRowContext(ctx, `SELECT id FROM verticals WHERE slug = ?`, v.Slug).Scan(&v.ID)
}

// SeedProvider inserts or refreshes a provider row, returning its id.
func (r *RegistryRepository) SeedProvider(ctx context.Context, p *entity.Provider) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	var metadata interface{}
	if p.Metadata != nil {
		raw, err := json.Marshal(p.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal provider metadata: %w", err)
		}
		metadata = string(raw)
	}
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO providers (id, slug, display_name, vertical_id, metadata, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slug, vertical_id) DO UPDATE SET
			display_name = excluded.display_name,
			metadata = excluded.metadata,
			active = excluded.active,
			updated_at = excluded.updated_at`,
		p.ID, p.Slug, p.DisplayName, p.VerticalID, metadata, p.Active, now, now)
	if err != nil {
		return fmt.Errorf("failed to seed provider: %w", err)
	}
	return r.db.QueryRowContext(ctx,
		`SELECT id FROM providers WHERE slug = ? AND vertical_id = ?`, p.Slug, p.VerticalID).Scan(&p.ID)
}

// SeedProviderConfig inserts or refreshes a provider config row.
// validationRules is raw JSON so the mapping order written by the operator is
// kept verbatim.
func (r *RegistryRepository) SeedProviderConfig(ctx context.Context, providerID, productType string, requiredFields []string, validationRulesJSON string, promptName *string) error {
	var fields interface{}
	if requiredFields != nil {
		raw, err := json.Marshal(requiredFields)
		if err != nil {
			return fmt.Errorf("failed to marshal required fields: %w", err)
		}
		fields = string(raw)
	}
	var rules interface{}
	if validationRulesJSON != "" {
		rules = validationRulesJSON
	}
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO provider_configs (id, provider_id, product_type, required_fields,
			validation_rules, langfuse_prompt_name, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(provider_id, product_type) DO UPDATE SET
			required_fields = excluded.required_fields,
			validation_rules = excluded.validation_rules,
			langfuse_prompt_name = excluded.langfuse_prompt_name,
			active = 1,
			updated_at = excluded.updated_at`,
		uuid.NewString(), providerID, productType, fields, rules, nullString(promptName), now, now)
	if err != nil {
		return fmt.Errorf("failed to seed provider config: %w", err)
	}
	return nil
}

func scanVertical(row *sql.Row) (*entity.Vertical, error) {
	var v entity.Vertical
	var fields string
	err := row.Scan(&v.ID, &v.Slug, &v.DisplayName, &v.DefaultPromptName, &fields,
		&v.Active, &v.CreatedAt, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan vertical: %w", err)
	}
	if err := json.Unmarshal([]byte(fields), &v.BaseRequiredFields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal required fields: %w", err)
	}
	return &v, nil
}

// parseOrderedRules decodes a {"field": {"min": x, "max": y}} mapping into a
// slice preserving the document's key order, which plain map decoding loses.
func parseOrderedRules(raw string) ([]entity.FieldRule, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("validation rules must be a JSON object")
	}

	var rules []entity.FieldRule
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		field, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token in validation rules")
		}

		var bounds struct {
			Min *float64 `json:"min"`
			Max *float64 `json:"max"`
		}
		if err := dec.Decode(&bounds); err != nil {
			return nil, err
		}
		rules = append(rules, entity.FieldRule{Field: field, Min: bounds.Min, Max: bounds.Max})
	}
	return rules, nil
}
