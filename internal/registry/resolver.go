package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyjia/contract-pipeline/internal/domain/apperr"
	"github.com/garyjia/contract-pipeline/internal/domain/entity"
	"go.uber.org/zap"
)

// Store is the reference-data persistence capability. Lookups return
// (nil, nil) when the row does not exist.
type Store interface {
	VerticalBySlug(ctx context.Context, slug string) (*entity.Vertical, error)
	VerticalByID(ctx context.Context, id string) (*entity.Vertical, error)
	ProviderBySlug(ctx context.Context, slug, verticalID string) (*entity.Provider, error)
	ActiveProviderConfig(ctx context.Context, providerID string) (*entity.ProviderConfig, error)
}

// Resolver merges vertical defaults with provider-specific overrides.
type Resolver struct {
	store  Store
	logger *zap.Logger
}

// NewResolver creates a provider config resolver.
func NewResolver(store Store, logger *zap.Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

// GetVertical loads a vertical by slug.
func (r *Resolver) GetVertical(ctx context.Context, slug string) (*entity.Vertical, error) {
	vertical, err := r.store.VerticalBySlug(ctx, slug)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDBConnectionError, "failed to fetch vertical", true, err)
	}
	if vertical == nil {
		r.logger.Warn("Vertical not found", zap.String("slug", slug))
		return nil, apperr.New(apperr.CodeVerticalNotFound,
			fmt.Sprintf("vertical %q not found", slug), false)
	}
	return vertical, nil
}

// FindProvider looks a provider up by slug within a vertical. A missing
// provider is not an error; the pipeline simply falls back to vertical
// defaults.
func (r *Resolver) FindProvider(ctx context.Context, slug, verticalID string) (*entity.Provider, error) {
	provider, err := r.store.ProviderBySlug(ctx, slug, verticalID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDBConnectionError, "failed to fetch provider", true, err)
	}
	if provider == nil {
		r.logger.Debug("Provider not found",
			zap.String("slug", slug),
			zap.String("vertical_id", verticalID))
	}
	return provider, nil
}

// GetMergedConfig returns the effective extraction config for the vertical,
// with provider overrides applied field by field when an active provider
// config exists.
func (r *Resolver) GetMergedConfig(ctx context.Context, verticalID string, providerID *string) (*entity.MergedConfig, error) {
	vertical, err := r.store.VerticalByID(ctx, verticalID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDBConnectionError, "failed to fetch vertical", true, err)
	}
	if vertical == nil {
		return nil, apperr.New(apperr.CodeVerticalNotFound,
			fmt.Sprintf("vertical with id %q not found", verticalID), false)
	}

	merged := &entity.MergedConfig{
		PromptName:      vertical.DefaultPromptName,
		RequiredFields:  vertical.BaseRequiredFields,
		ValidationRules: []entity.FieldRule{},
	}

	if providerID == nil {
		r.logger.Debug("No provider specified, using vertical defaults",
			zap.String("vertical_id", verticalID))
		return merged, nil
	}

	config, err := r.store.ActiveProviderConfig(ctx, *providerID)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDBConnectionError, "failed to fetch provider config", true, err)
	}
	if config == nil {
		r.logger.Debug("No provider config found, using vertical defaults",
			zap.String("vertical_id", verticalID),
			zap.String("provider_id", *providerID))
		return merged, nil
	}

	if config.LangfusePromptName != nil {
		merged.PromptName = *config.LangfusePromptName
	}
	if config.RequiredFields != nil {
		merged.RequiredFields = config.RequiredFields
	}
	if config.ValidationRules != nil {
		merged.ValidationRules = config.ValidationRules
	}
	return merged, nil
}

// ProviderSlug normalizes an extracted provider name into a lookup slug.
func ProviderSlug(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(name))), "-")
}
