package registry

import (
	"context"
	"testing"

	"github.com/garyjia/contract-pipeline/internal/domain/apperr"
	"github.com/garyjia/contract-pipeline/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRegistryStore struct {
	verticals map[string]*entity.Vertical
	providers map[string]*entity.Provider
	configs   map[string]*entity.ProviderConfig
}

func (f *fakeRegistryStore) VerticalBySlug(_ context.Context, slug string) (*entity.Vertical, error) {
	for _, v := range f.verticals {
		if v.Slug == slug {
			return v, nil
		}
	}
	return nil, nil
}

func (f *fakeRegistryStore) VerticalByID(_ context.Context, id string) (*entity.Vertical, error) {
	return f.verticals[id], nil
}

func (f *fakeRegistryStore) ProviderBySlug(_ context.Context, slug, verticalID string) (*entity.Provider, error) {
	for _, p := range f.providers {
		if p.Slug == slug && p.VerticalID == verticalID {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakeRegistryStore) ActiveProviderConfig(_ context.Context, providerID string) (*entity.ProviderConfig, error) {
	return f.configs[providerID], nil
}

func f64(v float64) *float64 { return &v }
func str(s string) *string   { return &s }

func newTestResolver() (*Resolver, *fakeRegistryStore) {
	store := &fakeRegistryStore{
		verticals: map[string]*entity.Vertical{
			"v-1": {
				ID:                 "v-1",
				Slug:               "energy",
				DefaultPromptName:  "contract-extraction-energy",
				BaseRequiredFields: []string{"provider", "monthly_rate"},
			},
		},
		providers: map[string]*entity.Provider{
			"p-1": {ID: "p-1", Slug: "eon", VerticalID: "v-1"},
		},
		configs: map[string]*entity.ProviderConfig{},
	}
	return NewResolver(store, zap.NewNop()), store
}

func TestGetVertical(t *testing.T) {
	resolver, _ := newTestResolver()

	vertical, err := resolver.GetVertical(context.Background(), "energy")
	require.NoError(t, err)
	assert.Equal(t, "v-1", vertical.ID)

	_, err = resolver.GetVertical(context.Background(), "unknown")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeVerticalNotFound))
}

func TestFindProviderMissingIsNotAnError(t *testing.T) {
	resolver, _ := newTestResolver()

	provider, err := resolver.FindProvider(context.Background(), "eon", "v-1")
	require.NoError(t, err)
	require.NotNil(t, provider)
	assert.Equal(t, "p-1", provider.ID)

	provider, err = resolver.FindProvider(context.Background(), "nobody", "v-1")
	require.NoError(t, err)
	assert.Nil(t, provider)
}

func TestGetMergedConfig(t *testing.T) {
	tests := []struct {
		name           string
		config         *entity.ProviderConfig
		providerID     *string
		wantPrompt     string
		wantFields     []string
		wantRuleFields []string
	}{
		{
			name:       "no provider uses vertical defaults",
			providerID: nil,
			wantPrompt: "contract-extraction-energy",
			wantFields: []string{"provider", "monthly_rate"},
		},
		{
			name:       "provider without config uses vertical defaults",
			providerID: str("p-1"),
			wantPrompt: "contract-extraction-energy",
			wantFields: []string{"provider", "monthly_rate"},
		},
		{
			name:       "full override replaces every field",
			providerID: str("p-1"),
			config: &entity.ProviderConfig{
				RequiredFields:     []string{"provider", "annual_consumption_kwh"},
				ValidationRules:    []entity.FieldRule{{Field: "monthly_rate", Min: f64(5)}},
				LangfusePromptName: str("contract-extraction-eon"),
			},
			wantPrompt:     "contract-extraction-eon",
			wantFields:     []string{"provider", "annual_consumption_kwh"},
			wantRuleFields: []string{"monthly_rate"},
		},
		{
			name:       "partial override keeps inherited fields",
			providerID: str("p-1"),
			config: &entity.ProviderConfig{
				ValidationRules: []entity.FieldRule{{Field: "monthly_rate", Max: f64(500)}},
			},
			wantPrompt:     "contract-extraction-energy",
			wantFields:     []string{"provider", "monthly_rate"},
			wantRuleFields: []string{"monthly_rate"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver, store := newTestResolver()
			if tt.config != nil {
				store.configs["p-1"] = tt.config
			}

			merged, err := resolver.GetMergedConfig(context.Background(), "v-1", tt.providerID)
			require.NoError(t, err)

			assert.Equal(t, tt.wantPrompt, merged.PromptName)
			assert.Equal(t, tt.wantFields, merged.RequiredFields)

			ruleFields := make([]string, 0, len(merged.ValidationRules))
			for _, r := range merged.ValidationRules {
				ruleFields = append(ruleFields, r.Field)
			}
			assert.Equal(t, append([]string{}, tt.wantRuleFields...), ruleFields)
		})
	}
}

func TestGetMergedConfigUnknownVertical(t *testing.T) {
	resolver, _ := newTestResolver()

	_, err := resolver.GetMergedConfig(context.Background(), "v-missing", nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeVerticalNotFound))
}

func TestProviderSlug(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"E.ON", "e.on"},
		{"  Vattenfall  ", "vattenfall"},
		{"Deutsche Telekom", "deutsche-telekom"},
		{"MULTI   SPACE  NAME", "multi-space-name"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ProviderSlug(tt.in), "input %q", tt.in)
	}
}
