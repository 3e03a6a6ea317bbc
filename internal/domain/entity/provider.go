package entity

import "time"

// Vertical is a business domain (energy, telco, insurance) with a default
// extraction prompt and base required fields.
type Vertical struct {
	ID                 string
	Slug               string
	DisplayName        string
	DefaultPromptName  string
	BaseRequiredFields []string
	Active             bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Provider is a specific company within a vertical whose contracts may need
// extra required fields or tighter validation ranges.
type Provider struct {
	ID          string
	Slug        string
	DisplayName string
	VerticalID  string
	Metadata    map[string]interface{}
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FieldRule bounds a numeric extracted field. Either bound is optional.
type FieldRule struct {
	Field string   `json:"field"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
}

// ProviderConfig optionally overrides vertical defaults, each field
// independently. Nil means "inherit from the vertical".
type ProviderConfig struct {
	ID                 string
	ProviderID         string
	ProductType        string
	RequiredFields     []string
	ValidationRules    []FieldRule
	LangfusePromptName *string
	Active             bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// MergedConfig is the effective extraction configuration after applying
// provider overrides on top of vertical defaults.
type MergedConfig struct {
	PromptName      string
	RequiredFields  []string
	ValidationRules []FieldRule
}
