package entity

import "time"

// Contract holds the structured data extracted from one contract document.
// Created once per workflow at the validating step; extracted data is replaced
// only by a human correction, which forces FinalConfidence to 100.
type Contract struct {
	ID              string
	WorkflowID      string
	VerticalID      string
	ProviderID      *string
	ExtractedData   map[string]interface{}
	LLMConfidence   float64
	FinalConfidence float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
