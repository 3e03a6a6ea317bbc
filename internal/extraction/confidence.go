package extraction

import (
	"encoding/json"

	"github.com/garyjia/contract-pipeline/internal/domain/entity"
)

// Penalty points per validation finding.
const (
	PenaltyVerticalMismatch = 30.0
	PenaltyMissingField     = 15.0
	PenaltyEmptyField       = 10.0
	PenaltyOutOfRange       = 10.0
)

// ReviewThreshold is the final confidence below which human review is forced.
const ReviewThreshold = 80.0

// Adjustment is one confidence penalty with the finding that caused it.
type Adjustment struct {
	Reason  string  `json:"reason"`
	Penalty float64 `json:"penalty"`
	Field   string  `json:"field,omitempty"`
}

// ScoreResult is the deterministic outcome of validating an extraction.
type ScoreResult struct {
	FinalConfidence float64
	Adjustments     []Adjustment
	NeedsReview     bool
}

// Score applies the validation checks in fixed order (vertical match, required
// fields, range rules), subtracts the penalties from the model's self-reported
// confidence, and clamps the result to [0,100]. Review is required when the
// final confidence falls below ReviewThreshold or any finding exists,
// whichever fires first.
func Score(extracted map[string]interface{}, llmConfidence float64, requiredFields []string, rules []entity.FieldRule) ScoreResult {
	adjustments := []Adjustment{}

	if match, ok := extracted["vertical_match"].(bool); ok && !match {
		adjustments = append(adjustments, Adjustment{
			Reason:  "vertical_mismatch",
			Penalty: PenaltyVerticalMismatch,
			Field:   "vertical_match",
		})
	}

	for _, field := range requiredFields {
		value, present := extracted[field]
		switch {
		case !present:
			adjustments = append(adjustments, Adjustment{
				Reason:  "missing_field",
				Penalty: PenaltyMissingField,
				Field:   field,
			})
		case isEmpty(value):
			adjustments = append(adjustments, Adjustment{
				Reason:  "empty_field",
				Penalty: PenaltyEmptyField,
				Field:   field,
			})
		}
	}

	for _, rule := range rules {
		value, ok := toNumber(extracted[rule.Field])
		if !ok {
			continue
		}
		if (rule.Min != nil && value < *rule.Min) || (rule.Max != nil && value > *rule.Max) {
			adjustments = append(adjustments, Adjustment{
				Reason:  "out_of_range",
				Penalty: PenaltyOutOfRange,
				Field:   rule.Field,
			})
		}
	}

	total := 0.0
	for _, a := range adjustments {
		total += a.Penalty
	}

	final := clamp(llmConfidence-total, 0, 100)

	return ScoreResult{
		FinalConfidence: final,
		Adjustments:     adjustments,
		NeedsReview:     final < ReviewThreshold || len(adjustments) > 0,
	}
}

func isEmpty(value interface{}) bool {
	if value == nil {
		return true
	}
	s, ok := value.(string)
	return ok && s == ""
}

func toNumber(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
