package pipeline

import (
	"github.com/garyjia/contract-pipeline/internal/domain/entity"
)

// ComparisonResult is the output of the tariff-comparison step.
type ComparisonResult struct {
	WorkflowID    string                 `json:"workflowId"`
	State         entity.State           `json:"state"`
	CurrentTariff CurrentTariff          `json:"currentTariff"`
	Alternatives  []AlternativeTariff    `json:"alternatives"`
	ContractData  map[string]interface{} `json:"contractData"`
}

// CurrentTariff summarizes the contract the customer holds today.
type CurrentTariff struct {
	Provider    string  `json:"provider"`
	TariffName  string  `json:"tariffName"`
	MonthlyRate float64 `json:"monthlyRate"`
}

// AlternativeTariff is one cheaper offer from the comparison catalog.
type AlternativeTariff struct {
	Provider       string  `json:"provider"`
	TariffName     string  `json:"tariffName"`
	MonthlyRate    float64 `json:"monthlyRate"`
	MonthlySavings float64 `json:"monthlySavings"`
}

// CompareTariffs builds the comparison for a validated contract. The offer
// catalog integration is not wired yet, so the single alternative is derived
// from the contract's own monthly rate at a fixed discount.
func CompareTariffs(contract *entity.Contract) *ComparisonResult {
	provider, _ := contract.ExtractedData["provider"].(string)
	tariffName, _ := contract.ExtractedData["tariff_name"].(string)

	monthlyRate := 0.0
	switch v := contract.ExtractedData["monthly_rate"].(type) {
	case float64:
		monthlyRate = v
	case int:
		monthlyRate = float64(v)
	}

	result := &ComparisonResult{
		CurrentTariff: CurrentTariff{
			Provider:    provider,
			TariffName:  tariffName,
			MonthlyRate: monthlyRate,
		},
		ContractData: contract.ExtractedData,
	}

	if monthlyRate > 0 {
		alternativeRate := monthlyRate * 0.85
		result.Alternatives = append(result.Alternatives, AlternativeTariff{
			Provider:       "SwitchUp Best",
			TariffName:     "Best Deal",
			MonthlyRate:    alternativeRate,
			MonthlySavings: monthlyRate - alternativeRate,
		})
	}

	return result
}
