package pipeline

import (
	"testing"

	"github.com/garyjia/contract-pipeline/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareTariffsBuildsAlternative(t *testing.T) {
	contract := &entity.Contract{
		ExtractedData: map[string]interface{}{
			"provider":     "E.ON",
			"tariff_name":  "Basic",
			"monthly_rate": 100.0,
		},
	}

	result := CompareTariffs(contract)

	assert.Equal(t, "E.ON", result.CurrentTariff.Provider)
	assert.Equal(t, "Basic", result.CurrentTariff.TariffName)
	assert.Equal(t, 100.0, result.CurrentTariff.MonthlyRate)

	require.Len(t, result.Alternatives, 1)
	alt := result.Alternatives[0]
	assert.Equal(t, "SwitchUp Best", alt.Provider)
	assert.InDelta(t, 85.0, alt.MonthlyRate, 0.001)
	assert.InDelta(t, 15.0, alt.MonthlySavings, 0.001)
}

func TestCompareTariffsWithoutRate(t *testing.T) {
	contract := &entity.Contract{
		ExtractedData: map[string]interface{}{
			"provider": "E.ON",
		},
	}

	result := CompareTariffs(contract)
	assert.Empty(t, result.Alternatives, "no rate means no savings claim")
	assert.Equal(t, 0.0, result.CurrentTariff.MonthlyRate)
}
