package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Oss53pa/Atlas-Finance-sub012/internal/accounting"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/allocation"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/continuity"
	"github.com/Oss53pa/Atlas-Finance-sub012/internal/shared"
	_ "github.com/Oss53pa/Atlas-Finance-sub012/testing"
)

const sampleYAML = `
allocation:
  legal_reserve:
    rate: 0.05
    ceiling: 1000000
    accumulated: 250000
  statutory_reserve:
    fixed: 100000
  optional_reserve:
    fixed: 200000
  dividends:
    rate: "0.25"
continuity:
  critical_multiple: 2
  compliant_levels: [LOW]
  metrics:
    - name: quick_ratio
      control_type: LIQUIDITY
      polarity: HIGHER_IS_BETTER
      threshold: 1
      critical: 0.5
      numerator:
        - prefix: "5"
      denominator:
        - prefix: "40"
          negate: true
      recommendations:
        HIGH:
          - "Raise {metric} above {threshold}."
`

func TestParseYAML(t *testing.T) {
	doc, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	require.True(t, doc.Allocation.LegalReserve.Rate.Equal(decimal.RequireFromString("0.05")))
	require.Equal(t, accounting.Amount(1000000), doc.Allocation.LegalReserve.Ceiling)
	require.NotNil(t, doc.Allocation.StatutoryReserve.Fixed)
	require.Equal(t, accounting.Amount(100000), *doc.Allocation.StatutoryReserve.Fixed)
	require.NotNil(t, doc.Allocation.Dividends.Rate)
	require.True(t, doc.Allocation.Dividends.Rate.Equal(decimal.RequireFromString("0.25")))

	require.Equal(t, 2.0, doc.Continuity.CriticalMultiple)
	require.Equal(t, []continuity.RiskLevel{continuity.RiskLow}, doc.Continuity.CompliantLevels)
	require.Len(t, doc.Continuity.Metrics, 1)
	m := doc.Continuity.Metrics[0]
	require.Equal(t, continuity.HigherIsBetter, m.Polarity)
	require.Equal(t, []continuity.Term{{Prefix: "40", Negate: true}}, m.Denominator)
	require.Equal(t, []string{"Raise {metric} above {threshold}."}, m.Recommendations[continuity.RiskHigh])

	a, err := allocation.Allocate(2024, 1450000, doc.Allocation)
	require.NoError(t, err)
	require.Equal(t, accounting.Amount(72500), a.LegalReservesAmount)
	require.Equal(t, accounting.Amount(362500), a.DividendsAmount)
}

func TestParseJSON(t *testing.T) {
	doc, err := Parse([]byte(`{"allocation":{"legal_reserve":{"rate":0.1},"dividends":{"fixed":5000}}}`))
	require.NoError(t, err)
	require.True(t, doc.Allocation.LegalReserve.Rate.Equal(decimal.RequireFromString("0.1")))
	require.Equal(t, continuity.DefaultConfig().Metrics, doc.Continuity.Metrics)
}

func TestParseRejectsMalformedDocuments(t *testing.T) {
	cases := map[string]string{
		"negative rate":  "allocation:\n  legal_reserve:\n    rate: -0.05\n",
		"unknown field":  "allocation:\n  legal_reserv:\n    rate: 0.05\n",
		"zero threshold": "continuity:\n  metrics:\n    - name: x\n      control_type: LIQUIDITY\n      polarity: HIGHER_IS_BETTER\n      threshold: 0\n      critical: 0\n      numerator: [{prefix: \"5\"}]\n      denominator: [{prefix: \"40\"}]\n",
		"bad polarity":   "continuity:\n  metrics:\n    - name: x\n      control_type: LIQUIDITY\n      polarity: UP\n      threshold: 1\n      numerator: [{prefix: \"5\"}]\n      denominator: [{prefix: \"40\"}]\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			require.ErrorIs(t, err, shared.ErrConfiguration)
		})
	}
}

func TestLoad(t *testing.T) {
	doc, err := Load("")
	require.NoError(t, err)
	require.NoError(t, doc.Validate())
	require.Equal(t, Default().Continuity, doc.Continuity)

	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))
	doc, err = Load(path)
	require.NoError(t, err)
	require.Len(t, doc.Continuity.Metrics, 1)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
