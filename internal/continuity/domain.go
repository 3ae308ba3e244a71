package continuity

import (
	"fmt"
	"sort"

	"github.com/Oss53pa/Atlas-Finance-sub012/internal/shared"
)

// Polarity tells which direction of a metric is favourable.
type Polarity string

const (
	HigherIsBetter Polarity = "HIGHER_IS_BETTER"
	LowerIsBetter  Polarity = "LOWER_IS_BETTER"
)

// RiskLevel grades how far a metric sits from its threshold.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// DefaultCriticalMultiple applies when the config leaves it unset.
const DefaultCriticalMultiple = 1.5

// Measurement is one metric value to evaluate.
type Measurement struct {
	ControlType       string   `json:"control_type"`
	MetricName        string   `json:"metric_name"`
	CurrentValue      float64  `json:"current_value"`
	ThresholdValue    float64  `json:"threshold_value"`
	CriticalThreshold float64  `json:"critical_threshold"`
	Polarity          Polarity `json:"polarity,omitempty"`
}

// Control is the evaluated continuity control for one metric.
type Control struct {
	ControlType         string    `json:"control_type"`
	MetricName          string    `json:"metric_name"`
	Polarity            Polarity  `json:"polarity"`
	CurrentValue        float64   `json:"current_value"`
	ThresholdValue      float64   `json:"threshold_value"`
	CriticalThreshold   float64   `json:"critical_threshold"`
	RiskLevel           RiskLevel `json:"risk_level"`
	IsCompliant         bool      `json:"is_compliant"`
	DeviationPercentage *float64  `json:"deviation_percentage"`
	Recommendations     []string  `json:"recommendations"`
}

// Term selects accounts by code prefix. Negate flips credit balances positive.
type Term struct {
	Prefix string `json:"prefix" yaml:"prefix" validate:"required"`
	Negate bool   `json:"negate,omitempty" yaml:"negate,omitempty"`
}

// MetricDefinition is one row of the metric table.
type MetricDefinition struct {
	Name            string                 `json:"name" yaml:"name" validate:"required"`
	ControlType     string                 `json:"control_type" yaml:"control_type" validate:"required"`
	Polarity        Polarity               `json:"polarity" yaml:"polarity" validate:"oneof=HIGHER_IS_BETTER LOWER_IS_BETTER"`
	Threshold       float64                `json:"threshold" yaml:"threshold"`
	Critical        float64                `json:"critical" yaml:"critical"`
	Numerator       []Term                 `json:"numerator" yaml:"numerator" validate:"dive"`
	Denominator     []Term                 `json:"denominator" yaml:"denominator" validate:"dive"`
	Recommendations map[RiskLevel][]string `json:"recommendations,omitempty" yaml:"recommendations,omitempty"`
}

// Config is the continuity metric table and evaluation policy.
type Config struct {
	Metrics          []MetricDefinition `json:"metrics" yaml:"metrics" validate:"dive"`
	CriticalMultiple float64            `json:"critical_multiple,omitempty" yaml:"critical_multiple,omitempty" validate:"omitempty,gt=1"`
	// CompliantLevels lists the risk levels that count as compliant.
	// Empty means LOW and MEDIUM.
	CompliantLevels        []RiskLevel            `json:"compliant_levels,omitempty" yaml:"compliant_levels,omitempty" validate:"dive,oneof=LOW MEDIUM HIGH CRITICAL"`
	DefaultRecommendations map[RiskLevel][]string `json:"default_recommendations,omitempty" yaml:"default_recommendations,omitempty"`
}

// Validate rejects malformed metric tables before any evaluation.
func (c Config) Validate() error {
	if err := shared.ValidateStruct("continuity config", c); err != nil {
		return err
	}
	var problems []string
	seen := make(map[string]struct{}, len(c.Metrics))
	for _, m := range c.Metrics {
		if _, dup := seen[m.Name]; dup {
			problems = append(problems, fmt.Sprintf("metric %q defined twice", m.Name))
		}
		seen[m.Name] = struct{}{}
		if m.Threshold == 0 {
			problems = append(problems, fmt.Sprintf("metric %q has a zero threshold", m.Name))
		}
		if len(m.Numerator) == 0 || len(m.Denominator) == 0 {
			problems = append(problems, fmt.Sprintf("metric %q needs numerator and denominator terms", m.Name))
		}
		if shortfall(m.Polarity, m.Critical, m.Threshold) < 0 {
			problems = append(problems, fmt.Sprintf("metric %q critical %g is more favourable than threshold %g", m.Name, m.Critical, m.Threshold))
		}
	}
	sort.Strings(problems)
	return shared.NewConfigError("continuity config", problems...)
}

// Metric returns the definition named name.
func (c Config) Metric(name string) (MetricDefinition, bool) {
	for _, m := range c.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return MetricDefinition{}, false
}

func (c Config) criticalMultiple() float64 {
	if c.CriticalMultiple > 1 {
		return c.CriticalMultiple
	}
	return DefaultCriticalMultiple
}

func (c Config) compliant(level RiskLevel) bool {
	levels := c.CompliantLevels
	if len(levels) == 0 {
		levels = []RiskLevel{RiskLow, RiskMedium}
	}
	for _, l := range levels {
		if l == level {
			return true
		}
	}
	return false
}

var builtinRecommendations = map[RiskLevel][]string{
	RiskLow:      {"{metric} is within its threshold of {threshold}; keep monitoring."},
	RiskMedium:   {"{metric} is below its {threshold} target; review it at the next close."},
	RiskHigh:     {"{metric} has crossed its critical level; prepare a remediation plan."},
	RiskCritical: {"{metric} is far beyond its critical level; escalate a going-concern review."},
}

// DefaultConfig returns a metric table covering liquidity, leverage and solvency.
func DefaultConfig() Config {
	currentAssets := []Term{{Prefix: "3"}, {Prefix: "41"}, {Prefix: "5"}}
	currentLiabilities := []Term{{Prefix: "40", Negate: true}, {Prefix: "42", Negate: true}, {Prefix: "43", Negate: true}, {Prefix: "44", Negate: true}}
	equity := []Term{{Prefix: "10", Negate: true}, {Prefix: "11", Negate: true}, {Prefix: "12", Negate: true}, {Prefix: "13", Negate: true}, {Prefix: "14", Negate: true}}
	debts := append([]Term{{Prefix: "16", Negate: true}, {Prefix: "17", Negate: true}}, currentLiabilities...)
	totalAssets := append([]Term{{Prefix: "2"}}, currentAssets...)
	return Config{
		Metrics: []MetricDefinition{
			{
				Name: "general_liquidity", ControlType: "LIQUIDITY", Polarity: HigherIsBetter,
				Threshold: 1.0, Critical: 0.8,
				Numerator: currentAssets, Denominator: currentLiabilities,
				Recommendations: map[RiskLevel][]string{
					RiskHigh:     {"Current assets no longer cover short-term debts; renegotiate supplier terms."},
					RiskCritical: {"Cash shortfall risk on {metric}; secure short-term financing immediately."},
				},
			},
			{
				Name: "debt_to_equity", ControlType: "LEVERAGE", Polarity: LowerIsBetter,
				Threshold: 1.0, Critical: 2.0,
				Numerator: debts, Denominator: equity,
			},
			{
				Name: "equity_ratio", ControlType: "SOLVENCY", Polarity: HigherIsBetter,
				Threshold: 0.2, Critical: 0.1,
				Numerator: equity, Denominator: totalAssets,
			},
		},
		CriticalMultiple: DefaultCriticalMultiple,
		CompliantLevels:  []RiskLevel{RiskLow, RiskMedium},
	}
}
