package continuity

import (
	"math"
	"strconv"
	"strings"

	"github.com/Oss53pa/Atlas-Finance-sub012/internal/accounting"
)

// Evaluate grades each measurement against its threshold and critical level.
// Output order follows the input.
func Evaluate(measurements []Measurement, cfg Config) []Control {
	out := make([]Control, 0, len(measurements))
	for _, m := range measurements {
		def, known := cfg.Metric(m.MetricName)
		polarity := m.Polarity
		if polarity == "" && known {
			polarity = def.Polarity
		}
		if polarity == "" {
			polarity = HigherIsBetter
		}
		controlType := m.ControlType
		if controlType == "" {
			controlType = def.ControlType
		}
		level := riskLevel(polarity, m.CurrentValue, m.ThresholdValue, m.CriticalThreshold, cfg.criticalMultiple())
		out = append(out, Control{
			ControlType:         controlType,
			MetricName:          m.MetricName,
			Polarity:            polarity,
			CurrentValue:        m.CurrentValue,
			ThresholdValue:      m.ThresholdValue,
			CriticalThreshold:   m.CriticalThreshold,
			RiskLevel:           level,
			IsCompliant:         cfg.compliant(level),
			DeviationPercentage: deviation(m.CurrentValue, m.ThresholdValue),
			Recommendations:     recommendations(def, cfg, level, m),
		})
	}
	return out
}

// shortfall is how much worse v is than ref; negative when v is more favourable.
func shortfall(p Polarity, v, ref float64) float64 {
	if p == LowerIsBetter {
		return v - ref
	}
	return ref - v
}

func riskLevel(p Polarity, current, threshold, critical, multiple float64) RiskLevel {
	if shortfall(p, current, threshold) <= 0 {
		return RiskLow
	}
	beyond := shortfall(p, current, critical)
	switch {
	case beyond < 0:
		return RiskMedium
	case beyond > (multiple-1)*math.Abs(critical):
		return RiskCritical
	default:
		return RiskHigh
	}
}

func deviation(current, threshold float64) *float64 {
	if threshold == 0 {
		return nil
	}
	d := math.Round((current-threshold)/threshold*100*100) / 100
	return &d
}

func recommendations(def MetricDefinition, cfg Config, level RiskLevel, m Measurement) []string {
	templates := def.Recommendations[level]
	if len(templates) == 0 {
		templates = cfg.DefaultRecommendations[level]
	}
	if len(templates) == 0 {
		templates = builtinRecommendations[level]
	}
	r := strings.NewReplacer(
		"{metric}", m.MetricName,
		"{threshold}", strconv.FormatFloat(m.ThresholdValue, 'f', -1, 64),
	)
	out := make([]string, 0, len(templates))
	for _, t := range templates {
		out = append(out, r.Replace(t))
	}
	return out
}

// Measure derives metric values from closing balances. Metrics whose
// denominator is zero cannot be computed and are returned in skipped.
func Measure(balances map[string]accounting.Amount, defs []MetricDefinition) (measurements []Measurement, skipped []string) {
	measurements = make([]Measurement, 0, len(defs))
	for _, def := range defs {
		den := sumTerms(balances, def.Denominator)
		if den == 0 {
			skipped = append(skipped, def.Name)
			continue
		}
		num := sumTerms(balances, def.Numerator)
		measurements = append(measurements, Measurement{
			ControlType:       def.ControlType,
			MetricName:        def.Name,
			CurrentValue:      math.Round(float64(num)/float64(den)*10000) / 10000,
			ThresholdValue:    def.Threshold,
			CriticalThreshold: def.Critical,
			Polarity:          def.Polarity,
		})
	}
	return measurements, skipped
}

func sumTerms(balances map[string]accounting.Amount, terms []Term) accounting.Amount {
	var total accounting.Amount
	for code, bal := range balances {
		for _, t := range terms {
			if strings.HasPrefix(code, t.Prefix) {
				if t.Negate {
					total -= bal
				} else {
					total += bal
				}
				break
			}
		}
	}
	return total
}
