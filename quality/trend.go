package quality

import (
	"context"
	"math"

	"github.com/liamcoop/dataquality/rules"
)

// Trend finding rule ids
const (
	RuleTrendChange        = "trend-yoy-change"
	RuleTrendZeroToNonzero = "trend-zero-to-nonzero"
	RuleTrendOutlier       = "trend-zscore-outlier"
	RuleTrendUnavailable   = "trend-history-unavailable"
)

// TrendConfig tunes the anomaly thresholds
type TrendConfig struct {
	// Threshold is the year-over-year change in percent above which a warning is raised
	Threshold float64 `json:"threshold" yaml:"threshold"`
	// ZThreshold is the z-score above which a value is flagged as an outlier
	ZThreshold float64 `json:"z_threshold" yaml:"z_threshold"`
	// HighZThreshold escalates outliers from info to warning
	HighZThreshold float64 `json:"high_z_threshold" yaml:"high_z_threshold"`
	// MinSeries is the number of prior periods needed for the z-score check
	MinSeries int `json:"min_series" yaml:"min_series"`
}

// DefaultTrendConfig returns the thresholds used for environmental metrics
func DefaultTrendConfig() TrendConfig {
	return TrendConfig{
		Threshold:      50.0,
		ZThreshold:     2.0,
		HighZThreshold: 3.0,
		MinSeries:      3,
	}
}

// withDefaults fills zero values from DefaultTrendConfig
func (c TrendConfig) withDefaults() TrendConfig {
	d := DefaultTrendConfig()
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.ZThreshold <= 0 {
		c.ZThreshold = d.ZThreshold
	}
	if c.HighZThreshold <= 0 {
		c.HighZThreshold = d.HighZThreshold
	}
	if c.MinSeries <= 0 {
		c.MinSeries = d.MinSeries
	}
	return c
}

// TrendDetector flags values that deviate from the prior period or from the
// metric's own history. It never emits Error findings.
type TrendDetector struct{}

// NewTrendDetector creates a trend detector
func NewTrendDetector() *TrendDetector {
	return &TrendDetector{}
}

// Check compares value for period against the prior period and the historical
// distribution. History failures yield a single info finding.
func (d *TrendDetector) Check(ctx context.Context, field string, companyID, period int, value float64, history HistoryPort, cfg TrendConfig) []rules.Finding {
	cfg = cfg.withDefaults()

	var findings []rules.Finding
	var lookupErr error

	prior, found, err := history.Get(ctx, companyID, field, period-1)
	switch {
	case err != nil:
		lookupErr = err
	case found:
		if f, ok := d.priorChange(field, period, value, prior, cfg); ok {
			findings = append(findings, f)
		}
	}

	series, err := history.Series(ctx, companyID, field)
	if err != nil {
		if lookupErr == nil {
			lookupErr = err
		}
	} else if f, ok := d.outlier(field, period, value, series, cfg); ok {
		findings = append(findings, f)
	}

	if lookupErr != nil {
		params := map[string]any{"field": field, "period": period, "error": lookupErr.Error()}
		findings = append(findings, rules.Finding{
			Field:    field,
			Severity: rules.SeverityInfo,
			RuleID:   RuleTrendUnavailable,
			Message:  rules.RenderMessage("trend check for {field} skipped: history unavailable", params),
			Params:   params,
		})
	}

	return findings
}

func (d *TrendDetector) priorChange(field string, period int, value, prior float64, cfg TrendConfig) (rules.Finding, bool) {
	params := map[string]any{
		"field":           field,
		"period":          period,
		"previous_period": period - 1,
		"current":         value,
		"previous":        prior,
	}

	if prior == 0 {
		if value <= 0 {
			return rules.Finding{}, false
		}
		return rules.Finding{
			Field:    field,
			Severity: rules.SeverityWarning,
			RuleID:   RuleTrendZeroToNonzero,
			Message:  rules.RenderMessage("{field} jumped from 0 in {previous_period} to {current} in {period}", params),
			Params:   params,
		}, true
	}

	change := math.Abs(value-prior) / math.Abs(prior) * 100
	if change <= cfg.Threshold {
		return rules.Finding{}, false
	}

	params["change_percent"] = math.Round(change*100) / 100
	params["threshold"] = cfg.Threshold
	return rules.Finding{
		Field:    field,
		Severity: rules.SeverityWarning,
		RuleID:   RuleTrendChange,
		Message:  rules.RenderMessage("{field} changed {change_percent}% from {previous} ({previous_period}) to {current} ({period})", params),
		Params:   params,
	}, true
}

func (d *TrendDetector) outlier(field string, period int, value float64, series []HistoryPoint, cfg TrendConfig) (rules.Finding, bool) {
	// only earlier periods describe the distribution the value is judged against
	var values []float64
	for _, p := range series {
		if p.Period < period {
			values = append(values, p.Value)
		}
	}
	if len(values) < cfg.MinSeries {
		return rules.Finding{}, false
	}

	mean, stddev := meanStddev(values)
	if stddev == 0 {
		return rules.Finding{}, false
	}

	z := math.Abs(value-mean) / stddev
	if z <= cfg.ZThreshold {
		return rules.Finding{}, false
	}

	severity, level := rules.SeverityInfo, "medium"
	if z > cfg.HighZThreshold {
		severity, level = rules.SeverityWarning, "high"
	}

	params := map[string]any{
		"field":   field,
		"period":  period,
		"current": value,
		"mean":    math.Round(mean*100) / 100,
		"stddev":  math.Round(stddev*100) / 100,
		"z_score": math.Round(z*100) / 100,
		"level":   level,
		"samples": len(values),
	}
	return rules.Finding{
		Field:    field,
		Severity: severity,
		RuleID:   RuleTrendOutlier,
		Message:  rules.RenderMessage("{field} value {current} is {z_score} standard deviations from its historical mean {mean}", params),
		Params:   params,
	}, true
}

// meanStddev returns the mean and population standard deviation
func meanStddev(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}
