package quality

import (
	"context"
	"errors"
	"testing"

	"github.com/liamcoop/dataquality/rules"
)

type failingHistory struct {
	getErr    error
	seriesErr error
	inner     HistoryPort
}

func (h *failingHistory) Get(ctx context.Context, companyID int, field string, period int) (float64, bool, error) {
	if h.getErr != nil {
		return 0, false, h.getErr
	}
	return h.inner.Get(ctx, companyID, field, period)
}

func (h *failingHistory) Series(ctx context.Context, companyID int, field string) ([]HistoryPoint, error) {
	if h.seriesErr != nil {
		return nil, h.seriesErr
	}
	return h.inner.Series(ctx, companyID, field)
}

func findingIDs(findings []rules.Finding) []string {
	ids := make([]string, len(findings))
	for i, f := range findings {
		ids[i] = f.RuleID
	}
	return ids
}

// TestTrendPriorChangeThreshold verifies 160 vs 100 warns and 140 vs 100 does not
func TestTrendPriorChangeThreshold(t *testing.T) {
	h := NewMemoryHistory()
	h.Put(1, "energy_consumption", 2022, 100)
	d := NewTrendDetector()
	cfg := TrendConfig{Threshold: 50.0}

	findings := d.Check(context.Background(), "energy_consumption", 1, 2023, 160, h, cfg)
	if len(findings) != 1 {
		t.Fatalf("Check(160) returned %v, want one finding", findingIDs(findings))
	}
	f := findings[0]
	if f.RuleID != RuleTrendChange || f.Severity != rules.SeverityWarning {
		t.Errorf("finding = %+v", f)
	}
	if f.Params["change_percent"] != 60.0 {
		t.Errorf("change_percent = %v, want 60", f.Params["change_percent"])
	}
	if f.Params["previous"] != 100.0 || f.Params["current"] != 160.0 {
		t.Errorf("params = %v", f.Params)
	}

	if findings := d.Check(context.Background(), "energy_consumption", 1, 2023, 140, h, cfg); len(findings) != 0 {
		t.Errorf("Check(140) returned %v, want none", findingIDs(findings))
	}

	// exactly at the threshold does not warn
	if findings := d.Check(context.Background(), "energy_consumption", 1, 2023, 150, h, cfg); len(findings) != 0 {
		t.Errorf("Check(150) returned %v, want none", findingIDs(findings))
	}

	// decreases count too
	if findings := d.Check(context.Background(), "energy_consumption", 1, 2023, 40, h, cfg); len(findings) != 1 {
		t.Errorf("Check(40) returned %v, want one finding", findingIDs(findings))
	}
}

// TestTrendZeroPrior verifies the zero-to-nonzero guard
func TestTrendZeroPrior(t *testing.T) {
	h := NewMemoryHistory()
	h.Put(1, "waste_generated", 2022, 0)
	d := NewTrendDetector()

	findings := d.Check(context.Background(), "waste_generated", 1, 2023, 5, h, DefaultTrendConfig())
	if len(findings) != 1 {
		t.Fatalf("Check() returned %v, want one finding", findingIDs(findings))
	}
	if findings[0].RuleID != RuleTrendZeroToNonzero || findings[0].Severity != rules.SeverityWarning {
		t.Errorf("finding = %+v", findings[0])
	}

	if findings := d.Check(context.Background(), "waste_generated", 1, 2023, 0, h, DefaultTrendConfig()); len(findings) != 0 {
		t.Errorf("Check(0 after 0) returned %v, want none", findingIDs(findings))
	}
}

// TestTrendMissingPrior verifies a missing prior skips the change check but not the z-score check
func TestTrendMissingPrior(t *testing.T) {
	h := NewMemoryHistory()
	for year, v := range map[int]float64{2018: 100, 2019: 102, 2020: 98, 2021: 101} {
		h.Put(1, "water_withdrawal", year, v)
	}
	d := NewTrendDetector()

	// 2022 is missing, so the 2023 value has no prior but is a clear outlier
	findings := d.Check(context.Background(), "water_withdrawal", 1, 2023, 500, h, DefaultTrendConfig())
	if len(findings) != 1 || findings[0].RuleID != RuleTrendOutlier {
		t.Fatalf("Check() returned %v, want only %s", findingIDs(findings), RuleTrendOutlier)
	}
}

// TestTrendZScore verifies info and high (warning) outlier levels
func TestTrendZScore(t *testing.T) {
	h := NewMemoryHistory()
	// mean 100, population stddev 10
	h.Put(1, "scope1_emissions", 2019, 90)
	h.Put(1, "scope1_emissions", 2020, 110)
	h.Put(1, "scope1_emissions", 2021, 90)
	h.Put(1, "scope1_emissions", 2022, 110)
	d := NewTrendDetector()
	cfg := TrendConfig{Threshold: 1000} // isolate the z-score check

	testCases := []struct {
		name      string
		value     float64
		wantCount int
		severity  rules.Severity
		level     string
	}{
		{"within two sigma", 115, 0, "", ""},
		{"exactly two sigma", 120, 0, "", ""},
		{"two and a half sigma", 125, 1, rules.SeverityInfo, "medium"},
		{"beyond three sigma", 135, 1, rules.SeverityWarning, "high"},
		{"below mean", 60, 1, rules.SeverityWarning, "high"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			findings := d.Check(context.Background(), "scope1_emissions", 1, 2023, tc.value, h, cfg)
			if len(findings) != tc.wantCount {
				t.Fatalf("Check(%v) returned %v, want %d findings", tc.value, findingIDs(findings), tc.wantCount)
			}
			if tc.wantCount == 0 {
				return
			}
			f := findings[0]
			if f.RuleID != RuleTrendOutlier || f.Severity != tc.severity || f.Params["level"] != tc.level {
				t.Errorf("finding = %+v", f)
			}
		})
	}
}

// TestTrendZScoreNeedsHistory verifies fewer than three prior points or zero spread skip the check
func TestTrendZScoreNeedsHistory(t *testing.T) {
	d := NewTrendDetector()
	cfg := TrendConfig{Threshold: 1e9}

	short := NewMemoryHistory()
	short.Put(1, "f", 2021, 10)
	short.Put(1, "f", 2022, 12)
	if findings := d.Check(context.Background(), "f", 1, 2023, 1000, short, cfg); len(findings) != 0 {
		t.Errorf("Check() with 2 points returned %v, want none", findingIDs(findings))
	}

	flat := NewMemoryHistory()
	for _, y := range []int{2019, 2020, 2021, 2022} {
		flat.Put(1, "f", y, 50)
	}
	if findings := d.Check(context.Background(), "f", 1, 2023, 1000, flat, cfg); len(findings) != 0 {
		t.Errorf("Check() with zero stddev returned %v, want none", findingIDs(findings))
	}
}

// TestTrendIgnoresCurrentAndLaterPeriods verifies the distribution only uses earlier periods
func TestTrendIgnoresCurrentAndLaterPeriods(t *testing.T) {
	h := NewMemoryHistory()
	h.Put(1, "f", 2020, 100)
	h.Put(1, "f", 2021, 100)
	h.Put(1, "f", 2023, 5000) // the value being re-validated
	h.Put(1, "f", 2024, 9000)

	findings := NewTrendDetector().Check(context.Background(), "f", 1, 2023, 5000, h, TrendConfig{Threshold: 1000})
	if len(findings) != 0 {
		t.Errorf("Check() returned %v, want none (only two earlier periods)", findingIDs(findings))
	}
}

// TestTrendHistoryUnavailable verifies lookup failures degrade to one info finding
func TestTrendHistoryUnavailable(t *testing.T) {
	inner := NewMemoryHistory()
	for year, v := range map[int]float64{2019: 100, 2020: 100, 2021: 110, 2022: 90} {
		inner.Put(1, "f", year, v)
	}
	d := NewTrendDetector()

	both := &failingHistory{getErr: errors.New("db down"), seriesErr: errors.New("db down")}
	findings := d.Check(context.Background(), "f", 1, 2023, 100, both, DefaultTrendConfig())
	if len(findings) != 1 || findings[0].RuleID != RuleTrendUnavailable || findings[0].Severity != rules.SeverityInfo {
		t.Fatalf("Check() = %+v, want one info %s finding", findings, RuleTrendUnavailable)
	}

	// Get fails but Series still answers: the outlier is still caught
	getOnly := &failingHistory{getErr: errors.New("timeout"), inner: inner}
	findings = d.Check(context.Background(), "f", 1, 2023, 1000, getOnly, DefaultTrendConfig())
	ids := findingIDs(findings)
	if len(ids) != 2 || ids[0] != RuleTrendOutlier || ids[1] != RuleTrendUnavailable {
		t.Errorf("Check() returned %v, want [%s %s]", ids, RuleTrendOutlier, RuleTrendUnavailable)
	}
}

// TestTrendNeverErrors verifies trend findings are never error severity
func TestTrendNeverErrors(t *testing.T) {
	h := NewMemoryHistory()
	for year, v := range map[int]float64{2019: 1, 2020: 2, 2021: 1, 2022: 0} {
		h.Put(1, "f", year, v)
	}
	failing := &failingHistory{getErr: errors.New("x"), seriesErr: errors.New("y")}

	for _, history := range []HistoryPort{h, failing} {
		for _, v := range []float64{-1e6, 0, 3, 1e9} {
			for _, f := range NewTrendDetector().Check(context.Background(), "f", 1, 2023, v, history, DefaultTrendConfig()) {
				if f.Severity == rules.SeverityError {
					t.Errorf("Check(%v) produced error finding %+v", v, f)
				}
			}
		}
	}
}

// TestTrendConfigDefaults verifies zero values fall back to defaults
func TestTrendConfigDefaults(t *testing.T) {
	got := TrendConfig{Threshold: 25}.withDefaults()
	if got.Threshold != 25 || got.ZThreshold != 2.0 || got.HighZThreshold != 3.0 || got.MinSeries != 3 {
		t.Errorf("withDefaults() = %+v", got)
	}
}
