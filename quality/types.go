package quality

import (
	"context"
	"time"

	"github.com/liamcoop/dataquality/rules"
)

// HistoryPoint is one stored period value for a company metric
type HistoryPoint struct {
	Period int     `json:"period"`
	Value  float64 `json:"value"`
}

// HistoryPort gives the engine read-only access to previously submitted values.
// Implementations must be safe for concurrent use.
type HistoryPort interface {
	// Get returns the value for one period; ok is false when no value is stored
	Get(ctx context.Context, companyID int, field string, period int) (value float64, ok bool, err error)

	// Series returns every stored period for the metric
	Series(ctx context.Context, companyID int, field string) ([]HistoryPoint, error)
}

// ResultSink persists validation output on behalf of the caller
type ResultSink interface {
	Save(ctx context.Context, report QualityReport) error
	LogFinding(ctx context.Context, runID string, f rules.Finding) error
}

// RunSink is a ResultSink that stores a report and its findings atomically.
// The engine uses SaveRun when the sink provides it; otherwise a failed
// LogFinding leaves the saved report with only the findings logged before it.
type RunSink interface {
	ResultSink
	SaveRun(ctx context.Context, report QualityReport, findings []rules.Finding) error
}

// RecordBatch is the unit of work for one Validate call
type RecordBatch struct {
	Table     string           `json:"table"`
	CompanyID int              `json:"company_id"`
	Records   []map[string]any `json:"records"`
}

// Grade is the letter band for a quality score
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeF Grade = "F"
)

// QualityReport summarizes one validation run of one table for one company
type QualityReport struct {
	RunID          string    `json:"run_id"`
	Table          string    `json:"table"`
	CompanyID      int       `json:"company_id"`
	TotalRecords   int       `json:"total_records"`
	ValidRecords   int       `json:"valid_records"`
	WarningRecords int       `json:"warning_records"`
	ErrorRecords   int       `json:"error_records"`
	Score          float64   `json:"score"`
	Grade          Grade     `json:"grade"`
	Complete       bool      `json:"complete"`
	CreatedAt      time.Time `json:"created_at"`
}

// ValidationResult is everything Validate produces. Findings are ordered by
// record index, then field, cross-field and trend checks.
type ValidationResult struct {
	Findings []rules.Finding `json:"findings"`
	Report   QualityReport   `json:"report"`
}

// CompanyQuality is the company-wide rollup across tables
type CompanyQuality struct {
	CompanyID int             `json:"company_id"`
	Tables    []QualityReport `json:"tables"`
	Score     float64         `json:"score"`
	Grade     Grade           `json:"grade"`
}
