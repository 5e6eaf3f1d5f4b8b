package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/liamcoop/dataquality/quality"
	"github.com/liamcoop/dataquality/rules"
)

// ReportRepository implements quality.RunSink over the quality_reports and
// validation_findings tables
type ReportRepository struct {
	db *sql.DB
}

// NewReportRepository creates a report repository
func NewReportRepository(db *sql.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

const insertReportSQL = `
	INSERT INTO quality_reports (
		run_id, table_name, company_id, total_records, valid_records,
		warning_records, error_records, score, grade, complete, created_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

const insertFindingSQL = `
	INSERT INTO validation_findings (run_id, record_index, field, severity, rule_id, message, params)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
`

// Save inserts a quality report
func (r *ReportRepository) Save(ctx context.Context, report quality.QualityReport) error {
	_, err := r.db.ExecContext(ctx, insertReportSQL, reportArgs(report)...)
	if err != nil {
		return fmt.Errorf("failed to insert quality report: %w", err)
	}

	return nil
}

// LogFinding inserts one finding of a run
func (r *ReportRepository) LogFinding(ctx context.Context, runID string, f rules.Finding) error {
	args, err := findingArgs(runID, f)
	if err != nil {
		return err
	}

	if _, err := r.db.ExecContext(ctx, insertFindingSQL, args...); err != nil {
		return fmt.Errorf("failed to insert finding: %w", err)
	}

	return nil
}

// SaveRun inserts a report and all of its findings in one transaction, so a
// failure leaves neither behind
func (r *ReportRepository) SaveRun(ctx context.Context, report quality.QualityReport, findings []rules.Finding) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, insertReportSQL, reportArgs(report)...); err != nil {
		return fmt.Errorf("failed to insert quality report: %w", err)
	}

	if len(findings) > 0 {
		stmt, err := tx.PrepareContext(ctx, insertFindingSQL)
		if err != nil {
			return fmt.Errorf("failed to prepare finding insert: %w", err)
		}
		defer stmt.Close()

		for _, f := range findings {
			args, err := findingArgs(report.RunID, f)
			if err != nil {
				return err
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return fmt.Errorf("failed to insert finding %s: %w", f.RuleID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit quality report: %w", err)
	}

	return nil
}

func reportArgs(report quality.QualityReport) []any {
	return []any{
		report.RunID, report.Table, report.CompanyID, report.TotalRecords, report.ValidRecords,
		report.WarningRecords, report.ErrorRecords, report.Score, string(report.Grade), report.Complete, report.CreatedAt,
	}
}

func findingArgs(runID string, f rules.Finding) ([]any, error) {
	// lib/pq sends []byte as bytea, so JSONB goes over the wire as text
	var params any
	if len(f.Params) > 0 {
		encoded, err := json.Marshal(f.Params)
		if err != nil {
			return nil, fmt.Errorf("failed to encode finding params: %w", err)
		}
		params = string(encoded)
	}

	return []any{runID, f.RecordIndex, f.Field, string(f.Severity), f.RuleID, f.Message, params}, nil
}

// LatestForCompany returns the most recent report of each table for a company,
// ordered by table name
func (r *ReportRepository) LatestForCompany(ctx context.Context, companyID int) ([]quality.QualityReport, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT ON (table_name)
			run_id, table_name, company_id, total_records, valid_records,
			warning_records, error_records, score, grade, complete, created_at
		FROM quality_reports
		WHERE company_id = $1
		ORDER BY table_name, created_at DESC
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list quality reports: %w", err)
	}
	defer rows.Close()

	reports := []quality.QualityReport{}
	for rows.Next() {
		var rep quality.QualityReport
		var grade string
		if err := rows.Scan(&rep.RunID, &rep.Table, &rep.CompanyID, &rep.TotalRecords, &rep.ValidRecords,
			&rep.WarningRecords, &rep.ErrorRecords, &rep.Score, &grade, &rep.Complete, &rep.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan quality report: %w", err)
		}
		rep.Grade = quality.Grade(grade)
		reports = append(reports, rep)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating quality reports: %w", err)
	}

	return reports, nil
}

// Findings returns the findings logged for a run in record order
func (r *ReportRepository) Findings(ctx context.Context, runID string) ([]rules.Finding, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT record_index, field, severity, rule_id, message, params
		FROM validation_findings
		WHERE run_id = $1
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	defer rows.Close()

	findings := []rules.Finding{}
	for rows.Next() {
		var f rules.Finding
		var severity string
		var params []byte
		if err := rows.Scan(&f.RecordIndex, &f.Field, &severity, &f.RuleID, &f.Message, &params); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		f.Severity = rules.Severity(severity)
		if len(params) > 0 {
			if err := json.Unmarshal(params, &f.Params); err != nil {
				return nil, fmt.Errorf("failed to decode finding params: %w", err)
			}
		}
		findings = append(findings, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating findings: %w", err)
	}

	return findings, nil
}
