package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/liamcoop/dataquality/quality"
)

// HistoryRepository implements quality.HistoryPort over the metric_values table
type HistoryRepository struct {
	db *sql.DB
}

// NewHistoryRepository creates a history repository
func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Get returns the value recorded for a company metric in period
func (r *HistoryRepository) Get(ctx context.Context, companyID int, field string, period int) (float64, bool, error) {
	var value float64
	err := r.db.QueryRowContext(ctx, `
		SELECT value
		FROM metric_values
		WHERE company_id = $1 AND field = $2 AND period = $3
	`, companyID, field, period).Scan(&value)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get %s for period %d: %w", field, period, err)
	}

	return value, true, nil
}

// Series returns every recorded period of a company metric, oldest first
func (r *HistoryRepository) Series(ctx context.Context, companyID int, field string) ([]quality.HistoryPoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT period, value
		FROM metric_values
		WHERE company_id = $1 AND field = $2
		ORDER BY period ASC
	`, companyID, field)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s history: %w", field, err)
	}
	defer rows.Close()

	points := []quality.HistoryPoint{}
	for rows.Next() {
		var p quality.HistoryPoint
		if err := rows.Scan(&p.Period, &p.Value); err != nil {
			return nil, fmt.Errorf("failed to scan history point: %w", err)
		}
		points = append(points, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	return points, nil
}

// Record upserts the values of one reporting period in a single transaction
func (r *HistoryRepository) Record(ctx context.Context, table string, companyID, period int, values map[string]float64) error {
	if len(values) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO metric_values (company_id, table_name, field, period, value, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (company_id, field, period)
		DO UPDATE SET value = EXCLUDED.value, table_name = EXCLUDED.table_name, updated_at = NOW()
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	fields := make([]string, 0, len(values))
	for f := range values {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, f := range fields {
		if _, err := stmt.ExecContext(ctx, companyID, table, f, period, values[f]); err != nil {
			return fmt.Errorf("failed to record %s for period %d: %w", f, period, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit history: %w", err)
	}
	return nil
}
