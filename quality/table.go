package quality

import (
	"fmt"

	"github.com/liamcoop/dataquality/rules"
)

// DefaultPeriodField is the record key holding the reporting period
const DefaultPeriodField = "year"

// TableConfig holds the table-level checks for one reporting table
type TableConfig struct {
	// Fields lists the known columns. When set, cross-field and trend
	// configuration may only reference these fields.
	Fields      []string
	CrossField  []rules.CrossFieldSpec
	TrendFields []string
	PeriodField string
	Trend       TrendConfig
}

func (c TableConfig) periodField() string {
	if c.PeriodField == "" {
		return DefaultPeriodField
	}
	return c.PeriodField
}

// hasField reports whether field is a column of the table. A table without
// declared fields accepts any field.
func (c TableConfig) hasField(field string) bool {
	if len(c.Fields) == 0 {
		return true
	}
	for _, f := range c.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// UnknownFieldError is returned when table configuration references a field
// the table does not declare
type UnknownFieldError struct {
	Table string
	Check string
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("table %s: %s references unknown field %s", e.Table, e.Check, e.Field)
}

// validate checks the configuration and fills defaults
func (c TableConfig) validate(table string) (TableConfig, error) {
	if table == "" {
		return c, fmt.Errorf("table name is required")
	}

	known := make(map[string]bool, len(c.Fields))
	for _, f := range c.Fields {
		known[f] = true
	}
	check := func(name, field string) error {
		if len(known) > 0 && !known[field] {
			return &UnknownFieldError{Table: table, Check: name, Field: field}
		}
		return nil
	}

	seen := make(map[string]bool, len(c.CrossField))
	specs := make([]rules.CrossFieldSpec, len(c.CrossField))
	for i, spec := range c.CrossField {
		if spec.ID == "" {
			return c, fmt.Errorf("table %s: cross-field spec %d has no id", table, i)
		}
		if seen[spec.ID] {
			return c, &rules.DuplicateRuleError{Field: table, RuleID: spec.ID}
		}
		seen[spec.ID] = true
		if len(spec.Fields) == 0 {
			return c, fmt.Errorf("table %s: cross-field spec %s has no fields", table, spec.ID)
		}
		if spec.Predicate == nil {
			return c, fmt.Errorf("table %s: cross-field spec %s has no predicate", table, spec.ID)
		}
		if spec.Severity == "" {
			spec.Severity = rules.SeverityError
		}
		if !spec.Severity.Valid() {
			return c, fmt.Errorf("table %s: cross-field spec %s has invalid severity %q", table, spec.ID, spec.Severity)
		}
		for _, f := range spec.Fields {
			if err := check("cross-field spec "+spec.ID, f); err != nil {
				return c, err
			}
		}
		specs[i] = spec
	}
	c.CrossField = specs

	for _, f := range c.TrendFields {
		if err := check("trend check", f); err != nil {
			return c, err
		}
	}
	if len(c.TrendFields) > 0 {
		if err := check("period field", c.periodField()); err != nil {
			return c, err
		}
	}

	c.Trend = c.Trend.withDefaults()
	return c, nil
}
