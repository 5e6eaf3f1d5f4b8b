package rules

import (
	"fmt"
	"sort"
	"strings"
)

// Category classifies what kind of constraint a rule expresses
type Category string

const (
	CategoryRange      Category = "range"
	CategoryFormat     Category = "format"
	CategoryLogic      Category = "logic"
	CategoryCrossField Category = "cross_field"
	CategoryTrend      Category = "trend"
)

// Valid reports whether c is one of the known categories
func (c Category) Valid() bool {
	switch c {
	case CategoryRange, CategoryFormat, CategoryLogic, CategoryCrossField, CategoryTrend:
		return true
	}
	return false
}

// Severity of a Finding. Only SeverityError disqualifies a record.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Valid reports whether s is one of the known severities
func (s Severity) Valid() bool {
	switch s {
	case SeverityError, SeverityWarning, SeverityInfo:
		return true
	}
	return false
}

// ParseSeverity converts a config string into a Severity
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if !sev.Valid() {
		return "", fmt.Errorf("unknown severity %q (must be one of: error, warning, info)", s)
	}
	return sev, nil
}

// Rule is a single field-level check. Rules are immutable once registered.
type Rule struct {
	ID        string
	Field     string
	Category  Category
	Severity  Severity
	Required  bool
	Predicate Predicate
	// Message is rendered with the finding params, e.g. "{field} must be non-negative, got {value}"
	Message string
}

// CrossFieldSpec is a declarative check spanning several fields of one record
type CrossFieldSpec struct {
	ID        string
	Fields    []string
	Predicate CrossFieldPredicate
	Severity  Severity
	Message   string
}

// Finding is a single validation outcome. Passing checks produce no Finding.
type Finding struct {
	RecordIndex int            `json:"record_index"`
	Field       string         `json:"field,omitempty"`
	Severity    Severity       `json:"severity"`
	RuleID      string         `json:"rule_id"`
	Message     string         `json:"message"`
	Params      map[string]any `json:"params,omitempty"`
}

// InternalErrorID is the rule id attached to findings for a predicate that failed to run
func InternalErrorID(ruleID string) string {
	return ruleID + "-internal-error"
}

// RenderMessage replaces {key} placeholders in tmpl with params values.
// Unknown placeholders are left untouched.
func RenderMessage(tmpl string, params map[string]any) string {
	if tmpl == "" || len(params) == 0 {
		return tmpl
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", formatParam(params[k]))
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

func formatParam(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case float64:
		return strconvFloat(val)
	case float32:
		return strconvFloat(float64(val))
	case []string:
		return strings.Join(val, ", ")
	default:
		return fmt.Sprint(val)
	}
}
