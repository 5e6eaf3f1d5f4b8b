package rules

import (
	"fmt"
)

// FieldEvaluator applies registered rules to single field values
type FieldEvaluator struct {
	registry *Registry
}

// NewFieldEvaluator creates an evaluator reading rules from registry
func NewFieldEvaluator(registry *Registry) *FieldEvaluator {
	return &FieldEvaluator{registry: registry}
}

// HasRules reports whether any rule is registered for field
func (e *FieldEvaluator) HasRules(field string) bool {
	return len(e.registry.RulesFor(field)) > 0
}

// Evaluate runs every rule registered for field against value. All rules run;
// a failing or broken rule never prevents the rest from running.
func (e *FieldEvaluator) Evaluate(field string, value any, record map[string]any) []Finding {
	var findings []Finding
	for _, rule := range e.registry.RulesFor(field) {
		if f, ok := e.apply(rule, field, value, record); ok {
			findings = append(findings, f)
		}
	}
	return findings
}

func (e *FieldEvaluator) apply(rule Rule, field string, value any, record map[string]any) (Finding, bool) {
	params := map[string]any{"field": field, "value": value}

	if value == nil {
		if !rule.Required {
			return Finding{}, false
		}
		return Finding{
			Field:    field,
			Severity: rule.Severity,
			RuleID:   rule.ID,
			Message:  RenderMessage("{field} is required", params),
			Params:   map[string]any{"field": field, "reason": "required"},
		}, true
	}

	passed, err := safeCheck(func() (bool, error) {
		return rule.Predicate.Check(value, record)
	})
	if err != nil {
		return internalError(rule.ID, field, err), true
	}
	if passed {
		return Finding{}, false
	}

	return Finding{
		Field:    field,
		Severity: rule.Severity,
		RuleID:   rule.ID,
		Message:  RenderMessage(rule.Message, params),
		Params:   params,
	}, true
}

// CrossFieldEvaluator applies declarative multi-field specs to whole records
type CrossFieldEvaluator struct{}

// NewCrossFieldEvaluator creates a cross-field evaluator
func NewCrossFieldEvaluator() *CrossFieldEvaluator {
	return &CrossFieldEvaluator{}
}

// Evaluate runs each spec whose fields are all present and non-nil in record.
// Specs with a missing participant are skipped: absence is insufficient data,
// not a violation.
func (e *CrossFieldEvaluator) Evaluate(record map[string]any, specs []CrossFieldSpec) []Finding {
	var findings []Finding
	for _, spec := range specs {
		values, ok := gather(record, spec.Fields)
		if !ok {
			continue
		}

		passed, err := safeCheck(func() (bool, error) {
			return spec.Predicate.CheckAll(values)
		})
		if err != nil {
			findings = append(findings, internalError(spec.ID, "", err))
			continue
		}
		if passed {
			continue
		}

		params := make(map[string]any, len(spec.Fields)+1)
		for i, f := range spec.Fields {
			params[f] = values[i]
		}
		params["fields"] = append([]string(nil), spec.Fields...)

		severity := spec.Severity
		if severity == "" {
			severity = SeverityError
		}
		findings = append(findings, Finding{
			Severity: severity,
			RuleID:   spec.ID,
			Message:  RenderMessage(spec.Message, params),
			Params:   params,
		})
	}
	return findings
}

func gather(record map[string]any, fields []string) ([]any, bool) {
	values := make([]any, len(fields))
	for i, f := range fields {
		v, ok := record[f]
		if !ok || v == nil {
			return nil, false
		}
		values[i] = v
	}
	return values, true
}

// safeCheck runs fn and converts a panic into an error
func safeCheck(fn func() (bool, error)) (passed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			passed = false
			err = fmt.Errorf("predicate panicked: %v", r)
		}
	}()
	return fn()
}

func internalError(ruleID, field string, err error) Finding {
	return Finding{
		Field:    field,
		Severity: SeverityError,
		RuleID:   InternalErrorID(ruleID),
		Message:  fmt.Sprintf("rule %s failed to run: %v", ruleID, err),
		Params:   map[string]any{"rule": ruleID, "error": err.Error()},
	}
}
