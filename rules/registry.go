package rules

import (
	"fmt"
	"regexp"
	"sync"
	"time"
)

// DuplicateRuleError is returned when a rule id is registered twice on the same field
type DuplicateRuleError struct {
	Field  string
	RuleID string
}

func (e *DuplicateRuleError) Error() string {
	return fmt.Sprintf("rule %s already registered for field %s", e.RuleID, e.Field)
}

// Registry maps field names to their ordered rules.
// Safe for concurrent reads while rules are being registered.
type Registry struct {
	rules map[string][]Rule
	mu    sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		rules: make(map[string][]Rule),
	}
}

// Register appends rule to the rules for field. The rule's Field is set to field.
func (r *Registry) Register(field string, rule Rule) error {
	if field == "" {
		return fmt.Errorf("rule %s: field is required", rule.ID)
	}
	if rule.ID == "" {
		return fmt.Errorf("rule for field %s: id is required", field)
	}
	if rule.Predicate == nil {
		return fmt.Errorf("rule %s: predicate is required", rule.ID)
	}
	if rule.Severity == "" {
		rule.Severity = SeverityError
	}
	if !rule.Severity.Valid() {
		return fmt.Errorf("rule %s: invalid severity %q", rule.ID, rule.Severity)
	}
	if rule.Category != "" && !rule.Category.Valid() {
		return fmt.Errorf("rule %s: invalid category %q", rule.ID, rule.Category)
	}
	rule.Field = field

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.rules[field] {
		if existing.ID == rule.ID {
			return &DuplicateRuleError{Field: field, RuleID: rule.ID}
		}
	}
	r.rules[field] = append(r.rules[field], rule)
	return nil
}

// RulesFor returns the rules for field in registration order
func (r *Registry) RulesFor(field string) []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rules := r.rules[field]
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Unregister removes the rule with id from field and reports whether it existed
func (r *Registry) Unregister(field, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rules := r.rules[field]
	for i, rule := range rules {
		if rule.ID != id {
			continue
		}
		remaining := make([]Rule, 0, len(rules)-1)
		remaining = append(remaining, rules[:i]...)
		remaining = append(remaining, rules[i+1:]...)
		if len(remaining) == 0 {
			delete(r.rules, field)
		} else {
			r.rules[field] = remaining
		}
		return true
	}
	return false
}

// Fields lists every field with at least one rule
func (r *Registry) Fields() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fields := make([]string, 0, len(r.rules))
	for f := range r.rules {
		fields = append(fields, f)
	}
	return fields
}

// RequiredFields lists every field with at least one required rule
func (r *Registry) RequiredFields() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var fields []string
	for f, rules := range r.rules {
		for _, rule := range rules {
			if rule.Required {
				fields = append(fields, f)
				break
			}
		}
	}
	return fields
}

// Len returns the total number of registered rules
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, rules := range r.rules {
		n += len(rules)
	}
	return n
}

// Default field groups for the seed rule set
var (
	DefaultNonNegativeFields = []string{
		"scope1_emissions",
		"scope2_emissions",
		"scope3_emissions",
		"total_emissions",
		"energy_consumption",
		"renewable_energy",
		"water_withdrawal",
		"waste_generated",
		"employee_count",
	}
	DefaultPercentageFields = []string{
		"renewable_energy_percentage",
		"female_employee_percentage",
		"board_independence_percentage",
		"recycling_rate",
	}
)

var griCodePattern = regexp.MustCompile(`^GRI\s*\d+-\d+`)

// NewDefaultRegistry returns a registry seeded with the built-in rule set.
// now is used by the date-not-future rule; nil means time.Now.
func NewDefaultRegistry(now func() time.Time) *Registry {
	reg := NewRegistry()
	for _, rule := range DefaultRules(now) {
		// seed ids are unique per field
		_ = reg.Register(rule.Field, rule)
	}
	return reg
}

// DefaultRules returns the seed rules. They are plain data and can be
// registered selectively.
func DefaultRules(now func() time.Time) []Rule {
	var out []Rule
	for _, f := range DefaultNonNegativeFields {
		out = append(out, Rule{
			ID:        "non-negative",
			Field:     f,
			Category:  CategoryRange,
			Severity:  SeverityError,
			Predicate: NonNegative(),
			Message:   "{field} must be a non-negative number, got {value}",
		})
	}
	for _, f := range DefaultPercentageFields {
		out = append(out, Rule{
			ID:        "percentage-range",
			Field:     f,
			Category:  CategoryRange,
			Severity:  SeverityError,
			Predicate: InRange(0, 100),
			Message:   "{field} must be a percentage between 0 and 100, got {value}",
		})
	}
	out = append(out,
		Rule{
			ID:        "email-format",
			Field:     "contact_email",
			Category:  CategoryFormat,
			Severity:  SeverityError,
			Predicate: ValidatorTag("email"),
			Message:   "{field} is not a valid email address: {value}",
		},
		Rule{
			ID:        "iso-date",
			Field:     "report_date",
			Category:  CategoryFormat,
			Severity:  SeverityError,
			Predicate: DateFormat(ISODateLayout),
			Message:   "{field} must be a date in YYYY-MM-DD format, got {value}",
		},
		Rule{
			ID:        "date-not-future",
			Field:     "report_date",
			Category:  CategoryLogic,
			Severity:  SeverityError,
			Predicate: NotInFuture(ISODateLayout, now),
			Message:   "{field} cannot be in the future, got {value}",
		},
		Rule{
			ID:        "gri-code-format",
			Field:     "gri_code",
			Category:  CategoryFormat,
			Severity:  SeverityWarning,
			Predicate: MatchesPattern(griCodePattern),
			Message:   "{field} should look like 'GRI 305-1', got {value}",
		},
	)
	return out
}
