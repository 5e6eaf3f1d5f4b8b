package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Predicate reports whether value satisfies a rule. record is the full record
// the value came from, for rules that need sibling values. A non-nil error
// means the predicate could not run, not that the value is invalid.
type Predicate interface {
	Check(value any, record map[string]any) (bool, error)
}

// PredicateFunc adapts a plain function to Predicate
type PredicateFunc func(value any, record map[string]any) (bool, error)

func (f PredicateFunc) Check(value any, record map[string]any) (bool, error) {
	return f(value, record)
}

// CrossFieldPredicate receives the participating values in spec field order
type CrossFieldPredicate interface {
	CheckAll(values []any) (bool, error)
}

// CrossFieldFunc adapts a plain function to CrossFieldPredicate
type CrossFieldFunc func(values []any) (bool, error)

func (f CrossFieldFunc) CheckAll(values []any) (bool, error) {
	return f(values)
}

// ISODateLayout is the date layout expected for report dates
const ISODateLayout = "2006-01-02"

// NonNegative passes numeric values >= 0. Non-numeric values fail.
func NonNegative() Predicate {
	return PredicateFunc(func(value any, _ map[string]any) (bool, error) {
		f, ok := ToFloat(value)
		return ok && f >= 0, nil
	})
}

// InRange passes numeric values within [min, max], bounds inclusive
func InRange(min, max float64) Predicate {
	return PredicateFunc(func(value any, _ map[string]any) (bool, error) {
		f, ok := ToFloat(value)
		return ok && f >= min && f <= max, nil
	})
}

// MatchesPattern passes string values matching re
func MatchesPattern(re *regexp.Regexp) Predicate {
	return PredicateFunc(func(value any, _ map[string]any) (bool, error) {
		s, ok := value.(string)
		return ok && re.MatchString(s), nil
	})
}

var tagValidator = validator.New()

// ValidatorTag checks value against a go-playground/validator tag such as "email" or "url"
func ValidatorTag(tag string) Predicate {
	return PredicateFunc(func(value any, _ map[string]any) (bool, error) {
		err := tagValidator.Var(value, tag)
		if err == nil {
			return true, nil
		}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return false, nil
		}
		return false, fmt.Errorf("validator tag %q: %w", tag, err)
	})
}

// DateFormat passes strings that parse with layout, and time.Time values
func DateFormat(layout string) Predicate {
	return PredicateFunc(func(value any, _ map[string]any) (bool, error) {
		_, ok := parseDate(value, layout)
		return ok, nil
	})
}

// NotInFuture passes dates on or before today according to now. Values that
// are not dates pass, so format problems are reported once by DateFormat.
func NotInFuture(layout string, now func() time.Time) Predicate {
	if now == nil {
		now = time.Now
	}
	return PredicateFunc(func(value any, _ map[string]any) (bool, error) {
		t, ok := parseDate(value, layout)
		if !ok {
			return true, nil
		}
		today := now()
		endOfToday := time.Date(today.Year(), today.Month(), today.Day(), 23, 59, 59, 0, today.Location())
		return !t.After(endOfToday), nil
	})
}

// OneOf passes string values equal (case-insensitive) to one of allowed
func OneOf(allowed ...string) Predicate {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[strings.ToLower(a)] = struct{}{}
	}
	return PredicateFunc(func(value any, _ map[string]any) (bool, error) {
		s, ok := value.(string)
		if !ok {
			return false, nil
		}
		_, found := set[strings.ToLower(strings.TrimSpace(s))]
		return found, nil
	})
}

func parseDate(value any, layout string) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(layout, strings.TrimSpace(v))
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	}
	return time.Time{}, false
}
