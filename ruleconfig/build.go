package ruleconfig

import (
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/liamcoop/dataquality/quality"
	"github.com/liamcoop/dataquality/rules"
)

// Ruleset is a compiled Document: the field rules and the table-level checks
type Ruleset struct {
	Registry *rules.Registry
	Tables   map[string]quality.TableConfig
}

// Build compiles doc. now feeds date checks; nil means time.Now.
// Expressions, patterns and validator tags are compiled here so a bad
// document fails before any record is evaluated.
func Build(doc *Document, now func() time.Time) (*Ruleset, error) {
	if doc == nil {
		return nil, fmt.Errorf("rule config is required")
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}

	reg := rules.NewRegistry()
	if doc.UseDefaultRules {
		reg = rules.NewDefaultRegistry(now)
	}

	for _, def := range doc.Rules {
		if err := registerRule(reg, doc.Schema, def, now); err != nil {
			return nil, err
		}
	}

	tables := make(map[string]quality.TableConfig, len(doc.Tables))
	for _, name := range sortedKeys(doc.Tables) {
		cfg, err := buildTable(doc.Schema, name, doc.Tables[name])
		if err != nil {
			return nil, err
		}
		tables[name] = cfg
	}

	return &Ruleset{Registry: reg, Tables: tables}, nil
}

// Engine creates a validation engine for the rule set
func (rs *Ruleset) Engine(history quality.HistoryPort, opts ...quality.Option) (*quality.Engine, error) {
	names := make([]string, 0, len(rs.Tables))
	for name := range rs.Tables {
		names = append(names, name)
	}
	sort.Strings(names)

	all := make([]quality.Option, 0, len(opts)+len(names))
	all = append(all, opts...)
	for _, name := range names {
		all = append(all, quality.WithTable(name, rs.Tables[name]))
	}
	return quality.NewEngine(rs.Registry, history, all...)
}

func registerRule(reg *rules.Registry, schema Schema, def RuleDef, now func() time.Time) error {
	category := rules.Category(def.Category)
	if category == "" {
		category = defaultCategory(def.Check.Kind)
	}
	message := def.Message
	if message == "" {
		message = defaultMessage(def.Check)
	}

	numeric := schema.NumberFields()
	for _, field := range def.Fields {
		var exprOpts []rules.ExprOption
		if len(schema) > 0 {
			typ, ok := schema.TypeOf(field)
			if !ok {
				return &quality.UnknownFieldError{Table: "*", Check: "rule " + def.ID, Field: field}
			}
			if err := checkFieldType(def.Check.Kind, typ); err != nil {
				return fmt.Errorf("rule %s on %s: %w", def.ID, field, err)
			}
			exprOpts = append(exprOpts, rules.NumericFields(numeric...))
			if typ == TypeNumber {
				exprOpts = append(exprOpts, rules.NumericValue())
			}
		}

		pred, err := buildPredicate(def.Check, now, exprOpts...)
		if err != nil {
			return fmt.Errorf("rule %s: %w", def.ID, err)
		}

		err = reg.Register(field, rules.Rule{
			ID:        def.ID,
			Category:  category,
			Severity:  rules.Severity(def.Severity),
			Required:  def.Required,
			Predicate: pred,
			Message:   message,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// buildPredicate compiles c. exprOpts apply to expression checks only.
func buildPredicate(c CheckDef, now func() time.Time, exprOpts ...rules.ExprOption) (rules.Predicate, error) {
	layout := c.Layout
	if layout == "" {
		layout = rules.ISODateLayout
	}

	switch c.Kind {
	case KindNonNegative:
		return rules.NonNegative(), nil
	case KindRange:
		if *c.Min > *c.Max {
			return nil, fmt.Errorf("range min %v is greater than max %v", *c.Min, *c.Max)
		}
		return rules.InRange(*c.Min, *c.Max), nil
	case KindPattern:
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern: %w", err)
		}
		return rules.MatchesPattern(re), nil
	case KindValidator:
		if err := probeTag(c.Tag); err != nil {
			return nil, err
		}
		return rules.ValidatorTag(c.Tag), nil
	case KindDate:
		return rules.DateFormat(layout), nil
	case KindNotFuture:
		return rules.NotInFuture(layout, now), nil
	case KindOneOf:
		return rules.OneOf(c.Values...), nil
	case KindExpression:
		p, err := rules.Expression(c.Expr, exprOpts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown check kind %q", c.Kind)
	}
}

// probeTag rejects validator tags that would panic at evaluation time
func probeTag(tag string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalid validator tag %q: %v", tag, r)
		}
	}()
	_ = validate.Var("", tag)
	return nil
}

func defaultCategory(kind string) rules.Category {
	switch kind {
	case KindNonNegative, KindRange:
		return rules.CategoryRange
	case KindPattern, KindValidator, KindDate:
		return rules.CategoryFormat
	default:
		return rules.CategoryLogic
	}
}

func defaultMessage(c CheckDef) string {
	switch c.Kind {
	case KindNonNegative:
		return "{field} must be a non-negative number, got {value}"
	case KindRange:
		return fmt.Sprintf("{field} must be between %v and %v, got {value}", *c.Min, *c.Max)
	case KindDate:
		return "{field} is not a valid date, got {value}"
	case KindNotFuture:
		return "{field} cannot be in the future, got {value}"
	case KindOneOf:
		return "{field} has an unexpected value {value}"
	default:
		return "{field} has an invalid value {value}"
	}
}

// checkFieldType rejects checks that can never pass for the declared type
func checkFieldType(kind, typ string) error {
	switch kind {
	case KindNonNegative, KindRange:
		if typ != TypeNumber {
			return fmt.Errorf("%s check needs a %s field, field is %s", kind, TypeNumber, typ)
		}
	case KindDate, KindNotFuture:
		if typ != TypeDate && typ != TypeString {
			return fmt.Errorf("%s check needs a %s field, field is %s", kind, TypeDate, typ)
		}
	case KindPattern, KindOneOf:
		if typ == TypeBool {
			return fmt.Errorf("%s check cannot apply to a %s field", kind, typ)
		}
	}
	return nil
}

func buildTable(schema Schema, name string, def TableDef) (quality.TableConfig, error) {
	if err := validateIdentifier(name); err != nil {
		return quality.TableConfig{}, fmt.Errorf("invalid table name %q: %w", name, err)
	}

	cfg := quality.TableConfig{
		Fields:      schema.Fields(name),
		TrendFields: append([]string(nil), def.TrendFields...),
		PeriodField: def.PeriodField,
	}
	if def.Trend != nil {
		cfg.Trend = *def.Trend
	}

	var numeric []string
	for field, typ := range schema[name] {
		if typ == TypeNumber {
			numeric = append(numeric, field)
		}
	}

	for _, cf := range def.CrossField {
		pred, err := rules.ExpressionCrossField(cf.Expr, cf.Fields, rules.NumericFields(numeric...))
		if err != nil {
			return quality.TableConfig{}, fmt.Errorf("table %s: cross-field spec %s: %w", name, cf.ID, err)
		}
		message := cf.Message
		if message == "" {
			message = cf.ID + " failed: " + cf.Expr
		}
		cfg.CrossField = append(cfg.CrossField, rules.CrossFieldSpec{
			ID:        cf.ID,
			Fields:    append([]string(nil), cf.Fields...),
			Predicate: pred,
			Severity:  rules.Severity(cf.Severity),
			Message:   message,
		})
	}

	if len(schema) > 0 {
		typed := schema[name]
		for _, f := range cfg.TrendFields {
			if t, ok := typed[f]; ok && t != TypeNumber {
				return quality.TableConfig{}, fmt.Errorf("table %s: trend field %s must be a number, is %s", name, f, t)
			}
		}
	}

	return cfg, nil
}
