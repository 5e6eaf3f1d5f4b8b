package rules

import (
	"fmt"
	"regexp"

	"github.com/google/cel-go/cel"
)

// costLimit bounds a single expression evaluation so a pathological config
// expression cannot stall a validation run
const costLimit = 1000000

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ExprOption configures a compiled expression
type ExprOption func(*exprOptions)

type exprOptions struct {
	numeric      map[string]bool
	numericValue bool
}

// NumericFields converts numeric strings held by the named record fields to
// numbers before evaluation, so "100" compares like 100. A cross-field
// participant that is still not a number fails the check.
func NumericFields(fields ...string) ExprOption {
	return func(o *exprOptions) {
		if o.numeric == nil {
			o.numeric = make(map[string]bool, len(fields))
		}
		for _, f := range fields {
			o.numeric[f] = true
		}
	}
}

// NumericValue converts a numeric-string `value` to a number before
// evaluation. A value that is still not a number fails the check.
func NumericValue() ExprOption {
	return func(o *exprOptions) {
		o.numericValue = true
	}
}

func newExprOptions(opts []ExprOption) exprOptions {
	var o exprOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o exprOptions) record(record map[string]any) map[string]any {
	out := normalizeRecord(record)
	for k, v := range out {
		if o.numeric[k] {
			out[k] = coerceNumeric(v)
		}
	}
	return out
}

// ExpressionPredicate is a Predicate backed by a compiled CEL program.
// The expression sees the field value as `value` and the record as `record`.
type ExpressionPredicate struct {
	source string
	prog   cel.Program
	opts   exprOptions
}

// Expression compiles a CEL expression into a field predicate, e.g.
// `value >= 0.0 && value <= record.total_emissions`
func Expression(expr string, opts ...ExprOption) (*ExpressionPredicate, error) {
	env, err := cel.NewEnv(
		cel.Variable("value", cel.DynType),
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	prog, err := compile(env, expr)
	if err != nil {
		return nil, err
	}
	return &ExpressionPredicate{source: expr, prog: prog, opts: newExprOptions(opts)}, nil
}

// Check evaluates the compiled program. Non-boolean results are treated as false.
func (p *ExpressionPredicate) Check(value any, record map[string]any) (bool, error) {
	value = normalize(value)
	if p.opts.numericValue {
		value = coerceNumeric(value)
		if _, ok := value.(float64); !ok {
			return false, nil
		}
	}
	out, _, err := p.prog.Eval(map[string]any{
		"value":  value,
		"record": p.opts.record(record),
	})
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", p.source, err)
	}
	matched, _ := out.Value().(bool)
	return matched, nil
}

// String returns the source expression
func (p *ExpressionPredicate) String() string {
	return p.source
}

// CrossFieldExpression is a CrossFieldPredicate backed by a compiled CEL program.
// Each participating field is bound by name and positionally as args[i].
type CrossFieldExpression struct {
	source string
	fields []string
	prog   cel.Program
	opts   exprOptions
}

// ExpressionCrossField compiles expr over the given fields, e.g.
// `scope1_emissions + scope2_emissions <= total_emissions`
func ExpressionCrossField(expr string, fields []string, opts ...ExprOption) (*CrossFieldExpression, error) {
	envOpts := []cel.EnvOption{cel.Variable("args", cel.ListType(cel.DynType))}
	for _, f := range fields {
		if !identifierPattern.MatchString(f) || f == "args" {
			return nil, fmt.Errorf("field %q cannot be bound in an expression (must match %s)", f, identifierPattern)
		}
		envOpts = append(envOpts, cel.Variable(f, cel.DynType))
	}

	env, err := cel.NewEnv(envOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	prog, err := compile(env, expr)
	if err != nil {
		return nil, err
	}
	return &CrossFieldExpression{
		source: expr,
		fields: append([]string(nil), fields...),
		prog:   prog,
		opts:   newExprOptions(opts),
	}, nil
}

// CheckAll evaluates the program with values matched to fields by position
func (p *CrossFieldExpression) CheckAll(values []any) (bool, error) {
	if len(values) != len(p.fields) {
		return false, fmt.Errorf("expression %q expects %d values, got %d", p.source, len(p.fields), len(values))
	}

	args := make([]any, len(values))
	activation := make(map[string]any, len(values)+1)
	for i, v := range values {
		v = normalize(v)
		if p.opts.numeric[p.fields[i]] {
			v = coerceNumeric(v)
			// non-numeric data in a number field fails the check
			if _, ok := v.(float64); !ok {
				return false, nil
			}
		}
		args[i] = v
		activation[p.fields[i]] = args[i]
	}
	activation["args"] = args

	out, _, err := p.prog.Eval(activation)
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", p.source, err)
	}
	matched, _ := out.Value().(bool)
	return matched, nil
}

// String returns the source expression
func (p *CrossFieldExpression) String() string {
	return p.source
}

func compile(env *cel.Env, expr string) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}

	prog, err := env.Program(ast, cel.CostLimit(costLimit))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}
	return prog, nil
}
