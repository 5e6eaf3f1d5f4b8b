package ruleconfig

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/liamcoop/dataquality/quality"
)

// Check kinds
const (
	KindNonNegative = "non_negative"
	KindRange       = "range"
	KindPattern     = "pattern"
	KindValidator   = "validator"
	KindDate        = "date"
	KindNotFuture   = "not_future"
	KindOneOf       = "one_of"
	KindExpression  = "expression"
)

// Document is a rule set as stored in a YAML or JSON file
type Document struct {
	Version         int                 `json:"version" yaml:"version" validate:"omitempty,eq=1"`
	UseDefaultRules bool                `json:"use_default_rules" yaml:"use_default_rules"`
	Schema          Schema              `json:"schema,omitempty" yaml:"schema,omitempty"`
	Rules           []RuleDef           `json:"rules,omitempty" yaml:"rules,omitempty" validate:"dive"`
	Tables          map[string]TableDef `json:"tables,omitempty" yaml:"tables,omitempty" validate:"dive"`
}

// RuleDef defines one field rule applied to each listed field
type RuleDef struct {
	ID       string   `json:"id" yaml:"id" validate:"required"`
	Fields   []string `json:"fields" yaml:"fields" validate:"required,min=1,dive,required"`
	Category string   `json:"category,omitempty" yaml:"category,omitempty" validate:"omitempty,oneof=range format logic cross_field trend"`
	Severity string   `json:"severity,omitempty" yaml:"severity,omitempty" validate:"omitempty,oneof=error warning info"`
	Required bool     `json:"required,omitempty" yaml:"required,omitempty"`
	Message  string   `json:"message,omitempty" yaml:"message,omitempty"`
	Check    CheckDef `json:"check" yaml:"check"`
}

// CheckDef selects and parameterizes a built-in predicate
type CheckDef struct {
	Kind    string   `json:"kind" yaml:"kind" validate:"required,oneof=non_negative range pattern validator date not_future one_of expression"`
	Min     *float64 `json:"min,omitempty" yaml:"min,omitempty" validate:"required_if=Kind range"`
	Max     *float64 `json:"max,omitempty" yaml:"max,omitempty" validate:"required_if=Kind range"`
	Pattern string   `json:"pattern,omitempty" yaml:"pattern,omitempty" validate:"required_if=Kind pattern"`
	Tag     string   `json:"tag,omitempty" yaml:"tag,omitempty" validate:"required_if=Kind validator"`
	Layout  string   `json:"layout,omitempty" yaml:"layout,omitempty"`
	Values  []string `json:"values,omitempty" yaml:"values,omitempty" validate:"required_if=Kind one_of"`
	Expr    string   `json:"expr,omitempty" yaml:"expr,omitempty" validate:"required_if=Kind expression"`
}

// TableDef holds the table-level checks for one table
type TableDef struct {
	PeriodField string                `json:"period_field,omitempty" yaml:"period_field,omitempty"`
	CrossField  []CrossFieldDef       `json:"cross_field,omitempty" yaml:"cross_field,omitempty" validate:"dive"`
	TrendFields []string              `json:"trend_fields,omitempty" yaml:"trend_fields,omitempty" validate:"dive,required"`
	Trend       *quality.TrendConfig `json:"trend,omitempty" yaml:"trend,omitempty"`
}

// CrossFieldDef is a relationship between fields written as an expression.
// Each field is bound by name and as args[i].
type CrossFieldDef struct {
	ID       string   `json:"id" yaml:"id" validate:"required"`
	Fields   []string `json:"fields" yaml:"fields" validate:"required,min=1,dive,required"`
	Expr     string   `json:"expr" yaml:"expr" validate:"required"`
	Severity string   `json:"severity,omitempty" yaml:"severity,omitempty" validate:"omitempty,oneof=error warning info"`
	Message  string   `json:"message,omitempty" yaml:"message,omitempty"`
}

// Format is a document encoding
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatFor picks the encoding from a file extension
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported rule config extension %q (want .yaml, .yml or .json)", filepath.Ext(path))
	}
}

var validate = validator.New()

// Parse decodes and structurally validates a document. Unknown keys are rejected.
func Parse(data []byte, format Format) (*Document, error) {
	var doc Document
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse yaml rule config: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("parse json rule config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported rule config format %q", format)
	}

	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Load reads and parses the document at path
func Load(path string) (*Document, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule config: %w", err)
	}
	doc, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

//go:embed defaults.yaml
var defaultsFS embed.FS

// Default returns the built-in rule set used when no config file is given
func Default() (*Document, error) {
	data, err := defaultsFS.ReadFile("defaults.yaml")
	if err != nil {
		return nil, fmt.Errorf("read default rule config: %w", err)
	}
	return Parse(data, FormatYAML)
}

// Validate checks the document structure and, when present, the schema
func (d *Document) Validate() error {
	if err := validate.Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid rule config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid rule config: %w", err)
	}

	if len(d.Schema) > 0 {
		if err := ValidateSchema(d.Schema); err != nil {
			return fmt.Errorf("invalid rule config schema: %w", err)
		}
	}
	return nil
}
