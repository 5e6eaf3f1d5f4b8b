package ruleconfig

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Schema declares the columns of each reporting table.
// Maps table names to field names to field types.
type Schema map[string]map[string]string

// Field types
const (
	TypeNumber = "number"
	TypeString = "string"
	TypeDate   = "date"
	TypeBool   = "bool"
)

const (
	maxTables         = 100
	maxFieldsPerTable = 200
	maxIdentifierLen  = 100
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateSchema checks table and field names and field types.
// Returns an error describing the first problem found.
func ValidateSchema(schema Schema) error {
	if len(schema) == 0 {
		return fmt.Errorf("schema cannot be empty, must contain at least one table definition")
	}

	if len(schema) > maxTables {
		return fmt.Errorf("schema contains %d tables, maximum allowed is %d", len(schema), maxTables)
	}

	for _, table := range sortedKeys(schema) {
		fields := schema[table]
		if err := validateIdentifier(table); err != nil {
			return fmt.Errorf("invalid table name %q: %w", table, err)
		}

		if len(fields) == 0 {
			return fmt.Errorf("table %q must contain at least one field", table)
		}

		if len(fields) > maxFieldsPerTable {
			return fmt.Errorf("table %q contains %d fields, maximum allowed is %d", table, len(fields), maxFieldsPerTable)
		}

		for _, field := range sortedKeys(fields) {
			typeName := fields[field]
			if err := validateIdentifier(field); err != nil {
				return fmt.Errorf("invalid field name %q in table %q: %w", field, table, err)
			}

			if typeName == "" {
				return fmt.Errorf("field %q in table %q has empty type name", field, table)
			}

			if strings.TrimSpace(typeName) != typeName {
				return fmt.Errorf("field %q in table %q has type with leading/trailing whitespace: %q", field, table, typeName)
			}

			if !isValidFieldType(typeName) {
				return fmt.Errorf("field %q in table %q has invalid type %q (must be one of: number, string, date, bool)", field, table, typeName)
			}
		}
	}

	return nil
}

// Fields returns the sorted field names of table
func (s Schema) Fields(table string) []string {
	return sortedKeys(s[table])
}

// TypeOf returns the declared type of field in any table
func (s Schema) TypeOf(field string) (string, bool) {
	for _, table := range sortedKeys(s) {
		if t, ok := s[table][field]; ok {
			return t, true
		}
	}
	return "", false
}

// NumberFields returns the sorted names of fields declared as numbers in any table
func (s Schema) NumberFields() []string {
	seen := make(map[string]bool)
	for _, fields := range s {
		for field, typ := range fields {
			if typ == TypeNumber {
				seen[field] = true
			}
		}
	}
	return sortedKeys(seen)
}

// validateIdentifier checks a table or field name. Field names are bound as
// expression variables, so expression keywords are rejected.
func validateIdentifier(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > maxIdentifierLen {
		return fmt.Errorf("identifier length %d exceeds maximum of %d characters", len(name), maxIdentifierLen)
	}

	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("must match pattern ^[a-zA-Z_][a-zA-Z0-9_]*$ (start with letter or underscore, followed by letters, digits, or underscores)")
	}

	if isReservedKeyword(name) {
		return fmt.Errorf("cannot use reserved keyword %q as identifier", name)
	}

	return nil
}

// isValidFieldType checks a type name. Type names are case-sensitive.
func isValidFieldType(typeName string) bool {
	switch typeName {
	case TypeNumber, TypeString, TypeDate, TypeBool:
		return true
	}
	return false
}

// isReservedKeyword reports names that cannot be expression variables
func isReservedKeyword(name string) bool {
	reservedKeywords := map[string]bool{
		// literals
		"true":  true,
		"false": true,
		"null":  true,
		// control flow
		"if":       true,
		"else":     true,
		"for":      true,
		"while":    true,
		"break":    true,
		"continue": true,
		"return":   true,
		// declarations
		"var":      true,
		"let":      true,
		"const":    true,
		"function": true,
		// other
		"in":        true,
		"as":        true,
		"import":    true,
		"package":   true,
		"namespace": true,
		"loop":      true,
		"void":      true,
		// bound by cross-field expressions
		"args": true,
	}

	return reservedKeywords[name]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
