package csvimport

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FieldType represents the expected type of a field
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInt     FieldType = "int"
	TypeDecimal FieldType = "decimal"
	TypeDate    FieldType = "date"
	TypeBool    FieldType = "bool"
)

// DefaultDateLayouts are tried in order when a rule names no layout
var DefaultDateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"02/01/2006",
	"02/01/2006 15:04:05",
}

// FieldRule defines validation rules for a field
type FieldRule struct {
	Column      string
	Type        FieldType
	Required    bool
	MaxLength   int
	DateLayouts []string
	Unique      bool
	CustomFunc  func(value string) error
}

// FieldRuleBuilder helps build field rules fluently
type FieldRuleBuilder struct {
	rule FieldRule
}

// Field creates a new field rule builder
func Field(column string) *FieldRuleBuilder {
	return &FieldRuleBuilder{rule: FieldRule{Column: strings.ToUpper(column), Type: TypeString}}
}

// Required marks the field as required
func (b *FieldRuleBuilder) Required() *FieldRuleBuilder {
	b.rule.Required = true
	return b
}

// Int sets the field type to integer
func (b *FieldRuleBuilder) Int() *FieldRuleBuilder {
	b.rule.Type = TypeInt
	return b
}

// Decimal sets the field type to decimal
func (b *FieldRuleBuilder) Decimal() *FieldRuleBuilder {
	b.rule.Type = TypeDecimal
	return b
}

// Date sets the field type to date, accepting the given layouts first
func (b *FieldRuleBuilder) Date(layouts ...string) *FieldRuleBuilder {
	b.rule.Type = TypeDate
	b.rule.DateLayouts = layouts
	return b
}

// Bool sets the field type to boolean
func (b *FieldRuleBuilder) Bool() *FieldRuleBuilder {
	b.rule.Type = TypeBool
	return b
}

// MaxLength sets the maximum length in runes
func (b *FieldRuleBuilder) MaxLength(n int) *FieldRuleBuilder {
	b.rule.MaxLength = n
	return b
}

// Unique marks the field as unique within the file
func (b *FieldRuleBuilder) Unique() *FieldRuleBuilder {
	b.rule.Unique = true
	return b
}

// Custom sets a custom validation function
func (b *FieldRuleBuilder) Custom(fn func(value string) error) *FieldRuleBuilder {
	b.rule.CustomFunc = fn
	return b
}

// Build returns the built field rule
func (b *FieldRuleBuilder) Build() FieldRule {
	return b.rule
}

// FieldValidator validates fields according to rules
type FieldValidator struct {
	rules       []FieldRule
	uniqueCheck map[string]map[string]int // column -> value -> first row number
	errors      *ErrorCollection
}

// NewFieldValidator creates a new field validator. Rules are checked in
// the given order so error output is deterministic.
func NewFieldValidator(rules []FieldRule, maxErrors int) *FieldValidator {
	return &FieldValidator{
		rules:       rules,
		uniqueCheck: make(map[string]map[string]int),
		errors:      NewErrorCollection(maxErrors),
	}
}

// ValidateRow validates all fields in a row
func (v *FieldValidator) ValidateRow(row *Row) bool {
	ok := true
	for _, rule := range v.rules {
		if !v.validateField(row, rule) {
			ok = false
		}
	}
	return ok
}

func (v *FieldValidator) validateField(row *Row, rule FieldRule) bool {
	value := row.Get(rule.Column)
	if value == "" {
		if rule.Required {
			v.errors.AddRequiredError(row.LineNumber, rule.Column)
			return false
		}
		return true
	}

	if err := validateType(value, rule); err != nil {
		v.errors.AddTypeError(row.LineNumber, rule.Column, string(rule.Type), value)
		return false
	}

	ok := true
	if rule.MaxLength > 0 && len([]rune(value)) > rule.MaxLength {
		v.errors.AddLengthError(row.LineNumber, rule.Column, rule.MaxLength)
		ok = false
	}

	if rule.Unique {
		seen := v.uniqueCheck[rule.Column]
		if seen == nil {
			seen = make(map[string]int)
			v.uniqueCheck[rule.Column] = seen
		}
		if firstRow, exists := seen[value]; exists {
			v.errors.Add(NewRowErrorWithValue(row.LineNumber, rule.Column, ErrCodeImportDuplicateInFile,
				fmt.Sprintf("duplicate value '%s' (first seen in row %d)", value, firstRow), value))
			ok = false
		} else {
			seen[value] = row.LineNumber
		}
	}

	if rule.CustomFunc != nil {
		if err := rule.CustomFunc(value); err != nil {
			v.errors.Add(NewRowErrorWithValue(row.LineNumber, rule.Column, ErrCodeImportValidation, err.Error(), value))
			ok = false
		}
	}
	return ok
}

func validateType(value string, rule FieldRule) error {
	var err error
	switch rule.Type {
	case TypeInt:
		_, err = strconv.ParseInt(value, 10, 64)
	case TypeDecimal:
		_, err = ParseDecimal(value)
	case TypeDate:
		_, err = ParseDate(value, rule.DateLayouts...)
	case TypeBool:
		_, err = ParseBool(value)
	}
	return err
}

// Errors returns the error collection
func (v *FieldValidator) Errors() *ErrorCollection {
	return v.errors
}

// ParseDecimal parses an amount, dropping currency signs, spaces and
// thousands separators ("$1,234.50" is 1234.50).
func ParseDecimal(value string) (decimal.Decimal, error) {
	cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(value)
	return decimal.NewFromString(cleaned)
}

// ParseDate parses a date with the given layouts, then DefaultDateLayouts
func ParseDate(value string, layouts ...string) (time.Time, error) {
	for _, layout := range slices.Concat(layouts, DefaultDateLayouts) {
		if layout == "" {
			continue
		}
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date: %s", value)
}

// ParseBool accepts true/false, 1/0, yes/no and the S/N flags of the ledger
// export.
func ParseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "y", "s", "si", "sí":
		return true, nil
	case "false", "0", "no", "n":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean value: %s", value)
}
