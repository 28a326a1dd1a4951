package csvimport

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(line int, data map[string]string) *Row {
	return &Row{LineNumber: line, Data: data}
}

func TestFieldValidator_ValidateRow(t *testing.T) {
	rules := []FieldRule{
		Field("docto_cc_id").Required().Unique().Build(),
		Field("IMPORTE").Required().Decimal().Build(),
		Field("FECHA_EMISION").Required().Date("02-01-2006").Build(),
		Field("CANCELADO").Bool().Build(),
		Field("FOLIO").MaxLength(5).Build(),
		Field("DIAS").Int().Build(),
		Field("TIPO_IMPTE").Custom(func(v string) error {
			if v != "C" && v != "R" {
				return errors.New("unknown movement kind")
			}
			return nil
		}).Build(),
	}

	tests := []struct {
		name  string
		data  map[string]string
		valid bool
		code  string
	}{
		{"valid row", map[string]string{"DOCTO_CC_ID": "1", "IMPORTE": "$1,200.50", "FECHA_EMISION": "15-03-2024", "CANCELADO": "N", "FOLIO": "F-1", "TIPO_IMPTE": "C"}, true, ""},
		{"missing required", map[string]string{"DOCTO_CC_ID": "2", "FECHA_EMISION": "2024-03-15"}, false, ErrCodeImportRequiredField},
		{"bad decimal", map[string]string{"DOCTO_CC_ID": "3", "IMPORTE": "mil", "FECHA_EMISION": "2024-03-15"}, false, ErrCodeImportInvalidType},
		{"bad date", map[string]string{"DOCTO_CC_ID": "4", "IMPORTE": "1", "FECHA_EMISION": "marzo"}, false, ErrCodeImportInvalidType},
		{"bad bool", map[string]string{"DOCTO_CC_ID": "5", "IMPORTE": "1", "FECHA_EMISION": "2024-03-15", "CANCELADO": "tal vez"}, false, ErrCodeImportInvalidType},
		{"too long", map[string]string{"DOCTO_CC_ID": "6", "IMPORTE": "1", "FECHA_EMISION": "2024-03-15", "FOLIO": "F-12345"}, false, ErrCodeImportInvalidLength},
		{"bad int", map[string]string{"DOCTO_CC_ID": "7", "IMPORTE": "1", "FECHA_EMISION": "2024-03-15", "DIAS": "x"}, false, ErrCodeImportInvalidType},
		{"custom rule", map[string]string{"DOCTO_CC_ID": "8", "IMPORTE": "1", "FECHA_EMISION": "2024-03-15", "TIPO_IMPTE": "Z"}, false, ErrCodeImportValidation},
		{"duplicate id", map[string]string{"DOCTO_CC_ID": "1", "IMPORTE": "1", "FECHA_EMISION": "2024-03-15"}, false, ErrCodeImportDuplicateInFile},
	}

	v := NewFieldValidator(rules, 100)
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(v.Errors().Errors())
			assert.Equal(t, tt.valid, v.ValidateRow(row(i+2, tt.data)))
			if tt.code != "" {
				require.Greater(t, len(v.Errors().Errors()), before)
				assert.Equal(t, tt.code, v.Errors().Errors()[before].Code)
				assert.Equal(t, i+2, v.Errors().Errors()[before].Row)
			}
		})
	}
}

func TestParseDecimal(t *testing.T) {
	d, err := ParseDecimal("$ 1,234.50")
	require.NoError(t, err)
	assert.Equal(t, "1234.5", d.String())

	d, err = ParseDecimal("-20")
	require.NoError(t, err)
	assert.True(t, d.IsNegative())

	_, err = ParseDecimal("abc")
	assert.Error(t, err)
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2024-03-15", "15/03/2024", "2024-03-15 00:00:00"} {
		got, err := ParseDate(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), in)
	}

	got, err := ParseDate("03.15.2024", "01.02.2006")
	require.NoError(t, err)
	assert.True(t, want.Equal(got))

	_, err = ParseDate("ayer")
	assert.Error(t, err)
}

func TestParseBool(t *testing.T) {
	for _, in := range []string{"S", "si", "Sí", "1", "true", "Y"} {
		v, err := ParseBool(in)
		require.NoError(t, err, in)
		assert.True(t, v, in)
	}
	for _, in := range []string{"N", "no", "0", "false"} {
		v, err := ParseBool(in)
		require.NoError(t, err, in)
		assert.False(t, v, in)
	}
	_, err := ParseBool("quizá")
	assert.Error(t, err)
}
