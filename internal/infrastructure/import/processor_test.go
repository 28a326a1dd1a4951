package csvimport

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRules = []FieldRule{
	Field("FOLIO").Required().Build(),
	Field("IMPORTE").Required().Decimal().Build(),
}

func TestProcessor_Process(t *testing.T) {
	body := "FOLIO,IMPORTE\nF-1,100\n,\nF-2,abc\n,5\nF-3,7.25\n"

	result, err := NewProcessor().Process(context.Background(), strings.NewReader(body), []string{"FOLIO", "IMPORTE"}, testRules)
	require.NoError(t, err)

	assert.Equal(t, 4, result.TotalRows)
	assert.Equal(t, 2, result.ValidRows)
	assert.Equal(t, 2, result.ErrorRows)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "F-3", result.Rows[1].Get("FOLIO"))
	require.Len(t, result.Errors, 2)
	assert.Equal(t, 4, result.Errors[0].Row)
	assert.Equal(t, ErrCodeImportInvalidType, result.Errors[0].Code)
	assert.Equal(t, ErrCodeImportRequiredField, result.Errors[1].Code)
	assert.False(t, result.IsTruncated)
}

func TestProcessor_MissingColumns(t *testing.T) {
	_, err := NewProcessor().Process(context.Background(), strings.NewReader("FOLIO\nF-1\n"), []string{"FOLIO", "IMPORTE"}, testRules)

	var missing *MissingColumnsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"IMPORTE"}, missing.Columns)
	assert.ErrorIs(t, err, ErrMissingHeader)
}

func TestProcessor_Limits(t *testing.T) {
	body := "FOLIO,IMPORTE\nF-1,1\nF-2,2\nF-3,3\n"

	t.Run("max rows", func(t *testing.T) {
		result, err := NewProcessor(WithMaxRows(2)).Process(context.Background(), strings.NewReader(body), nil, testRules)
		require.NoError(t, err)
		assert.Equal(t, 2, result.ValidRows)
		require.Len(t, result.Errors, 1)
		assert.Equal(t, ErrCodeImportTooManyRows, result.Errors[0].Code)
	})

	t.Run("max file size", func(t *testing.T) {
		_, err := NewProcessor(WithMaxFileSize(10)).Process(context.Background(), strings.NewReader(body), nil, testRules)
		assert.ErrorIs(t, err, ErrFileTooLarge)
	})

	t.Run("max errors truncates", func(t *testing.T) {
		bad := "FOLIO,IMPORTE\n,1\n,2\n,3\n"
		result, err := NewProcessor(WithMaxErrors(1)).Process(context.Background(), strings.NewReader(bad), nil, testRules)
		require.NoError(t, err)
		assert.Len(t, result.Errors, 1)
		assert.Equal(t, 3, result.TotalErrors)
		assert.True(t, result.IsTruncated)
	})
}

func TestProcessor_ParserOptions(t *testing.T) {
	body := "FOLIO;IMPORTE\nF-1;1\n"
	result, err := NewProcessor(WithParserOptions(WithDelimiter(';'))).
		Process(context.Background(), strings.NewReader(body), []string{"FOLIO"}, testRules)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ValidRows)
}

func TestProcessor_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewProcessor().Process(ctx, strings.NewReader("FOLIO,IMPORTE\nF-1,1\n"), nil, testRules)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcessor_EmptyFile(t *testing.T) {
	_, err := NewProcessor().Process(context.Background(), strings.NewReader(""), nil, testRules)
	assert.ErrorIs(t, err, ErrEmptyFile)
}
