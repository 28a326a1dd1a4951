package csvimport

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
)

// Result is the outcome of reading one file: the rows that passed every
// rule and the row errors of those that did not.
type Result struct {
	Rows        []*Row
	Errors      []RowError
	TotalRows   int
	ValidRows   int
	ErrorRows   int
	TotalErrors int
	IsTruncated bool
}

// Processor reads and validates a CSV file
type Processor struct {
	maxFileSize   int64
	maxRows       int
	maxErrors     int
	parserOptions []ParserOption
}

// ProcessorOption is a functional option for Processor
type ProcessorOption func(*Processor)

// WithMaxFileSize sets the maximum file size in bytes; 0 disables the check
func WithMaxFileSize(size int64) ProcessorOption {
	return func(p *Processor) {
		p.maxFileSize = size
	}
}

// WithMaxRows sets the maximum number of data rows
func WithMaxRows(rows int) ProcessorOption {
	return func(p *Processor) {
		p.maxRows = rows
	}
}

// WithMaxErrors sets the maximum number of errors to collect
func WithMaxErrors(errors int) ProcessorOption {
	return func(p *Processor) {
		p.maxErrors = errors
	}
}

// WithParserOptions passes options through to the CSVParser
func WithParserOptions(opts ...ParserOption) ProcessorOption {
	return func(p *Processor) {
		p.parserOptions = append(p.parserOptions, opts...)
	}
}

// NewProcessor creates a new Processor
func NewProcessor(opts ...ProcessorOption) *Processor {
	p := &Processor{
		maxFileSize: 512 * 1024 * 1024,
		maxRows:     5_000_000,
		maxErrors:   1000,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process parses the header, checks the required columns and validates every
// row. Missing headers, missing columns, bad encoding and oversized input are
// returned as errors; row-level problems are collected in the Result.
func (p *Processor) Process(ctx context.Context, r io.Reader, required []string, rules []FieldRule) (*Result, error) {
	if p.maxFileSize > 0 {
		r = &limitedReader{r: r, remaining: p.maxFileSize}
	}

	parser, err := NewCSVParser(r, p.parserOptions...)
	if err != nil {
		return nil, err
	}
	if err := parser.ParseHeader(); err != nil {
		return nil, err
	}
	if missing := parser.ValidateHeaders(required); len(missing) > 0 {
		return nil, &MissingColumnsError{Columns: missing}
	}

	validator := NewFieldValidator(rules, p.maxErrors)
	parseErrors := NewErrorCollection(p.maxErrors)
	result := &Result{}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		row, err := parser.ReadRow()
		if err == io.EOF {
			break
		}
		if errors.Is(err, ErrFileTooLarge) {
			return nil, ErrFileTooLarge
		}
		var parseErr *csv.ParseError
		if err != nil && !errors.As(err, &parseErr) {
			return nil, err
		}
		if err != nil {
			parseErrors.Add(NewRowError(parser.CurrentRow(), "", ErrCodeImportCSVParsing, err.Error()))
			result.ErrorRows++
			continue
		}
		if row.IsEmpty() {
			continue
		}

		result.TotalRows++
		if p.maxRows > 0 && result.TotalRows > p.maxRows {
			parseErrors.Add(NewRowError(row.LineNumber, "", ErrCodeImportTooManyRows, "exceeded maximum number of rows"))
			result.TotalRows--
			break
		}

		if validator.ValidateRow(row) {
			result.ValidRows++
			result.Rows = append(result.Rows, row)
		} else {
			result.ErrorRows++
		}
	}

	all := NewErrorCollection(p.maxErrors)
	for _, e := range parseErrors.Errors() {
		all.Add(e)
	}
	for _, e := range validator.Errors().Errors() {
		all.Add(e)
	}
	result.Errors = all.Errors()
	result.TotalErrors = parseErrors.TotalCount() + validator.Errors().TotalCount()
	result.IsTruncated = result.TotalErrors > len(result.Errors)
	return result, nil
}

// limitedReader fails with ErrFileTooLarge once more than remaining bytes
// have been read
type limitedReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitedReader) Read(b []byte) (int, error) {
	if l.remaining < 0 {
		return 0, ErrFileTooLarge
	}
	if int64(len(b)) > l.remaining+1 {
		b = b[:l.remaining+1]
	}
	n, err := l.r.Read(b)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, ErrFileTooLarge
	}
	return n, err
}
