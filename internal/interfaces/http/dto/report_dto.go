package dto

import (
	"fmt"
	"time"

	"github.com/erp/arledger/internal/application/report"
	"github.com/erp/arledger/internal/domain/receivable"
	"github.com/shopspring/decimal"
)

// DateLayout is the date format accepted and returned by the API
const DateLayout = "2006-01-02"

// CreateRunRequest triggers a report run. Omitted fields fall back to the
// server configuration.
type CreateRunRequest struct {
	PeriodStart      string           `json:"period_start" binding:"omitempty,datetime=2006-01-02"`
	PeriodEnd        string           `json:"period_end" binding:"omitempty,datetime=2006-01-02"`
	ReferenceDate    string           `json:"reference_date" binding:"omitempty,datetime=2006-01-02"`
	Buckets          []int            `json:"buckets" binding:"omitempty,max=12,ascending,dive,gt=0"`
	ZThreshold       float64          `json:"z_threshold" binding:"omitempty,gt=0"`
	MinSample        int              `json:"min_sample" binding:"omitempty,gte=2"`
	OverdueThreshold int              `json:"overdue_threshold" binding:"omitempty,gte=0"`
	CreditWarning    *decimal.Decimal `json:"credit_warning"`
	CreditExceeded   *decimal.Decimal `json:"credit_exceeded"`
	Tolerance        *decimal.Decimal `json:"tolerance"`
	RequireLinks     *bool            `json:"require_links"`
	TopDebtors       int              `json:"top_debtors" binding:"omitempty,gte=0"`
	SkipAudit        bool             `json:"skip_audit"`
	SkipAnalytics    bool             `json:"skip_analytics"`
	SkipKPIs         bool             `json:"skip_kpis"`
}

// ToRunRequest converts the body to the application request
func (r CreateRunRequest) ToRunRequest() (report.RunRequest, error) {
	req := report.RunRequest{
		Buckets:          r.Buckets,
		ZThreshold:       r.ZThreshold,
		MinSample:        r.MinSample,
		OverdueThreshold: r.OverdueThreshold,
		Tolerance:        r.Tolerance,
		RequireLinks:     r.RequireLinks,
		TopDebtors:       r.TopDebtors,
		SkipAudit:        r.SkipAudit,
		SkipAnalytics:    r.SkipAnalytics,
		SkipKPIs:         r.SkipKPIs,
	}
	if r.CreditWarning != nil {
		req.CreditWarning = *r.CreditWarning
	}
	if r.CreditExceeded != nil {
		req.CreditExceeded = *r.CreditExceeded
	}

	var err error
	if req.PeriodStart, err = parseDate("period_start", r.PeriodStart); err != nil {
		return req, err
	}
	if req.PeriodEnd, err = parseDate("period_end", r.PeriodEnd); err != nil {
		return req, err
	}
	if req.ReferenceDate, err = parseDate("reference_date", r.ReferenceDate); err != nil {
		return req, err
	}
	return req, nil
}

func parseDate(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be a %s date", field, DateLayout)
	}
	return t, nil
}

// RunResponse describes one run
type RunResponse struct {
	ID         string              `json:"id"`
	Status     string              `json:"status"`
	Summary    report.RunSummary   `json:"summary"`
	Artifacts  []report.Artifact   `json:"artifacts"`
	Error      string              `json:"error,omitempty"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Tables     []string            `json:"tables,omitempty"`
	Timings    []StageTimingResult `json:"timings,omitempty"`
}

// StageTimingResult is the elapsed time of one stage in milliseconds
type StageTimingResult struct {
	Stage     string `json:"stage"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// NewRunResponse converts a history record
func NewRunResponse(r *report.RunRecord) RunResponse {
	artifacts := r.Artifacts
	if artifacts == nil {
		artifacts = []report.Artifact{}
	}
	return RunResponse{
		ID:         r.ID.String(),
		Status:     r.Status,
		Summary:    r.Summary,
		Artifacts:  artifacts,
		Error:      r.Error,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

// NewGenerationResponse converts a fresh run, adding the table names and
// stage timings only known while the bundle is in memory
func NewGenerationResponse(result *report.GenerationResult) RunResponse {
	resp := NewRunResponse(result.Record)
	for _, t := range result.Bundle.Tables() {
		resp.Tables = append(resp.Tables, t.Name)
	}
	for _, t := range result.Bundle.Timings {
		resp.Timings = append(resp.Timings, StageTimingResult{Stage: t.Stage, ElapsedMS: t.Elapsed.Milliseconds()})
	}
	return resp
}

// TableResponse is one flat table of a run
type TableResponse struct {
	RunID   string   `json:"run_id"`
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
	Total   int      `json:"total"`
}

// NewTableResponse converts a table, keeping at most limit rows after
// offset. A limit of 0 returns every remaining row.
func NewTableResponse(runID string, t receivable.Table, offset, limit int) TableResponse {
	rows := t.Rows
	if offset > len(rows) {
		offset = len(rows)
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	if rows == nil {
		rows = [][]any{}
	}
	return TableResponse{
		RunID:   runID,
		Name:    t.Name,
		Columns: t.Columns,
		Rows:    rows,
		Total:   len(t.Rows),
	}
}

// TableQuery pages through a table
type TableQuery struct {
	Offset int `form:"offset" binding:"omitempty,gte=0"`
	Limit  int `form:"limit" binding:"omitempty,gte=0,lte=10000"`
}

// ListRunsQuery bounds the run history listing
type ListRunsQuery struct {
	Limit int `form:"limit" binding:"omitempty,gte=1,lte=100"`
}
