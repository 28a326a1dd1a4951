package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/erp/arledger/internal/application/report"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultListLimit bounds ListRecent when the caller passes no limit
const DefaultListLimit = 20

// ReportRunModel is the persistence model of one run history entry
type ReportRunModel struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey"`
	PeriodStart   time.Time       `gorm:"type:date;not null"`
	PeriodEnd     time.Time       `gorm:"type:date;not null"`
	ReferenceDate time.Time       `gorm:"type:date;not null"`
	Status        string          `gorm:"type:varchar(16);not null;index"`
	RowCount      int             `gorm:"not null;default:0"`
	InvoiceCount  int             `gorm:"not null;default:0"`
	OpenTotal     decimal.Decimal `gorm:"type:numeric(18,2);not null;default:0"`
	DefectCount   int             `gorm:"not null;default:0"`
	Summary       string          `gorm:"type:jsonb;not null"`
	Artifacts     string          `gorm:"type:jsonb;not null"`
	Error         string          `gorm:"type:text"`
	StartedAt     time.Time       `gorm:"not null;index"`
	FinishedAt    time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ReportRunModel) TableName() string {
	return "report_runs"
}

// FromDomain populates the model from a run record
func (m *ReportRunModel) FromDomain(r *report.RunRecord) error {
	summary, err := json.Marshal(r.Summary)
	if err != nil {
		return fmt.Errorf("encode run summary: %w", err)
	}
	artifacts := r.Artifacts
	if artifacts == nil {
		artifacts = []report.Artifact{}
	}
	encoded, err := json.Marshal(artifacts)
	if err != nil {
		return fmt.Errorf("encode run artifacts: %w", err)
	}

	m.ID = r.ID
	m.PeriodStart = r.Summary.PeriodStart
	m.PeriodEnd = r.Summary.PeriodEnd
	m.ReferenceDate = r.Summary.ReferenceDate
	m.Status = r.Status
	m.RowCount = r.Summary.Rows
	m.InvoiceCount = r.Summary.Invoices
	m.OpenTotal = r.Summary.OpenTotal
	m.DefectCount = r.Summary.DefectCount
	m.Summary = string(summary)
	m.Artifacts = string(encoded)
	m.Error = r.Error
	m.StartedAt = r.StartedAt
	m.FinishedAt = r.FinishedAt
	return nil
}

// ToDomain converts the model back to a run record. The summary JSON is
// authoritative; the flat columns exist for querying.
func (m *ReportRunModel) ToDomain() (*report.RunRecord, error) {
	record := &report.RunRecord{
		ID:         m.ID,
		Status:     m.Status,
		Error:      m.Error,
		StartedAt:  m.StartedAt,
		FinishedAt: m.FinishedAt,
	}
	if m.Summary != "" {
		if err := json.Unmarshal([]byte(m.Summary), &record.Summary); err != nil {
			return nil, fmt.Errorf("decode run summary %s: %w", m.ID, err)
		}
	}
	if m.Artifacts != "" {
		if err := json.Unmarshal([]byte(m.Artifacts), &record.Artifacts); err != nil {
			return nil, fmt.Errorf("decode run artifacts %s: %w", m.ID, err)
		}
	}
	return record, nil
}

// GormReportRunRepository implements report.RunRepository using GORM
type GormReportRunRepository struct {
	db *gorm.DB
}

// NewGormReportRunRepository creates a new GormReportRunRepository
func NewGormReportRunRepository(db *gorm.DB) *GormReportRunRepository {
	return &GormReportRunRepository{db: db}
}

// Save inserts the record or replaces an existing one with the same ID
func (r *GormReportRunRepository) Save(ctx context.Context, record *report.RunRecord) error {
	var model ReportRunModel
	if err := model.FromDomain(record); err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&model).Error
}

// FindByID returns report.ErrRunNotFound when no entry exists
func (r *GormReportRunRepository) FindByID(ctx context.Context, id uuid.UUID) (*report.RunRecord, error) {
	var model ReportRunModel
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, report.ErrRunNotFound
		}
		return nil, err
	}
	return model.ToDomain()
}

// ListRecent returns the latest entries, most recent first
func (r *GormReportRunRepository) ListRecent(ctx context.Context, limit int) ([]report.RunRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var runModels []ReportRunModel
	if err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&runModels).Error; err != nil {
		return nil, err
	}

	records := make([]report.RunRecord, 0, len(runModels))
	for i := range runModels {
		record, err := runModels[i].ToDomain()
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, nil
}

var _ report.RunRepository = (*GormReportRunRepository)(nil)
