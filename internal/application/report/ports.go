package report

import (
	"context"
	"time"

	"github.com/erp/arledger/internal/domain/receivable"
	"github.com/google/uuid"
)

// Ledger is what a row source hands to the engine: the rows of the period
// and the findings raised while reading them
type Ledger struct {
	// Source names where the rows came from, e.g. "postgres" or "csv"
	Source   string
	Rows     []receivable.LedgerRow
	Findings []receivable.Finding
}

// RowSource supplies the ledger rows for a period. Connectivity failures
// are returned as errors before the engine starts.
type RowSource interface {
	FetchRows(ctx context.Context, period receivable.Period) (*Ledger, error)
}

// Artifact is one rendered output of a run
type Artifact struct {
	Name        string `json:"name" yaml:"name"`
	ContentType string `json:"content_type" yaml:"content_type"`
	Size        int64  `json:"size" yaml:"size"`
	Location    string `json:"location" yaml:"location"`
}

// Exporter renders a bundle into artifacts
type Exporter interface {
	Name() string
	Export(ctx context.Context, bundle *Bundle) ([]Artifact, error)
}

// Run status values
const (
	RunStatusSucceeded = "SUCCEEDED"
	RunStatusEmpty     = "EMPTY"
	RunStatusFailed    = "FAILED"
)

// RunRecord is the history entry of one run
type RunRecord struct {
	ID         uuid.UUID
	Status     string
	Summary    RunSummary
	Artifacts  []Artifact
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// RunRepository persists run history
type RunRepository interface {
	Save(ctx context.Context, record *RunRecord) error
	FindByID(ctx context.Context, id uuid.UUID) (*RunRecord, error)
	ListRecent(ctx context.Context, limit int) ([]RunRecord, error)
}

// Snapshot is the cached, serialisable view of a bundle
type Snapshot struct {
	Summary RunSummary         `json:"summary"`
	Tables  []receivable.Table `json:"tables"`
}

// Table returns the named table of the snapshot
func (s *Snapshot) Table(name string) (receivable.Table, bool) {
	for _, t := range s.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return receivable.Table{}, false
}

// BundleStore caches snapshots of recent runs
type BundleStore interface {
	Put(ctx context.Context, snapshot *Snapshot) error
	Get(ctx context.Context, runID uuid.UUID) (*Snapshot, error)
}

// Metrics observes runs and stages
type Metrics interface {
	ObserveStage(ctx context.Context, stage string, elapsed time.Duration)
	ObserveRun(ctx context.Context, status string, rows, defects int, elapsed time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ObserveStage(context.Context, string, time.Duration)          {}
func (nopMetrics) ObserveRun(context.Context, string, int, int, time.Duration) {}
