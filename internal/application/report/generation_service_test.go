package report

import (
	"context"
	"errors"
	"testing"

	"github.com/erp/arledger/internal/domain/receivable"
	"github.com/erp/arledger/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// Mocks
// =============================================================================

type MockRowSource struct {
	mock.Mock
}

func (m *MockRowSource) FetchRows(ctx context.Context, period receivable.Period) (*Ledger, error) {
	args := m.Called(ctx, period)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Ledger), args.Error(1)
}

type MockExporter struct {
	mock.Mock
	name string
}

func (m *MockExporter) Name() string {
	return m.name
}

func (m *MockExporter) Export(ctx context.Context, bundle *Bundle) ([]Artifact, error) {
	args := m.Called(ctx, bundle)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Artifact), args.Error(1)
}

type MockRunRepository struct {
	mock.Mock
}

func (m *MockRunRepository) Save(ctx context.Context, record *RunRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockRunRepository) FindByID(ctx context.Context, id uuid.UUID) (*RunRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*RunRecord), args.Error(1)
}

func (m *MockRunRepository) ListRecent(ctx context.Context, limit int) ([]RunRecord, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]RunRecord), args.Error(1)
}

type MockBundleStore struct {
	mock.Mock
}

func (m *MockBundleStore) Put(ctx context.Context, snapshot *Snapshot) error {
	args := m.Called(ctx, snapshot)
	return args.Error(0)
}

func (m *MockBundleStore) Get(ctx context.Context, runID uuid.UUID) (*Snapshot, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Snapshot), args.Error(1)
}

func samplePeriod() receivable.Period {
	return receivable.Period{Start: day(0), End: day(60)}
}

// =============================================================================
// Tests
// =============================================================================

func TestGenerationService_Generate(t *testing.T) {
	source := new(MockRowSource)
	exporter := &MockExporter{name: "workbook"}
	history := new(MockRunRepository)
	store := new(MockBundleStore)
	metrics := &recordingMetrics{}

	source.On("FetchRows", mock.Anything, samplePeriod()).Return(sampleLedger(), nil)
	exporter.On("Export", mock.Anything, mock.AnythingOfType("*report.Bundle")).
		Return([]Artifact{{Name: "reporte_cxc_2024-03-01.xlsx", Size: 10}}, nil)
	history.On("Save", mock.Anything, mock.MatchedBy(func(r *RunRecord) bool {
		return r.Status == RunStatusSucceeded && len(r.Artifacts) == 1 && r.Summary.Invoices == 2
	})).Return(nil)
	store.On("Put", mock.Anything, mock.MatchedBy(func(s *Snapshot) bool {
		_, ok := s.Table(receivable.TableInvoices)
		return ok
	})).Return(nil)

	svc := NewGenerationService(newTestService(), source, zap.NewNop(),
		WithExporters(exporter),
		WithHistory(history),
		WithBundleStore(store),
		WithRunMetrics(metrics),
	)

	result, err := svc.Generate(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Len(t, result.Artifacts, 1)
	assert.Equal(t, result.Bundle.RunID, result.Record.ID)
	assert.Equal(t, RunStatusSucceeded, result.Record.Status)
	assert.Equal(t, []string{RunStatusSucceeded}, metrics.runs)

	source.AssertExpectations(t)
	exporter.AssertExpectations(t)
	history.AssertExpectations(t)
	store.AssertExpectations(t)
}

func TestGenerationService_GenerateConfigErrorSkipsSource(t *testing.T) {
	source := new(MockRowSource)
	svc := NewGenerationService(newTestService(), source, zap.NewNop())

	_, err := svc.Generate(context.Background(), RunRequest{Buckets: []int{0}})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrConfiguration)
	source.AssertNotCalled(t, "FetchRows", mock.Anything, mock.Anything)
}

func TestGenerationService_GenerateSourceFailure(t *testing.T) {
	source := new(MockRowSource)
	metrics := &recordingMetrics{}
	source.On("FetchRows", mock.Anything, mock.Anything).Return(nil, shared.ErrSourceNotReady)

	svc := NewGenerationService(newTestService(), source, zap.NewNop(), WithRunMetrics(metrics))

	result, err := svc.Generate(context.Background(), sampleRequest())
	assert.Nil(t, result)
	assert.ErrorIs(t, err, shared.ErrSourceNotReady)
	assert.Equal(t, []string{RunStatusFailed}, metrics.runs)
}

func TestGenerationService_GenerateEmpty(t *testing.T) {
	source := new(MockRowSource)
	history := new(MockRunRepository)
	source.On("FetchRows", mock.Anything, mock.Anything).Return(&Ledger{}, nil)
	history.On("Save", mock.Anything, mock.MatchedBy(func(r *RunRecord) bool {
		return r.Status == RunStatusEmpty && r.Summary.Empty
	})).Return(nil)

	svc := NewGenerationService(newTestService(), source, zap.NewNop(), WithHistory(history))

	result, err := svc.Generate(context.Background(), sampleRequest())
	require.ErrorIs(t, err, receivable.ErrEmptyInput)
	require.NotNil(t, result)
	assert.True(t, result.Bundle.Empty)
	history.AssertExpectations(t)
}

func TestGenerationService_GenerateExportFailure(t *testing.T) {
	source := new(MockRowSource)
	first := &MockExporter{name: "workbook"}
	second := &MockExporter{name: "pdf"}
	history := new(MockRunRepository)
	store := new(MockBundleStore)
	diskFull := errors.New("disk full")

	source.On("FetchRows", mock.Anything, mock.Anything).Return(sampleLedger(), nil)
	first.On("Export", mock.Anything, mock.Anything).Return(nil, diskFull)
	history.On("Save", mock.Anything, mock.MatchedBy(func(r *RunRecord) bool {
		return r.Status == RunStatusFailed && r.Error != ""
	})).Return(nil)

	svc := NewGenerationService(newTestService(), source, zap.NewNop(),
		WithExporters(first, second),
		WithHistory(history),
		WithBundleStore(store),
	)

	result, err := svc.Generate(context.Background(), sampleRequest())
	require.ErrorIs(t, err, diskFull)
	require.NotNil(t, result)
	assert.Equal(t, RunStatusFailed, result.Record.Status)

	second.AssertNotCalled(t, "Export", mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
	history.AssertExpectations(t)
}

func TestGenerationService_HistoryFailureIsNotFatal(t *testing.T) {
	source := new(MockRowSource)
	history := new(MockRunRepository)
	source.On("FetchRows", mock.Anything, mock.Anything).Return(sampleLedger(), nil)
	history.On("Save", mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	svc := NewGenerationService(newTestService(), source, zap.NewNop(), WithHistory(history))

	result, err := svc.Generate(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, RunStatusSucceeded, result.Record.Status)
}

func TestGenerationService_Queries(t *testing.T) {
	runID := uuid.New()
	history := new(MockRunRepository)
	store := new(MockBundleStore)
	snapshot := &Snapshot{Tables: []receivable.Table{{Name: receivable.TableABC, Columns: []string{"CUSTOMER_ID"}}}}

	history.On("ListRecent", mock.Anything, 5).Return([]RunRecord{{ID: runID}}, nil)
	history.On("FindByID", mock.Anything, runID).Return(&RunRecord{ID: runID}, nil)
	store.On("Get", mock.Anything, runID).Return(snapshot, nil)

	svc := NewGenerationService(newTestService(), new(MockRowSource), zap.NewNop(),
		WithHistory(history), WithBundleStore(store))
	ctx := context.Background()

	runs, err := svc.RecentRuns(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	record, err := svc.FindRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, runID, record.ID)

	table, err := svc.FindTable(ctx, runID, receivable.TableABC)
	require.NoError(t, err)
	assert.Equal(t, []string{"CUSTOMER_ID"}, table.Columns)

	_, err = svc.FindTable(ctx, runID, "NOPE")
	assert.ErrorIs(t, err, ErrTableNotFound)
}

func TestGenerationService_QueriesWithoutBackends(t *testing.T) {
	svc := NewGenerationService(newTestService(), new(MockRowSource), zap.NewNop())
	ctx := context.Background()

	runs, err := svc.RecentRuns(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)

	_, err = svc.FindRun(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = svc.FindTable(ctx, uuid.New(), receivable.TableABC)
	assert.ErrorIs(t, err, ErrRunNotFound)
}
