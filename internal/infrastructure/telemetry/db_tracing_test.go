package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type tracedRun struct {
	ID     uint   `gorm:"primaryKey"`
	Status string `gorm:"size:20"`
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&tracedRun{}))
	return db
}

func TestDBTracingPlugin_Disabled(t *testing.T) {
	db := setupTestDB(t)
	plugin := NewDBTracingPlugin(DBTracingConfig{}, zap.NewNop())

	require.NoError(t, plugin.Register(db))
	assert.Equal(t, 200*time.Millisecond, plugin.config.SlowQueryThresh)
}

func TestDBTracingPlugin_RecordsQuerySpans(t *testing.T) {
	recorder := useRecorder(t)
	db := setupTestDB(t)

	plugin := NewDBTracingPlugin(DBTracingConfig{Enabled: true, DBName: "sqlite"}, zap.NewNop())
	require.NoError(t, plugin.Register(db))

	ctx, parent := StartSpan(context.Background(), "history.save")
	require.NoError(t, db.WithContext(ctx).Create(&tracedRun{Status: "SUCCEEDED"}).Error)
	var got tracedRun
	require.NoError(t, db.WithContext(ctx).First(&got).Error)
	parent.End()

	spans := recorder.Ended()
	assert.Greater(t, len(spans), 1)
	for _, s := range spans {
		if s.Name() != "history.save" {
			assert.Equal(t, parent.SpanContext().TraceID(), s.SpanContext().TraceID())
		}
	}
}

func TestDBTracingPlugin_AfterQueryMarksSlowAndFailed(t *testing.T) {
	recorder := useRecorder(t)
	db := setupTestDB(t)
	plugin := NewDBTracingPlugin(DBTracingConfig{Enabled: true, SlowQueryThresh: time.Nanosecond}, zap.NewNop())

	ctx, span := StartSpan(context.Background(), "gorm.query")
	ctx = context.WithValue(ctx, queryStartKey{}, time.Now().Add(-time.Second))

	tx := db.Session(&gorm.Session{NewDB: true})
	tx.Statement.Context = ctx
	tx.Statement.Table = "report_runs"
	tx.Error = errors.New("relation does not exist")
	plugin.afterQuery(tx)
	span.End()

	got := recorder.Ended()[0]
	attrs := attrMap(got.Attributes())
	assert.True(t, attrs["db.slow_query"].AsBool())
	assert.Equal(t, "report_runs", attrs["db.sql.table"].AsString())
	assert.Equal(t, codes.Error, got.Status().Code)
}

func TestDBTracingPlugin_AfterQueryIgnoresNotFound(t *testing.T) {
	recorder := useRecorder(t)
	db := setupTestDB(t)
	plugin := NewDBTracingPlugin(DBTracingConfig{Enabled: true}, zap.NewNop())

	ctx, span := StartSpan(context.Background(), "gorm.query")
	tx := db.Session(&gorm.Session{NewDB: true})
	tx.Statement.Context = ctx
	tx.Error = gorm.ErrRecordNotFound
	plugin.afterQuery(tx)
	span.End()

	got := recorder.Ended()[0]
	assert.NotEqual(t, codes.Error, got.Status().Code)
	assert.NotContains(t, attrMap(got.Attributes()), "db.slow_query")
}
