//go:build integration

// Package integration runs the ledger source, migrations and run history
// against a real PostgreSQL started with testcontainers.
package integration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/erp/arledger/internal/infrastructure/config"
	"github.com/erp/arledger/internal/infrastructure/migration"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	testDBName     = "arledger_test"
	testDBUser     = "postgres"
	testDBPassword = "admin123"
)

var (
	// Shared container for all tests in the package
	sharedContainer   *tcpostgres.PostgresContainer
	sharedContainerMu sync.Mutex
)

// TestDB is a migrated database inside the shared container
type TestDB struct {
	DB     *gorm.DB
	DSN    string
	Config config.DatabaseConfig
	t      *testing.T
}

// NewTestDB returns a connection to the shared container, starting and
// migrating it on first use. Tables are truncated on cleanup.
func NewTestDB(t *testing.T) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	sharedContainerMu.Lock()
	defer sharedContainerMu.Unlock()

	ctx := context.Background()
	if sharedContainer == nil {
		container, err := tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase(testDBName),
			tcpostgres.WithUsername(testDBUser),
			tcpostgres.WithPassword(testDBPassword),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second)),
		)
		require.NoError(t, err, "Failed to start PostgreSQL container")
		sharedContainer = container

		dsn, err := container.ConnectionString(ctx, "sslmode=disable")
		require.NoError(t, err, "Failed to get connection string")
		runMigrations(t, dsn)
	}

	dsn, err := sharedContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "Failed to get connection string")

	tdb := &TestDB{
		DB:     connectToDatabase(t, dsn),
		DSN:    dsn,
		Config: databaseConfig(t, ctx, sharedContainer),
		t:      t,
	}
	t.Cleanup(func() {
		tdb.CleanTables()
		if sqlDB, err := tdb.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return tdb
}

// databaseConfig describes the container the way the binaries are configured
func databaseConfig(t *testing.T, ctx context.Context, c *tcpostgres.PostgresContainer) config.DatabaseConfig {
	t.Helper()
	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	p, err := strconv.Atoi(port.Port())
	require.NoError(t, err)

	return config.DatabaseConfig{
		Host:         host,
		Port:         p,
		User:         testDBUser,
		Password:     testDBPassword,
		DBName:       testDBName,
		SSLMode:      "disable",
		MaxOpenConns: 5,
	}
}

// CleanTables truncates every table except the migration bookkeeping
func (tdb *TestDB) CleanTables() {
	tdb.t.Helper()

	var tables []string
	err := tdb.DB.Raw(`
		SELECT tablename FROM pg_tables
		WHERE schemaname = 'public'
		AND tablename != 'schema_migrations'
	`).Scan(&tables).Error
	require.NoError(tdb.t, err, "Failed to get table names")

	for _, table := range tables {
		if err := tdb.DB.Exec(fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)).Error; err != nil {
			tdb.t.Logf("Warning: Failed to truncate table %s: %v", table, err)
		}
	}
}

// LedgerRow is one row of ar_ledger_rows for seeding
type LedgerRow struct {
	ID           int64
	CustomerID   int64
	CustomerName string
	Salesperson  *int64
	Concept      string
	Folio        string
	Kind         string // C or R
	Amount       decimal.Decimal
	IssueDate    time.Time
	DueDate      *time.Time
	LinkedID     *int64
	Cancelled    bool
	CancelledAt  *time.Time
	CreditLimit  decimal.Decimal
	Currency     string
}

// InsertLedger seeds ar_ledger_rows
func (tdb *TestDB) InsertLedger(rows ...LedgerRow) {
	tdb.t.Helper()
	for _, r := range rows {
		currency := r.Currency
		if currency == "" {
			currency = "MXN"
		}
		err := tdb.DB.Exec(`
			INSERT INTO ar_ledger_rows (
				docto_cc_id, cliente_id, nombre_cliente, vendedor_id, concepto, folio,
				tipo_impte, importe, fecha_emision, fecha_vencimiento, docto_cc_acr_id,
				cancelado, fecha_hora_cancelacion, limite_credito, moneda
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, r.CustomerID, r.CustomerName, r.Salesperson, r.Concept, r.Folio,
			r.Kind, r.Amount, r.IssueDate, r.DueDate, r.LinkedID,
			r.Cancelled, r.CancelledAt, r.CreditLimit, currency,
		).Error
		require.NoError(tdb.t, err, "Failed to insert ledger row %d", r.ID)
	}
}

func connectToDatabase(t *testing.T, dsn string) *gorm.DB {
	t.Helper()

	gormConfig := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if os.Getenv("TEST_DB_DEBUG") != "" {
		gormConfig.Logger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(gormpostgres.Open(dsn), gormConfig)
	require.NoError(t, err, "Failed to connect to database")
	return db
}

func runMigrations(t *testing.T, dsn string) {
	t.Helper()

	path := findMigrationsPath()
	require.NotEmpty(t, path, "Could not find migrations directory")

	m, err := migration.Open(dsn, migration.Dir(path), zap.NewNop())
	require.NoError(t, err, "Failed to create migrator")
	defer m.Close()

	require.NoError(t, m.Up(), "Failed to run migrations")
}

// findMigrationsPath walks up from this file to the module's migrations
func findMigrationsPath() string {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return ""
	}
	dir := filepath.Dir(filename)
	for range 5 {
		candidate := filepath.Join(dir, "migrations")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		dir = filepath.Dir(dir)
	}
	return ""
}

// CleanupSharedContainer terminates the shared container. Call it from
// TestMain.
func CleanupSharedContainer() {
	sharedContainerMu.Lock()
	defer sharedContainerMu.Unlock()

	if sharedContainer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = sharedContainer.Terminate(ctx)
		sharedContainer = nil
	}
}

func ptr[T any](v T) *T {
	return &v
}
