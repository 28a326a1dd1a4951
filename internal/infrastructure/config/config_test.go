package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/erp/arledger/internal/domain/receivable"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("loads default values when nothing is set", func(t *testing.T) {
		cfg, err := LoadFrom(writeConfig(t, ""))
		require.NoError(t, err)

		assert.Equal(t, "arledger", cfg.App.Name)
		assert.Equal(t, "development", cfg.App.Env)
		assert.Equal(t, "localhost", cfg.Database.Host)
		assert.Equal(t, 5432, cfg.Database.Port)
		assert.Equal(t, SourcePostgres, cfg.Source.Kind)
		assert.Equal(t, EncodingUTF8, cfg.Source.Encoding)
		assert.Equal(t, ",", cfg.Source.Delimiter)
		assert.Equal(t, []int{30, 60, 90}, cfg.Report.Buckets)
		assert.Equal(t, 3.0, cfg.Report.ZThreshold)
		assert.Equal(t, 5, cfg.Report.MinSample)
		assert.Equal(t, 90, cfg.Report.OverdueThreshold)
		assert.Equal(t, 0.01, cfg.Report.Tolerance)
		assert.True(t, cfg.Report.RequireLinks)
		assert.Equal(t, 90, cfg.Report.DSOPeriodDays)
		assert.True(t, cfg.Export.Workbooks)
		assert.True(t, cfg.Export.PDF)
		assert.True(t, cfg.Export.Manifest)
		assert.Equal(t, StorageLocal, cfg.Storage.Backend)
		assert.Equal(t, CacheMemory, cfg.Cache.Backend)
		assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, "/metrics", cfg.Metrics.Path)
		assert.False(t, cfg.Telemetry.Enabled)
	})

	t.Run("reads values from the TOML file", func(t *testing.T) {
		path := writeConfig(t, `
[source]
kind = "csv"
csv_path = "/data/cxc.csv"
encoding = "Windows-1252"
delimiter = ";"

[report]
buckets = [15, 30, 60]
z_threshold = 2.5
tolerance = 0
require_links = false

[export]
pdf = false
sheet_password = "secreto"
`)
		cfg, err := LoadFrom(path)
		require.NoError(t, err)

		assert.Equal(t, SourceCSV, cfg.Source.Kind)
		assert.Equal(t, "/data/cxc.csv", cfg.Source.CSVPath)
		assert.Equal(t, EncodingWindows1252, cfg.Source.Encoding)
		assert.Equal(t, ";", cfg.Source.Delimiter)
		assert.Equal(t, []int{15, 30, 60}, cfg.Report.Buckets)
		assert.Equal(t, 2.5, cfg.Report.ZThreshold)
		assert.Equal(t, 0.0, cfg.Report.Tolerance)
		assert.False(t, cfg.Report.RequireLinks)
		assert.False(t, cfg.Export.PDF)
		assert.True(t, cfg.Export.Workbooks)
		assert.Equal(t, "secreto", cfg.Export.SheetPassword)
	})

	t.Run("environment overrides file with ARL prefix", func(t *testing.T) {
		path := writeConfig(t, "[database]\nhost = \"filehost\"\n")
		t.Setenv("ARL_DATABASE_HOST", "envhost")
		t.Setenv("ARL_DATABASE_PASSWORD", "s3cret")
		t.Setenv("ARL_REPORT_OVERDUE_THRESHOLD", "120")

		cfg, err := LoadFrom(path)
		require.NoError(t, err)

		assert.Equal(t, "envhost", cfg.Database.Host)
		assert.Equal(t, "s3cret", cfg.Database.Password)
		assert.Equal(t, 120, cfg.Report.OverdueThreshold)
	})

	t.Run("fails on a missing explicit file", func(t *testing.T) {
		_, err := LoadFrom(filepath.Join(t.TempDir(), "absent.toml"))
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"csv without path", "[source]\nkind = \"csv\"\n", "source.csv_path"},
		{"unknown source", "[source]\nkind = \"oracle\"\n", "source.kind"},
		{"unknown encoding", "[source]\nencoding = \"latin9\"\n", "source.encoding"},
		{"long delimiter", "[source]\ndelimiter = \";;\"\n", "source.delimiter"},
		{"s3 without bucket", "[storage]\nbackend = \"s3\"\n", "storage.bucket"},
		{"unknown cache", "[cache]\nbackend = \"memcached\"\n", "cache.backend"},
		{"jwt without secret", "[jwt]\nenabled = true\n", "jwt.secret"},
		{"sampling out of range", "[telemetry]\nsampling_ratio = 1.5\n", "sampling_ratio"},
		{"idle above open", "[database]\nmax_open_conns = 2\nmax_idle_conns = 5\n", "max_idle_conns"},
		{"production without tls", "[app]\nenv = \"production\"\n", "sslmode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReportConfig_EngineOptions(t *testing.T) {
	cfg, err := LoadFrom(writeConfig(t, ""))
	require.NoError(t, err)

	opts, err := cfg.Report.EngineOptions()
	require.NoError(t, err)

	assert.Equal(t, receivable.DefaultOptions().BucketBounds, opts.BucketBounds)
	assert.True(t, decimal.NewFromInt(70).Equal(opts.CreditWarning))
	assert.True(t, decimal.NewFromInt(100).Equal(opts.CreditExceeded))
	assert.Equal(t, "0.01", opts.Tolerance.String())

	bad := cfg.Report
	bad.Buckets = []int{60, 30}
	_, err = bad.EngineOptions()
	assert.True(t, receivable.IsConfigurationError(err))
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5433, User: "cxc", Password: "p@ss word", DBName: "ledger", SSLMode: "require"}
	assert.Equal(t, "postgres://cxc:p%40ss%20word@db:5433/ledger?sslmode=require", d.DSN())
}
