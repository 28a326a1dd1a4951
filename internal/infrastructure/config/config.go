package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/erp/arledger/internal/domain/receivable"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Log       LogConfig
	Database  DatabaseConfig
	Source    SourceConfig
	Report    ReportConfig
	Export    ExportConfig
	Storage   StorageConfig
	Cache     CacheConfig
	Redis     RedisConfig
	HTTP      HTTPConfig
	JWT       JWTConfig
	Telemetry TelemetryConfig
	Metrics   MetricsConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds the Postgres connection used for the ledger source
// and the run history
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int  // in minutes
	ConnMaxIdleTime int  // in minutes
	AutoMigrate     bool // apply the embedded migrations when the server starts
}

// Source kinds
const (
	SourcePostgres = "postgres"
	SourceCSV      = "csv"
)

// Encodings accepted for CSV sources
const (
	EncodingUTF8        = "utf-8"
	EncodingWindows1252 = "windows-1252"
)

// SourceConfig selects where ledger rows come from
type SourceConfig struct {
	Kind       string // postgres, csv
	CSVPath    string
	Delimiter  string
	Encoding   string // utf-8, windows-1252
	QueryFile  string // optional .sql overriding the built-in master query
	DateFormat string
}

// ReportConfig holds the engine thresholds
type ReportConfig struct {
	Buckets          []int
	ZThreshold       float64
	MinSample        int
	OverdueThreshold int     // days
	CreditWarning    float64 // utilization percent
	CreditExceeded   float64 // utilization percent
	Tolerance        float64
	RequireLinks     bool
	TopDebtors       int
	DSOPeriodDays    int
}

// ExportConfig controls the rendered artifacts
type ExportConfig struct {
	OutputDir       string
	Workbooks       bool
	PDF             bool
	Manifest        bool
	SheetPassword   string // protects the KPI summary sheet
	DateInFilenames bool
}

// Storage backends
const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

// StorageConfig selects where artifacts are stored
type StorageConfig struct {
	Backend         string // local, s3
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
	UsePathStyle    bool
}

// Cache backends
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// CacheConfig holds the run snapshot cache settings
type CacheConfig struct {
	Backend string // memory, redis
	TTL     time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	RunTimeout     time.Duration // upper bound of one report run triggered over HTTP
	TrustedProxies []string
	RunRateLimit   int           // report runs per caller per window, 0 disables
	RunRateWindow  time.Duration
}

// JWTConfig holds bearer token settings for the API
type JWTConfig struct {
	Enabled  bool
	Secret   string
	Issuer   string
	TokenTTL time.Duration
}

// TelemetryConfig holds OpenTelemetry and profiling configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable tracing
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string
	Insecure          bool // Use insecure (non-TLS) connection (development only)
	DBTraceEnabled    bool // Trace run history queries (otelgorm)

	MetricsEnabled        bool // Push metrics over OTLP (batch runs)
	MetricsExportInterval time.Duration

	LogsEnabled bool   // Bridge zap into the OTel log pipeline
	LogsLevel   string // minimum level exported

	ProfilingEnabled       bool
	ProfilingServerAddress string
	SpanProfilesEnabled    bool
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	Enabled   bool
	Path      string
	Namespace string
}

// Load loads configuration from the default locations.
// Priority (highest to lowest):
// 1. Environment variables with ARL_ prefix (e.g., ARL_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom loads configuration from an explicit TOML file, or from the
// default search paths when path is empty
func LoadFrom(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/arledger")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("ARL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			AutoMigrate:     v.GetBool("database.auto_migrate"),
		},
		Source: SourceConfig{
			Kind:       strings.ToLower(v.GetString("source.kind")),
			CSVPath:    v.GetString("source.csv_path"),
			Delimiter:  v.GetString("source.delimiter"),
			Encoding:   strings.ToLower(v.GetString("source.encoding")),
			QueryFile:  v.GetString("source.query_file"),
			DateFormat: v.GetString("source.date_format"),
		},
		Report: ReportConfig{
			Buckets:          v.GetIntSlice("report.buckets"),
			ZThreshold:       v.GetFloat64("report.z_threshold"),
			MinSample:        v.GetInt("report.min_sample"),
			OverdueThreshold: v.GetInt("report.overdue_threshold"),
			CreditWarning:    v.GetFloat64("report.credit_warning"),
			CreditExceeded:   v.GetFloat64("report.credit_exceeded"),
			Tolerance:        v.GetFloat64("report.tolerance"),
			TopDebtors:       v.GetInt("report.top_debtors"),
			DSOPeriodDays:    v.GetInt("report.dso_period_days"),
		},
		Export: ExportConfig{
			OutputDir:     v.GetString("export.output_dir"),
			SheetPassword: v.GetString("export.sheet_password"),
		},
		Storage: StorageConfig{
			Backend:         strings.ToLower(v.GetString("storage.backend")),
			Bucket:          v.GetString("storage.bucket"),
			Region:          v.GetString("storage.region"),
			Endpoint:        v.GetString("storage.endpoint"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			Prefix:          v.GetString("storage.prefix"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),
		},
		Cache: CacheConfig{
			Backend: strings.ToLower(v.GetString("cache.backend")),
			TTL:     v.GetDuration("cache.ttl"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			RunTimeout:     v.GetDuration("http.run_timeout"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
			RunRateLimit:   v.GetInt("http.run_rate_limit"),
			RunRateWindow:  v.GetDuration("http.run_rate_window"),
		},
		JWT: JWTConfig{
			Enabled:  v.GetBool("jwt.enabled"),
			Secret:   v.GetString("jwt.secret"),
			Issuer:   v.GetString("jwt.issuer"),
			TokenTTL: v.GetDuration("jwt.token_ttl"),
		},
		Telemetry: TelemetryConfig{
			Enabled:                v.GetBool("telemetry.enabled"),
			CollectorEndpoint:      v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:          v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:            v.GetString("telemetry.service_name"),
			Insecure:               v.GetBool("telemetry.insecure"),
			DBTraceEnabled:         v.GetBool("telemetry.db_trace_enabled"),
			MetricsEnabled:         v.GetBool("telemetry.metrics_enabled"),
			MetricsExportInterval:  v.GetDuration("telemetry.metrics_export_interval"),
			LogsEnabled:            v.GetBool("telemetry.logs_enabled"),
			LogsLevel:              v.GetString("telemetry.logs_level"),
			ProfilingEnabled:       v.GetBool("telemetry.profiling_enabled"),
			ProfilingServerAddress: v.GetString("telemetry.profiling_server_address"),
			SpanProfilesEnabled:    v.GetBool("telemetry.span_profiles_enabled"),
		},
		Metrics: MetricsConfig{
			Path:      v.GetString("metrics.path"),
			Namespace: v.GetString("metrics.namespace"),
		},
	}

	// Booleans that default to true need IsSet to tell "false" from "absent"
	cfg.Report.RequireLinks = boolOr(v, "report.require_links", true)
	cfg.Export.Workbooks = boolOr(v, "export.workbooks", true)
	cfg.Export.PDF = boolOr(v, "export.pdf", true)
	cfg.Export.Manifest = boolOr(v, "export.manifest", true)
	cfg.Export.DateInFilenames = boolOr(v, "export.date_in_filenames", true)
	cfg.Metrics.Enabled = boolOr(v, "metrics.enabled", true)
	if !v.IsSet("report.tolerance") {
		cfg.Report.Tolerance = 0.01
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func boolOr(v *viper.Viper, key string, fallback bool) bool {
	if !v.IsSet(key) {
		return fallback
	}
	return v.GetBool(key)
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "arledger"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "arledger"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 2
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Source.Kind == "" {
		cfg.Source.Kind = SourcePostgres
	}
	if cfg.Source.Delimiter == "" {
		cfg.Source.Delimiter = ","
	}
	if cfg.Source.Encoding == "" {
		cfg.Source.Encoding = EncodingUTF8
	}
	if cfg.Source.DateFormat == "" {
		cfg.Source.DateFormat = "2006-01-02"
	}
	if len(cfg.Report.Buckets) == 0 {
		cfg.Report.Buckets = append([]int(nil), receivable.DefaultBucketBounds...)
	}
	if cfg.Report.ZThreshold == 0 {
		cfg.Report.ZThreshold = receivable.DefaultZThreshold
	}
	if cfg.Report.MinSample == 0 {
		cfg.Report.MinSample = receivable.DefaultMinSample
	}
	if cfg.Report.OverdueThreshold == 0 {
		cfg.Report.OverdueThreshold = receivable.DefaultOverdueThreshold
	}
	if cfg.Report.CreditWarning == 0 {
		cfg.Report.CreditWarning = 70
	}
	if cfg.Report.CreditExceeded == 0 {
		cfg.Report.CreditExceeded = 100
	}
	if cfg.Report.TopDebtors == 0 {
		cfg.Report.TopDebtors = receivable.DefaultTopDebtors
	}
	if cfg.Report.DSOPeriodDays == 0 {
		cfg.Report.DSOPeriodDays = 90
	}
	if cfg.Export.OutputDir == "" {
		cfg.Export.OutputDir = "reportes"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = StorageLocal
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = CacheMemory
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 24 * time.Hour
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 5 * time.Minute
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB
	}
	if cfg.HTTP.RunTimeout == 0 {
		cfg.HTTP.RunTimeout = 4 * time.Minute
	}
	if cfg.HTTP.RunRateWindow == 0 {
		cfg.HTTP.RunRateWindow = time.Minute
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "arledger"
	}
	if cfg.JWT.TokenTTL == 0 {
		cfg.JWT.TokenTTL = 12 * time.Hour
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317" // Default gRPC endpoint
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "arledger"
	}
	if cfg.Telemetry.MetricsExportInterval == 0 {
		cfg.Telemetry.MetricsExportInterval = 15 * time.Second
	}
	if cfg.Telemetry.LogsLevel == "" {
		cfg.Telemetry.LogsLevel = "info"
	}
	if cfg.Telemetry.ProfilingServerAddress == "" {
		cfg.Telemetry.ProfilingServerAddress = "http://localhost:4040"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "arledger"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	switch c.Source.Kind {
	case SourcePostgres:
	case SourceCSV:
		if c.Source.CSVPath == "" {
			return fmt.Errorf("source.csv_path is required when source.kind is csv")
		}
	default:
		return fmt.Errorf("source.kind must be %q or %q, got %q", SourcePostgres, SourceCSV, c.Source.Kind)
	}
	if c.Source.Encoding != EncodingUTF8 && c.Source.Encoding != EncodingWindows1252 {
		return fmt.Errorf("source.encoding must be %q or %q, got %q", EncodingUTF8, EncodingWindows1252, c.Source.Encoding)
	}
	if len([]rune(c.Source.Delimiter)) != 1 {
		return fmt.Errorf("source.delimiter must be a single character")
	}

	switch c.Storage.Backend {
	case StorageLocal:
	case StorageS3:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required when storage.backend is s3")
		}
	default:
		return fmt.Errorf("storage.backend must be %q or %q, got %q", StorageLocal, StorageS3, c.Storage.Backend)
	}
	if c.Cache.Backend != CacheMemory && c.Cache.Backend != CacheRedis {
		return fmt.Errorf("cache.backend must be %q or %q, got %q", CacheMemory, CacheRedis, c.Cache.Backend)
	}
	if c.Report.DSOPeriodDays <= 0 {
		return fmt.Errorf("report.dso_period_days must be positive")
	}

	if c.JWT.Enabled && c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required when jwt.enabled is true")
	}
	if c.App.Env == "production" {
		if c.JWT.Enabled && len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// EngineOptions converts the report thresholds into engine options. The
// domain validates them.
func (r ReportConfig) EngineOptions() (receivable.Options, error) {
	opts := receivable.Options{
		BucketBounds:     append([]int(nil), r.Buckets...),
		ZThreshold:       r.ZThreshold,
		MinSample:        r.MinSample,
		OverdueThreshold: r.OverdueThreshold,
		CreditWarning:    decimal.NewFromFloat(r.CreditWarning),
		CreditExceeded:   decimal.NewFromFloat(r.CreditExceeded),
		Tolerance:        decimal.NewFromFloat(r.Tolerance),
		RequireLinks:     r.RequireLinks,
		TopDebtors:       r.TopDebtors,
	}
	if err := opts.Validate(); err != nil {
		return receivable.Options{}, err
	}
	return opts, nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
