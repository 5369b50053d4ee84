package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Admin          AdminConfig          `yaml:"admin"`
	Logging        LoggingConfig        `yaml:"logging"`
	Engine         EngineConfig         `yaml:"engine"`
	Storage        StorageConfig        `yaml:"storage"`
	Catalog        CatalogConfig        `yaml:"catalog"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ServerConfig holds POS listener configuration. The forecourt POS speaks
// framed XML over a long-lived TCP connection, so read timeouts are generous.
type ServerConfig struct {
	Address        string   `yaml:"address"`
	ReadTimeout    Duration `yaml:"read_timeout"`
	WriteTimeout   Duration `yaml:"write_timeout"`
	RequestTimeout Duration `yaml:"request_timeout"` // Per-request deadline for the decision pipeline
	MaxFrameBytes  int      `yaml:"max_frame_bytes"` // Reject frames declaring a larger payload
	MaxConnections int      `yaml:"max_connections"` // Concurrent POS connections (default: 256)
}

// AdminConfig holds the operational HTTP server configuration.
type AdminConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	RequestTimeout     Duration `yaml:"request_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	MetricsAPIKey      string   `yaml:"metrics_api_key"` // Optional API key to protect /metrics (leave empty to disable protection)
}

// EngineConfig holds decision pipeline configuration.
type EngineConfig struct {
	DailyTransactionCap    int    `yaml:"daily_transaction_cap"`    // Transactions per LID per day before manager-card treatment (default: 5)
	DefaultLoyaltyDiscount string `yaml:"default_loyalty_discount"` // Decimal string, used when an allowance row has no max_allowance_per_transaction
	VendorModelVersion     string `yaml:"vendor_model_version"`     // Reported in the POS response header
	ReceiptWidth           int    `yaml:"receipt_width"`            // Max chars per receipt line (default: 32)
	ReceiptMaxLines        int    `yaml:"receipt_max_lines"`        // Max receipt lines per response (default: 10)
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // Maximum number of open connections (default: 25)
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // Maximum number of idle connections (default: 5)
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // Maximum lifetime of connections (default: 5m)
}

// StorageConfig holds storage backend configuration for the six decision tables.
type StorageConfig struct {
	Backend         string              `yaml:"backend"`          // "memory", "postgres", or "mongodb"
	PostgresURL     string              `yaml:"postgres_url"`     // PostgreSQL connection string
	MongoDBURL      string              `yaml:"mongodb_url"`      // MongoDB connection string
	MongoDBDatabase string              `yaml:"mongodb_database"` // MongoDB database name
	PostgresPool    PostgresPoolConfig  `yaml:"postgres_pool"`    // PostgreSQL connection pool settings
	QueryTimeout    Duration            `yaml:"query_timeout"`    // Per-query deadline when caller has none (default: 5s)
	SchemaMapping   SchemaMappingConfig `yaml:"schema_mapping"`   // Table/collection name mappings for all entities
	Retention       RetentionConfig     `yaml:"retention"`        // Daily-count retention job
}

// SchemaMappingConfig holds table/collection name mappings for custom schemas.
type SchemaMappingConfig struct {
	Profiles         TableMappingConfig `yaml:"profiles"`          // Customer profiles table/collection
	DailyCounts      TableMappingConfig `yaml:"daily_counts"`      // Daily transaction counts table/collection
	ValidationLog    TableMappingConfig `yaml:"validation_log"`    // Loyalty validation log table/collection
	AVTTransactions  TableMappingConfig `yaml:"avt_transactions"`  // Age-verification audit table/collection
	Transactions     TableMappingConfig `yaml:"transactions"`      // Transactions table/collection
	TransactionLines TableMappingConfig `yaml:"transaction_lines"` // Transaction lines table/collection
}

// TableMappingConfig defines a single table/collection mapping.
type TableMappingConfig struct {
	TableName string `yaml:"table_name"` // Custom table/collection name
}

// RetentionConfig holds the daily-count retention job configuration.
// Daily counts only matter for the per-day cap, so old rows are purged.
type RetentionConfig struct {
	Enabled            bool     `yaml:"enabled"`              // Enable periodic purge (default: true)
	RunInterval        Duration `yaml:"run_interval"`         // How often to purge (default: 24h)
	KeepDays           int      `yaml:"keep_days"`            // Days of daily counts to retain (default: 7)
	ValidationKeepDays int      `yaml:"validation_keep_days"` // Days of validation log to retain (0 keeps it forever)
}

// CatalogConfig holds the SKU/allowance catalog source configuration.
// The catalog is read-only for this service; the upstream synchronizer
// populates the tables.
type CatalogConfig struct {
	Source             string             `yaml:"source"`               // "yaml", "postgres", "mongodb", or "disabled"
	YAMLPath           string             `yaml:"yaml_path"`            // Catalog file when Source = "yaml"
	PostgresURL        string             `yaml:"postgres_url"`         // PostgreSQL connection string
	MongoDBURL         string             `yaml:"mongodb_url"`          // MongoDB connection string
	MongoDBDatabase    string             `yaml:"mongodb_database"`     // MongoDB database name
	PostgresPool       PostgresPoolConfig `yaml:"postgres_pool"`        // PostgreSQL connection pool settings
	RefreshInterval    Duration           `yaml:"refresh_interval"`     // Snapshot refresh cadence (default: 5m)
	UPCTable           string             `yaml:"upc_table"`            // default: upc_master
	AllowancesTable    string             `yaml:"allowances_table"`     // default: loyalty_allowances
	AllowanceSKUsTable string             `yaml:"allowance_skus_table"` // default: loyalty_allowance_skus
}

// RateLimitConfig holds rate limiting configuration for the admin HTTP surface.
type RateLimitConfig struct {
	// Global rate limiting (across all clients)
	GlobalEnabled bool     `yaml:"global_enabled"` // Enable global rate limiting
	GlobalLimit   int      `yaml:"global_limit"`   // Requests allowed per global window
	GlobalWindow  Duration `yaml:"global_window"`  // Time window for global limit

	// Per-IP rate limiting
	PerIPEnabled bool     `yaml:"per_ip_enabled"` // Enable per-IP rate limiting
	PerIPLimit   int      `yaml:"per_ip_limit"`   // Requests allowed per IP per window
	PerIPWindow  Duration `yaml:"per_ip_window"`  // Time window for per-IP limit
}

// CircuitBreakerConfig holds circuit breaker configuration for backend stores.
// Prevents cascading failures by failing fast when a backend is degraded.
type CircuitBreakerConfig struct {
	Enabled  bool                 `yaml:"enabled"`  // Enable circuit breakers (default: true)
	Database BreakerServiceConfig `yaml:"database"` // Decision-table store circuit breaker
	Catalog  BreakerServiceConfig `yaml:"catalog"`  // Catalog refresh circuit breaker
}

// BreakerServiceConfig configures a circuit breaker for a specific backend.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // Failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // Minimum requests before checking ratio (default: 10)
}
