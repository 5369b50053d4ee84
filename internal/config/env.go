package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use TIER3_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	// POS listener
	setIfEnv(&c.Server.Address, "TIER3_POS_LISTEN")
	setDurationIfEnv(&c.Server.ReadTimeout, "TIER3_POS_READ_TIMEOUT")
	setDurationIfEnv(&c.Server.WriteTimeout, "TIER3_POS_WRITE_TIMEOUT")
	setDurationIfEnv(&c.Server.RequestTimeout, "TIER3_POS_REQUEST_TIMEOUT")
	setIntIfEnv(&c.Server.MaxFrameBytes, "TIER3_POS_MAX_FRAME_BYTES")
	setIntIfEnv(&c.Server.MaxConnections, "TIER3_POS_MAX_CONNECTIONS")

	// Admin server
	setBoolIfEnv(&c.Admin.Enabled, "TIER3_ADMIN_ENABLED")
	setIfEnv(&c.Admin.Address, "TIER3_ADMIN_LISTEN")
	setIfEnv(&c.Admin.MetricsAPIKey, "TIER3_METRICS_API_KEY")

	// Logging
	setIfEnv(&c.Logging.Level, "TIER3_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "TIER3_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "TIER3_ENV")

	// Engine
	setIntIfEnv(&c.Engine.DailyTransactionCap, "TIER3_DAILY_TRANSACTION_CAP")
	setIfEnv(&c.Engine.DefaultLoyaltyDiscount, "TIER3_DEFAULT_LOYALTY_DISCOUNT")
	setIfEnv(&c.Engine.VendorModelVersion, "TIER3_VENDOR_MODEL_VERSION")

	// Storage
	setIfEnv(&c.Storage.Backend, "TIER3_STORAGE_BACKEND")
	setIfEnv(&c.Storage.PostgresURL, "TIER3_POSTGRES_URL")
	setIfEnv(&c.Storage.MongoDBURL, "TIER3_MONGODB_URL")
	setIfEnv(&c.Storage.MongoDBDatabase, "TIER3_MONGODB_DATABASE")
	setDurationIfEnv(&c.Storage.QueryTimeout, "TIER3_STORAGE_QUERY_TIMEOUT")
	setBoolIfEnv(&c.Storage.Retention.Enabled, "TIER3_RETENTION_ENABLED")
	setDurationIfEnv(&c.Storage.Retention.RunInterval, "TIER3_RETENTION_RUN_INTERVAL")
	setIntIfEnv(&c.Storage.Retention.KeepDays, "TIER3_RETENTION_KEEP_DAYS")
	setIntIfEnv(&c.Storage.Retention.ValidationKeepDays, "TIER3_RETENTION_VALIDATION_KEEP_DAYS")

	// Catalog
	setIfEnv(&c.Catalog.Source, "TIER3_CATALOG_SOURCE")
	setIfEnv(&c.Catalog.YAMLPath, "TIER3_CATALOG_PATH")
	setIfEnv(&c.Catalog.PostgresURL, "TIER3_CATALOG_POSTGRES_URL")
	setIfEnv(&c.Catalog.MongoDBURL, "TIER3_CATALOG_MONGODB_URL")
	setIfEnv(&c.Catalog.MongoDBDatabase, "TIER3_CATALOG_MONGODB_DATABASE")
	setDurationIfEnv(&c.Catalog.RefreshInterval, "TIER3_CATALOG_REFRESH_INTERVAL")
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setIntIfEnv sets an int pointer from an environment variable.
// Non-numeric values are ignored.
func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}
