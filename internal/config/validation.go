package config

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RTNSmart/tier3-engine/internal/money"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	// Apply defaults
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":7001"
	}
	if c.Admin.Address == "" {
		c.Admin.Address = ":7080"
	}
	if c.Server.MaxFrameBytes <= 0 {
		c.Server.MaxFrameBytes = 1 << 20
	}
	if c.Engine.DailyTransactionCap <= 0 {
		c.Engine.DailyTransactionCap = 5
	}
	if c.Engine.DefaultLoyaltyDiscount == "" {
		c.Engine.DefaultLoyaltyDiscount = "0.50"
	}
	if c.Engine.VendorModelVersion == "" {
		c.Engine.VendorModelVersion = "12.23.03.02"
	}
	if c.Engine.ReceiptWidth <= 0 {
		c.Engine.ReceiptWidth = 32
	}
	if c.Engine.ReceiptMaxLines <= 0 {
		c.Engine.ReceiptMaxLines = 10
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "memory"
	}
	if c.Storage.QueryTimeout.Duration <= 0 {
		c.Storage.QueryTimeout = Duration{Duration: 5 * time.Second}
	}
	if c.Storage.Retention.RunInterval.Duration <= 0 {
		c.Storage.Retention.RunInterval = Duration{Duration: 24 * time.Hour}
	}
	if c.Storage.Retention.KeepDays <= 0 {
		c.Storage.Retention.KeepDays = 7
	}
	if c.Storage.Retention.ValidationKeepDays < 0 {
		c.Storage.Retention.ValidationKeepDays = 0
	}
	if c.Catalog.RefreshInterval.Duration <= 0 {
		c.Catalog.RefreshInterval = Duration{Duration: 5 * time.Minute}
	}

	// IMPORTANT: Auto-configure catalog.source from storage.backend
	// This simplifies configuration - users only need to set storage.backend once
	// If explicitly set, respect user's choice (allow override)
	if c.Catalog.Source == "" {
		switch c.Storage.Backend {
		case "postgres":
			c.Catalog.Source = "postgres"
		case "mongodb":
			c.Catalog.Source = "mongodb"
		default:
			if c.Catalog.YAMLPath != "" {
				c.Catalog.Source = "yaml"
			} else {
				c.Catalog.Source = "disabled"
			}
		}
	}

	// Auto-copy database connection URLs from storage config to catalog
	// so users only set URLs once
	if c.Catalog.Source == "postgres" && c.Catalog.PostgresURL == "" {
		c.Catalog.PostgresURL = c.Storage.PostgresURL
	}
	if c.Catalog.Source == "mongodb" {
		if c.Catalog.MongoDBURL == "" {
			c.Catalog.MongoDBURL = c.Storage.MongoDBURL
		}
		if c.Catalog.MongoDBDatabase == "" {
			c.Catalog.MongoDBDatabase = c.Storage.MongoDBDatabase
		}
	}

	// Default catalog table names match the synchronizer's schema
	if c.Catalog.UPCTable == "" {
		c.Catalog.UPCTable = "upc_master"
	}
	if c.Catalog.AllowancesTable == "" {
		c.Catalog.AllowancesTable = "loyalty_allowances"
	}
	if c.Catalog.AllowanceSKUsTable == "" {
		c.Catalog.AllowanceSKUsTable = "loyalty_allowance_skus"
	}

	return c.validate()
}

// validate checks that required configuration fields are set correctly.
func (c *Config) validate() error {
	var errs []string

	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			errs = append(errs, "storage.postgres_url is required when storage.backend is 'postgres'")
		}
	case "mongodb":
		if c.Storage.MongoDBURL == "" {
			errs = append(errs, "storage.mongodb_url is required when storage.backend is 'mongodb'")
		}
		if c.Storage.MongoDBDatabase == "" {
			errs = append(errs, "storage.mongodb_database is required when storage.backend is 'mongodb'")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend %q is not supported (memory, postgres, mongodb)", c.Storage.Backend))
	}

	switch c.Catalog.Source {
	case "disabled":
	case "yaml":
		if c.Catalog.YAMLPath == "" {
			errs = append(errs, "catalog.yaml_path is required when catalog.source is 'yaml'")
		}
	case "postgres":
		if c.Catalog.PostgresURL == "" {
			errs = append(errs, "catalog.postgres_url is required when catalog.source is 'postgres'")
		}
	case "mongodb":
		if c.Catalog.MongoDBURL == "" {
			errs = append(errs, "catalog.mongodb_url is required when catalog.source is 'mongodb'")
		}
		if c.Catalog.MongoDBDatabase == "" {
			errs = append(errs, "catalog.mongodb_database is required when catalog.source is 'mongodb'")
		}
	default:
		errs = append(errs, fmt.Sprintf("catalog.source %q is not supported (yaml, postgres, mongodb, disabled)", c.Catalog.Source))
	}

	if _, err := money.Parse(c.Engine.DefaultLoyaltyDiscount); err != nil {
		errs = append(errs, fmt.Sprintf("engine.default_loyalty_discount %q is not a valid amount: %v", c.Engine.DefaultLoyaltyDiscount, err))
	} else if d, _ := money.Parse(c.Engine.DefaultLoyaltyDiscount); d.IsNegative() {
		errs = append(errs, "engine.default_loyalty_discount must not be negative")
	}

	// A receipt narrower than the longest fixed label cannot render the block
	if c.Engine.ReceiptWidth < 24 {
		errs = append(errs, "engine.receipt_width must be at least 24")
	}
	if c.Engine.ReceiptMaxLines < 4 {
		errs = append(errs, "engine.receipt_max_lines must be at least 4 (header, body, total, footer)")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// DefaultLoyaltyDiscountCents returns the parsed default loyalty discount.
// Validation guarantees the stored string parses.
func (c *Config) DefaultLoyaltyDiscountCents() money.Cents {
	d, err := money.Parse(c.Engine.DefaultLoyaltyDiscount)
	if err != nil {
		return 0
	}
	return d
}

// ApplyPostgresPoolSettings applies connection pool settings to a database connection.
// If pool config is not specified, applies sensible defaults.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25 // default
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5 // default
	}

	// Validate: maxIdle cannot exceed maxOpen
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute // default
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
