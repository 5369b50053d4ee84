// Package dbpool provides a shared PostgreSQL connection pool. The decision
// store and the catalog repository both run on Postgres in a typical site
// deployment; sharing one pool keeps the sidecar's connection count flat.
package dbpool

import (
	"database/sql"
	"fmt"

	"github.com/RTNSmart/tier3-engine/internal/config"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// SharedPool manages a single shared PostgreSQL connection pool.
type SharedPool struct {
	db *sql.DB
}

// NewSharedPool opens and pings a PostgreSQL pool with the configured limits.
func NewSharedPool(connectionString string, poolConfig config.PostgresPoolConfig) (*SharedPool, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, poolConfig)

	return &SharedPool{db: db}, nil
}

// DB returns the underlying *sql.DB for the store and catalog repositories.
func (p *SharedPool) DB() *sql.DB {
	return p.db
}

// Close closes the shared connection pool. Call once at shutdown;
// sql.DB.Close is safe to call multiple times.
func (p *SharedPool) Close() error {
	return p.db.Close()
}
