// Package tier3 wires the decision engine, its stores, and both transport
// surfaces into a single runnable application. The standalone daemon in
// cmd/tier3d uses it directly; embedders can construct an App to run the
// pipeline inside a larger process.
package tier3

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/RTNSmart/tier3-engine/internal/catalog"
	"github.com/RTNSmart/tier3-engine/internal/circuitbreaker"
	"github.com/RTNSmart/tier3-engine/internal/config"
	"github.com/RTNSmart/tier3-engine/internal/dbpool"
	"github.com/RTNSmart/tier3-engine/internal/engine"
	"github.com/RTNSmart/tier3-engine/internal/httpserver"
	"github.com/RTNSmart/tier3-engine/internal/lifecycle"
	"github.com/RTNSmart/tier3-engine/internal/logger"
	"github.com/RTNSmart/tier3-engine/internal/metrics"
	"github.com/RTNSmart/tier3-engine/internal/money"
	"github.com/RTNSmart/tier3-engine/internal/posserver"
	"github.com/RTNSmart/tier3-engine/internal/receipt"
	"github.com/RTNSmart/tier3-engine/internal/storage"
)

// App holds the assembled Tier 3 components. Fields are exported so
// embedders can reach individual services (run decisions through Engine,
// query Store) without going through a transport.
type App struct {
	Config    *config.Config
	Store     storage.Store
	Catalog   *catalog.Cached
	Engine    *engine.Engine
	POS       *posserver.Server
	Admin     *httpserver.Server // nil when the admin surface is disabled
	Retention *storage.RetentionService
	Breakers  *circuitbreaker.Manager

	logger           zerolog.Logger
	resourceManager  *lifecycle.Manager
	metricsCollector *metrics.Metrics

	mu      sync.Mutex
	started bool
}

// Option configures App construction.
type Option func(*options)

type options struct {
	store      storage.Store
	catalogSrc catalog.Repository
	registerer prometheus.Registerer
}

// WithStore injects a custom decision-table store. The app does not close
// injected stores; their lifecycle belongs to the caller.
func WithStore(store storage.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithCatalogSource injects a custom catalog source underneath the snapshot
// cache. Useful for embedding against an existing product database.
func WithCatalogSource(repo catalog.Repository) Option {
	return func(o *options) {
		o.catalogSrc = repo
	}
}

// WithRegisterer sets the Prometheus registerer for the app's metrics.
// Defaults to prometheus.DefaultRegisterer; tests pass their own registry
// to avoid duplicate registration across instances.
func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = registerer
	}
}

// NewApp assembles the Tier 3 services from configuration. Nothing listens
// or refreshes until Start.
func NewApp(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("tier3: config required")
	}

	optState := options{}
	for _, opt := range opts {
		opt(&optState)
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "tier3-engine",
		Environment: cfg.Logging.Environment,
	})

	app := &App{
		Config:          cfg,
		logger:          appLogger,
		resourceManager: lifecycle.NewManager(),
	}

	collector := metrics.New(optState.registerer)
	app.metricsCollector = collector

	app.Breakers = circuitbreaker.NewManagerFromConfig(cfg.CircuitBreaker, func(service, _, to string) {
		collector.ObserveBreakerState(service, to)
	})

	// When the decision tables and the catalog live in the same Postgres
	// database, both layers share one connection pool.
	var sharedDB *sql.DB
	if optState.store == nil && optState.catalogSrc == nil &&
		cfg.Storage.Backend == "postgres" && cfg.Catalog.Source == "postgres" &&
		cfg.Storage.PostgresURL != "" && cfg.Storage.PostgresURL == cfg.Catalog.PostgresURL {
		pool, err := dbpool.NewSharedPool(cfg.Storage.PostgresURL, cfg.Storage.PostgresPool)
		if err != nil {
			return nil, fmt.Errorf("init shared postgres pool: %w", err)
		}
		app.resourceManager.Register("postgres-pool", pool)
		sharedDB = pool.DB()
		appLogger.Info().Msg("tier3: decision store and catalog share one postgres pool")
	}

	if optState.store != nil {
		app.Store = optState.store
	} else {
		store, err := storage.NewStoreWithDB(storeConfig(cfg.Storage), sharedDB)
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
		app.resourceManager.Register("storage", store)
		if cfg.Storage.Backend == "memory" || cfg.Storage.Backend == "" {
			appLogger.Warn().
				Msg("tier3: using in-memory store, daily counts and audit trails will not survive a restart")
		}
		app.Store = store
	}
	// Every store goes through the database breaker, injected ones included,
	// so a degraded backend fails fast instead of stalling the register.
	app.Store = storage.NewBreakerStore(app.Store, app.Breakers)

	catalogSource := optState.catalogSrc
	if catalogSource == nil {
		source, err := catalog.NewRepositoryWithDB(cfg.Catalog, sharedDB)
		if err != nil {
			return nil, fmt.Errorf("init catalog source: %w", err)
		}
		catalogSource = source
	}
	app.Catalog = catalog.NewCached(catalogSource, cfg.Catalog.RefreshInterval.Duration, app.Breakers, collector, appLogger)
	app.resourceManager.Register("catalog", app.Catalog)

	engineCfg := engine.Config{
		DailyTransactionCap: cfg.Engine.DailyTransactionCap,
		Receipt: receipt.Geometry{
			Width:    cfg.Engine.ReceiptWidth,
			MaxLines: cfg.Engine.ReceiptMaxLines,
		},
	}
	if cfg.Engine.DefaultLoyaltyDiscount != "" {
		discount, err := money.Parse(cfg.Engine.DefaultLoyaltyDiscount)
		if err != nil {
			return nil, fmt.Errorf("parse default_loyalty_discount: %w", err)
		}
		engineCfg.DefaultLoyaltyDiscount = discount
	}
	app.Engine = engine.New(app.Store, app.Catalog, engineCfg, collector, appLogger)

	app.Retention = storage.NewRetentionService(app.Store, storage.RetentionConfig{
		Enabled:            cfg.Storage.Retention.Enabled,
		KeepDays:           cfg.Storage.Retention.KeepDays,
		ValidationKeepDays: cfg.Storage.Retention.ValidationKeepDays,
		RunInterval:        cfg.Storage.Retention.RunInterval.Duration,
	}, collector, appLogger)

	app.POS = posserver.New(posserver.Config{
		ListenAddress:      cfg.Server.Address,
		ReadTimeout:        cfg.Server.ReadTimeout.Duration,
		WriteTimeout:       cfg.Server.WriteTimeout.Duration,
		RequestTimeout:     cfg.Server.RequestTimeout.Duration,
		MaxFrameBytes:      uint32(cfg.Server.MaxFrameBytes),
		MaxConnections:     cfg.Server.MaxConnections,
		VendorModelVersion: cfg.Engine.VendorModelVersion,
	}, app.Engine, collector, appLogger)

	if cfg.Admin.Enabled {
		app.Admin = httpserver.New(cfg, app.Engine, app.Store, app.Catalog, collector, appLogger)
	}

	return app, nil
}

// Start warms the catalog, launches the background services, and binds both
// listeners. The POS listener is mandatory; the admin server runs only when
// enabled.
func (a *App) Start() error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return errors.New("tier3: already started")
	}
	a.started = true
	a.mu.Unlock()

	// Warm the snapshot before the first register connects. A failure here
	// is not fatal: the refresher retries and reads fall back through the
	// breaker-guarded fetch path.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := a.Catalog.RefreshNow(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("tier3: initial catalog refresh failed, starting with an empty snapshot")
	}
	cancel()

	// Background loops register their stop hooks here rather than in NewApp:
	// Stop blocks until the loop exits, which requires the loop to be running.
	a.Catalog.Start()
	a.resourceManager.RegisterFunc("catalog-refresher", func() error {
		a.Catalog.Stop()
		return nil
	})

	a.Retention.Start()
	a.resourceManager.RegisterFunc("retention", func() error {
		a.Retention.Stop()
		return nil
	})

	if err := a.POS.Start(); err != nil {
		return fmt.Errorf("start pos listener: %w", err)
	}

	if a.Admin != nil {
		go func() {
			a.logger.Info().Str("address", a.Config.Admin.Address).Msg("tier3: admin server listening")
			if err := a.Admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error().Err(err).Msg("tier3: admin server failed")
			}
		}()
	}

	return nil
}

// Shutdown drains both listeners, then stops the background loops and closes
// the stores in reverse construction order. Safe to call whether or not
// Start ran or succeeded.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error

	if a.Admin != nil {
		if err := a.Admin.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown admin server: %w", err))
		}
	}
	if err := a.POS.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown pos listener: %w", err))
	}
	if err := a.resourceManager.Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// storeConfig maps the YAML storage section onto the store constructor input.
func storeConfig(cfg config.StorageConfig) storage.StoreConfig {
	return storage.StoreConfig{
		Backend:         cfg.Backend,
		PostgresURL:     cfg.PostgresURL,
		MongoDBURL:      cfg.MongoDBURL,
		MongoDBDatabase: cfg.MongoDBDatabase,
		PostgresPool:    cfg.PostgresPool,
		QueryTimeout:    cfg.QueryTimeout.Duration,

		ProfilesTableName:         cfg.SchemaMapping.Profiles.TableName,
		DailyCountsTableName:      cfg.SchemaMapping.DailyCounts.TableName,
		ValidationLogTableName:    cfg.SchemaMapping.ValidationLog.TableName,
		AVTTransactionsTableName:  cfg.SchemaMapping.AVTTransactions.TableName,
		TransactionsTableName:     cfg.SchemaMapping.Transactions.TableName,
		TransactionLinesTableName: cfg.SchemaMapping.TransactionLines.TableName,
	}
}

// Config is an exported alias of the internal configuration struct for
// embedding use.
type Config = config.Config

// LoadConfig wraps the internal loader for consumers embedding the engine.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}
