package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/RTNSmart/tier3-engine/internal/cacheutil"
	"github.com/RTNSmart/tier3-engine/internal/circuitbreaker"
	"github.com/RTNSmart/tier3-engine/internal/metrics"
)

// snapshot is one immutable view of the full catalog, indexed for the
// three-column UPC search.
type snapshot struct {
	byCartonUPC     map[string]Entry
	byPackUPC       map[string]Entry
	bySuppressedUPC map[string]Entry
	allowances      []AllowanceRule
	entryCount      int
}

func buildSnapshot(entries []Entry, allowances []AllowanceRule) *snapshot {
	snap := &snapshot{
		byCartonUPC:     make(map[string]Entry, len(entries)),
		byPackUPC:       make(map[string]Entry, len(entries)),
		bySuppressedUPC: make(map[string]Entry, len(entries)),
		allowances:      allowances,
		entryCount:      len(entries),
	}
	for _, entry := range entries {
		// A UPC belongs to at most one row; on a dirty source the first
		// row wins so lookups stay deterministic.
		if upc := entry.Carton.UPC; upc != "" {
			if _, ok := snap.byCartonUPC[upc]; !ok {
				snap.byCartonUPC[upc] = entry
			}
		}
		if upc := entry.Pack.UPC; upc != "" {
			if _, ok := snap.byPackUPC[upc]; !ok {
				snap.byPackUPC[upc] = entry
			}
		}
		if upc := entry.Carton.SuppressedUPC; upc != "" {
			if _, ok := snap.bySuppressedUPC[upc]; !ok {
				snap.bySuppressedUPC[upc] = entry
			}
		}
	}
	return snap
}

// resolve searches CARTON_UPC, then PACK_UPC, then CARTON_SuppressedUPC.
// First hit wins; the sell unit follows the matching column family.
func (s *snapshot) resolve(upc string) (Resolution, bool) {
	if entry, ok := s.byCartonUPC[upc]; ok {
		return Resolution{Entry: entry, MatchedType: UPCMatchCarton, UnitOfMeasure: UOMCarton}, true
	}
	if entry, ok := s.byPackUPC[upc]; ok {
		return Resolution{Entry: entry, MatchedType: UPCMatchPack, UnitOfMeasure: UOMPack}, true
	}
	if entry, ok := s.bySuppressedUPC[upc]; ok {
		return Resolution{Entry: entry, MatchedType: UPCMatchCartonSuppressed, UnitOfMeasure: UOMCarton}, true
	}
	return Resolution{}, false
}

// Cached serves request-path catalog lookups from an in-memory snapshot. A
// background refresher rebuilds the snapshot on a timer; the read path only
// falls through to the source when no snapshot exists yet or the refresher
// has fallen more than two intervals behind. Refresh fetches run through the
// catalog circuit breaker, so when the source is down reads fail fast into
// the stale snapshot instead of stacking timeouts.
type Cached struct {
	underlying Repository
	breakers   *circuitbreaker.Manager
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	refreshInterval time.Duration
	staleAfter      time.Duration

	mu      sync.RWMutex
	current cacheutil.CachedValue[*snapshot]

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewCached wraps a catalog source with the snapshot cache.
func NewCached(underlying Repository, refreshInterval time.Duration, breakers *circuitbreaker.Manager, metricsCollector *metrics.Metrics, logger zerolog.Logger) *Cached {
	if refreshInterval <= 0 {
		refreshInterval = 5 * time.Minute
	}
	return &Cached{
		underlying:      underlying,
		breakers:        breakers,
		metrics:         metricsCollector,
		logger:          logger,
		refreshInterval: refreshInterval,
		staleAfter:      2 * refreshInterval,
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
	}
}

// Start begins the background refresh loop.
func (c *Cached) Start() {
	c.logger.Info().
		Dur("refreshInterval", c.refreshInterval).
		Msg("catalog: refresher started")

	go c.run()
}

// Stop gracefully stops the background refresh loop.
func (c *Cached) Stop() {
	close(c.stopChan)
	<-c.doneChan
	c.logger.Info().Msg("catalog: refresher stopped")
}

func (c *Cached) run() {
	defer close(c.doneChan)

	// Refresh immediately so the first requests see a warm snapshot even
	// when the caller skipped RefreshNow.
	c.refreshPass()

	ticker := time.NewTicker(c.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.refreshPass()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Cached) refreshPass() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := c.RefreshNow(ctx); err != nil {
		c.logger.Error().Err(err).Msg("catalog: refresh failed")
	}
}

// RefreshNow synchronously rebuilds the snapshot from the source.
func (c *Cached) RefreshNow(ctx context.Context) error {
	snap, err := c.fetch(ctx)
	if err != nil {
		if c.metrics != nil {
			c.metrics.ObserveCatalogRefresh("error", 0)
		}
		return err
	}

	// Fetch ran lock-free; readers block only for the swap.
	c.mu.Lock()
	c.current = cacheutil.CachedValue[*snapshot]{Value: snap, FetchedAt: time.Now()}
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ObserveCatalogRefresh("success", snap.entryCount)
	}
	c.logger.Info().
		Int("entries", snap.entryCount).
		Int("allowances", len(snap.allowances)).
		Msg("catalog: snapshot refreshed")
	return nil
}

// fetch loads the full catalog through the catalog circuit breaker.
func (c *Cached) fetch(ctx context.Context) (*snapshot, error) {
	build := func() (interface{}, error) {
		entries, err := c.underlying.ListEntries(ctx)
		if err != nil {
			return nil, err
		}
		allowances, err := c.underlying.ListAllowances(ctx)
		if err != nil {
			return nil, err
		}
		return buildSnapshot(entries, allowances), nil
	}

	var (
		result interface{}
		err    error
	)
	if c.breakers != nil {
		result, err = c.breakers.Execute(circuitbreaker.ServiceCatalog, build)
	} else {
		result, err = build()
	}
	if err != nil {
		return nil, err
	}
	return result.(*snapshot), nil
}

// getSnapshot returns the current snapshot, fetching through the cache when
// it is missing or the refresher has fallen behind. A fetch failure serves
// the stale snapshot rather than failing the decision.
func (c *Cached) getSnapshot(ctx context.Context) (*snapshot, error) {
	return cacheutil.ReadThrough(
		&c.mu,
		func(now time.Time) (*snapshot, bool) {
			if c.current.Value != nil && now.Sub(c.current.FetchedAt) < c.staleAfter {
				return c.current.Value, true
			}
			return nil, false
		},
		func(now time.Time) (*snapshot, error) {
			snap, err := c.fetch(ctx)
			if err != nil {
				if c.current.Value != nil {
					c.logger.Warn().Err(err).Msg("catalog: serving stale snapshot")
					return c.current.Value, nil
				}
				return nil, err
			}
			c.current = cacheutil.CachedValue[*snapshot]{Value: snap, FetchedAt: now}
			return snap, nil
		},
	)
}

// ResolveUPC matches a basket UPC against the catalog, searching CARTON_UPC,
// then PACK_UPC, then CARTON_SuppressedUPC. Returns ErrUPCNotFound when no
// column matches.
func (c *Cached) ResolveUPC(ctx context.Context, upc string) (Resolution, error) {
	snap, err := c.getSnapshot(ctx)
	if err != nil {
		return Resolution{}, err
	}
	resolution, ok := snap.resolve(upc)
	if !ok {
		return Resolution{}, ErrUPCNotFound
	}
	return resolution, nil
}

// ActiveAllowances returns the allowance rules whose effective window covers
// the given day.
func (c *Cached) ActiveAllowances(ctx context.Context, today time.Time) ([]AllowanceRule, error) {
	snap, err := c.getSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	var active []AllowanceRule
	for _, rule := range snap.allowances {
		if rule.ActiveOn(today) {
			active = append(active, rule)
		}
	}
	return active, nil
}

// Close stops nothing; the refresher is stopped separately through the
// lifecycle manager. It closes the underlying source.
func (c *Cached) Close() error {
	return c.underlying.Close()
}
