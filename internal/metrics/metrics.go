package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the Tier 3 decision engine.
type Metrics struct {
	// Decision metrics
	DecisionsTotal       *prometheus.CounterVec
	DecisionDuration     *prometheus.HistogramVec
	StageDuration        *prometheus.HistogramVec
	RewardValueTotal     *prometheus.CounterVec
	RewardsIssuedTotal   prometheus.Counter
	ManagerCardsTotal    prometheus.Counter
	InvalidLoyaltyTotal  *prometheus.CounterVec
	AgeVerificationTotal *prometheus.CounterVec

	// Basket metrics
	BasketLinesTotal     prometheus.Counter
	UnknownUPCsTotal     prometheus.Counter
	MultiPackMarksTotal  prometheus.Counter
	DroppedLinesTotal    prometheus.Counter

	// POS listener metrics
	POSConnectionsActive prometheus.Gauge
	POSConnectionsTotal  prometheus.Counter
	POSFramesTotal       *prometheus.CounterVec
	POSFrameErrorsTotal  *prometheus.CounterVec

	// Catalog metrics
	CatalogRefreshTotal  *prometheus.CounterVec
	CatalogEntriesLoaded prometheus.Gauge

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec

	// Database metrics
	DBQueryDuration     *prometheus.HistogramVec
	DBErrorsTotal       *prometheus.CounterVec
	DBConnectionsActive prometheus.Gauge
	BreakerStateTotal   *prometheus.CounterVec

	// System metrics
	RetentionRunsTotal   prometheus.Counter
	RetentionRowsDeleted prometheus.Counter
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Decision metrics
		DecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tier3_decisions_total",
				Help: "Total number of reward decisions evaluated",
			},
			[]string{"transport", "outcome"},
		),
		DecisionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tier3_decision_duration_seconds",
				Help:    "Time taken to run the full decision pipeline (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"transport"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tier3_stage_duration_seconds",
				Help:    "Time spent in each pipeline stage",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"stage"},
		),
		RewardValueTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tier3_reward_value_cents_total",
				Help: "Total discount value granted in cents",
			},
			[]string{"bucket"},
		),
		RewardsIssuedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tier3_rewards_issued_total",
				Help: "Total number of reward lines returned to the POS",
			},
		),
		ManagerCardsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tier3_manager_cards_total",
				Help: "Total number of transactions flagged as manager/store card usage",
			},
		),
		InvalidLoyaltyTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tier3_invalid_loyalty_ids_total",
				Help: "Total number of loyalty IDs rejected by validation",
			},
			[]string{"reason"},
		),
		AgeVerificationTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tier3_age_verifications_total",
				Help: "Total number of age verification outcomes",
			},
			[]string{"result"},
		),

		// Basket metrics
		BasketLinesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tier3_basket_lines_total",
				Help: "Total number of basket lines processed after merging",
			},
		),
		UnknownUPCsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tier3_unknown_upcs_total",
				Help: "Total number of basket lines whose UPC was not found in the catalog",
			},
		),
		MultiPackMarksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tier3_multi_pack_marks_total",
				Help: "Total number of lines marked for multi-pack rate lookup",
			},
		),
		DroppedLinesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tier3_dropped_lines_total",
				Help: "Total number of basket lines dropped for missing UPCs",
			},
		),

		// POS listener metrics
		POSConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tier3_pos_connections_active",
				Help: "Number of currently open POS connections",
			},
		),
		POSConnectionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tier3_pos_connections_total",
				Help: "Total number of POS connections accepted",
			},
		),
		POSFramesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tier3_pos_frames_total",
				Help: "Total number of POS frames processed",
			},
			[]string{"message_type"},
		),
		POSFrameErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tier3_pos_frame_errors_total",
				Help: "Total number of POS frames rejected",
			},
			[]string{"error_type"},
		),

		// Catalog metrics
		CatalogRefreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tier3_catalog_refresh_total",
				Help: "Total number of catalog refresh attempts",
			},
			[]string{"status"},
		),
		CatalogEntriesLoaded: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tier3_catalog_entries_loaded",
				Help: "Number of UPC entries in the active catalog snapshot",
			},
		),

		// Rate limiting metrics
		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tier3_rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
			[]string{"limit_type", "identifier"},
		),

		// Database metrics
		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tier3_db_query_duration_seconds",
				Help:    "Database query duration (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),
		DBErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tier3_db_errors_total",
				Help: "Total number of database operation failures",
			},
			[]string{"operation", "backend"},
		),
		DBConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tier3_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		BreakerStateTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tier3_breaker_state_changes_total",
				Help: "Total number of circuit breaker state transitions",
			},
			[]string{"service", "state"},
		),

		// System metrics
		RetentionRunsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tier3_retention_runs_total",
				Help: "Total number of retention sweeps",
			},
		),
		RetentionRowsDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tier3_retention_rows_deleted_total",
				Help: "Total number of rows deleted by retention sweeps",
			},
		),
	}
}

// ObserveDecision records a completed pipeline run and its outcome.
func (m *Metrics) ObserveDecision(transport, outcome string, duration time.Duration) {
	m.DecisionsTotal.WithLabelValues(transport, outcome).Inc()
	m.DecisionDuration.WithLabelValues(transport).Observe(duration.Seconds())
}

// ObserveStage records time spent in a single pipeline stage.
func (m *Metrics) ObserveStage(stage string, duration time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveReward records a granted reward line and its bucket totals.
func (m *Metrics) ObserveReward(bucketCents map[string]int64) {
	m.RewardsIssuedTotal.Inc()
	for bucket, cents := range bucketCents {
		if cents > 0 {
			m.RewardValueTotal.WithLabelValues(bucket).Add(float64(cents))
		}
	}
}

// ObserveInvalidLoyaltyID records a rejected loyalty ID by reason class.
func (m *Metrics) ObserveInvalidLoyaltyID(reason string) {
	m.InvalidLoyaltyTotal.WithLabelValues(reason).Inc()
}

// ObserveAgeVerification records an age verification outcome.
func (m *Metrics) ObserveAgeVerification(verified bool) {
	result := "not_verified"
	if verified {
		result = "verified"
	}
	m.AgeVerificationTotal.WithLabelValues(result).Inc()
}

// ObserveBasket records normalizer output counts for one transaction.
func (m *Metrics) ObserveBasket(mergedLines, unknownUPCs, droppedLines int) {
	m.BasketLinesTotal.Add(float64(mergedLines))
	m.UnknownUPCsTotal.Add(float64(unknownUPCs))
	m.DroppedLinesTotal.Add(float64(droppedLines))
}

// ObservePOSFrame records a processed POS frame, categorizing any error.
func (m *Metrics) ObservePOSFrame(messageType string, err error) {
	if err == nil {
		m.POSFramesTotal.WithLabelValues(messageType).Inc()
		return
	}

	errorType := "unknown"
	if errStr := err.Error(); errStr != "" {
		switch {
		case contains(errStr, "checksum"):
			errorType = "checksum"
		case contains(errStr, "magic"):
			errorType = "magic"
		case contains(errStr, "xml"):
			errorType = "xml"
		case contains(errStr, "exceeds maximum"):
			errorType = "too_large"
		case contains(errStr, "timeout"):
			errorType = "timeout"
		default:
			errorType = "other"
		}
	}
	m.POSFrameErrorsTotal.WithLabelValues(errorType).Inc()
}

// ObservePOSConnection tracks a POS connection opening or closing.
func (m *Metrics) ObservePOSConnection(opened bool) {
	if opened {
		m.POSConnectionsTotal.Inc()
		m.POSConnectionsActive.Inc()
		return
	}
	m.POSConnectionsActive.Dec()
}

// ObserveCatalogRefresh records a catalog refresh attempt.
func (m *Metrics) ObserveCatalogRefresh(status string, entries int) {
	m.CatalogRefreshTotal.WithLabelValues(status).Inc()
	if status == "success" {
		m.CatalogEntriesLoaded.Set(float64(entries))
	}
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(limitType, identifier string) {
	m.RateLimitHitsTotal.WithLabelValues(limitType, identifier).Inc()
}

// ObserveDBQuery records a database query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// ObserveDBError records a failed database operation.
func (m *Metrics) ObserveDBError(operation, backend string) {
	m.DBErrorsTotal.WithLabelValues(operation, backend).Inc()
}

// ObserveBreakerState records a circuit breaker state transition.
func (m *Metrics) ObserveBreakerState(service, state string) {
	m.BreakerStateTotal.WithLabelValues(service, state).Inc()
}

// ObserveRetention records a retention sweep.
func (m *Metrics) ObserveRetention(rowsDeleted int64) {
	m.RetentionRunsTotal.Inc()
	m.RetentionRowsDeleted.Add(float64(rowsDeleted))
}

// Helper functions
func contains(s, substr string) bool {
	return len(s) >= len(substr) && s[:len(substr)] == substr ||
		len(s) > len(substr) && contains(s[1:], substr)
}
