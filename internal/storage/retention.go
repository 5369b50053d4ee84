package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/RTNSmart/tier3-engine/internal/metrics"
)

// RetentionConfig holds configuration for the automatic purge of aged rows.
type RetentionConfig struct {
	Enabled            bool          // Enable automatic purging (default: false)
	KeepDays           int           // Days of daily transaction counts to retain (default: 7)
	ValidationKeepDays int           // Days of validation log to retain; 0 keeps the log forever
	RunInterval        time.Duration // How often to run the purge (default: 24 hours)
}

// DefaultRetentionConfig returns sensible defaults for data retention.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		Enabled:            false,
		KeepDays:           7,
		ValidationKeepDays: 0,
		RunInterval:        24 * time.Hour,
	}
}

// RetentionService purges aged daily counts (and optionally old validation
// log entries) on a schedule. Daily counts only feed the per-day transaction
// cap, so rows past the cap window are dead weight.
type RetentionService struct {
	store    Store
	config   RetentionConfig
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewRetentionService creates a new retention service.
func NewRetentionService(store Store, config RetentionConfig, metricsCollector *metrics.Metrics, logger zerolog.Logger) *RetentionService {
	return &RetentionService{
		store:    store,
		config:   config,
		logger:   logger,
		metrics:  metricsCollector,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start begins the retention service background loop.
func (s *RetentionService) Start() {
	if !s.config.Enabled {
		s.logger.Info().Msg("retention: service disabled")
		close(s.doneChan)
		return
	}

	s.logger.Info().
		Int("keepDays", s.config.KeepDays).
		Int("validationKeepDays", s.config.ValidationKeepDays).
		Dur("runInterval", s.config.RunInterval).
		Msg("retention: service started")

	go s.run()
}

// Stop gracefully stops the retention service.
func (s *RetentionService) Stop() {
	close(s.stopChan)
	<-s.doneChan
	s.logger.Info().Msg("retention: service stopped")
}

// run is the main retention loop.
func (s *RetentionService) run() {
	defer close(s.doneChan)

	// Run immediately on startup
	s.runPurge()

	ticker := time.NewTicker(s.config.RunInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runPurge()
		case <-s.stopChan:
			return
		}
	}
}

// runPurge performs a single retention pass.
func (s *RetentionService) runPurge() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	countsDeleted, logDeleted, err := s.purge(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("retention: purge pass failed")
		return
	}

	s.logger.Info().
		Int64("dailyCountsDeleted", countsDeleted).
		Int64("validationEntriesDeleted", logDeleted).
		Msg("retention: purge pass completed")
}

// purge deletes rows past the retention windows and records metrics.
func (s *RetentionService) purge(ctx context.Context) (countsDeleted, logDeleted int64, err error) {
	cutoffDate := DateKey(time.Now().AddDate(0, 0, -s.config.KeepDays))

	countsDeleted, err = s.store.PurgeDailyCountsBefore(ctx, cutoffDate)
	if err != nil {
		return 0, 0, fmt.Errorf("purge daily counts: %w", err)
	}
	if countsDeleted > 0 {
		s.logger.Info().
			Int64("count", countsDeleted).
			Str("olderThan", cutoffDate).
			Msg("retention: purged aged daily counts")
	}

	// The validation log is an audit trail; purging it is opt-in.
	if s.config.ValidationKeepDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -s.config.ValidationKeepDays)
		logDeleted, err = s.store.PurgeValidationLogBefore(ctx, cutoff)
		if err != nil {
			return countsDeleted, 0, fmt.Errorf("purge validation log: %w", err)
		}
		if logDeleted > 0 {
			s.logger.Info().
				Int64("count", logDeleted).
				Time("olderThan", cutoff).
				Msg("retention: purged aged validation log entries")
		}
	}

	if s.metrics != nil {
		s.metrics.ObserveRetention(countsDeleted + logDeleted)
	}
	return countsDeleted, logDeleted, nil
}

// RunNow immediately runs a retention pass (useful for testing or manual triggers).
func (s *RetentionService) RunNow() error {
	if !s.config.Enabled {
		return fmt.Errorf("retention service is disabled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	countsDeleted, logDeleted, err := s.purge(ctx)
	if err != nil {
		return err
	}

	s.logger.Info().
		Int64("dailyCountsDeleted", countsDeleted).
		Int64("validationEntriesDeleted", logDeleted).
		Msg("retention: manual purge completed")

	return nil
}
