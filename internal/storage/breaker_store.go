package storage

import (
	"context"
	"errors"
	"time"

	"github.com/RTNSmart/tier3-engine/internal/circuitbreaker"
)

// BreakerStore wraps a Store with the database circuit breaker so a failing
// backend sheds load quickly instead of stacking query timeouts while the
// POS register waits.
type BreakerStore struct {
	inner    Store
	breakers *circuitbreaker.Manager
}

// NewBreakerStore decorates inner with the database breaker. A nil manager
// returns inner unwrapped.
func NewBreakerStore(inner Store, breakers *circuitbreaker.Manager) Store {
	if breakers == nil {
		return inner
	}
	return &BreakerStore{inner: inner, breakers: breakers}
}

// execute runs fn through the database breaker. ErrNotFound is a normal
// outcome, not a backend failure, so it never counts against the breaker.
func (s *BreakerStore) execute(fn func() error) error {
	var notFound bool
	_, err := s.breakers.Execute(circuitbreaker.ServiceDatabase, func() (interface{}, error) {
		if err := fn(); err != nil {
			if errors.Is(err, ErrNotFound) {
				notFound = true
				return nil, nil
			}
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return err
	}
	if notFound {
		return ErrNotFound
	}
	return nil
}

func (s *BreakerStore) TouchProfile(ctx context.Context, sighting ProfileSighting) (CustomerProfile, error) {
	var profile CustomerProfile
	err := s.execute(func() error {
		var err error
		profile, err = s.inner.TouchProfile(ctx, sighting)
		return err
	})
	return profile, err
}

func (s *BreakerStore) GetProfile(ctx context.Context, loyaltyID string) (CustomerProfile, error) {
	var profile CustomerProfile
	err := s.execute(func() error {
		var err error
		profile, err = s.inner.GetProfile(ctx, loyaltyID)
		return err
	})
	return profile, err
}

func (s *BreakerStore) MarkProfileAgeVerified(ctx context.Context, loyaltyID string, verifiedAt time.Time) error {
	return s.execute(func() error {
		return s.inner.MarkProfileAgeVerified(ctx, loyaltyID, verifiedAt)
	})
}

func (s *BreakerStore) IncrementDailyCount(ctx context.Context, loyaltyID, day string) (int, error) {
	var count int
	err := s.execute(func() error {
		var err error
		count, err = s.inner.IncrementDailyCount(ctx, loyaltyID, day)
		return err
	})
	return count, err
}

func (s *BreakerStore) GetDailyCount(ctx context.Context, loyaltyID, day string) (int, error) {
	var count int
	err := s.execute(func() error {
		var err error
		count, err = s.inner.GetDailyCount(ctx, loyaltyID, day)
		return err
	})
	return count, err
}

func (s *BreakerStore) AppendValidationLog(ctx context.Context, entry ValidationLogEntry) error {
	return s.execute(func() error {
		return s.inner.AppendValidationLog(ctx, entry)
	})
}

func (s *BreakerStore) ListValidationLog(ctx context.Context, loyaltyID string, limit int) ([]ValidationLogEntry, error) {
	var entries []ValidationLogEntry
	err := s.execute(func() error {
		var err error
		entries, err = s.inner.ListValidationLog(ctx, loyaltyID, limit)
		return err
	})
	return entries, err
}

func (s *BreakerStore) AppendAVTRecord(ctx context.Context, record AVTRecord) error {
	return s.execute(func() error {
		return s.inner.AppendAVTRecord(ctx, record)
	})
}

func (s *BreakerStore) SaveTransaction(ctx context.Context, txn TransactionRecord, lines []TransactionLine) error {
	return s.execute(func() error {
		return s.inner.SaveTransaction(ctx, txn, lines)
	})
}

func (s *BreakerStore) GetTransaction(ctx context.Context, transactionID string) (TransactionRecord, []TransactionLine, error) {
	var (
		txn   TransactionRecord
		lines []TransactionLine
	)
	err := s.execute(func() error {
		var err error
		txn, lines, err = s.inner.GetTransaction(ctx, transactionID)
		return err
	})
	return txn, lines, err
}

func (s *BreakerStore) PurgeDailyCountsBefore(ctx context.Context, cutoffDate string) (int64, error) {
	var deleted int64
	err := s.execute(func() error {
		var err error
		deleted, err = s.inner.PurgeDailyCountsBefore(ctx, cutoffDate)
		return err
	})
	return deleted, err
}

func (s *BreakerStore) PurgeValidationLogBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := s.execute(func() error {
		var err error
		deleted, err = s.inner.PurgeValidationLogBefore(ctx, cutoff)
		return err
	})
	return deleted, err
}

// Ping goes through the breaker too: when the breaker is half-open, health
// probes become the trial requests that close it again.
func (s *BreakerStore) Ping(ctx context.Context) error {
	return s.execute(func() error {
		return s.inner.Ping(ctx)
	})
}

// Close bypasses the breaker; shutdown must always reach the backend.
func (s *BreakerStore) Close() error {
	return s.inner.Close()
}
