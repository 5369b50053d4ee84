package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/RTNSmart/tier3-engine/internal/circuitbreaker"
)

// failingStore fails every profile read; everything else passes through.
type failingStore struct {
	Store
}

func (f *failingStore) GetProfile(context.Context, string) (CustomerProfile, error) {
	return CustomerProfile{}, errors.New("connection refused")
}

func testBreakerManager() *circuitbreaker.Manager {
	cfg := circuitbreaker.DefaultConfig()
	cfg.Database = circuitbreaker.BreakerConfig{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 0.5,
	}
	return circuitbreaker.NewManager(cfg)
}

func TestBreakerStore_PassThrough(t *testing.T) {
	store := NewBreakerStore(NewMemoryStore(), testBreakerManager())
	ctx := context.Background()

	profile, err := store.TouchProfile(ctx, ProfileSighting{
		LoyaltyID:    "15551234567",
		FormatType:   "phone_number",
		SeenAt:       time.Now(),
		CIDCandidate: "15551234567",
	})
	if err != nil {
		t.Fatalf("TouchProfile() error = %v", err)
	}
	if profile.TotalTransactions != 1 {
		t.Errorf("TotalTransactions = %d, want 1", profile.TotalTransactions)
	}

	count, err := store.IncrementDailyCount(ctx, "15551234567", "2026-03-14")
	if err != nil {
		t.Fatalf("IncrementDailyCount() error = %v", err)
	}
	if count != 1 {
		t.Errorf("IncrementDailyCount() = %d, want 1", count)
	}
}

func TestBreakerStore_NotFoundDoesNotTrip(t *testing.T) {
	manager := testBreakerManager()
	store := NewBreakerStore(NewMemoryStore(), manager)
	ctx := context.Background()

	// New customers produce a steady stream of not-found lookups; none of
	// them may count as backend failures.
	for i := 0; i < 10; i++ {
		if _, err := store.GetProfile(ctx, "0000000000"); err != ErrNotFound {
			t.Fatalf("GetProfile() error = %v, want ErrNotFound", err)
		}
	}

	if state := manager.State(circuitbreaker.ServiceDatabase); state != "closed" {
		t.Errorf("breaker state = %q, want %q after not-found reads", state, "closed")
	}
}

func TestBreakerStore_OpensOnRepeatedFailures(t *testing.T) {
	manager := testBreakerManager()
	store := NewBreakerStore(&failingStore{Store: NewMemoryStore()}, manager)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = store.GetProfile(ctx, "15551234567")
	}

	if state := manager.State(circuitbreaker.ServiceDatabase); state != "open" {
		t.Fatalf("breaker state = %q, want %q after repeated failures", state, "open")
	}

	// Fast-fail without reaching the backend.
	_, err := store.GetProfile(ctx, "15551234567")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("GetProfile() error = %v, want %v", err, gobreaker.ErrOpenState)
	}
}

func TestNewBreakerStore_NilManagerReturnsInner(t *testing.T) {
	inner := NewMemoryStore()
	store := NewBreakerStore(inner, nil)

	if store != Store(inner) {
		t.Errorf("NewBreakerStore(nil) = %T, want the inner store unwrapped", store)
	}
}
