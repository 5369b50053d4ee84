package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// mockSource implements Repository for testing.
type mockSource struct {
	listEntriesFunc    func(ctx context.Context) ([]Entry, error)
	listAllowancesFunc func(ctx context.Context) ([]AllowanceRule, error)
	listEntriesCalls   int
}

func (m *mockSource) ListEntries(ctx context.Context) ([]Entry, error) {
	m.listEntriesCalls++
	if m.listEntriesFunc != nil {
		return m.listEntriesFunc(ctx)
	}
	return nil, nil
}

func (m *mockSource) ListAllowances(ctx context.Context) ([]AllowanceRule, error) {
	if m.listAllowancesFunc != nil {
		return m.listAllowancesFunc(ctx)
	}
	return nil, nil
}

func (m *mockSource) Close() error { return nil }

func testEntries() []Entry {
	return []Entry{
		{
			SKUGUID: "SKU-MARL-GOLD",
			Brand:   "MARLBORO",
			Carton:  UPCBlock{UPC: "012345678912", SuppressedUPC: "112345678912"},
			Pack:    UPCBlock{UPC: "012345678905"},
		},
	}
}

func TestCached_ResolveUPC(t *testing.T) {
	source := &mockSource{
		listEntriesFunc: func(context.Context) ([]Entry, error) {
			return testEntries(), nil
		},
	}
	cached := NewCached(source, time.Hour, nil, nil, zerolog.Nop())
	ctx := context.Background()

	resolution, err := cached.ResolveUPC(ctx, "012345678905")
	if err != nil {
		t.Fatalf("ResolveUPC() error = %v", err)
	}
	if resolution.MatchedType != UPCMatchPack {
		t.Errorf("MatchedType = %q, want %q", resolution.MatchedType, UPCMatchPack)
	}
	if resolution.UnitOfMeasure != UOMPack {
		t.Errorf("UnitOfMeasure = %q, want %q", resolution.UnitOfMeasure, UOMPack)
	}

	if _, err := cached.ResolveUPC(ctx, "999999999990"); err != ErrUPCNotFound {
		t.Errorf("ResolveUPC(unknown) error = %v, want ErrUPCNotFound", err)
	}
}

func TestCached_SnapshotReused(t *testing.T) {
	source := &mockSource{
		listEntriesFunc: func(context.Context) ([]Entry, error) {
			return testEntries(), nil
		},
	}
	cached := NewCached(source, time.Hour, nil, nil, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := cached.ResolveUPC(ctx, "012345678912"); err != nil {
			t.Fatalf("ResolveUPC() error = %v", err)
		}
	}

	// One fetch builds the snapshot; reads within the staleness bound must
	// not touch the source again.
	if source.listEntriesCalls != 1 {
		t.Errorf("ListEntries called %d times, want 1", source.listEntriesCalls)
	}
}

func TestCached_RefreshNowSwapsSnapshot(t *testing.T) {
	entries := testEntries()
	source := &mockSource{
		listEntriesFunc: func(context.Context) ([]Entry, error) {
			return entries, nil
		},
	}
	cached := NewCached(source, time.Hour, nil, nil, zerolog.Nop())
	ctx := context.Background()

	if err := cached.RefreshNow(ctx); err != nil {
		t.Fatalf("RefreshNow() error = %v", err)
	}
	if _, err := cached.ResolveUPC(ctx, "012345678905"); err != nil {
		t.Fatalf("ResolveUPC() error = %v", err)
	}

	// The synchronizer replaced the catalog; the next refresh must swap in
	// the new rows and drop the old.
	entries = []Entry{{SKUGUID: "SKU-NEW", Pack: UPCBlock{UPC: "055555555505"}}}
	if err := cached.RefreshNow(ctx); err != nil {
		t.Fatalf("RefreshNow() error = %v", err)
	}

	if _, err := cached.ResolveUPC(ctx, "055555555505"); err != nil {
		t.Errorf("ResolveUPC(new row) error = %v", err)
	}
	if _, err := cached.ResolveUPC(ctx, "012345678905"); err != ErrUPCNotFound {
		t.Errorf("ResolveUPC(dropped row) error = %v, want ErrUPCNotFound", err)
	}
}

func TestCached_ServesStaleSnapshotOnFetchFailure(t *testing.T) {
	healthy := true
	source := &mockSource{
		listEntriesFunc: func(context.Context) ([]Entry, error) {
			if !healthy {
				return nil, errors.New("connection refused")
			}
			return testEntries(), nil
		},
	}
	// A nanosecond interval makes every read treat the snapshot as stale,
	// forcing the refetch path.
	cached := NewCached(source, time.Nanosecond, nil, nil, zerolog.Nop())
	ctx := context.Background()

	if err := cached.RefreshNow(ctx); err != nil {
		t.Fatalf("RefreshNow() error = %v", err)
	}

	healthy = false
	resolution, err := cached.ResolveUPC(ctx, "012345678905")
	if err != nil {
		t.Fatalf("ResolveUPC() with failing source error = %v, want stale snapshot", err)
	}
	if resolution.Entry.SKUGUID != "SKU-MARL-GOLD" {
		t.Errorf("stale resolution SKUGUID = %q, want %q", resolution.Entry.SKUGUID, "SKU-MARL-GOLD")
	}
}

func TestCached_FetchFailureWithNoSnapshotErrors(t *testing.T) {
	source := &mockSource{
		listEntriesFunc: func(context.Context) ([]Entry, error) {
			return nil, errors.New("connection refused")
		},
	}
	cached := NewCached(source, time.Hour, nil, nil, zerolog.Nop())

	if _, err := cached.ResolveUPC(context.Background(), "012345678905"); err == nil {
		t.Error("ResolveUPC() with no snapshot and failing source should error")
	}
}

func TestCached_ActiveAllowances(t *testing.T) {
	source := &mockSource{
		listAllowancesFunc: func(context.Context) ([]AllowanceRule, error) {
			return []AllowanceRule{
				{
					AllowanceID: "ALW-CURRENT",
					StartDate:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
					EndDate:     time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
				},
				{
					AllowanceID: "ALW-EXPIRED",
					StartDate:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
					EndDate:     time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
				},
			}, nil
		},
	}
	cached := NewCached(source, time.Hour, nil, nil, zerolog.Nop())

	active, err := cached.ActiveAllowances(context.Background(), time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ActiveAllowances() error = %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("ActiveAllowances() = %d rules, want 1", len(active))
	}
	if active[0].AllowanceID != "ALW-CURRENT" {
		t.Errorf("AllowanceID = %q, want %q", active[0].AllowanceID, "ALW-CURRENT")
	}
}

func TestCached_StartStop(t *testing.T) {
	source := &mockSource{
		listEntriesFunc: func(context.Context) ([]Entry, error) {
			return testEntries(), nil
		},
	}
	cached := NewCached(source, time.Hour, nil, nil, zerolog.Nop())
	cached.Start()

	done := make(chan struct{})
	go func() {
		cached.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() timed out")
	}
}
