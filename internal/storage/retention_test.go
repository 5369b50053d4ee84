package storage

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRetentionService_RunNow(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	// Seed counts well past the window plus one from today.
	oldDay := DateKey(time.Now().AddDate(0, 0, -30))
	today := DateKey(time.Now())
	if _, err := store.IncrementDailyCount(ctx, "15551234567", oldDay); err != nil {
		t.Fatalf("IncrementDailyCount() error = %v", err)
	}
	if _, err := store.IncrementDailyCount(ctx, "15551234567", today); err != nil {
		t.Fatalf("IncrementDailyCount() error = %v", err)
	}

	// Old validation entries go too once the opt-in window is set.
	if err := store.AppendValidationLog(ctx, ValidationLogEntry{
		LoyaltyID: "15551234567",
		Reason:    "LoyaltyID valid and eligible",
		CreatedAt: time.Now().AddDate(0, 0, -200),
	}); err != nil {
		t.Fatalf("AppendValidationLog() error = %v", err)
	}

	service := NewRetentionService(store, RetentionConfig{
		Enabled:            true,
		KeepDays:           7,
		ValidationKeepDays: 90,
		RunInterval:        time.Hour,
	}, nil, zerolog.Nop())

	if err := service.RunNow(); err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}

	if count, _ := store.GetDailyCount(ctx, "15551234567", oldDay); count != 0 {
		t.Errorf("old daily count survived purge: %d", count)
	}
	if count, _ := store.GetDailyCount(ctx, "15551234567", today); count != 1 {
		t.Errorf("today's daily count = %d, want 1", count)
	}
	entries, err := store.ListValidationLog(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListValidationLog() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("validation entries after purge = %d, want 0", len(entries))
	}
}

func TestRetentionService_RunNow_ValidationLogKeptByDefault(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.AppendValidationLog(ctx, ValidationLogEntry{
		LoyaltyID: "15551234567",
		Reason:    "LoyaltyID valid and eligible",
		CreatedAt: time.Now().AddDate(-1, 0, 0),
	}); err != nil {
		t.Fatalf("AppendValidationLog() error = %v", err)
	}

	cfg := DefaultRetentionConfig()
	cfg.Enabled = true
	service := NewRetentionService(store, cfg, nil, zerolog.Nop())

	if err := service.RunNow(); err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}

	entries, err := store.ListValidationLog(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListValidationLog() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("validation log purged without opt-in: %d entries remain, want 1", len(entries))
	}
}

func TestRetentionService_RunNow_Disabled(t *testing.T) {
	service := NewRetentionService(NewMemoryStore(), DefaultRetentionConfig(), nil, zerolog.Nop())

	if err := service.RunNow(); err == nil {
		t.Error("RunNow() on disabled service should fail")
	}
}

func TestRetentionService_StartStop(t *testing.T) {
	store := NewMemoryStore()
	cfg := RetentionConfig{
		Enabled:     true,
		KeepDays:    7,
		RunInterval: time.Hour,
	}
	service := NewRetentionService(store, cfg, nil, zerolog.Nop())
	service.Start()

	done := make(chan struct{})
	go func() {
		service.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() timed out")
	}
}

func TestRetentionService_StartDisabled(t *testing.T) {
	service := NewRetentionService(NewMemoryStore(), DefaultRetentionConfig(), nil, zerolog.Nop())
	service.Start()

	// Stop must not hang when the loop never started.
	done := make(chan struct{})
	go func() {
		service.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("Stop() timed out for disabled service")
	}
}
