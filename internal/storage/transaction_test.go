package storage

import (
	"context"
	"testing"
	"time"

	"github.com/RTNSmart/tier3-engine/internal/money"
)

func testTransaction() (TransactionRecord, []TransactionLine) {
	txn := TransactionRecord{
		TransactionID:   "TXN-2026-0314-0001",
		StoreID:         "ST-0042",
		LoyaltyID:       "15551234567",
		CashierID:       "101",
		Tier3Eligible:   true,
		CIDFundEligible: true,
		AgeVerified:     true,
		TotalDiscount:   money.Cents(147),
		RewardCount:     2,
		CreatedAt:       time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
	lines := []TransactionLine{
		{
			LineNumber:         1,
			UPC:                "012345678905",
			SKUGUID:            "SKU-MARL-GOLD-PACK",
			Quantity:           2,
			UnitPrice:          money.Cents(899),
			BaseExtendedPrice:  money.Cents(1798),
			LoyaltyDiscount:    money.Cents(100),
			MultiUnitDiscount:  money.Cents(47),
			TotalDiscount:      money.Cents(147),
			FinalUnitPrice:     money.Cents(826),
			FinalExtendedPrice: money.Cents(1651),
		},
		{
			LineNumber:         2,
			UPC:                "098765432109",
			SKUGUID:            "SKU-COPEN-LC-CAN",
			Quantity:           1,
			UnitPrice:          money.Cents(549),
			BaseExtendedPrice:  money.Cents(549),
			FinalUnitPrice:     money.Cents(549),
			FinalExtendedPrice: money.Cents(549),
		},
	}
	return txn, lines
}

func TestMemoryStore_SaveTransaction_Roundtrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	txn, lines := testTransaction()
	if err := store.SaveTransaction(ctx, txn, lines); err != nil {
		t.Fatalf("SaveTransaction() error = %v", err)
	}

	got, gotLines, err := store.GetTransaction(ctx, txn.TransactionID)
	if err != nil {
		t.Fatalf("GetTransaction() error = %v", err)
	}

	if got.TotalDiscount != money.Cents(147) {
		t.Errorf("TotalDiscount = %d, want 147", got.TotalDiscount)
	}
	if got.LoyaltyID != "15551234567" {
		t.Errorf("LoyaltyID = %q, want %q", got.LoyaltyID, "15551234567")
	}
	if len(gotLines) != 2 {
		t.Fatalf("GetTransaction() lines = %d, want 2", len(gotLines))
	}
	if gotLines[0].TransactionID != txn.TransactionID {
		t.Errorf("line TransactionID = %q, want stamped %q", gotLines[0].TransactionID, txn.TransactionID)
	}
	if gotLines[0].FinalExtendedPrice != money.Cents(1651) {
		t.Errorf("line FinalExtendedPrice = %d, want 1651", gotLines[0].FinalExtendedPrice)
	}
	if gotLines[1].TotalDiscount != 0 {
		t.Errorf("undiscounted line TotalDiscount = %d, want 0", gotLines[1].TotalDiscount)
	}
}

func TestMemoryStore_SaveTransaction_ReplayReplacesLines(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	txn, lines := testTransaction()
	if err := store.SaveTransaction(ctx, txn, lines); err != nil {
		t.Fatalf("SaveTransaction() error = %v", err)
	}

	// A POS retry of the same transaction carries the authoritative basket;
	// the store keeps exactly the replayed lines, not a union.
	txn.TotalDiscount = money.Cents(100)
	txn.RewardCount = 1
	if err := store.SaveTransaction(ctx, txn, lines[:1]); err != nil {
		t.Fatalf("SaveTransaction() replay error = %v", err)
	}

	got, gotLines, err := store.GetTransaction(ctx, txn.TransactionID)
	if err != nil {
		t.Fatalf("GetTransaction() error = %v", err)
	}
	if got.TotalDiscount != money.Cents(100) {
		t.Errorf("TotalDiscount = %d, want replayed 100", got.TotalDiscount)
	}
	if len(gotLines) != 1 {
		t.Errorf("GetTransaction() lines = %d, want 1 after replay", len(gotLines))
	}
}

func TestMemoryStore_SaveTransaction_Validation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	txn, lines := testTransaction()
	txn.TransactionID = ""
	if err := store.SaveTransaction(ctx, txn, lines); err == nil {
		t.Error("SaveTransaction() without transaction ID should fail")
	}

	txn, lines = testTransaction()
	lines[1].LineNumber = 0
	if err := store.SaveTransaction(ctx, txn, lines); err == nil {
		t.Error("SaveTransaction() with non-positive line number should fail")
	}
}

func TestMemoryStore_GetTransaction_NotFound(t *testing.T) {
	store := NewMemoryStore()

	_, _, err := store.GetTransaction(context.Background(), "TXN-MISSING")
	if err != ErrNotFound {
		t.Errorf("GetTransaction() error = %v, want ErrNotFound", err)
	}
}
