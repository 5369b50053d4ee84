package storage

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStore_TouchProfile_Insert(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	seen := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	profile, err := store.TouchProfile(ctx, ProfileSighting{
		LoyaltyID:    "15551234567",
		FormatType:   "phone_number",
		StoreID:      "ST-0042",
		SeenAt:       seen,
		CIDCandidate: "15551234567",
		CIDFallback:  "CID_FALLBACK0001",
	})
	if err != nil {
		t.Fatalf("TouchProfile() error = %v", err)
	}

	if profile.CIDCustomerID != "15551234567" {
		t.Errorf("CIDCustomerID = %q, want %q", profile.CIDCustomerID, "15551234567")
	}
	if profile.FormatType != "phone_number" {
		t.Errorf("FormatType = %q, want %q", profile.FormatType, "phone_number")
	}
	if !profile.FirstSeen.Equal(seen) {
		t.Errorf("FirstSeen = %v, want %v", profile.FirstSeen, seen)
	}
	if !profile.LastSeen.Equal(seen) {
		t.Errorf("LastSeen = %v, want %v", profile.LastSeen, seen)
	}
	if profile.TotalTransactions != 1 {
		t.Errorf("TotalTransactions = %d, want 1", profile.TotalTransactions)
	}
	if profile.IsManagerCard {
		t.Error("IsManagerCard = true, want false")
	}
}

func TestMemoryStore_TouchProfile_UpdatePreservesIdentity(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	second := first.Add(6 * time.Hour)

	sighting := ProfileSighting{
		LoyaltyID:    "15551234567",
		FormatType:   "phone_number",
		StoreID:      "ST-0042",
		SeenAt:       first,
		CIDCandidate: "15551234567",
		CIDFallback:  "CID_FALLBACK0001",
	}
	if _, err := store.TouchProfile(ctx, sighting); err != nil {
		t.Fatalf("TouchProfile() first error = %v", err)
	}

	// Second sighting at a different store must not rewrite first_seen,
	// the CID, or the original store.
	sighting.SeenAt = second
	sighting.StoreID = "ST-0099"
	sighting.CIDCandidate = "SOMETHING_ELSE"
	profile, err := store.TouchProfile(ctx, sighting)
	if err != nil {
		t.Fatalf("TouchProfile() second error = %v", err)
	}

	if profile.CIDCustomerID != "15551234567" {
		t.Errorf("CIDCustomerID changed to %q on update", profile.CIDCustomerID)
	}
	if !profile.FirstSeen.Equal(first) {
		t.Errorf("FirstSeen = %v, want original %v", profile.FirstSeen, first)
	}
	if !profile.LastSeen.Equal(second) {
		t.Errorf("LastSeen = %v, want %v", profile.LastSeen, second)
	}
	if profile.TotalTransactions != 2 {
		t.Errorf("TotalTransactions = %d, want 2", profile.TotalTransactions)
	}
	if profile.StoreID != "ST-0042" {
		t.Errorf("StoreID = %q, want first-seen store %q", profile.StoreID, "ST-0042")
	}
}

func TestMemoryStore_TouchProfile_LastSeenNeverRegresses(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	later := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)
	earlier := later.Add(-2 * time.Hour)

	sighting := ProfileSighting{
		LoyaltyID:    "15551234567",
		FormatType:   "phone_number",
		SeenAt:       later,
		CIDCandidate: "15551234567",
	}
	if _, err := store.TouchProfile(ctx, sighting); err != nil {
		t.Fatalf("TouchProfile() error = %v", err)
	}

	// An out-of-order sighting still counts a transaction but must not
	// move last_seen backwards.
	sighting.SeenAt = earlier
	profile, err := store.TouchProfile(ctx, sighting)
	if err != nil {
		t.Fatalf("TouchProfile() error = %v", err)
	}
	if !profile.LastSeen.Equal(later) {
		t.Errorf("LastSeen = %v, want %v", profile.LastSeen, later)
	}
	if profile.TotalTransactions != 2 {
		t.Errorf("TotalTransactions = %d, want 2", profile.TotalTransactions)
	}
}

func TestMemoryStore_TouchProfile_ManagerCardIsSticky(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	sighting := ProfileSighting{
		LoyaltyID:    "15551234567",
		FormatType:   "phone_number",
		SeenAt:       time.Now(),
		CIDCandidate: "15551234567",
		ManagerCard:  true,
	}
	if _, err := store.TouchProfile(ctx, sighting); err != nil {
		t.Fatalf("TouchProfile() error = %v", err)
	}

	// A later sighting under the cap must not clear the flag.
	sighting.ManagerCard = false
	profile, err := store.TouchProfile(ctx, sighting)
	if err != nil {
		t.Fatalf("TouchProfile() error = %v", err)
	}
	if !profile.IsManagerCard {
		t.Error("IsManagerCard = false after manager sighting, want true")
	}
}

func TestMemoryStore_TouchProfile_CIDCollisionUsesFallback(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.TouchProfile(ctx, ProfileSighting{
		LoyaltyID:    "1111111111",
		FormatType:   "qr_code",
		SeenAt:       time.Now(),
		CIDCandidate: "CID_AAAA00000000BBBB",
		CIDFallback:  "CID_FALLBACK0000001",
	}); err != nil {
		t.Fatalf("TouchProfile() error = %v", err)
	}

	// A different loyalty ID hashing to the same CID gets the fallback.
	profile, err := store.TouchProfile(ctx, ProfileSighting{
		LoyaltyID:    "2222222222",
		FormatType:   "qr_code",
		SeenAt:       time.Now(),
		CIDCandidate: "CID_AAAA00000000BBBB",
		CIDFallback:  "CID_FALLBACK0000002",
	})
	if err != nil {
		t.Fatalf("TouchProfile() error = %v", err)
	}
	if profile.CIDCustomerID != "CID_FALLBACK0000002" {
		t.Errorf("CIDCustomerID = %q, want fallback %q", profile.CIDCustomerID, "CID_FALLBACK0000002")
	}
}

func TestMemoryStore_TouchProfile_RequiresLoyaltyID(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.TouchProfile(context.Background(), ProfileSighting{
		CIDCandidate: "CID_X",
	})
	if err == nil {
		t.Error("TouchProfile() with empty loyalty ID should fail")
	}
}

func TestMemoryStore_GetProfile_NotFound(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.GetProfile(context.Background(), "0000000000")
	if err != ErrNotFound {
		t.Errorf("GetProfile() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_MarkProfileAgeVerified(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.TouchProfile(ctx, ProfileSighting{
		LoyaltyID:    "15551234567",
		FormatType:   "phone_number",
		SeenAt:       time.Now(),
		CIDCandidate: "15551234567",
	}); err != nil {
		t.Fatalf("TouchProfile() error = %v", err)
	}

	verifiedAt := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	if err := store.MarkProfileAgeVerified(ctx, "15551234567", verifiedAt); err != nil {
		t.Fatalf("MarkProfileAgeVerified() error = %v", err)
	}

	profile, err := store.GetProfile(ctx, "15551234567")
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}
	if !profile.AVTVerified {
		t.Error("AVTVerified = false, want true")
	}
	if profile.LastAVTVerified == nil || !profile.LastAVTVerified.Equal(verifiedAt) {
		t.Errorf("LastAVTVerified = %v, want %v", profile.LastAVTVerified, verifiedAt)
	}
}

func TestMemoryStore_MarkProfileAgeVerified_MissingProfile(t *testing.T) {
	store := NewMemoryStore()

	// The audit trail is written regardless of whether the upstream app
	// ever registered this customer, so a missing profile is not an error.
	if err := store.MarkProfileAgeVerified(context.Background(), "9999999999", time.Now()); err != nil {
		t.Errorf("MarkProfileAgeVerified() on missing profile error = %v, want nil", err)
	}
}
