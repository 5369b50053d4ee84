package loyalty

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/RTNSmart/tier3-engine/internal/storage"
)

func newTestValidator(t *testing.T) (*Validator, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	return NewValidator(store, 5, nil, zerolog.Nop()), store
}

func TestValidate_ValidPhone(t *testing.T) {
	v, store := newTestValidator(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)

	res, err := v.Validate(ctx, "5551234567", "ST-0042", now)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	if !res.Valid || !res.EligibleForTier3 || !res.EligibleForCIDFund {
		t.Errorf("Validate() flags = %+v, want valid and fully eligible", res)
	}
	if res.IsManagerCard {
		t.Error("Validate() flagged a first-time phone as manager card")
	}
	if res.FormatType != FormatPhoneNumber {
		t.Errorf("FormatType = %q, want %q", res.FormatType, FormatPhoneNumber)
	}
	if res.NormalizedID != "5551234567" {
		t.Errorf("NormalizedID = %q, want %q", res.NormalizedID, "5551234567")
	}
	if res.DailyCount != 1 {
		t.Errorf("DailyCount = %d, want 1", res.DailyCount)
	}
	if res.Reason != "LoyaltyID valid and eligible" {
		t.Errorf("Reason = %q", res.Reason)
	}

	if res.Profile == nil {
		t.Fatal("Validate() returned nil profile for valid ID")
	}
	if res.Profile.CIDCustomerID != "5551234567" {
		t.Errorf("profile CID = %q, want the phone digits", res.Profile.CIDCustomerID)
	}
	if res.Profile.StoreID != "ST-0042" {
		t.Errorf("profile StoreID = %q, want ST-0042", res.Profile.StoreID)
	}

	entries, err := store.ListValidationLog(ctx, "5551234567", 10)
	if err != nil {
		t.Fatalf("ListValidationLog() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("validation log has %d entries, want 1", len(entries))
	}
	if entries[0].Reason != "LoyaltyID valid and eligible" || entries[0].DailyCount != 1 {
		t.Errorf("log entry = %+v", entries[0])
	}
}

func TestValidate_ManagerCardAtSixth(t *testing.T) {
	v, store := newTestValidator(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

	var res Result
	var err error
	for i := 0; i < 6; i++ {
		res, err = v.Validate(ctx, "15551234567", "ST-0042", now.Add(time.Duration(i)*time.Hour))
		if err != nil {
			t.Fatalf("Validate() #%d error = %v", i+1, err)
		}
		if i < 5 && !res.EligibleForCIDFund {
			t.Fatalf("Validate() #%d lost CID fund eligibility under the cap: %+v", i+1, res)
		}
	}

	if !res.Valid || !res.EligibleForTier3 {
		t.Errorf("manager card lost base Tier 3 validity: %+v", res)
	}
	if !res.IsManagerCard {
		t.Error("sixth transaction not flagged as manager card")
	}
	if res.EligibleForCIDFund {
		t.Error("manager card still eligible for CID fund")
	}
	if res.DailyCount != 6 {
		t.Errorf("DailyCount = %d, want 6", res.DailyCount)
	}
	want := "Manager/store card detected: 6 transactions today (exceeds cap of 5)"
	if res.Reason != want {
		t.Errorf("Reason = %q, want %q", res.Reason, want)
	}

	profile, err := store.GetProfile(ctx, "15551234567")
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}
	if !profile.IsManagerCard {
		t.Error("profile not marked as manager card")
	}
}

func TestValidate_CapResetsNextDay(t *testing.T) {
	v, _ := newTestValidator(t)
	ctx := context.Background()
	day1 := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 6; i++ {
		if _, err := v.Validate(ctx, "15551234567", "ST-0042", day1); err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
	}

	res, err := v.Validate(ctx, "15551234567", "ST-0042", day1.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if res.IsManagerCard {
		t.Errorf("cap did not reset across days: %+v", res)
	}
	if res.DailyCount != 1 {
		t.Errorf("DailyCount = %d, want 1 on the new day", res.DailyCount)
	}
	// The profile flag is sticky even though today's count is back under
	// the cap.
	if res.Profile == nil || !res.Profile.IsManagerCard {
		t.Error("profile manager flag did not survive the day rollover")
	}
}

func TestValidate_MissingID(t *testing.T) {
	v, store := newTestValidator(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

	for _, input := range []string{"", "   "} {
		res, err := v.Validate(ctx, input, "ST-0042", now)
		if err != nil {
			t.Fatalf("Validate(%q) error = %v", input, err)
		}
		if res.Valid || res.EligibleForTier3 || res.EligibleForCIDFund {
			t.Errorf("Validate(%q) = %+v, want nothing eligible", input, res)
		}
		if res.Reason != "LoyaltyID is missing" {
			t.Errorf("Validate(%q) Reason = %q", input, res.Reason)
		}
		if res.Profile != nil {
			t.Errorf("Validate(%q) created a profile", input)
		}
	}

	// Every attempt lands in the log, rejected ones included.
	entries, err := store.ListValidationLog(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListValidationLog() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("validation log has %d entries, want 2", len(entries))
	}
	for _, e := range entries {
		if e.Valid || e.Reason != "LoyaltyID is missing" {
			t.Errorf("log entry = %+v", e)
		}
	}
}

func TestValidate_BadLengthLeavesNoProfile(t *testing.T) {
	v, store := newTestValidator(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

	res, err := v.Validate(ctx, "555123456", "ST-0042", now)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if res.Valid {
		t.Fatalf("nine-digit ID validated: %+v", res)
	}
	if res.Reason != "LoyaltyID format invalid: length 9 not in range [10, 12]" {
		t.Errorf("Reason = %q", res.Reason)
	}

	if _, err := store.GetProfile(ctx, "555123456"); err != storage.ErrNotFound {
		t.Errorf("GetProfile() error = %v, want ErrNotFound", err)
	}
	if count, _ := store.GetDailyCount(ctx, "555123456", storage.DateKey(now)); count != 0 {
		t.Errorf("daily count = %d for rejected ID, want 0", count)
	}
}

func TestValidate_QRCode(t *testing.T) {
	v, _ := newTestValidator(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	url := QRCodeBaseURL + "dGVzdHVzZXIxMjM="

	res, err := v.Validate(ctx, url, "ST-0042", now)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !res.Valid {
		t.Fatalf("QR code rejected: %q", res.Reason)
	}
	if res.NormalizedID != url {
		t.Errorf("NormalizedID = %q, want the full URL", res.NormalizedID)
	}
	if res.Profile == nil {
		t.Fatal("Validate() returned nil profile")
	}
	if !strings.HasPrefix(res.Profile.CIDCustomerID, "CID_") {
		t.Errorf("QR profile CID = %q, want CID_ hash surrogate", res.Profile.CIDCustomerID)
	}
	if res.Profile.FormatType != FormatQRCode {
		t.Errorf("profile FormatType = %q", res.Profile.FormatType)
	}
}

func TestValidate_CustomCap(t *testing.T) {
	store := storage.NewMemoryStore()
	v := NewValidator(store, 2, nil, zerolog.Nop())
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

	var res Result
	var err error
	for i := 0; i < 3; i++ {
		res, err = v.Validate(ctx, "5551234567", "ST-0042", now)
		if err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
	}
	if !res.IsManagerCard {
		t.Fatalf("third transaction under cap 2 not flagged: %+v", res)
	}
	want := "Manager/store card detected: 3 transactions today (exceeds cap of 2)"
	if res.Reason != want {
		t.Errorf("Reason = %q, want %q", res.Reason, want)
	}
}

// brokenStore fails selected operations so stage error handling can be
// exercised against an otherwise working store.
type brokenStore struct {
	storage.Store
	failIncrement bool
	failProfile   bool
	failLogAppend bool
}

var errStoreDown = errors.New("connection refused")

func (b *brokenStore) IncrementDailyCount(ctx context.Context, loyaltyID, day string) (int, error) {
	if b.failIncrement {
		return 0, errStoreDown
	}
	return b.Store.IncrementDailyCount(ctx, loyaltyID, day)
}

func (b *brokenStore) TouchProfile(ctx context.Context, sighting storage.ProfileSighting) (storage.CustomerProfile, error) {
	if b.failProfile {
		return storage.CustomerProfile{}, errStoreDown
	}
	return b.Store.TouchProfile(ctx, sighting)
}

func (b *brokenStore) AppendValidationLog(ctx context.Context, entry storage.ValidationLogEntry) error {
	if b.failLogAppend {
		return errStoreDown
	}
	return b.Store.AppendValidationLog(ctx, entry)
}

func TestValidate_CountFailureAborts(t *testing.T) {
	store := &brokenStore{Store: storage.NewMemoryStore(), failIncrement: true}
	v := NewValidator(store, 5, nil, zerolog.Nop())

	_, err := v.Validate(context.Background(), "5551234567", "ST-0042", time.Now())
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("Validate() error = %v, want wrapped store failure", err)
	}
}

func TestValidate_ProfileFailureAborts(t *testing.T) {
	store := &brokenStore{Store: storage.NewMemoryStore(), failProfile: true}
	v := NewValidator(store, 5, nil, zerolog.Nop())

	_, err := v.Validate(context.Background(), "5551234567", "ST-0042", time.Now())
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("Validate() error = %v, want wrapped store failure", err)
	}
}

func TestValidate_LogAppendFailureDoesNotAbort(t *testing.T) {
	store := &brokenStore{Store: storage.NewMemoryStore(), failLogAppend: true}
	v := NewValidator(store, 5, nil, zerolog.Nop())

	res, err := v.Validate(context.Background(), "5551234567", "ST-0042", time.Now())
	if err != nil {
		t.Fatalf("Validate() error = %v, want audit failure swallowed", err)
	}
	if !res.Valid {
		t.Errorf("decision lost to audit failure: %+v", res)
	}
}
