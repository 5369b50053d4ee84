package discount

import (
	"strings"
	"testing"

	"github.com/RTNSmart/tier3-engine/internal/basket"
	"github.com/RTNSmart/tier3-engine/internal/catalog"
)

func TestEvaluate_FullyEligible(t *testing.T) {
	flags, buckets := Evaluate(Input{
		EligibleForTier3:   true,
		EligibleForCIDFund: true,
		AgeVerified:        true,
		DailyCap:           5,
	})

	if !flags.Tier3Eligible || !flags.Tier3IncentivesEligible || !flags.PMUSAAllowancesEligible {
		t.Errorf("flags = %+v, want everything eligible", flags)
	}
	if len(flags.Reasons) != 0 {
		t.Errorf("Reasons = %v, want none", flags.Reasons)
	}
	for _, b := range AllBuckets {
		if !buckets[b] {
			t.Errorf("bucket %q ineligible for a fully eligible customer", b)
		}
	}
}

func TestEvaluate_ManagerCardLosesFundBuckets(t *testing.T) {
	flags, buckets := Evaluate(Input{
		EligibleForTier3:   true,
		EligibleForCIDFund: false,
		AgeVerified:        true,
		DailyCap:           5,
	})

	if !flags.Tier3Eligible || !flags.Tier3IncentivesEligible {
		t.Errorf("flags = %+v, manager card keeps base Tier 3", flags)
	}
	if flags.PMUSAAllowancesEligible {
		t.Error("PMUSAAllowancesEligible = true for manager card")
	}

	for _, b := range []Bucket{BucketManufacturerCoupon, BucketMultiPack, BucketLoyalty} {
		if buckets[b] {
			t.Errorf("fund bucket %q survived the manager-card gate", b)
		}
	}
	for _, b := range []Bucket{BucketMultiUnit, BucketRetailer, BucketOtherManufacturer, BucketTransaction} {
		if !buckets[b] {
			t.Errorf("non-fund bucket %q lost eligibility", b)
		}
	}

	if len(flags.Reasons) != 1 {
		t.Fatalf("Reasons = %v, want the PM USA reason", flags.Reasons)
	}
	want := "PM USA allowances ineligible: loyalty ID exceeded 5 transactions/day (manager/store card)"
	if flags.Reasons[0] != want {
		t.Errorf("reason = %q, want %q", flags.Reasons[0], want)
	}
}

func TestEvaluate_AgeNotVerifiedDisablesEverything(t *testing.T) {
	flags, buckets := Evaluate(Input{
		EligibleForTier3:   true,
		EligibleForCIDFund: true,
		AgeVerified:        false,
		AgeReason:          "Age not verified (no in-person confirmation) - ineligible for Tier 3 incentives",
	})

	if !flags.Tier3Eligible {
		t.Error("Tier3Eligible = false; validity does not depend on age")
	}
	if flags.Tier3IncentivesEligible || flags.PMUSAAllowancesEligible {
		t.Errorf("flags = %+v, want incentives gated", flags)
	}
	for _, b := range AllBuckets {
		if buckets[b] {
			t.Errorf("bucket %q eligible without age verification", b)
		}
	}
	if len(flags.Reasons) != 1 || !strings.Contains(flags.Reasons[0], "Age not verified") {
		t.Errorf("Reasons = %v", flags.Reasons)
	}
}

func TestEvaluate_InvalidLoyaltyID(t *testing.T) {
	flags, buckets := Evaluate(Input{
		EligibleForTier3:   false,
		EligibleForCIDFund: false,
		CustomerReason:     "LoyaltyID is missing",
		AgeVerified:        true,
	})

	if flags.Tier3Eligible || flags.Tier3IncentivesEligible || flags.PMUSAAllowancesEligible {
		t.Errorf("flags = %+v, want nothing eligible", flags)
	}
	for _, b := range AllBuckets {
		if buckets[b] {
			t.Errorf("bucket %q eligible without a valid loyalty ID", b)
		}
	}
	// The invalid-LID reason is the customer's, not the manager-card one.
	if len(flags.Reasons) != 1 || flags.Reasons[0] != "LoyaltyID is missing" {
		t.Errorf("Reasons = %v", flags.Reasons)
	}
}

func TestEvaluate_CustomCapInReason(t *testing.T) {
	flags, _ := Evaluate(Input{
		EligibleForTier3:   true,
		EligibleForCIDFund: false,
		AgeVerified:        true,
		DailyCap:           3,
	})
	if len(flags.Reasons) != 1 || !strings.Contains(flags.Reasons[0], "exceeded 3 transactions/day") {
		t.Errorf("Reasons = %v", flags.Reasons)
	}
}

func TestLineEligibleForPMUSA(t *testing.T) {
	eligible := Flags{PMUSAAllowancesEligible: true}
	gated := Flags{PMUSAAllowancesEligible: false}

	pack := basket.NormalizedLine{Brand: "Marlboro", UnitOfMeasure: catalog.UOMPack}
	promo := basket.NormalizedLine{Brand: "Marlboro", UnitOfMeasure: catalog.UOMPack, IsPromotional: true}
	carton := basket.NormalizedLine{Brand: "Marlboro", UnitOfMeasure: catalog.UOMCarton}
	otherBrand := basket.NormalizedLine{Brand: "Copenhagen", UnitOfMeasure: catalog.UOMPack}

	tests := []struct {
		name  string
		flags Flags
		line  basket.NormalizedLine
		want  bool
	}{
		{"marlboro pack", eligible, pack, true},
		{"case-insensitive brand match", eligible, basket.NormalizedLine{Brand: "MARLBORO GOLD", UnitOfMeasure: catalog.UOMPack}, true},
		{"promotional UPC", eligible, promo, false},
		{"carton", eligible, carton, false},
		{"other brand", eligible, otherBrand, false},
		{"fund gated", gated, pack, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LineEligibleForPMUSA(tt.flags, tt.line); got != tt.want {
				t.Errorf("LineEligibleForPMUSA() = %v, want %v", got, tt.want)
			}
		})
	}
}
