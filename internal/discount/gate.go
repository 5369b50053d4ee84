package discount

import (
	"fmt"

	"github.com/RTNSmart/tier3-engine/internal/basket"
	"github.com/RTNSmart/tier3-engine/internal/catalog"
)

// Input carries the upstream eligibility signals the gate combines.
type Input struct {
	// Customer validation outcome.
	EligibleForTier3   bool
	EligibleForCIDFund bool
	CustomerReason     string

	// Age gate outcome.
	AgeVerified bool
	AgeReason   string

	// DailyCap is echoed into the manager-card reason. Zero or negative
	// falls back to 5.
	DailyCap int
}

// Flags is the transaction-level eligibility bitmap.
type Flags struct {
	Tier3Eligible           bool
	Tier3IncentivesEligible bool
	PMUSAAllowancesEligible bool
	Reasons                 []string
}

// BucketEligibility says which discount families may price at all for this
// transaction.
type BucketEligibility map[Bucket]bool

// Evaluate combines the customer and age signals into transaction flags and
// the per-bucket eligibility map. A customer over the daily cap keeps base
// Tier 3 validity but loses every allowance-funded family: manufacturer,
// multi-pack, and loyalty amounts all charge back to the PM USA CID fund.
func Evaluate(in Input) (Flags, BucketEligibility) {
	dailyCap := in.DailyCap
	if dailyCap <= 0 {
		dailyCap = 5
	}

	flags := Flags{
		Tier3Eligible:           in.EligibleForTier3,
		Tier3IncentivesEligible: in.EligibleForTier3 && in.AgeVerified,
	}
	flags.PMUSAAllowancesEligible = flags.Tier3IncentivesEligible && in.EligibleForCIDFund

	if !in.EligibleForTier3 && in.CustomerReason != "" {
		flags.Reasons = append(flags.Reasons, in.CustomerReason)
	}
	if !in.AgeVerified && in.AgeReason != "" {
		flags.Reasons = append(flags.Reasons, in.AgeReason)
	}

	base := flags.Tier3IncentivesEligible
	buckets := BucketEligibility{
		BucketMultiUnit:          base,
		BucketManufacturerCoupon: base,
		BucketLoyalty:            base,
		BucketRetailer:           base,
		BucketOtherManufacturer:  base,
		BucketTransaction:        base,
		BucketMultiPack:          base,
	}

	if !in.EligibleForCIDFund {
		buckets[BucketManufacturerCoupon] = false
		buckets[BucketMultiPack] = false
		buckets[BucketLoyalty] = false
		if in.EligibleForTier3 {
			flags.Reasons = append(flags.Reasons,
				fmt.Sprintf("PM USA allowances ineligible: loyalty ID exceeded %d transactions/day (manager/store card)", dailyCap))
		}
	}

	return flags, buckets
}

// LineEligibleForPMUSA reports whether one normalized line may charge
// discounts back to the PM USA fund: Marlboro, sold by the pack, at a
// non-promotional UPC, for a customer whose fund eligibility survived the
// gate.
func LineEligibleForPMUSA(flags Flags, line basket.NormalizedLine) bool {
	return flags.PMUSAAllowancesEligible &&
		line.IsMarlboro() &&
		line.UnitOfMeasure == catalog.UOMPack &&
		!line.IsPromotional
}
