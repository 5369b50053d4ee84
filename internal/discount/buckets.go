// Package discount types the candidate discounts for a normalized basket
// and gates them by customer eligibility. It decides which discount families
// may apply and to which lines; the amounts themselves are priced later.
package discount

// Bucket identifies one discount family on a priced line.
type Bucket string

const (
	BucketMultiUnit          Bucket = "multi_unit"
	BucketManufacturerCoupon Bucket = "manufacturer_coupon"
	BucketLoyalty            Bucket = "loyalty"
	BucketRetailer           Bucket = "retailer"
	BucketOtherManufacturer  Bucket = "other_manufacturer"
	BucketTransaction        Bucket = "transaction"

	// BucketMultiPack is the PM USA multi-pack fund. It is detected and
	// reported but its amount is always zero on our side; the POS applies
	// the fund rate at the register.
	BucketMultiPack Bucket = "multi_pack"
)

// ApplicationOrder is the fixed order pricing applies buckets in. Order
// matters: it decides which bucket absorbs the clamp at the zero-price
// floor. Multi-pack is absent because its amount never applies here.
var ApplicationOrder = []Bucket{
	BucketMultiUnit,
	BucketManufacturerCoupon,
	BucketLoyalty,
	BucketRetailer,
	BucketOtherManufacturer,
	BucketTransaction,
}

// AllBuckets lists every bucket a priced line reports, multi-pack included.
var AllBuckets = []Bucket{
	BucketMultiUnit,
	BucketManufacturerCoupon,
	BucketLoyalty,
	BucketRetailer,
	BucketOtherManufacturer,
	BucketTransaction,
	BucketMultiPack,
}
