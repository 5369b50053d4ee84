// Package receipt builds the POS-facing response: the printed receipt
// block, the rewards array, and the transaction-level eligibility flags.
//
// Receipts are constrained by the POS printer contract: at most 10 lines
// of at most 32 characters each, with signed amounts right-aligned. When
// the transaction earned nothing, the block carries a single explanatory
// body line instead of bucket rows.
package receipt

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/RTNSmart/tier3-engine/internal/discount"
	"github.com/RTNSmart/tier3-engine/internal/money"
	"github.com/RTNSmart/tier3-engine/internal/pricing"
)

// Printer defaults; the POS contract allows narrower hardware via config.
const (
	DefaultMaxLines = 10
	DefaultWidth    = 32

	headerLine = "*** LOYALTY REWARDS ***"
	footerLine = "*** THANK YOU ***"

	upsellBonusLine  = "APP BONUS AVAILABLE"
	upsellVerifyLine = "VERIFY ID IN APP TO UNLOCK"

	bodyLIDNotEligible = "Loyalty ID not eligible"
	bodyAgeRequired    = "Age verification required"
	bodyNoRewards      = "No eligible rewards"
)

// displayRows maps discount buckets onto printed aggregate rows.
// Manufacturer-style buckets share the MFG COUPON row and store-funded
// buckets share STORE SAVINGS; multi-pack is applied by the POS itself
// and never prints.
var displayRows = []struct {
	label   string
	buckets []discount.Bucket
}{
	{"LOYALTY SAVINGS", []discount.Bucket{discount.BucketLoyalty}},
	{"MFG COUPON", []discount.Bucket{discount.BucketManufacturerCoupon, discount.BucketOtherManufacturer}},
	{"MULTI-BUY SAVINGS", []discount.Bucket{discount.BucketMultiUnit}},
	{"STORE SAVINGS", []discount.Bucket{discount.BucketRetailer, discount.BucketTransaction}},
}

// Flags are the transaction-level eligibility bits echoed back to the POS.
type Flags struct {
	Tier3Eligible   bool `json:"tier3_eligible"`
	CIDFundEligible bool `json:"cid_fund_eligible"`
	AgeVerified     bool `json:"age_verified"`
	EAIVVerified    bool `json:"eaiv_verified"`
}

// Input is everything the builder needs from the earlier stages.
type Input struct {
	Rewards         []pricing.Reward
	Summary         pricing.Summary
	Tier3Eligible   bool
	CIDFundEligible bool
	AgeVerified     bool
	EAIVVerified    bool
}

// Response is the complete outbound decision payload.
type Response struct {
	Rewards      []pricing.Reward `json:"rewards"`
	ReceiptLines []string         `json:"receipt_lines"`
	Flags        Flags            `json:"flags"`
}

// Geometry carries the printer constraints. Zero fields fall back to the
// 32x10 block the standard forecourt printers use.
type Geometry struct {
	Width    int // max characters per line
	MaxLines int // max lines per receipt block
}

// Builder renders decision results into a Response.
type Builder struct {
	width        int
	maxLines     int
	amountColumn int // amounts right-align here, leaving headroom for wide labels
	logger       zerolog.Logger
}

func NewBuilder(geo Geometry, logger zerolog.Logger) *Builder {
	width := geo.Width
	if width <= 0 {
		width = DefaultWidth
	}
	maxLines := geo.MaxLines
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	return &Builder{
		width:        width,
		maxLines:     maxLines,
		amountColumn: width - 3,
		logger:       logger.With().Str("component", "receipt").Logger(),
	}
}

// Build assembles the receipt block and wraps it with the rewards array
// and eligibility flags. Rewards pass through unmodified from pricing.
func (b *Builder) Build(in Input) Response {
	lines := make([]string, 0, b.maxLines)
	lines = append(lines, headerLine)

	if len(in.Rewards) == 0 {
		lines = append(lines, noRewardsBody(in))
	} else {
		for _, row := range displayRows {
			var total money.Cents
			for _, bucket := range row.buckets {
				total += in.Summary.TotalsByBucket[bucket]
			}
			if total.IsPositive() {
				lines = append(lines, b.amountLine(row.label, total))
			}
		}
		lines = append(lines, strings.Repeat("-", b.amountColumn))
		lines = append(lines, b.amountLine("TOTAL SAVINGS", in.Summary.TotalDiscount))
	}

	lines = append(lines, footerLine)

	// The EAIV upsell is a paired message; print both lines or neither.
	if in.Tier3Eligible && !in.EAIVVerified && len(lines)+2 <= b.maxLines {
		lines = append(lines, upsellBonusLine, upsellVerifyLine)
	}
	if len(lines) > b.maxLines {
		lines = lines[:b.maxLines]
	}

	b.logger.Debug().
		Int("receipt_lines", len(lines)).
		Int("rewards", len(in.Rewards)).
		Str("total_discount", in.Summary.TotalDiscount.String()).
		Msg("receipt.built")

	return Response{
		Rewards:      in.Rewards,
		ReceiptLines: lines,
		Flags: Flags{
			Tier3Eligible:   in.Tier3Eligible,
			CIDFundEligible: in.CIDFundEligible,
			AgeVerified:     in.AgeVerified,
			EAIVVerified:    in.EAIVVerified,
		},
	}
}

// noRewardsBody picks the single explanatory line for an empty receipt.
// Loyalty problems outrank age problems, which outrank "nothing matched".
func noRewardsBody(in Input) string {
	switch {
	case !in.Tier3Eligible:
		return bodyLIDNotEligible
	case !in.AgeVerified:
		return bodyAgeRequired
	default:
		return bodyNoRewards
	}
}

// amountLine prints a label with its savings amount right-aligned as a
// negative dollar figure, e.g. "LOYALTY SAVINGS        -$0.97".
func (b *Builder) amountLine(label string, amount money.Cents) string {
	value := "-$" + amount.String()
	pad := b.amountColumn - len(label) - len(value)
	if pad < 1 {
		pad = 1
	}
	return b.clamp(label + strings.Repeat(" ", pad) + value)
}

// clamp enforces the per-line character limit with ellipsis truncation.
func (b *Builder) clamp(s string) string {
	if len(s) <= b.width {
		return s
	}
	return s[:b.width-3] + "..."
}
