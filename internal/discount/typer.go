package discount

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/RTNSmart/tier3-engine/internal/basket"
	"github.com/RTNSmart/tier3-engine/internal/catalog"
	"github.com/RTNSmart/tier3-engine/internal/money"
)

// MatchedAllowance is one active allowance rule joined to the basket SKUs
// it covers.
type MatchedAllowance struct {
	Rule     catalog.AllowanceRule
	SKUGUIDs []string
}

// MultiPackMarker reports a line that qualifies for the PM USA Marlboro
// multi-pack fund. The discount amount stays zero: the engine only detects,
// the POS applies the fund rate.
type MultiPackMarker struct {
	LineNumber         int
	UPC                string
	SKUGUID            string
	MultiUnitIndicator string // always "Y"
	RequiredQuantity   int    // 2 or 3
	DiscountAmount     money.Cents
	NeedsRateLookup    bool
}

// Assignment is the typer output: candidate discounts grouped by family,
// amounts unassigned. Retailer, coupon, multi-unit, other-manufacturer, and
// transaction families have no sources in this version and stay empty.
type Assignment struct {
	ManufacturerAllowances []MatchedAllowance
	MultiPackMarkers       []MultiPackMarker
}

// AllowanceSource lists the allowance rules in effect on a given day.
type AllowanceSource interface {
	ActiveAllowances(ctx context.Context, today time.Time) ([]catalog.AllowanceRule, error)
}

// Typer joins allowance rules to baskets and detects multi-pack purchases.
type Typer struct {
	allowances AllowanceSource
	logger     zerolog.Logger
}

// NewTyper constructs a discount typer.
func NewTyper(allowances AllowanceSource, logger zerolog.Logger) *Typer {
	return &Typer{
		allowances: allowances,
		logger:     logger.With().Str("component", "discount").Logger(),
	}
}

// Assign types the candidate discounts for a basket. Allowances only join
// for Tier 3 eligible customers; multi-pack detection always runs because
// the marker is informational either way.
func (t *Typer) Assign(ctx context.Context, lines []basket.NormalizedLine, eligibleForTier3 bool, now time.Time) (Assignment, error) {
	var a Assignment

	if eligibleForTier3 {
		matched, err := t.joinAllowances(ctx, lines, now)
		if err != nil {
			return Assignment{}, err
		}
		a.ManufacturerAllowances = matched
	}

	a.MultiPackMarkers = DetectMultiPack(lines)

	if len(a.MultiPackMarkers) > 0 {
		t.logger.Debug().
			Int("markers", len(a.MultiPackMarkers)).
			Msg("discount.multi_pack_detected")
	}
	return a, nil
}

// joinAllowances matches the day's active rules against the SKUs present in
// the basket. A rule with no SKU set covers every resolved SKU.
func (t *Typer) joinAllowances(ctx context.Context, lines []basket.NormalizedLine, now time.Time) ([]MatchedAllowance, error) {
	rules, err := t.allowances.ActiveAllowances(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list active allowances: %w", err)
	}

	basketSKUs := make([]string, 0, len(lines))
	seen := make(map[string]bool, len(lines))
	for _, line := range lines {
		if line.IsUnknown || line.SKUGUID == "" || seen[line.SKUGUID] {
			continue
		}
		seen[line.SKUGUID] = true
		basketSKUs = append(basketSKUs, line.SKUGUID)
	}
	if len(basketSKUs) == 0 {
		return nil, nil
	}

	var matched []MatchedAllowance
	for _, rule := range rules {
		var covered []string
		for _, sku := range basketSKUs {
			if rule.AppliesToSKU(sku) {
				covered = append(covered, sku)
			}
		}
		if len(covered) > 0 {
			matched = append(matched, MatchedAllowance{Rule: rule, SKUGUIDs: covered})
		}
	}
	return matched, nil
}

// DetectMultiPack emits a marker for every line buying 2 or 3 Marlboro
// packs at a non-promotional UPC. The basket merge upstream is what lets a
// POS that rings identical packs as separate lines still qualify.
func DetectMultiPack(lines []basket.NormalizedLine) []MultiPackMarker {
	var markers []MultiPackMarker
	for _, line := range lines {
		if !line.IsMarlboro() || line.UnitOfMeasure != catalog.UOMPack || line.IsPromotional {
			continue
		}
		if line.Quantity != 2 && line.Quantity != 3 {
			continue
		}
		markers = append(markers, MultiPackMarker{
			LineNumber:         line.LineNumber,
			UPC:                line.UPC,
			SKUGUID:            line.SKUGUID,
			MultiUnitIndicator: "Y",
			RequiredQuantity:   line.Quantity,
			DiscountAmount:     0,
			NeedsRateLookup:    true,
		})
	}
	return markers
}
