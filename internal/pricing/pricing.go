// Package pricing turns a typed, gated basket into concrete discount
// amounts, final prices, and POS reward lines. Buckets apply in a fixed
// order and the running total is clamped so no line prices below zero.
package pricing

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/RTNSmart/tier3-engine/internal/basket"
	"github.com/RTNSmart/tier3-engine/internal/catalog"
	"github.com/RTNSmart/tier3-engine/internal/discount"
	"github.com/RTNSmart/tier3-engine/internal/metrics"
	"github.com/RTNSmart/tier3-engine/internal/money"
)

// rewardCampaignCode is the campaign suffix POS reward IDs carry.
const rewardCampaignCode = "B2_S150"

// descLimit caps reward descriptions; the POS prints them on 32-column
// receipt hardware.
const descLimit = 32

// PricedLine is a normalized line with its discounts applied.
type PricedLine struct {
	basket.NormalizedLine

	BaseExtendedPrice  money.Cents
	DiscountsByBucket  map[discount.Bucket]money.Cents
	TotalDiscount      money.Cents
	FinalUnitPrice     money.Cents
	FinalExtendedPrice money.Cents
}

// Reward is one POS reward entry, emitted per line with a non-zero total.
type Reward struct {
	RewardID   string            `json:"reward_id"`
	LineNumber int               `json:"line_number"`
	Value      money.Cents       `json:"value"`
	ShortDesc  string            `json:"short_desc"`
	LongDesc   string            `json:"long_desc"`
	Buckets    []discount.Bucket `json:"buckets"`
}

// Summary aggregates the transaction.
type Summary struct {
	BaseTotal      money.Cents                     `json:"base_total"`
	TotalDiscount  money.Cents                     `json:"total_discount"`
	FinalTotal     money.Cents                     `json:"final_total"`
	TotalsByBucket map[discount.Bucket]money.Cents `json:"totals_by_bucket"`
}

// Result is the priced transaction.
type Result struct {
	Lines   []PricedLine
	Rewards []Reward
	Summary Summary
}

// Pricer applies discount amounts to baskets.
type Pricer struct {
	// defaultLoyaltyDiscount prices allowance rows that carry no
	// per-transaction amount of their own.
	defaultLoyaltyDiscount money.Cents
	logger                 zerolog.Logger
	metrics                *metrics.Metrics
}

// NewPricer constructs a pricer.
func NewPricer(defaultLoyaltyDiscount money.Cents, metricsCollector *metrics.Metrics, logger zerolog.Logger) *Pricer {
	return &Pricer{
		defaultLoyaltyDiscount: defaultLoyaltyDiscount,
		logger:                 logger.With().Str("component", "pricing").Logger(),
		metrics:                metricsCollector,
	}
}

// Price walks every line through the bucket order, clamping the running
// total at the line's base extended price so nothing prices negative.
// Amounts stay in exact cents throughout; the only rounding point is the
// half-up division that splits a final extended price back into a unit
// price.
func (p *Pricer) Price(lines []basket.NormalizedLine, a discount.Assignment, flags discount.Flags, eligible discount.BucketEligibility) (Result, error) {
	res := Result{
		Summary: Summary{TotalsByBucket: zeroBuckets()},
	}

	for _, line := range lines {
		priced, err := p.priceLine(line, a, flags, eligible)
		if err != nil {
			return Result{}, err
		}
		res.Lines = append(res.Lines, priced)

		res.Summary.BaseTotal += priced.BaseExtendedPrice
		res.Summary.TotalDiscount += priced.TotalDiscount
		res.Summary.FinalTotal += priced.FinalExtendedPrice
		for b, amount := range priced.DiscountsByBucket {
			res.Summary.TotalsByBucket[b] += amount
		}

		if priced.TotalDiscount.IsPositive() {
			reward := buildReward(priced)
			res.Rewards = append(res.Rewards, reward)
			if p.metrics != nil {
				bucketCents := make(map[string]int64, len(priced.DiscountsByBucket))
				for b, amount := range priced.DiscountsByBucket {
					bucketCents[string(b)] = int64(amount)
				}
				p.metrics.ObserveReward(bucketCents)
			}
		}
	}

	return res, nil
}

func (p *Pricer) priceLine(line basket.NormalizedLine, a discount.Assignment, flags discount.Flags, eligible discount.BucketEligibility) (PricedLine, error) {
	if line.Quantity <= 0 {
		return PricedLine{}, fmt.Errorf("line %d: non-positive quantity %d", line.LineNumber, line.Quantity)
	}

	baseExt, err := line.UnitPrice.Mul(int64(line.Quantity))
	if err != nil {
		return PricedLine{}, fmt.Errorf("line %d: extended price: %w", line.LineNumber, err)
	}

	priced := PricedLine{
		NormalizedLine:    line,
		BaseExtendedPrice: baseExt,
		DiscountsByBucket: zeroBuckets(),
	}

	var total money.Cents
	for _, b := range discount.ApplicationOrder {
		if !eligible[b] {
			continue
		}
		amount := p.bucketAmount(b, line, a, flags)
		if !amount.IsPositive() {
			continue
		}
		if total+amount > baseExt {
			amount = baseExt - total
		}
		priced.DiscountsByBucket[b] = amount
		total += amount
	}

	priced.TotalDiscount = total
	priced.FinalExtendedPrice = baseExt - total
	unit, err := priced.FinalExtendedPrice.DivHalfUp(int64(line.Quantity))
	if err != nil {
		return PricedLine{}, fmt.Errorf("line %d: unit price: %w", line.LineNumber, err)
	}
	priced.FinalUnitPrice = unit

	return priced, nil
}

// bucketAmount prices one bucket for one line. Unknown tobacco always
// prices at zero. Only the loyalty and manufacturer-coupon families have
// amount sources in this version; the others return zero until a source
// exists.
func (p *Pricer) bucketAmount(b discount.Bucket, line basket.NormalizedLine, a discount.Assignment, flags discount.Flags) money.Cents {
	if line.IsUnknown {
		return 0
	}
	switch b {
	case discount.BucketLoyalty:
		return p.loyaltyAmount(line, a.ManufacturerAllowances)
	case discount.BucketManufacturerCoupon:
		if !discount.LineEligibleForPMUSA(flags, line) {
			return 0
		}
		return manufacturerAmount(line, a.ManufacturerAllowances)
	default:
		return 0
	}
}

// loyaltyAmount resolves the allowance that prices a line. SKU-specific
// rules shadow catch-all rules; among the remaining candidates the largest
// amount wins. Rules without a per-transaction amount fall back to the
// configured default.
func (p *Pricer) loyaltyAmount(line basket.NormalizedLine, matched []discount.MatchedAllowance) money.Cents {
	rules := rulesForLine(line, matched)
	if len(rules) == 0 {
		return 0
	}

	var pool []catalog.AllowanceRule
	for _, r := range rules {
		if len(r.SKUGUIDs) > 0 {
			pool = append(pool, r)
		}
	}
	if len(pool) == 0 {
		pool = rules
	}

	var best money.Cents
	for _, r := range pool {
		amount := r.MaxAllowancePerTransaction
		if amount.IsZero() {
			amount = p.defaultLoyaltyDiscount
		}
		if amount > best {
			best = amount
		}
	}
	return best
}

// manufacturerAmount is the largest manufacturer-funded amount among the
// rules covering the line. Most allowance rows carry none.
func manufacturerAmount(line basket.NormalizedLine, matched []discount.MatchedAllowance) money.Cents {
	var best money.Cents
	for _, r := range rulesForLine(line, matched) {
		if r.ManufacturerFundedAmount > best {
			best = r.ManufacturerFundedAmount
		}
	}
	return best
}

// rulesForLine filters matched allowances down to the ones whose line-level
// constraints (SKU, sell unit, minimum quantity, promotional eligibility)
// the line satisfies.
func rulesForLine(line basket.NormalizedLine, matched []discount.MatchedAllowance) []catalog.AllowanceRule {
	var rules []catalog.AllowanceRule
	for _, m := range matched {
		r := m.Rule
		if !r.AppliesToSKU(line.SKUGUID) {
			continue
		}
		if !r.AppliesToUOM(line.UnitOfMeasure) {
			continue
		}
		if r.MinQty > 0 && line.Quantity < r.MinQty {
			continue
		}
		if line.IsPromotional && !r.PromotionalUPCsEligible {
			continue
		}
		rules = append(rules, r)
	}
	return rules
}

// buildReward shapes the POS reward entry for a priced line. The short
// description joins the bucket tokens in loyalty-then-manufacturer order.
func buildReward(line PricedLine) Reward {
	var tokens []string
	var buckets []discount.Bucket
	if line.DiscountsByBucket[discount.BucketLoyalty].IsPositive() {
		tokens = append(tokens, "LOYALTY")
		buckets = append(buckets, discount.BucketLoyalty)
	}
	if line.DiscountsByBucket[discount.BucketManufacturerCoupon].IsPositive() {
		tokens = append(tokens, "MANUFACTURER")
		buckets = append(buckets, discount.BucketManufacturerCoupon)
	}
	for _, b := range []discount.Bucket{discount.BucketMultiUnit, discount.BucketRetailer, discount.BucketOtherManufacturer, discount.BucketTransaction} {
		if line.DiscountsByBucket[b].IsPositive() {
			buckets = append(buckets, b)
		}
	}

	short := joinTokens(tokens)
	long := short
	if long != "" {
		long += " SAVINGS APPLIED"
	}
	return Reward{
		RewardID:   fmt.Sprintf("%d-1-%s", line.LineNumber, rewardCampaignCode),
		LineNumber: line.LineNumber,
		Value:      line.TotalDiscount,
		ShortDesc:  truncate(short, descLimit),
		LongDesc:   truncate(long, descLimit),
		Buckets:    buckets,
	}
}

func joinTokens(tokens []string) string {
	out := ""
	for i, tok := range tokens {
		if i > 0 {
			out += " + "
		}
		out += tok
	}
	return out
}

// zeroBuckets returns a bucket map with every family present at zero, so
// downstream consumers and persistence see a stable key set.
func zeroBuckets() map[discount.Bucket]money.Cents {
	m := make(map[discount.Bucket]money.Cents, len(discount.AllBuckets))
	for _, b := range discount.AllBuckets {
		m[b] = 0
	}
	return m
}

// truncate shortens s to limit characters, ellipsis included.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	if limit <= 3 {
		return s[:limit]
	}
	return s[:limit-3] + "..."
}
