// Package engine runs the seven-stage decision pipeline for one POS rewards
// request: loyalty ID validation, the age gate, basket normalization,
// discount typing, the eligibility gate, pricing, and response building.
//
// Stages always run to completion. A rejected loyalty ID or an unverified
// customer does not stop the pipeline; it flows through as flags and the
// later stages price every line at zero, so the POS always receives a
// complete response. Only infrastructure faults abort a request.
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/RTNSmart/tier3-engine/internal/agegate"
	"github.com/RTNSmart/tier3-engine/internal/basket"
	"github.com/RTNSmart/tier3-engine/internal/discount"
	"github.com/RTNSmart/tier3-engine/internal/logger"
	"github.com/RTNSmart/tier3-engine/internal/loyalty"
	"github.com/RTNSmart/tier3-engine/internal/metrics"
	"github.com/RTNSmart/tier3-engine/internal/money"
	"github.com/RTNSmart/tier3-engine/internal/pricing"
	"github.com/RTNSmart/tier3-engine/internal/receipt"
	"github.com/RTNSmart/tier3-engine/internal/storage"
)

// Catalog is the read-only product data the pipeline consumes: UPC
// resolution for basket normalization and active allowance rules for
// discount typing. Satisfied by catalog.Cached.
type Catalog interface {
	basket.Resolver
	discount.AllowanceSource
}

// Request is one rewards decision as extracted by a transport (framed XML
// from the POS or JSON from the admin API).
type Request struct {
	StoreID       string
	TransactionID string
	CashierID     string
	LoyaltyID     string
	AVTStatus     string
	Lines         []basket.RawLine
}

// Decision accumulates every stage's output for one request. Transports
// read Response; the rest is kept for logging, persistence, and tests.
type Decision struct {
	Request    Request
	Customer   loyalty.Result
	Age        agegate.Result
	Basket     basket.Result
	Assignment discount.Assignment
	Flags      discount.Flags
	Buckets    discount.BucketEligibility
	Pricing    pricing.Result
	Response   receipt.Response

	// Persisted reports whether the transaction row was written. Requests
	// without a transaction ID (ad-hoc admin previews) are not persisted.
	Persisted bool
}

// Outcome buckets a finished decision for metrics labels.
func (d *Decision) Outcome() string {
	switch {
	case !d.Customer.Valid:
		return "invalid_loyalty_id"
	case d.Customer.IsManagerCard:
		return "manager_card"
	case !d.Age.AgeVerified:
		return "age_not_verified"
	case len(d.Response.Rewards) > 0:
		return "rewarded"
	default:
		return "no_rewards"
	}
}

// Config carries the engine's decision parameters.
type Config struct {
	// DailyTransactionCap is the per-day transaction count above which a
	// loyalty ID is treated as a manager/store card. Zero means the
	// default of 5.
	DailyTransactionCap int

	// DefaultLoyaltyDiscount applies when a matched allowance rule has no
	// per-transaction amount.
	DefaultLoyaltyDiscount money.Cents

	// Now supplies the decision clock; nil means time.Now. Tests and the
	// allowance date windows depend on it.
	Now func() time.Time

	// Receipt carries the printer geometry. Zero fields use the 32x10
	// defaults.
	Receipt receipt.Geometry
}

// Engine wires the seven stages around a shared store and catalog.
type Engine struct {
	validator  *loyalty.Validator
	gate       *agegate.Gate
	normalizer *basket.Normalizer
	typer      *discount.Typer
	pricer     *pricing.Pricer
	builder    *receipt.Builder
	store      storage.Store
	dailyCap   int
	locks      *lidLocks
	now        func() time.Time
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// New constructs the engine and its stages.
func New(store storage.Store, cat Catalog, cfg Config, metricsCollector *metrics.Metrics, log zerolog.Logger) *Engine {
	if cfg.DailyTransactionCap <= 0 {
		cfg.DailyTransactionCap = 5
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		validator:  loyalty.NewValidator(store, cfg.DailyTransactionCap, metricsCollector, log),
		gate:       agegate.NewGate(store, metricsCollector, log),
		normalizer: basket.NewNormalizer(cat, metricsCollector, log),
		typer:      discount.NewTyper(cat, log),
		pricer:     pricing.NewPricer(cfg.DefaultLoyaltyDiscount, metricsCollector, log),
		builder:    receipt.NewBuilder(cfg.Receipt, log),
		store:      store,
		dailyCap:   cfg.DailyTransactionCap,
		locks:      newLIDLocks(),
		now:        cfg.Now,
		metrics:    metricsCollector,
		logger:     log.With().Str("component", "engine").Logger(),
	}
}

// Decide runs the full pipeline for one request. Durable writes happen in
// a fixed order: daily count, profile, validation log, AVT, transaction
// with its lines; the response is only built after the last write, so a
// returned Decision is always backed by durable audit rows.
func (e *Engine) Decide(ctx context.Context, req Request) (*Decision, error) {
	now := e.now()
	d := &Decision{Request: req}

	customer, err := e.validateCustomer(ctx, req, now)
	if err != nil {
		return nil, err
	}
	d.Customer = customer

	start := e.stageStart()
	age, err := e.gate.Confirm(ctx, agegate.Request{
		AVTStatus:     req.AVTStatus,
		LoyaltyID:     customer.NormalizedID,
		TransactionID: req.TransactionID,
		StoreID:       req.StoreID,
		CashierID:     req.CashierID,
		Profile:       customer.Profile,
	}, now)
	if err != nil {
		return nil, err
	}
	d.Age = age
	e.observeStage("agegate", start)

	start = e.stageStart()
	basketRes, err := e.normalizer.Normalize(ctx, req.Lines)
	if err != nil {
		return nil, err
	}
	d.Basket = basketRes
	e.observeStage("basket", start)

	start = e.stageStart()
	assignment, err := e.typer.Assign(ctx, basketRes.Lines, customer.EligibleForTier3, now)
	if err != nil {
		return nil, err
	}
	d.Assignment = assignment
	e.observeStage("discount", start)

	d.Flags, d.Buckets = discount.Evaluate(discount.Input{
		EligibleForTier3:   customer.EligibleForTier3,
		EligibleForCIDFund: customer.EligibleForCIDFund,
		CustomerReason:     customer.Reason,
		AgeVerified:        age.AgeVerified,
		AgeReason:          age.Reason,
		DailyCap:           e.dailyCap,
	})

	start = e.stageStart()
	priced, err := e.pricer.Price(basketRes.Lines, assignment, d.Flags, d.Buckets)
	if err != nil {
		return nil, err
	}
	d.Pricing = priced
	e.observeStage("pricing", start)

	start = e.stageStart()
	if err := e.persistTransaction(ctx, d, now); err != nil {
		return nil, err
	}
	e.observeStage("persist", start)

	d.Response = e.builder.Build(receipt.Input{
		Rewards:         priced.Rewards,
		Summary:         priced.Summary,
		Tier3Eligible:   customer.EligibleForTier3,
		CIDFundEligible: customer.EligibleForCIDFund,
		AgeVerified:     age.AgeVerified,
		EAIVVerified:    age.EAIVVerified,
	})

	e.logger.Info().
		Str("store_id", req.StoreID).
		Str("transaction_id", req.TransactionID).
		Str("loyalty_id", logger.RedactLID(customer.NormalizedID)).
		Str("outcome", d.Outcome()).
		Int("basket_lines", len(basketRes.Lines)).
		Int("rewards", len(priced.Rewards)).
		Str("total_discount", priced.Summary.TotalDiscount.String()).
		Msg("engine.decision")

	return d, nil
}

// validateCustomer runs S1 under the per-LID lock. The lock key is the
// trimmed raw ID, which equals the normalized ID whenever validation
// succeeds; blank IDs skip locking because they write no keyed rows.
func (e *Engine) validateCustomer(ctx context.Context, req Request, now time.Time) (loyalty.Result, error) {
	start := e.stageStart()
	defer e.observeStage("loyalty", start)

	if key := strings.TrimSpace(req.LoyaltyID); key != "" {
		unlock := e.locks.lock(key)
		defer unlock()
	}
	return e.validator.Validate(ctx, req.LoyaltyID, req.StoreID, now)
}

// persistTransaction writes the decision outcome and per-line pricing.
// The store writes row and lines atomically, so a cancelled request
// leaves either a complete transaction or none.
func (e *Engine) persistTransaction(ctx context.Context, d *Decision, now time.Time) error {
	if d.Request.TransactionID == "" {
		e.logger.Debug().
			Str("store_id", d.Request.StoreID).
			Msg("engine.persist_skipped_no_transaction_id")
		return nil
	}

	txn := storage.TransactionRecord{
		TransactionID:   d.Request.TransactionID,
		StoreID:         d.Request.StoreID,
		LoyaltyID:       d.Customer.NormalizedID,
		CashierID:       d.Request.CashierID,
		Tier3Eligible:   d.Customer.EligibleForTier3,
		CIDFundEligible: d.Customer.EligibleForCIDFund,
		AgeVerified:     d.Age.AgeVerified,
		EAIVVerified:    d.Age.EAIVVerified,
		TotalDiscount:   d.Pricing.Summary.TotalDiscount,
		RewardCount:     len(d.Pricing.Rewards),
		CreatedAt:       now,
	}
	if err := e.store.SaveTransaction(ctx, txn, transactionLines(d.Request.TransactionID, d.Pricing.Lines)); err != nil {
		return fmt.Errorf("save transaction %s: %w", d.Request.TransactionID, err)
	}
	d.Persisted = true
	return nil
}

func transactionLines(transactionID string, priced []pricing.PricedLine) []storage.TransactionLine {
	lines := make([]storage.TransactionLine, 0, len(priced))
	for _, pl := range priced {
		lines = append(lines, storage.TransactionLine{
			TransactionID:       transactionID,
			LineNumber:          pl.LineNumber,
			UPC:                 pl.UPC,
			SKUGUID:             pl.SKUGUID,
			Quantity:            pl.Quantity,
			UnitPrice:           pl.UnitPrice,
			BaseExtendedPrice:   pl.BaseExtendedPrice,
			LoyaltyDiscount:     pl.DiscountsByBucket[discount.BucketLoyalty],
			ManufacturerCoupon:  pl.DiscountsByBucket[discount.BucketManufacturerCoupon],
			MultiUnitDiscount:   pl.DiscountsByBucket[discount.BucketMultiUnit],
			RetailerDiscount:    pl.DiscountsByBucket[discount.BucketRetailer],
			OtherManufacturer:   pl.DiscountsByBucket[discount.BucketOtherManufacturer],
			TransactionDiscount: pl.DiscountsByBucket[discount.BucketTransaction],
			TotalDiscount:       pl.TotalDiscount,
			FinalUnitPrice:      pl.FinalUnitPrice,
			FinalExtendedPrice:  pl.FinalExtendedPrice,
		})
	}
	return lines
}

func (e *Engine) stageStart() time.Time {
	return time.Now()
}

func (e *Engine) observeStage(stage string, start time.Time) {
	if e.metrics != nil {
		e.metrics.ObserveStage(stage, time.Since(start))
	}
}
