package loyalty

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/RTNSmart/tier3-engine/internal/metrics"
	"github.com/RTNSmart/tier3-engine/internal/storage"
)

// Result is the stage outcome consumed by the rest of the pipeline and
// echoed into the validation log.
type Result struct {
	Valid              bool
	EligibleForTier3   bool
	EligibleForCIDFund bool
	IsManagerCard      bool
	NormalizedID       string
	FormatType         string
	DailyCount         int
	Reason             string

	// Profile is the post-touch customer profile. Nil when the loyalty ID
	// never validated; no profile row is created for invalid input.
	Profile *storage.CustomerProfile
}

// Validator runs the loyalty ID decision: format classification, the daily
// transaction cap, and the profile upsert.
type Validator struct {
	store    storage.Store
	dailyCap int
	logger   zerolog.Logger
	metrics  *metrics.Metrics
}

// NewValidator constructs a validator. dailyCap is the number of
// transactions per day a loyalty ID may appear in before it is treated as a
// shared manager/store card; zero or negative falls back to 5.
func NewValidator(store storage.Store, dailyCap int, metricsCollector *metrics.Metrics, logger zerolog.Logger) *Validator {
	if dailyCap <= 0 {
		dailyCap = 5
	}
	return &Validator{
		store:    store,
		dailyCap: dailyCap,
		logger:   logger.With().Str("component", "loyalty").Logger(),
		metrics:  metricsCollector,
	}
}

// Validate runs the loyalty ID decision for one request. The count upsert is
// the first durable write of the request; the value it returns is this
// request's position in today's sequence for the ID, so two concurrent
// requests can never both be "the fifth". Count and profile write failures
// abort the decision. The validation log append never does.
func (v *Validator) Validate(ctx context.Context, rawID, storeID string, now time.Time) (Result, error) {
	c := Classify(rawID)
	if !c.OK {
		res := Result{FormatType: c.FormatType, Reason: c.Reason}
		if v.metrics != nil {
			v.metrics.ObserveInvalidLoyaltyID(reasonClass(c))
		}
		v.logger.Info().
			Str("store_id", storeID).
			Str("reason", c.Reason).
			Msg("loyalty.rejected")
		v.logAttempt(ctx, strings.TrimSpace(rawID), storeID, res, now)
		return res, nil
	}

	count, err := v.store.IncrementDailyCount(ctx, c.NormalizedID, storage.DateKey(now))
	if err != nil {
		return Result{}, fmt.Errorf("increment daily count: %w", err)
	}

	res := Result{
		Valid:            true,
		EligibleForTier3: true,
		NormalizedID:     c.NormalizedID,
		FormatType:       c.FormatType,
		DailyCount:       count,
	}
	if count > v.dailyCap {
		res.IsManagerCard = true
		res.Reason = fmt.Sprintf("Manager/store card detected: %d transactions today (exceeds cap of %d)", count, v.dailyCap)
	} else {
		res.EligibleForCIDFund = true
		res.Reason = ReasonValid
	}

	profile, err := v.store.TouchProfile(ctx, storage.ProfileSighting{
		LoyaltyID:    c.NormalizedID,
		FormatType:   c.FormatType,
		StoreID:      storeID,
		SeenAt:       now,
		ManagerCard:  res.IsManagerCard,
		CIDCandidate: CIDCandidate(c.NormalizedID, c.FormatType),
		CIDFallback:  CIDFallback(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("touch profile: %w", err)
	}
	res.Profile = &profile

	if res.IsManagerCard {
		v.logger.Warn().
			Str("store_id", storeID).
			Int("daily_count", count).
			Msg("loyalty.manager_card_detected")
	}

	v.logAttempt(ctx, c.NormalizedID, storeID, res, now)
	return res, nil
}

// logAttempt appends the audit row for this attempt. Append failures are
// logged and swallowed; the decision has already been made.
func (v *Validator) logAttempt(ctx context.Context, loyaltyID, storeID string, res Result, now time.Time) {
	err := v.store.AppendValidationLog(ctx, storage.ValidationLogEntry{
		LoyaltyID:          loyaltyID,
		StoreID:            storeID,
		Valid:              res.Valid,
		EligibleForTier3:   res.EligibleForTier3,
		EligibleForCIDFund: res.EligibleForCIDFund,
		IsManagerCard:      res.IsManagerCard,
		DailyCount:         res.DailyCount,
		Reason:             res.Reason,
		CreatedAt:          now,
	})
	if err != nil {
		v.logger.Warn().
			Err(err).
			Str("loyalty_id", loyaltyID).
			Msg("loyalty.validation_log_append_failed")
	}
}
