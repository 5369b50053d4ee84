// Package agegate enforces the in-person age confirmation (AVT) that tobacco
// loyalty incentives legally require, reads the app-side identity proof
// (EAIV) off the customer profile, and writes the compliance audit record.
package agegate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/RTNSmart/tier3-engine/internal/metrics"
	"github.com/RTNSmart/tier3-engine/internal/storage"
)

// AVT status values the POS sends with a rewards request. Anything other
// than StatusVerified, including an absent field, means the cashier did not
// confirm the customer's age.
const (
	StatusVerified    = "verified"
	StatusNotVerified = "not_verified"
	StatusUnknown     = "unknown"
)

// Request carries the S2 inputs: the cashier's confirmation from the POS
// and the customer identity established upstream.
type Request struct {
	AVTStatus     string
	LoyaltyID     string // normalized; empty when the loyalty ID never validated
	TransactionID string
	StoreID       string
	CashierID     string

	// Profile is the post-touch profile from validation, nil when no
	// profile exists for this request. EAIV is read from here, never
	// from the POS.
	Profile *storage.CustomerProfile
}

// Result is the age gating outcome for one transaction.
type Result struct {
	AgeVerified                   bool
	EAIVVerified                  bool
	EligibleForTier3Incentives    bool
	EligibleForEAIVOnlyIncentives bool
	Reason                        string
}

// Gate runs age confirmation for decisions.
type Gate struct {
	store   storage.Store
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewGate constructs the age gate.
func NewGate(store storage.Store, metricsCollector *metrics.Metrics, logger zerolog.Logger) *Gate {
	return &Gate{
		store:   store,
		logger:  logger.With().Str("component", "agegate").Logger(),
		metrics: metricsCollector,
	}
}

// Confirmed reports whether an AVT status value counts as a cashier
// confirmation.
func Confirmed(avtStatus string) bool {
	return strings.ToLower(strings.TrimSpace(avtStatus)) == StatusVerified
}

// Confirm runs the age gate for one request. When the cashier confirmed age
// and the request carries a transaction and store ID, the AVT audit row is
// appended before returning; a failed append is a fatal error because the
// record is legally required. The profile mirror update afterwards is
// best-effort.
func (g *Gate) Confirm(ctx context.Context, req Request, now time.Time) (Result, error) {
	res := Result{
		AgeVerified:  Confirmed(req.AVTStatus),
		EAIVVerified: req.Profile != nil && req.Profile.EAIVVerified,
	}
	res.EligibleForTier3Incentives = res.AgeVerified
	res.EligibleForEAIVOnlyIncentives = res.AgeVerified && res.EAIVVerified
	res.Reason = reason(res)

	if g.metrics != nil {
		g.metrics.ObserveAgeVerification(res.AgeVerified)
	}

	if !res.AgeVerified {
		g.logger.Info().
			Str("store_id", req.StoreID).
			Str("avt_status", req.AVTStatus).
			Msg("agegate.not_verified")
		return res, nil
	}

	if req.TransactionID == "" || req.StoreID == "" {
		g.logger.Warn().
			Str("transaction_id", req.TransactionID).
			Str("store_id", req.StoreID).
			Msg("agegate.audit_skipped_missing_ids")
		return res, nil
	}

	record := storage.AVTRecord{
		TransactionID: req.TransactionID,
		StoreID:       req.StoreID,
		LoyaltyID:     req.LoyaltyID,
		AVTPerformed:  true,
		AVTMethod:     storage.AVTMethodInPerson,
		AVTTimestamp:  now,
		CashierID:     req.CashierID,
	}
	if req.Profile != nil {
		record.CIDCustomerID = req.Profile.CIDCustomerID
		eaiv := req.Profile.EAIVVerified
		record.EAIVVerified = &eaiv
	}
	if err := g.store.AppendAVTRecord(ctx, record); err != nil {
		return Result{}, fmt.Errorf("append AVT record: %w", err)
	}

	if req.LoyaltyID != "" {
		if err := g.store.MarkProfileAgeVerified(ctx, req.LoyaltyID, now); err != nil {
			g.logger.Warn().
				Err(err).
				Str("loyalty_id", req.LoyaltyID).
				Msg("agegate.profile_refresh_failed")
		}
	}

	return res, nil
}

// reason builds the explanation echoed to operators. Tier 3 eligibility and
// the EAIV-only tier each contribute a clause.
func reason(res Result) string {
	if !res.AgeVerified {
		return "Age not verified (no in-person confirmation) - ineligible for Tier 3 incentives"
	}
	base := "Age verified (in-person confirmation) - eligible for Tier 3 incentives"
	if res.EAIVVerified {
		return base + "; EAIV verified (from RTN app) - eligible for EAIV-only incentives"
	}
	return base + "; EAIV not verified (customer needs to complete EAIV in RTN app) - EAIV-only incentives restricted"
}
