package httpserver

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/RTNSmart/tier3-engine/internal/catalog"
	apierrors "github.com/RTNSmart/tier3-engine/internal/errors"
	"github.com/RTNSmart/tier3-engine/internal/storage"
	"github.com/RTNSmart/tier3-engine/pkg/responders"
)

const (
	defaultValidationLimit = 50
	maxValidationLimit     = 500
)

// resolveUPC probes the catalog the same way the basket normalizer does:
// carton column first, then pack, then suppressed carton.
// GET /tier3/v1/catalog/upc/{upc}
func (h *handlers) resolveUPC(w http.ResponseWriter, r *http.Request) {
	upc := chi.URLParam(r, "upc")

	res, err := h.resolver.ResolveUPC(r.Context(), upc)
	if errors.Is(err, catalog.ErrUPCNotFound) {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeUPCNotFound, "UPC matches no catalog row", "upc", upc)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("upc", upc).Msg("httpserver.catalog_lookup_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeCatalogUnavailable, "catalog unavailable")
		return
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"upc":                 upc,
		"skuguid":             res.Entry.SKUGUID,
		"sku_name":            res.Entry.SKUName,
		"brand":               res.Entry.Brand,
		"manufacturer":        res.Entry.Manufacturer,
		"category":            res.Entry.Category,
		"program_eligibility": res.Entry.ProgramEligibility,
		"matched_upc_type":    res.MatchedType,
		"unit_of_measure":     res.UnitOfMeasure,
		"is_marlboro":         res.Entry.IsMarlboro(),
	})
}

type profileResponse struct {
	LoyaltyID         string     `json:"loyalty_id"`
	CIDCustomerID     string     `json:"cid_customer_id"`
	FormatType        string     `json:"format_type"`
	StoreID           string     `json:"store_id"`
	FirstSeen         time.Time  `json:"first_seen"`
	LastSeen          time.Time  `json:"last_seen"`
	TotalTransactions int64      `json:"total_transactions"`
	IsManagerCard     bool       `json:"is_manager_card"`
	AVTVerified       bool       `json:"avt_verified"`
	EAIVVerified      bool       `json:"eaiv_verified"`
	LastAVTVerified   *time.Time `json:"last_avt_verified,omitempty"`
	LastEAIVVerified  *time.Time `json:"last_eaiv_verified,omitempty"`
}

// getProfile returns the customer profile for a normalized loyalty ID. QR
// identifiers contain slashes and query metacharacters, so callers
// URL-encode the path segment.
// GET /tier3/v1/profiles/{lid}
func (h *handlers) getProfile(w http.ResponseWriter, r *http.Request) {
	lid := chi.URLParam(r, "lid")
	if unescaped, err := url.PathUnescape(lid); err == nil {
		lid = unescaped
	}

	profile, err := h.store.GetProfile(r.Context(), lid)
	if errors.Is(err, storage.ErrNotFound) {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeProfileNotFound, "no profile for this loyalty ID")
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("httpserver.profile_lookup_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeStorageUnavailable, "profile store unavailable")
		return
	}

	responders.JSON(w, http.StatusOK, profileResponse{
		LoyaltyID:         profile.LoyaltyID,
		CIDCustomerID:     profile.CIDCustomerID,
		FormatType:        profile.FormatType,
		StoreID:           profile.StoreID,
		FirstSeen:         profile.FirstSeen,
		LastSeen:          profile.LastSeen,
		TotalTransactions: profile.TotalTransactions,
		IsManagerCard:     profile.IsManagerCard,
		AVTVerified:       profile.AVTVerified,
		EAIVVerified:      profile.EAIVVerified,
		LastAVTVerified:   profile.LastAVTVerified,
		LastEAIVVerified:  profile.LastEAIVVerified,
	})
}

type validationEntry struct {
	LoyaltyID          string    `json:"loyalty_id"`
	StoreID            string    `json:"store_id"`
	Valid              bool      `json:"valid"`
	EligibleForTier3   bool      `json:"eligible_for_tier3"`
	EligibleForCIDFund bool      `json:"eligible_for_cid_fund"`
	IsManagerCard      bool      `json:"is_manager_card"`
	DailyCount         int       `json:"daily_count"`
	Reason             string    `json:"reason,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// listValidations returns the newest validation audit entries, optionally
// filtered to one loyalty ID.
// GET /tier3/v1/validations?lid=&limit=
func (h *handlers) listValidations(w http.ResponseWriter, r *http.Request) {
	lid := r.URL.Query().Get("lid")

	limit := defaultValidationLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > maxValidationLimit {
		limit = maxValidationLimit
	}

	entries, err := h.store.ListValidationLog(r.Context(), lid, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("httpserver.validation_list_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeStorageUnavailable, "validation log unavailable")
		return
	}

	out := make([]validationEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, validationEntry{
			LoyaltyID:          e.LoyaltyID,
			StoreID:            e.StoreID,
			Valid:              e.Valid,
			EligibleForTier3:   e.EligibleForTier3,
			EligibleForCIDFund: e.EligibleForCIDFund,
			IsManagerCard:      e.IsManagerCard,
			DailyCount:         e.DailyCount,
			Reason:             e.Reason,
			CreatedAt:          e.CreatedAt,
		})
	}

	responders.JSON(w, http.StatusOK, map[string]any{
		"entries": out,
		"count":   len(out),
	})
}
