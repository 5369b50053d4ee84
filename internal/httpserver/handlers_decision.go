package httpserver

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/RTNSmart/tier3-engine/internal/basket"
	"github.com/RTNSmart/tier3-engine/internal/engine"
	apierrors "github.com/RTNSmart/tier3-engine/internal/errors"
	"github.com/RTNSmart/tier3-engine/internal/money"
	"github.com/RTNSmart/tier3-engine/internal/pricing"
	"github.com/RTNSmart/tier3-engine/internal/receipt"
	"github.com/RTNSmart/tier3-engine/pkg/responders"
)

// previewRequest mirrors a POS rewards request in JSON form. transaction_id
// is optional; previews without one are never persisted.
type previewRequest struct {
	StoreID       string        `json:"store_id"`
	TransactionID string        `json:"transaction_id"`
	CashierID     string        `json:"cashier_id"`
	LoyaltyID     string        `json:"loyalty_id"`
	AgeVerified   string        `json:"age_verified"`
	Lines         []previewLine `json:"lines"`
}

type previewLine struct {
	LineNumber  int         `json:"line_number"`
	UPC         string      `json:"upc"`
	Quantity    int         `json:"quantity"`
	UnitPrice   money.Cents `json:"unit_price"`
	Description string      `json:"description,omitempty"`
}

type previewResponse struct {
	TransactionID string           `json:"transaction_id,omitempty"`
	Outcome       string           `json:"outcome"`
	Customer      customerStatus   `json:"customer"`
	Age           ageStatus        `json:"age"`
	Flags         receipt.Flags    `json:"flags"`
	Rewards       []pricing.Reward `json:"rewards"`
	ReceiptLines  []string         `json:"receipt_lines"`
	Summary       pricing.Summary  `json:"summary"`
	Persisted     bool             `json:"persisted"`
}

type customerStatus struct {
	Valid         bool   `json:"valid"`
	IsManagerCard bool   `json:"is_manager_card"`
	NormalizedID  string `json:"normalized_id,omitempty"`
	FormatType    string `json:"format_type,omitempty"`
	DailyCount    int    `json:"daily_count"`
	Reason        string `json:"reason,omitempty"`
}

type ageStatus struct {
	AgeVerified  bool   `json:"age_verified"`
	EAIVVerified bool   `json:"eaiv_verified"`
	Reason       string `json:"reason,omitempty"`
}

// previewRewards runs the full decision pipeline for a hand-built basket.
// POST /tier3/v1/rewards/preview
func (h *handlers) previewRewards(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req previewRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body: "+err.Error())
		return
	}

	engineReq := engine.Request{
		StoreID:       strings.TrimSpace(req.StoreID),
		TransactionID: strings.TrimSpace(req.TransactionID),
		CashierID:     strings.TrimSpace(req.CashierID),
		LoyaltyID:     req.LoyaltyID,
		AVTStatus:     req.AgeVerified,
		Lines:         make([]basket.RawLine, 0, len(req.Lines)),
	}
	for _, line := range req.Lines {
		if line.Quantity <= 0 {
			apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidField,
				fmt.Sprintf("line %d: quantity must be positive", line.LineNumber),
				"upc", line.UPC)
			return
		}
		engineReq.Lines = append(engineReq.Lines, basket.RawLine{
			LineNumber:  line.LineNumber,
			UPC:         line.UPC,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			Description: line.Description,
		})
	}

	decision, err := h.engine.Decide(r.Context(), engineReq)
	if err != nil {
		h.observeDecision("error", start)
		h.logger.Error().Err(err).
			Str("transaction_id", engineReq.TransactionID).
			Msg("httpserver.preview_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeStorageUnavailable, "decision pipeline unavailable")
		return
	}
	h.observeDecision(decision.Outcome(), start)

	responders.JSON(w, http.StatusOK, buildPreviewResponse(decision))
}

func buildPreviewResponse(d *engine.Decision) previewResponse {
	rewards := d.Response.Rewards
	if rewards == nil {
		rewards = []pricing.Reward{}
	}
	receiptLines := d.Response.ReceiptLines
	if receiptLines == nil {
		receiptLines = []string{}
	}
	return previewResponse{
		TransactionID: d.Request.TransactionID,
		Outcome:       d.Outcome(),
		Customer: customerStatus{
			Valid:         d.Customer.Valid,
			IsManagerCard: d.Customer.IsManagerCard,
			NormalizedID:  d.Customer.NormalizedID,
			FormatType:    d.Customer.FormatType,
			DailyCount:    d.Customer.DailyCount,
			Reason:        d.Customer.Reason,
		},
		Age: ageStatus{
			AgeVerified:  d.Age.AgeVerified,
			EAIVVerified: d.Age.EAIVVerified,
			Reason:       d.Age.Reason,
		},
		Flags:        d.Response.Flags,
		Rewards:      rewards,
		ReceiptLines: receiptLines,
		Summary:      d.Pricing.Summary,
		Persisted:    d.Persisted,
	}
}

func (h *handlers) observeDecision(outcome string, start time.Time) {
	if h.metrics != nil {
		h.metrics.ObserveDecision("admin", outcome, time.Since(start))
	}
}
