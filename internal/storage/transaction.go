package storage

import (
	"time"

	"github.com/RTNSmart/tier3-engine/internal/money"
)

// TransactionRecord is the decision outcome persisted after pricing.
// One row per POS rewards request that reached the pricing stage.
type TransactionRecord struct {
	TransactionID   string
	StoreID         string
	LoyaltyID       string
	CashierID       string
	Tier3Eligible   bool
	CIDFundEligible bool
	AgeVerified     bool
	EAIVVerified    bool
	TotalDiscount   money.Cents
	RewardCount     int
	CreatedAt       time.Time
}

// TransactionLine is the per-line pricing breakdown for a persisted
// transaction. Bucket columns are fixed; their sum equals TotalDiscount.
type TransactionLine struct {
	TransactionID       string
	LineNumber          int
	UPC                 string
	SKUGUID             string
	Quantity            int
	UnitPrice           money.Cents
	BaseExtendedPrice   money.Cents
	LoyaltyDiscount     money.Cents
	ManufacturerCoupon  money.Cents
	MultiUnitDiscount   money.Cents
	RetailerDiscount    money.Cents
	OtherManufacturer   money.Cents
	TransactionDiscount money.Cents
	TotalDiscount       money.Cents
	FinalUnitPrice      money.Cents
	FinalExtendedPrice  money.Cents
}
