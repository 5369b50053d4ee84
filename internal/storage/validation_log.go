package storage

import "time"

// ValidationLogEntry is one append-only audit row per loyalty ID attempt,
// valid or not. LoyaltyID may be empty (missing-LID attempts are logged too).
type ValidationLogEntry struct {
	LoyaltyID          string
	StoreID            string
	Valid              bool
	EligibleForTier3   bool
	EligibleForCIDFund bool
	IsManagerCard      bool
	DailyCount         int
	Reason             string
	CreatedAt          time.Time
}
