package storage

import "time"

// DailyCount tracks how many transactions a loyalty ID has run on a given
// calendar day. Unique per (loyalty_id, transaction_date); count >= 1 once
// the row exists; incremented atomically and never decremented. The sole
// consumer is manager-card detection.
type DailyCount struct {
	LoyaltyID       string
	TransactionDate string // DateKey format
	Count           int
	UpdatedAt       time.Time
}

// DateKey formats a timestamp as the canonical daily-count date key.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
