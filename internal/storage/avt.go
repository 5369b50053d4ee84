package storage

import "time"

// AVTMethodInPerson is the only verification method the engine records:
// the cashier confirmed age at the counter.
const AVTMethodInPerson = "in_person_confirmation"

// AVTRecord is the append-only compliance row written when the cashier
// confirms a customer's age for a transaction. Exactly one per confirmed
// request; losing one is a legal problem, so writes are treated as fatal
// on failure.
type AVTRecord struct {
	TransactionID string
	StoreID       string
	LoyaltyID     string
	CIDCustomerID string
	AVTPerformed  bool
	AVTMethod     string
	AVTTimestamp  time.Time
	CashierID     string
	EAIVVerified  *bool // nil when no profile was found for the loyalty ID
}
