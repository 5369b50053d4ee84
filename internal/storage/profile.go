package storage

import (
	"time"
)

// CustomerProfile is the durable identity attached to a loyalty ID.
// Phone and QR forms of the same person are distinct profiles; there is
// no join key between them.
type CustomerProfile struct {
	LoyaltyID         string     // Raw normalized loyalty ID (digits or full QR URL)
	CIDCustomerID     string     // Fund-reporting surrogate; set on insert, never rewritten
	FormatType        string     // "PHONE_NUMBER" or "QR_CODE"
	StoreID           string     // Store of first sighting
	FirstSeen         time.Time  // Immutable after insert
	LastSeen          time.Time  // Monotonic; >= FirstSeen
	TotalTransactions int64      // Monotonic
	IsManagerCard     bool       // Sticky once set
	AVTVerified       bool       // Last known in-person age verification state
	EAIVVerified      bool       // App-side identity proof; written by the RTN app, read here
	LastAVTVerified   *time.Time // When AVT was last confirmed
	LastEAIVVerified  *time.Time // When EAIV was last confirmed
}

// ProfileSighting describes one observation of a loyalty ID. TouchProfile
// folds it into the profile: inserts create the row (first_seen, CID,
// format type, store of first sighting), updates bump last_seen and the
// transaction counter. ManagerCard marks the profile permanently.
type ProfileSighting struct {
	LoyaltyID   string
	FormatType  string
	StoreID     string
	SeenAt      time.Time
	ManagerCard bool

	// CIDCandidate is the CID assigned if this sighting inserts a new
	// profile. If it collides with another profile's CID, CIDFallback is
	// used instead. Existing profiles keep their CID regardless.
	CIDCandidate string
	CIDFallback  string
}
