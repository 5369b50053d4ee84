// Package loyalty classifies and validates loyalty IDs presented at the
// POS, enforces the per-day transaction cap that flags shared manager and
// store cards, and maintains the customer profile for every valid sighting.
package loyalty

import (
	"fmt"
	"regexp"
	"strings"
)

// Loyalty ID format types stored on profiles and validation log rows.
const (
	FormatPhoneNumber = "PHONE_NUMBER"
	FormatQRCode      = "QR_CODE"
)

// QRCodeBaseURL is the prefix the RTNSmart app encodes into customer QR
// codes. Everything after it is an opaque Base64 parameter the engine never
// decodes; the full URL is the customer's identity key.
const QRCodeBaseURL = "https://rtnsmart.com/rtnsmartapp/?USER_"

// Fixed validation reasons. Reasons with variable parts are built inline.
const (
	ReasonMissing      = "LoyaltyID is missing"
	ReasonQRInvalid    = "LoyaltyID QR code format invalid: invalid URL or encoded parameter"
	ReasonUnrecognized = "LoyaltyID format unrecognized (must be phone number or RTNSmart QR code)"
	ReasonValid        = "LoyaltyID valid and eligible"
)

var (
	phonePattern   = regexp.MustCompile(`^[0-9]{10,12}$`)
	digitsPattern  = regexp.MustCompile(`^[0-9]+$`)
	qrParamPattern = regexp.MustCompile(`^[A-Za-z0-9+/=]+$`)
)

// Classification is the outcome of format detection, before any storage
// access. NormalizedID is the identity key used for counts and profiles:
// the digit string for phone numbers, the full URL for QR codes.
type Classification struct {
	OK           bool
	FormatType   string
	NormalizedID string
	Reason       string
}

// Classify detects the loyalty ID format. QR detection runs first because a
// QR URL can embed digit runs that would otherwise read as a phone number.
func Classify(raw string) Classification {
	id := strings.TrimSpace(raw)
	if id == "" {
		return Classification{Reason: ReasonMissing}
	}

	if strings.HasPrefix(id, QRCodeBaseURL) {
		param := id[len(QRCodeBaseURL):]
		if param == "" || !qrParamPattern.MatchString(param) {
			return Classification{FormatType: FormatQRCode, Reason: ReasonQRInvalid}
		}
		return Classification{OK: true, FormatType: FormatQRCode, NormalizedID: id}
	}

	if phonePattern.MatchString(id) {
		return Classification{OK: true, FormatType: FormatPhoneNumber, NormalizedID: id}
	}

	// All-digit strings that missed the phone pattern failed on length
	// alone; everything else is an unknown scheme.
	if digitsPattern.MatchString(id) {
		return Classification{Reason: fmt.Sprintf("LoyaltyID format invalid: length %d not in range [10, 12]", len(id))}
	}

	return Classification{Reason: ReasonUnrecognized}
}

// reasonClass buckets a rejection reason into a bounded label set for
// metrics. The raw reasons embed lengths and counts and would explode
// series cardinality.
func reasonClass(c Classification) string {
	switch {
	case c.Reason == ReasonMissing:
		return "missing"
	case c.Reason == ReasonQRInvalid:
		return "qr_invalid"
	case c.Reason == ReasonUnrecognized:
		return "unrecognized"
	case strings.HasPrefix(c.Reason, "LoyaltyID format invalid: length"):
		return "bad_length"
	default:
		return "other"
	}
}
