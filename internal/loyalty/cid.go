package loyalty

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// CIDCandidate derives the fund-reporting customer ID assigned when a
// loyalty ID is first profiled. Phone numbers are used directly so the same
// customer keys to the same CID across stores. QR URLs are hashed to a
// stable 16-hex-char surrogate; the URL itself is too long for fund reports.
func CIDCandidate(normalizedID, formatType string) string {
	if formatType == FormatPhoneNumber {
		return normalizedID
	}
	sum := sha256.Sum256([]byte(normalizedID))
	return "CID_" + strings.ToUpper(hex.EncodeToString(sum[:8]))
}

// CIDFallback returns a random CID for the rare case where the derived
// candidate already belongs to another profile.
func CIDFallback() string {
	u := uuid.New()
	return "CID_" + strings.ToUpper(hex.EncodeToString(u[:8]))
}
