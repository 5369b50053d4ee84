// Package responders writes admin API responses in one place so handlers
// stay declarative.
package responders

import (
	"encoding/json"
	"net/http"
)

// JSON writes payload as an application/json response. A nil payload sends
// just the status code. HTML escaping is off: QR loyalty IDs and receipt
// text carry characters like & and = that must round-trip verbatim.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	// The status line is already on the wire; an encode failure can only
	// truncate the body.
	_ = enc.Encode(payload)
}
