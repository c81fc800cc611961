// Package responders holds the small HTTP response helpers shared by the
// payment API handlers.
package responders

import (
	"encoding/json"
	"net/http"
)

// JSON writes body as an application/json response with the given status.
// A nil body sends the status line and headers only. HTML escaping is
// disabled: payment links and wallet addresses must reach the client
// verbatim.
func JSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(body)
}
