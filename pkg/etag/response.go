package etag

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// envelope is the standard success envelope for JSON responses.
type envelope struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

// ResponseOptions controls WriteResponse.
type ResponseOptions struct {
	// Fingerprint of the value; generated from the value when empty.
	Fingerprint string

	// MaxAge is the Cache-Control max-age in seconds.
	MaxAge int

	// ExtraHeaders are attached to the response as-is.
	ExtraHeaders map[string]string
}

// WriteResponse implements the conditional-response contract. When the
// client's If-None-Match matches the fingerprint it writes a bodyless 304
// carrying only the fingerprint header; otherwise it writes the value in
// the success envelope with ETag and Cache-Control attached.
func WriteResponse(w http.ResponseWriter, r *http.Request, value any, opts ResponseOptions) error {
	fingerprint := opts.Fingerprint
	if fingerprint == "" {
		var err error
		fingerprint, err = Fingerprint(value)
		if err != nil {
			return err
		}
	}

	for name, v := range opts.ExtraHeaders {
		w.Header().Set(name, v)
	}

	if MatchesClientCache(fingerprint, r.Header.Get("If-None-Match")) {
		WriteNotModified(w, fingerprint)
		return nil
	}

	w.Header().Set("ETag", fingerprint)
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", opts.MaxAge))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	return json.NewEncoder(w).Encode(envelope{Success: true, Data: value})
}

// WriteNotModified writes the bodyless not-modified short-circuit.
func WriteNotModified(w http.ResponseWriter, fingerprint string) {
	w.Header().Set("ETag", fingerprint)
	w.WriteHeader(http.StatusNotModified)
}
