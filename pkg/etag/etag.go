// Package etag implements HTTP conditional caching on top of the cache
// service: content fingerprints, If-None-Match evaluation, and an endpoint
// wrapper that short-circuits unchanged responses.
package etag

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Fingerprint derives a deterministic content fingerprint for a value,
// optionally folding in extra context such as a last-modified timestamp.
// Structurally equal values with the same extras always produce the same
// fingerprint; JSON marshalling sorts map keys, so field order never
// matters. The result is a quoted strong ETag.
func Fingerprint(value any, extra ...string) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("fingerprint value: %w", err)
	}

	h := sha256.New()
	h.Write(data)
	for _, e := range extra {
		h.Write([]byte{0})
		h.Write([]byte(e))
	}

	return `"` + hex.EncodeToString(h.Sum(nil))[:32] + `"`, nil
}

// MatchesClientCache reports whether the current fingerprint appears in a
// client's If-None-Match header. The header is a comma-separated candidate
// list; a lone "*" matches any representation. Weak validators compare by
// their opaque value.
func MatchesClientCache(fingerprint, ifNoneMatch string) bool {
	if fingerprint == "" || ifNoneMatch == "" {
		return false
	}

	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		candidate = strings.TrimPrefix(candidate, "W/")
		if candidate == fingerprint {
			return true
		}
	}
	return false
}
