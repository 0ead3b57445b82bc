package logging

import (
	"log/slog"
	"sort"
	"strings"
)

// RedactedValue is the canonical placeholder swapped in for any log field
// this package considers sensitive: hash-lock pre-images, private-key
// material, and raw signed move-token bytes all fall under this.
const RedactedValue = "[REDACTED]"

// redactionAllowlist names the fields the node and funder log sites are
// allowed to emit verbatim. PublicKey identities (peer), currency tags, and
// request ids are public on the wire already — spec.md §3 calls a
// PublicKey a "256-bit identity," not a secret — so they are exempt the
// same way the generic service/severity/timestamp fields are.
var redactionAllowlist = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"reason":    {},
	"component": {},
	"peer":      {},
	"currency":  {},
	"requestid": {},
}

// IsAllowlisted reports whether the provided key is exempt from automatic redaction.
func IsAllowlisted(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	_, ok := redactionAllowlist[normalized]
	return ok
}

// RedactionAllowlist returns a sorted copy of the log keys that are allowed to be emitted
// without redaction. Tests use this to ensure sensitive keys remain masked.
func RedactionAllowlist() []string {
	keys := make([]string, 0, len(redactionAllowlist))
	for key := range redactionAllowlist {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// MaskValue returns the canonical redacted placeholder for non-empty values. Empty values
// are returned unchanged to avoid introducing noise in logs.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField returns a slog.Attr that redacts the supplied value unless the key is
// explicitly allowlisted. The original key casing is preserved for readability.
//
// funder.go and node.go call this for every field that could carry a
// hash-lock pre-image, a private key, or a raw signed move-token: those
// keys are deliberately absent from redactionAllowlist above, so they are
// always masked regardless of value.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" || IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}
