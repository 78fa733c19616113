package classifier

import "strings"

// RedactionMarker replaces values stored under sensitive keys.
const RedactionMarker = "[REDACTED]"

// sensitiveKeys lists detail keys whose values must never reach storage.
// Matching is case-insensitive on the normalized key (separators stripped).
var sensitiveKeys = map[string]struct{}{
	"password":         {},
	"passwd":           {},
	"secret":           {},
	"token":            {},
	"accesstoken":      {},
	"refreshtoken":     {},
	"apikey":           {},
	"privatekey":       {},
	"authorization":    {},
	"ssn":              {},
	"socialsecurity":   {},
	"creditcardnumber": {},
	"cardnumber":       {},
	"cvv":              {},
}

// Sanitize returns a copy of details with sensitive values redacted. Nested
// map values are sanitized recursively; the input map is never modified.
func Sanitize(details map[string]any) map[string]any {
	clean := make(map[string]any, len(details))
	for k, v := range details {
		if isSensitiveKey(k) {
			clean[k] = RedactionMarker
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			clean[k] = Sanitize(nested)
			continue
		}
		clean[k] = v
	}
	return clean
}

func isSensitiveKey(key string) bool {
	normalized := strings.ToLower(key)
	normalized = strings.NewReplacer("_", "", "-", "", " ", "").Replace(normalized)
	_, ok := sensitiveKeys[normalized]
	return ok
}
