package infra

import "strings"

// secretKeys are detail-map keys whose values never reach logs or the
// event stream.
var secretKeys = map[string]struct{}{
	"api_key":    {},
	"api_secret": {},
	"secret":     {},
	"signature":  {},
	"passphrase": {},
	"token":      {},
}

// MaskAPIKey renders a credential safe for logging: first four and last
// four characters with the middle elided. Short keys are fully masked.
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// SanitizeDetails returns a deep copy of details with secret-shaped keys
// masked, recursing into nested maps. The input is never mutated.
func SanitizeDetails(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		if _, secret := secretKeys[strings.ToLower(k)]; secret {
			if s, ok := v.(string); ok {
				out[k] = MaskAPIKey(s)
			} else {
				out[k] = "****"
			}
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = SanitizeDetails(nested)
			continue
		}
		out[k] = v
	}
	return out
}
