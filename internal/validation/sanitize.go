package validation

import "regexp"

var scriptPattern = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)

// SanitizeString removes script elements from s.
func SanitizeString(s string) string {
	return scriptPattern.ReplaceAllString(s, "")
}

// Sanitize returns a copy of payload with script elements removed from every
// string, including those nested in objects and arrays.
func Sanitize(payload map[string]any) map[string]any {
	if payload == nil {
		return map[string]any{}
	}
	return sanitizeValue(payload).(map[string]any)
}

func sanitizeValue(v any) any {
	switch t := v.(type) {
	case string:
		return SanitizeString(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = sanitizeValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = sanitizeValue(val)
		}
		return out
	default:
		return v
	}
}
