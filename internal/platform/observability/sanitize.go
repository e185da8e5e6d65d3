package observability

import "unicode"

// sanitizeString drops control characters and truncates to limit runes to keep log
// lines injection free.
func sanitizeString(value string, limit int) string {
	cleaned := make([]rune, 0, len(value))
	for _, r := range value {
		if unicode.IsControl(r) {
			continue
		}
		cleaned = append(cleaned, r)
		if len(cleaned) == limit {
			break
		}
	}
	return string(cleaned)
}

// SanitizeRoute cleans a route pattern for logging.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, 180)
}

// SanitizeUserID limits identifiers to reduce PII leakage in logs.
func SanitizeUserID(uid string) string {
	return sanitizeString(uid, 64)
}
