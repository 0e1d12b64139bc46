package logging

import (
	"regexp"
	"strings"
)

// MaskedValue is the string used to replace sensitive values.
const MaskedValue = "[REDACTED]"

// sensitiveFields contains field names whose values must be masked.
var sensitiveFields = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"access_token":  true,
	"private_key":   true,
	"credentials":   true,
	"authorization": true,
	"bearer":        true,
	"cookie":        true,
	"webhook_url":   true,
}

// IsSensitiveField checks if a field name is sensitive.
func IsSensitiveField(fieldName string) bool {
	lowerField := strings.ToLower(fieldName)
	if sensitiveFields[lowerField] {
		return true
	}
	for sensitive := range sensitiveFields {
		if strings.Contains(lowerField, sensitive) {
			return true
		}
	}
	return false
}

// sensitivePatterns match secrets embedded in raw strings. Detected
// event excerpts go through these before they reach a log line or an
// alert payload.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|passwd|auth)['":\s]*[=:]\s*['"]?[a-zA-Z0-9_\-.]+['"]?`),
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-.]+`),
	regexp.MustCompile(`(?i)basic\s+[a-zA-Z0-9+/=]+`),
	regexp.MustCompile(`\b(AKIA|ASIA|AROA|AIDA)[A-Z0-9]{16}\b`),
	regexp.MustCompile(`(?i)(sk_live_|pk_live_|sk_test_|pk_test_)[a-zA-Z0-9]+`),
}

// MaskSensitivePatterns masks secret-looking substrings in a raw string.
func MaskSensitivePatterns(s string) string {
	result := s
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllString(result, MaskedValue)
	}
	return result
}

// MaskAPIKey masks an API key, showing only the first and last four
// characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return MaskedValue
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// Excerpt returns a masked, length-bounded excerpt of a log message,
// safe to embed in log lines and alert payloads.
func Excerpt(s string, max int) string {
	masked := MaskSensitivePatterns(s)
	if max > 0 && len(masked) > max {
		return masked[:max] + "..."
	}
	return masked
}
