package audit

import (
	"strings"
	"unicode"
)

// Mask replaces the value of every sensitive key
const Mask = "***REDACTED***"

// sensitiveKeys are matched as case-insensitive substrings of a key
var sensitiveKeys = []string{
	"password",
	"token",
	"api_key",
	"apikey",
	"secret",
	"authorization",
	"credential",
	"private_key",
	"session",
}

// sensitiveWords only match a whole word of the key, so "otp_code" and
// "smsOtp" are masked while "footprint" is not
var sensitiveWords = map[string]bool{
	"otp":  true,
	"totp": true,
	"hotp": true,
}

// IsSensitiveKey reports whether values stored under key must be masked
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	for _, w := range keyWords(key) {
		if sensitiveWords[w] {
			return true
		}
	}
	return false
}

// keyWords splits a key on non-alphanumerics and camelCase boundaries and
// lowercases the parts
func keyWords(key string) []string {
	runes := []rune(key)
	var (
		words []string
		cur   []rune
	)
	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if unicode.IsUpper(r) && len(cur) > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return words
}

// Sanitize returns a copy of v with sensitive keys masked, descending into
// nested maps and slices. Scalars are returned as is; the input is never modified.
func Sanitize(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			if IsSensitiveKey(k) {
				out[k] = Mask
				continue
			}
			out[k] = Sanitize(inner)
		}
		return out
	case map[string]string:
		out := make(map[string]interface{}, len(val))
		for k, inner := range val {
			if IsSensitiveKey(k) {
				out[k] = Mask
				continue
			}
			out[k] = inner
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, inner := range val {
			out[i] = Sanitize(inner)
		}
		return out
	}
	return v
}
