package logger

import (
	"fmt"
	"strings"
	"unicode"
)

// Sanitizer masks bind values compared against sensitive columns before they
// reach a log record.
type Sanitizer struct {
	sensitive map[string]bool
	maskValue string
}

// DefaultSensitiveFields are masked when no field list is configured.
var DefaultSensitiveFields = []string{
	"password", "passwd", "pwd",
	"token", "api_key", "apikey", "api_token",
	"secret", "auth", "authorization",
	"credit_card", "card_number", "cvv", "cvc",
	"ssn", "social_security",
	"private_key", "priv_key",
}

// NewSanitizer creates a sanitizer for the given column names.
// If no fields are provided, DefaultSensitiveFields is used.
func NewSanitizer(sensitiveFields []string) *Sanitizer {
	if len(sensitiveFields) == 0 {
		sensitiveFields = DefaultSensitiveFields
	}
	sensitive := make(map[string]bool, len(sensitiveFields))
	for _, f := range sensitiveFields {
		sensitive[strings.ToLower(f)] = true
	}
	return &Sanitizer{
		sensitive: sensitive,
		maskValue: "***REDACTED***",
	}
}

// MaskParams returns a copy of params where every value bound against a
// sensitive column is replaced by the mask. The column of each placeholder is
// the identifier preceding it in sql ("password = ?", "token IN (?, ?)").
// Original parameters are not modified.
func (s *Sanitizer) MaskParams(sql string, params []any) []any {
	if len(params) == 0 {
		return params
	}

	var masked []any
	idx := 0
	for i := 0; i < len(sql) && idx < len(params); i++ {
		if sql[i] != '?' {
			continue
		}
		if i+1 < len(sql) && sql[i+1] == '?' {
			i++
			continue
		}
		if s.sensitive[placeholderColumn(sql[:i])] {
			if masked == nil {
				masked = append([]any(nil), params...)
			}
			masked[idx] = s.maskValue
		}
		idx++
	}

	if masked == nil {
		return params
	}
	return masked
}

var skipWords = map[string]bool{
	"in": true, "not": true, "like": true, "between": true, "and": true, "is": true,
}

// placeholderColumn extracts the unqualified, lower-cased column name that a
// placeholder at the end of prefix is compared against.
func placeholderColumn(prefix string) string {
	for range 4 {
		prefix = strings.TrimRightFunc(prefix, func(r rune) bool {
			return !isIdentRune(r) || r == '?'
		})
		end := len(prefix)
		start := strings.LastIndexFunc(prefix, func(r rune) bool { return !isIdentRune(r) }) + 1
		word := strings.ToLower(prefix[start:end])
		prefix = prefix[:start]
		if word == "" {
			return ""
		}
		if !skipWords[word] {
			return word
		}
	}
	return ""
}

func isIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// FormatParams converts parameters to a safe string representation for logging.
// Sensitive values should be masked using MaskParams before calling this.
func (s *Sanitizer) FormatParams(params []any) string {
	if len(params) == 0 {
		return "[]"
	}

	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = formatValue(p)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// formatValue truncates very long values to prevent log pollution.
func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}

	str := fmt.Sprintf("%v", v)
	const maxLen = 100
	if len(str) > maxLen {
		return str[:maxLen] + "..."
	}
	return str
}
