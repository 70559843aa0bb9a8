// Package logutil redacts and truncates values before they reach logs or the audit trail.
package logutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"unicode/utf8"
)

// Redacted replaces every sensitive value.
const Redacted = "[REDACTED]"

const truncatedSuffix = "... [truncated]"

// sensitiveExact and sensitiveFragments are matched against keys with case,
// dashes and underscores removed.
var (
	sensitiveExact     = []string{"authorization", "content"}
	sensitiveFragments = []string{"token", "secret", "password", "apikey", "cookie", "auth"}
)

func normalizeKey(key string) string {
	return strings.NewReplacer("-", "", "_", "").Replace(strings.ToLower(strings.TrimSpace(key)))
}

// IsSensitiveLogField reports whether a header or JSON key may carry a
// credential or private note text.
func IsSensitiveLogField(key string) bool {
	k := normalizeKey(key)
	if slices.Contains(sensitiveExact, k) || strings.HasSuffix(k, "hash") {
		return true
	}
	for _, frag := range sensitiveFragments {
		if strings.Contains(k, frag) {
			return true
		}
	}
	return false
}

// FormatHeadersForLog renders headers as `name="v1, v2"` pairs sorted by
// name, with sensitive values replaced.
func FormatHeadersForLog(headers http.Header) string {
	if len(headers) == 0 {
		return "{}"
	}
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	slices.Sort(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString("; ")
		}
		value := strings.Join(headers.Values(name), ", ")
		if IsSensitiveLogField(name) {
			value = Redacted
		}
		fmt.Fprintf(&b, "%s=%q", strings.ToLower(name), value)
	}
	return b.String()
}

// RedactJSON replaces sensitive fields at any depth. ok is false when body
// is not valid JSON.
func RedactJSON(body []byte) (string, bool) {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", false
	}
	out, err := json.Marshal(redactValue(payload))
	if err != nil {
		return "", false
	}
	return string(out), true
}

func redactValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		for k, child := range typed {
			if IsSensitiveLogField(k) {
				typed[k] = Redacted
			} else {
				typed[k] = redactValue(child)
			}
		}
	case []any:
		for i, child := range typed {
			typed[i] = redactValue(child)
		}
	}
	return v
}

// FormatBodyForLog redacts a request body and bounds it to maxBytes.
// JSON bodies that fail to parse are summarized by size, since a partial
// document cannot be redacted reliably.
func FormatBodyForLog(contentType string, body []byte, maxBytes int, truncated bool) string {
	if len(body) == 0 {
		return ""
	}
	text := string(body)
	if strings.Contains(strings.ToLower(contentType), "json") {
		redacted, ok := RedactJSON(body)
		if !ok {
			return fmt.Sprintf("[%d bytes of malformed JSON]", len(body))
		}
		text = redacted
	}
	if maxBytes > 0 && len(text) > maxBytes {
		text = cutUTF8(text, maxBytes)
		truncated = true
	}
	if truncated {
		text += " [truncated]"
	}
	return text
}

// TruncateForLog flattens value onto one line and caps it at maxChars bytes.
// Audit outcomes and note titles go through here before they are recorded.
func TruncateForLog(value string, maxChars int) string {
	flat := strings.ReplaceAll(strings.TrimSpace(value), "\n", `\n`)
	if maxChars <= 0 || len(flat) <= maxChars {
		return flat
	}
	return cutUTF8(flat, maxChars) + truncatedSuffix
}

// cutUTF8 returns the longest prefix of s within n bytes that does not split a rune.
func cutUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
