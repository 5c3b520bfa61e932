// Package redaction masks secret material before it reaches logs, prompts,
// or the audit trail. Commands are always passed through RedactCommand before
// emission; metadata maps go through RedactStringMap.
package redaction

import (
	"regexp"
	"strings"
)

const Placeholder = "[REDACTED]"

var (
	// nonSensitiveTokenKeys captures usage/config fields that contain the
	// word "token" but are not secrets (e.g. usage counters).
	nonSensitiveTokenKeys = map[string]struct{}{
		"tokens":           {},
		"token_count":      {},
		"tokens_used":      {},
		"total_tokens":     {},
		"input_tokens":     {},
		"output_tokens":    {},
		"max_tokens":       {},
		"remaining_tokens": {},
		"token_budget":     {},
		"token_limit":      {},
	}

	sensitiveKeyFragments    = []string{"secret", "password", "passwd", "authorization", "cookie", "credential"}
	sensitiveValueIndicators = []string{"bearer ", "ghp_", "sk-", "xoxb-", "xoxp-", "-----begin", "api_key", "apikey", "access_token", "refresh_token"}

	// Inline secrets inside a command string: --password=x, -p x after a
	// password-ish flag, KEY=value exports, and @variable expansions.
	passwordFlagPattern = regexp.MustCompile(`(?i)((?:--?(?:password|passwd|pass|token|secret|api[-_]?key)[= ])\S+)`)
	envAssignPattern    = regexp.MustCompile(`(?i)\b((?:[A-Z0-9_]*(?:PASSWORD|PASSWD|TOKEN|SECRET|API_?KEY)[A-Z0-9_]*)=)\S+`)
	urlCredsPattern     = regexp.MustCompile(`(?i)(://[^:/@\s]+:)[^@/\s]+@`)
)

// IsSensitiveKey reports whether the provided key name likely references
// sensitive data.
func IsSensitiveKey(key string) bool {
	lowerKey := strings.ToLower(strings.TrimSpace(key))
	if lowerKey == "" {
		return false
	}
	if _, ok := nonSensitiveTokenKeys[lowerKey]; ok {
		return false
	}
	if isLikelyTokenKey(lowerKey) || isLikelyKeyMaterialKey(lowerKey) {
		return true
	}
	for _, fragment := range sensitiveKeyFragments {
		if strings.Contains(lowerKey, fragment) {
			return true
		}
	}
	return false
}

// LooksLikeSecret reports whether the provided value appears to contain
// secret material.
func LooksLikeSecret(value string) bool {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return false
	}
	lowerValue := strings.ToLower(trimmed)
	for _, indicator := range sensitiveValueIndicators {
		if strings.Contains(lowerValue, indicator) {
			return true
		}
	}
	if len(trimmed) >= 40 && !strings.ContainsAny(trimmed, " \n\t") {
		return true
	}
	return false
}

// RedactStringValue returns a redacted placeholder if the key or value appear
// sensitive.
func RedactStringValue(key, value string) string {
	if value == "" {
		return value
	}
	if IsSensitiveKey(key) || LooksLikeSecret(value) {
		return Placeholder
	}
	return value
}

// RedactStringMap clones and redacts the provided map of string key/value
// pairs.
func RedactStringMap(values map[string]string) map[string]string {
	if values == nil {
		return nil
	}
	sanitized := make(map[string]string, len(values))
	for k, v := range values {
		sanitized[k] = RedactStringValue(k, v)
	}
	return sanitized
}

// RedactCommand masks inline credentials in a raw command string: password
// flags, secret-bearing environment assignments, and embedded URL
// credentials.
func RedactCommand(command string) string {
	if command == "" {
		return command
	}
	out := passwordFlagPattern.ReplaceAllStringFunc(command, func(match string) string {
		if idx := strings.IndexAny(match, "= "); idx >= 0 {
			return match[:idx+1] + Placeholder
		}
		return Placeholder
	})
	out = envAssignPattern.ReplaceAllString(out, "${1}"+Placeholder)
	out = urlCredsPattern.ReplaceAllString(out, "${1}"+Placeholder+"@")
	return out
}

// RedactKnownValues masks every occurrence of the given secret values in
// text. Used when a command has already had @variable references substituted
// with credential material.
func RedactKnownValues(text string, values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		text = strings.ReplaceAll(text, v, Placeholder)
	}
	return text
}

func isLikelyTokenKey(key string) bool {
	if key == "token" || strings.HasPrefix(key, "token_") || strings.HasSuffix(key, "_token") {
		return true
	}
	switch {
	case strings.Contains(key, "access_token"),
		strings.Contains(key, "refresh_token"),
		strings.Contains(key, "auth_token"),
		strings.Contains(key, "session_token"):
		return true
	}
	return false
}

func isLikelyKeyMaterialKey(key string) bool {
	if key == "key" || strings.HasPrefix(key, "key_") || strings.HasSuffix(key, "_key") {
		return true
	}
	switch {
	case strings.Contains(key, "api_key"),
		strings.Contains(key, "apikey"),
		strings.Contains(key, "private_key"),
		strings.Contains(key, "ssh_key"):
		return true
	}
	return false
}
