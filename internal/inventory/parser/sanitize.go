package parser

import (
	"regexp"
	"sort"
	"strings"
)

// Sanitization runs before any inventory byte reaches an LLM. Pass one
// strips PII and infrastructure identifiers; pass two neutralizes prompt
// injection patterns. Every byte of the document is treated as untrusted
// data, never as instructions.

type redactionRule struct {
	pattern     *regexp.Regexp
	replacement string
}

var piiRules = []redactionRule{
	// MAC before IPv4: colon-separated hex never collides with dotted quads
	// but the ordering keeps partial replacements from producing new matches.
	{regexp.MustCompile(`\b(?:[0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}\b`), "[MAC_REDACTED]"},
	// IPv4-mapped and compressed IPv6 first, then full form, then IPv4.
	{regexp.MustCompile(`::[fF]{4}:(?:\d{1,3}\.){3}\d{1,3}`), "[IPV6_REDACTED]"},
	{regexp.MustCompile(`\b(?:[0-9A-Fa-f]{1,4}:){7}[0-9A-Fa-f]{1,4}\b`), "[IPV6_REDACTED]"},
	{regexp.MustCompile(`\b(?:[0-9A-Fa-f]{1,4}:){1,6}:(?:[0-9A-Fa-f]{1,4}(?::[0-9A-Fa-f]{1,4}){0,5})?\b`), "[IPV6_REDACTED]"},
	{regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), "[IP_REDACTED]"},
	// Email before domain so the domain rule does not eat the host part.
	{regexp.MustCompile(`\b[\w.+-]+@[\w-]+(?:\.[\w-]+)+\b`), "[EMAIL_REDACTED]"},
	{regexp.MustCompile(`\b(?:[A-Za-z0-9-]+\.)+(?:com|net|org|io|co|internal|local|corp|lan|intra)\b`), "[DOMAIN_REDACTED]"},
	// Cloud identifiers.
	{regexp.MustCompile(`\barn:aws:[A-Za-z0-9:/_.+=,@-]+`), "[ARN_REDACTED]"},
	{regexp.MustCompile(`\bi-[0-9a-f]{8,17}\b`), "[EC2_REDACTED]"},
	{regexp.MustCompile(`(?i)(aws[_-]?account[_-]?(?:id)?\s*[=:]?\s*)\d{12}\b`), "$1[AWS_ACCOUNT_REDACTED]"},
	{regexp.MustCompile(`(?i)\bprojects?/[a-z][a-z0-9-]{4,28}[a-z0-9]\b`), "[GCP_PROJECT_REDACTED]"},
	{regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`), "[UUID_REDACTED]"},
	// Values of known sensitive keys.
	{regexp.MustCompile(`(?i)\b(ansible_user|ansible_password|ansible_ssh_pass|ansible_become_pass|ssh_key|identityfile|password|passwd|secret|token|api_key|apikey|access_key|private_key)(\s*[=:]\s*)\S+`), "$1$2[REDACTED]"},
}

// redactPII replaces identifying material and returns the cleaned content
// plus the labels that fired (for a warning, without echoing content).
func redactPII(content string) (string, []string) {
	fired := map[string]bool{}
	for _, rule := range piiRules {
		if rule.pattern.MatchString(content) {
			label := rule.replacement
			if idx := strings.IndexByte(label, '['); idx >= 0 {
				if end := strings.IndexByte(label[idx:], ']'); end > 0 {
					label = label[idx : idx+end+1]
				}
			}
			fired[label] = true
			content = rule.pattern.ReplaceAllString(content, rule.replacement)
		}
	}
	return content, sortedKeys(fired)
}

type injectionRule struct {
	kind    string
	pattern *regexp.Regexp
}

var injectionRules = []injectionRule{
	{"ignore_instructions", regexp.MustCompile(`(?i)ignore\s+(?:all\s+)?(?:previous|above|prior)\s+(?:instructions|prompts?|context)`)},
	{"new_instructions", regexp.MustCompile(`(?i)new\s+instructions?\s*:`)},
	{"system_role", regexp.MustCompile(`(?i)system\s*:\s*you\s+are`)},
	{"role_manipulation", regexp.MustCompile(`(?i)\b(?:you\s+are\s+now|act\s+as\s+(?:a|an|the)|pretend\s+(?:to\s+be|you\s+are))\b`)},
	{"output_manipulation", regexp.MustCompile(`(?i)\b(?:respond\s+(?:with\s+)?only|output\s+only|answer\s+only\s+with|do\s+not\s+mention)\b`)},
	{"delimiter_escape", regexp.MustCompile("(?i)(?:```|</?(?:system|user|assistant)>)")},
	{"json_role_injection", regexp.MustCompile(`(?i)"role"\s*:\s*"(?:system|assistant)"`)},
}

// neutralizeInjections rewrites known prompt-injection patterns in place and
// returns the detected kinds.
func neutralizeInjections(content string) (string, []string) {
	detected := map[string]bool{}
	for _, rule := range injectionRules {
		if rule.pattern.MatchString(content) {
			detected[rule.kind] = true
			content = rule.pattern.ReplaceAllString(content, "[INJECTION_BLOCKED:"+rule.kind+"]")
		}
	}
	return content, sortedKeys(detected)
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
