// Package risk maps a command string to an advisory risk level purely from
// its syntax. The assessment gates confirmation prompting; it is not an
// enforcement mechanism.
package risk

import "strings"

// Level is the advisory label attached to a command prior to execution.
type Level string

const (
	Low      Level = "low"
	Moderate Level = "moderate"
	Critical Level = "critical"
)

// Assessment pairs a level with the prefix that produced it.
type Assessment struct {
	Level  Level  `json:"level"`
	Reason string `json:"reason"`
}

// Longest prefixes are listed first inside each tier so that
// "systemctl restart" wins over a hypothetical bare "systemctl" entry.
var (
	lowPrefixes = []string{
		"systemctl status", "ps", "df", "cat", "ls", "grep",
		"uname", "hostname", "uptime", "free",
	}
	moderatePrefixes = []string{
		"systemctl reload", "chmod", "chown", "touch", "mkdir",
	}
	criticalPrefixes = []string{
		"systemctl restart", "systemctl stop", "rm", "iptables",
		"shutdown", "reboot", "dd", "mkfs",
	}
)

// Assess classifies command. Unknown commands default to moderate.
func Assess(command string) Assessment {
	trimmed := strings.TrimSpace(command)
	if match := matchPrefix(trimmed, criticalPrefixes); match != "" {
		return Assessment{Level: Critical, Reason: "command matches critical pattern: " + match}
	}
	if match := matchPrefix(trimmed, moderatePrefixes); match != "" {
		return Assessment{Level: Moderate, Reason: "command matches moderate pattern: " + match}
	}
	if match := matchPrefix(trimmed, lowPrefixes); match != "" {
		return Assessment{Level: Low, Reason: "read-only command: " + match}
	}
	return Assessment{Level: Moderate, Reason: "unrecognized command, defaulting to moderate"}
}

// RequiresConfirmation reports whether a level needs user confirmation
// before execution.
func RequiresConfirmation(level Level) bool {
	return level == Moderate || level == Critical
}

// matchPrefix returns the first prefix that matches command at a token
// boundary, so "rmdir" does not match the "rm" prefix.
func matchPrefix(command string, prefixes []string) string {
	for _, prefix := range prefixes {
		if command == prefix {
			return prefix
		}
		if strings.HasPrefix(command, prefix+" ") {
			return prefix
		}
	}
	return ""
}
