package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// Column/key candidates shared by the CSV and JSON/YAML paths.
var (
	hostnameKeys = []string{"hostname", "host", "name", "server", "fqdn", "node", "machine"}
	ipKeys       = []string{"ip", "ip_address", "ipaddress", "address", "addr", "ansible_host"}
	envKeys      = []string{"environment", "env", "stage", "tier"}
	portKeys     = []string{"ssh_port", "port", "ansible_port"}
)

func isOneOf(key string, candidates []string) bool {
	for _, c := range candidates {
		if key == c {
			return true
		}
	}
	return false
}

// hostFromFields maps a flat record onto a ParsedHost using the candidate
// key sets. Unrecognized keys land in metadata.
func hostFromFields(fields map[string]string) ParsedHost {
	var host ParsedHost
	for rawKey, value := range fields {
		key := strings.ToLower(strings.TrimSpace(rawKey))
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		switch {
		case isOneOf(key, hostnameKeys) && host.Hostname == "":
			host.Hostname = value
		case isOneOf(key, ipKeys) && host.IP == "":
			host.IP = value
		case isOneOf(key, envKeys) && host.Environment == "":
			host.Environment = normalizeEnvironment(value)
		case key == "role":
			host.Role = value
		case key == "service":
			host.Service = value
		case key == "aliases":
			host.Aliases = splitList(value)
		case key == "groups":
			host.Groups = splitList(value)
		case isOneOf(key, portKeys):
			if port, err := strconv.Atoi(value); err == nil && port > 0 {
				host.SSHPort = port
			}
		default:
			if host.Metadata == nil {
				host.Metadata = map[string]string{}
			}
			host.Metadata[key] = value
		}
	}
	return host
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// normalizeEnvironment collapses common environment spellings.
func normalizeEnvironment(value string) string {
	switch strings.ToLower(value) {
	case "production", "prod", "prd":
		return "prod"
	case "staging", "stage", "stg", "preprod", "pre-prod":
		return "staging"
	case "development", "dev":
		return "dev"
	case "testing", "test", "qa":
		return "test"
	default:
		return strings.ToLower(value)
	}
}

// inferEnvironmentFromName guesses an environment from a group or host name
// by substring.
func inferEnvironmentFromName(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "prod"):
		return "prod"
	case strings.Contains(lower, "staging") || strings.Contains(lower, "stage"):
		return "staging"
	case strings.Contains(lower, "dev"):
		return "dev"
	case strings.Contains(lower, "test"):
		return "test"
	default:
		return ""
	}
}

// stringify renders scalar JSON/YAML values for metadata storage.
func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprint(v)
	}
}
