package parser

import (
	"strconv"
	"strings"
)

// parseINI handles Ansible-style INI inventories: [group] sections followed
// by "hostname k=v k=v" lines. A generic INI library does not fit because
// the host lines are positional, not key=value pairs.
func (p *Parser) parseINI(content string, result *ParseResult) {
	currentGroup := ""
	byName := map[string]*ParsedHost{}
	var order []string

	for _, rawLine := range strings.Split(content, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			currentGroup = strings.TrimSpace(line[1 : len(line)-1])
			// :vars and :children sections are group metadata, not hosts.
			if idx := strings.IndexByte(currentGroup, ':'); idx >= 0 {
				currentGroup = ""
			}
			continue
		}
		if currentGroup == "" && strings.Contains(line, "=") && !strings.Contains(line, " ") {
			// stray key=value outside a host line
			continue
		}

		tokens := strings.Fields(line)
		name := tokens[0]
		host, seen := byName[name]
		if !seen {
			host = &ParsedHost{Hostname: name}
			byName[name] = host
			order = append(order, name)
		}
		if currentGroup != "" && !containsString(host.Groups, currentGroup) {
			host.Groups = append(host.Groups, currentGroup)
			if host.Environment == "" {
				host.Environment = inferEnvironmentFromName(currentGroup)
			}
		}

		for _, token := range tokens[1:] {
			key, value, ok := strings.Cut(token, "=")
			if !ok {
				continue
			}
			switch key {
			case "ansible_host":
				host.IP = value
			case "ansible_port":
				if port, err := strconv.Atoi(value); err == nil && port > 0 {
					host.SSHPort = port
				}
			case "ansible_user":
				if host.Metadata == nil {
					host.Metadata = map[string]string{}
				}
				host.Metadata["ssh_user"] = value
			default:
				if host.Metadata == nil {
					host.Metadata = map[string]string{}
				}
				host.Metadata[key] = value
			}
		}
	}

	for _, name := range order {
		result.Hosts = append(result.Hosts, *byName[name])
	}
	if len(result.Hosts) == 0 {
		result.addWarning("ini: no host lines found")
	}
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
