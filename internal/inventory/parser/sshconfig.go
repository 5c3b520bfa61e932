package parser

import (
	"net"
	"strconv"
	"strings"
)

// parseSSHConfig walks Host blocks. When HostName is a real name rather than
// an IP, that name becomes the canonical hostname and the Host alias moves
// into aliases. Wildcard blocks configure defaults, not hosts.
func (p *Parser) parseSSHConfig(content string, result *ParseResult) {
	var current *ParsedHost
	flush := func() {
		if current != nil && current.Hostname != "" {
			result.Hosts = append(result.Hosts, *current)
		}
		current = nil
	}

	for _, rawLine := range strings.Split(content, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		keyword := strings.ToLower(fields[0])
		value := strings.Join(fields[1:], " ")

		if keyword == "host" {
			flush()
			name := fields[1]
			if strings.ContainsAny(name, "*?") {
				current = nil
				continue
			}
			current = &ParsedHost{Hostname: name}
			continue
		}
		if current == nil {
			continue
		}

		switch keyword {
		case "hostname":
			if net.ParseIP(value) != nil {
				current.IP = value
			} else {
				// The HostName value is the real FQDN; the short Host
				// label becomes an alias.
				current.Aliases = append(current.Aliases, current.Hostname)
				current.Hostname = value
			}
		case "port":
			if port, err := strconv.Atoi(value); err == nil && port > 0 {
				current.SSHPort = port
			}
		case "user":
			if current.Metadata == nil {
				current.Metadata = map[string]string{}
			}
			current.Metadata["ssh_user"] = value
		case "identityfile":
			if current.Metadata == nil {
				current.Metadata = map[string]string{}
			}
			current.Metadata["ssh_key"] = value
		}
	}
	flush()

	if len(result.Hosts) == 0 {
		result.addWarning("ssh_config: no concrete Host blocks found")
	}
}
