package parser

import (
	"fmt"
	"net"
	"strings"
)

// parseTXT handles one-host-per-line text: "IP host", "host IP", or a bare
// hostname. IP validity is decided by the standard address parser, IPv6
// included.
func (p *Parser) parseTXT(content string, result *ParseResult) {
	for lineNo, rawLine := range strings.Split(content, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)

		switch len(fields) {
		case 1:
			if net.ParseIP(fields[0]) != nil {
				result.addWarning(fmt.Sprintf("txt line %d: bare IP with no hostname", lineNo+1))
				continue
			}
			if !validHostname(fields[0]) {
				result.addWarning(fmt.Sprintf("txt line %d: not a valid hostname", lineNo+1))
				continue
			}
			result.Hosts = append(result.Hosts, ParsedHost{Hostname: fields[0]})
		case 2:
			switch {
			case net.ParseIP(fields[0]) != nil && validHostname(fields[1]):
				result.Hosts = append(result.Hosts, ParsedHost{Hostname: fields[1], IP: fields[0]})
			case net.ParseIP(fields[1]) != nil && validHostname(fields[0]):
				result.Hosts = append(result.Hosts, ParsedHost{Hostname: fields[0], IP: fields[1]})
			default:
				result.addWarning(fmt.Sprintf("txt line %d: neither token is a valid IP", lineNo+1))
			}
		default:
			result.addWarning(fmt.Sprintf("txt line %d: expected 1-2 tokens, got %d", lineNo+1, len(fields)))
		}
	}
}

func validHostname(name string) bool {
	if name == "" || len(name) > 253 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.' || r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}
