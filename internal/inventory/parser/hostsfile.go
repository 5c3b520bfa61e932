package parser

import (
	"net"
	"strings"
)

var skipHostnames = map[string]bool{
	"localhost":     true,
	"broadcasthost": true,
	"ip6-localhost": true,
	"ip6-loopback":  true,
}

// parseHostsFile reads /etc/hosts layout: IP, primary hostname, aliases.
// Loopback and broadcast entries are noise, not inventory.
func (p *Parser) parseHostsFile(content string, result *ParseResult) {
	for _, rawLine := range strings.Split(content, "\n") {
		line := rawLine
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}

		ip := net.ParseIP(fields[0])
		if ip == nil {
			continue
		}
		if ip.IsLoopback() || ip.Equal(net.IPv4bcast) {
			continue
		}

		names := fields[1:]
		if skipHostnames[strings.ToLower(names[0])] {
			continue
		}

		host := ParsedHost{Hostname: names[0], IP: fields[0]}
		for _, alias := range names[1:] {
			if !skipHostnames[strings.ToLower(alias)] {
				host.Aliases = append(host.Aliases, alias)
			}
		}
		result.Hosts = append(result.Hosts, host)
	}
	if len(result.Hosts) == 0 {
		result.addWarning("hosts: no non-loopback entries found")
	}
}
