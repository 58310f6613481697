package util

import (
	"net"
	"strconv"
	"strings"
)

// ParseCommaSeparatedHosts parses a comma-separated list of hosts into
// trimmed host:port strings. Entries without a port get defaultPort;
// a defaultPort of zero leaves them unchanged.
func ParseCommaSeparatedHosts(value string, defaultPort int) []string {
	if value == "" {
		return []string{}
	}

	parts := strings.Split(value, ",")
	hosts := make([]string, 0, len(parts))

	for _, part := range parts {
		host := strings.TrimSpace(part)
		if host == "" {
			continue
		}
		if defaultPort > 0 && !hasPort(host) {
			host = net.JoinHostPort(strings.Trim(host, "[]"), strconv.Itoa(defaultPort))
		}
		hosts = append(hosts, host)
	}

	return hosts
}

func hasPort(host string) bool {
	_, _, err := net.SplitHostPort(host)
	return err == nil
}
