package util

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseAddr splits a "host:port" or "[ipv6]:port" address into its host and
// port parts, the way the peering layer needs it for feed configuration
// section names (e.g. "feed-news.example.com:119").
func ParseAddr(addr string) (host string, port int, err error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", 0, fmt.Errorf("empty address")
	}
	if addr[0] == '[' {
		idx := strings.Index(addr, "]:")
		if idx < 0 {
			return "", 0, fmt.Errorf("malformed ipv6 address: %s", addr)
		}
		host = addr[:idx+1]
		portStr := addr[idx+2:]
		p, perr := strconv.Atoi(portStr)
		if perr != nil {
			return "", 0, fmt.Errorf("malformed port in address %s: %w", addr, perr)
		}
		return host, p, nil
	}
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return "", 0, fmt.Errorf("missing port in address: %s", addr)
	}
	host = addr[:idx]
	p, perr := strconv.Atoi(addr[idx+1:])
	if perr != nil {
		return "", 0, fmt.Errorf("malformed port in address %s: %w", addr, perr)
	}
	return host, p, nil
}
