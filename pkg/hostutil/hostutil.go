// Package hostutil validates host and host:port strings before they are
// baked into stream URLs or handed to the media server.
package hostutil

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"unicode"
)

// ValidateHost accepts an IPv4/IPv6 literal or an RFC 1123 hostname.
func ValidateHost(raw string) error {
	switch {
	case looksLikeIPv4(raw):
		if ip := net.ParseIP(raw); ip == nil || ip.To4() == nil {
			return fmt.Errorf("bad IP: '%s'", raw)
		}
	case strings.Contains(raw, ":"):
		if ip := net.ParseIP(strings.Trim(raw, "[]")); ip == nil {
			return fmt.Errorf("bad IPv6: '%s'", raw)
		}
	default:
		if !validHostname(raw) {
			return fmt.Errorf("bad hostname: '%s'", raw)
		}
	}
	return nil
}

// ValidatePort accepts a TCP/UDP port in [1, 65535].
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("bad port: %d", port)
	}
	return nil
}

// ValidateHostPort accepts "host:port" where host passes ValidateHost and
// port passes ValidatePort.
func ValidateHostPort(raw string) error {
	host, portStr, err := net.SplitHostPort(raw)
	if err != nil {
		return fmt.Errorf("bad host:port: '%s'", raw)
	}
	if err := ValidateHost(host); err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("bad port: '%s'", portStr)
	}
	return ValidatePort(port)
}

// looksLikeIPv4 checks if raw looks like a dotted quad.
func looksLikeIPv4(raw string) bool {
	parts := strings.Split(raw, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" {
			return false
		}
		for _, r := range p {
			if !unicode.IsDigit(r) {
				return false
			}
		}
	}
	return true
}

// validHostname checks DNS label rules (RFC 1123).
func validHostname(raw string) bool {
	if len(raw) < 1 || len(raw) > 253 {
		return false
	}
	for _, label := range strings.Split(raw, ".") {
		if len(label) < 1 || len(label) > 63 {
			return false
		}
		for i, r := range label {
			if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-') {
				return false
			}
			if (i == 0 || i == len(label)-1) && r == '-' {
				return false
			}
		}
	}
	return true
}
