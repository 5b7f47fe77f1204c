package server

import (
	"net"
	"strings"
	"time"
)

// PathRedactor rewrites paths before they are logged.
type PathRedactor func(path string) string

// MetricsCollector receives server events. Methods are called on the
// session goroutine and must not block.
type MetricsCollector interface {
	// RecordCommand is called after every dispatched command with the
	// upper-cased verb and the final reply code.
	RecordCommand(cmd string, code int, duration time.Duration)

	// RecordTransfer is called after a completed data transfer.
	// operation is the transfer verb (RETR, STOR, APPE, STOU, LIST, ...).
	RecordTransfer(operation string, bytes int64, duration time.Duration)

	// RecordConnection is called for every accepted socket. reason is
	// "accepted", "global_limit_reached" or "per_ip_limit_reached".
	RecordConnection(accepted bool, reason string)

	// RecordAuthentication is called after every PASS.
	RecordAuthentication(success bool, user string)

	// SessionStarted and SessionEnded bracket every control connection
	// that passed the connection limits.
	SessionStarted()
	SessionEnded()
}

func (s *Server) redactPath(path string) string {
	if s.pathRedactor == nil {
		return path
	}
	return s.pathRedactor(path)
}

// redactIP masks the host part of an address when IP redaction is on:
// the last octet of IPv4 and the last four groups of IPv6.
func (s *Server) redactIP(ip string) string {
	if !s.redactIPs {
		return ip
	}
	parsed := net.ParseIP(ip)
	switch {
	case parsed == nil:
		return "xxx"
	case parsed.To4() != nil:
		parts := strings.Split(parsed.To4().String(), ".")
		parts[3] = "xxx"
		return strings.Join(parts, ".")
	}
	full := parsed.To16()
	groups := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		if i >= 4 {
			groups = append(groups, "xxxx")
			continue
		}
		groups = append(groups, strings.TrimLeft(hex4(full[2*i], full[2*i+1]), "0"))
	}
	for i, g := range groups {
		if g == "" {
			groups[i] = "0"
		}
	}
	return strings.Join(groups, ":")
}

func hex4(hi, lo byte) string {
	const digits = "0123456789abcdef"
	return string([]byte{digits[hi>>4], digits[hi&0x0f], digits[lo>>4], digits[lo&0x0f]})
}
