package server

import (
	"context"
	"strings"
)

// handleAUTH starts the RFC 4217 TLS upgrade. The handshake itself runs in
// the read loop once the 234 reply has been flushed.
func (s *Session) handleAUTH(_ context.Context, arg string) (Reply, error) {
	if s.tlsActive {
		return Reply{Code: 503, Message: "Already using TLS."}, nil
	}
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "TLS", "TLS-C", "SSL":
	default:
		return Reply{Code: 504, Message: "Only AUTH TLS is supported."}, nil
	}

	s.startTLS = true
	return Reply{Code: 234, Message: "AUTH TLS successful."}, nil
}

// handlePBSZ accepts only a zero buffer size, which is all TLS needs.
func (s *Session) handlePBSZ(_ context.Context, arg string) (Reply, error) {
	if !s.tlsActive {
		return Reply{Code: 503, Message: "PBSZ requires AUTH TLS first."}, nil
	}
	if strings.TrimSpace(arg) != "0" {
		return Reply{Code: 200, Message: "PBSZ=0"}, nil
	}
	return Reply{Code: 200, Message: "PBSZ=0 OK."}, nil
}

func (s *Session) handlePROT(_ context.Context, arg string) (Reply, error) {
	if !s.tlsActive {
		return Reply{Code: 503, Message: "PROT requires AUTH TLS first."}, nil
	}
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "P":
		s.prot = "P"
		return Reply{Code: 200, Message: "PROT P OK."}, nil
	case "C":
		s.prot = "C"
		return Reply{Code: 200, Message: "PROT C OK."}, nil
	case "S", "E":
		return Reply{Code: 536, Message: "Requested PROT level not supported."}, nil
	}
	return Reply{Code: 504, Message: "PROT not implemented for that parameter."}, nil
}
