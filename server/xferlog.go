package server

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// logTransfer appends one wu-ftpd style xferlog line to the transfer log:
//
//	current-time transfer-time remote-host bytes filename transfer-type
//	special-action direction access-mode username service auth-method
//	auth-user-id completion-status
func (s *Session) logTransfer(op, path string, bytes int64, duration time.Duration, completed bool) {
	if s.server.transferLog == nil {
		return
	}

	direction := "o"
	switch op {
	case "STOR", "APPE", "STOU":
		direction = "i"
	case "RETR":
	default:
		// Listings are not file transfers.
		return
	}

	transferType := "b"
	if s.transferType == "A" {
		transferType = "a"
	}
	access := "r"
	if s.identity != nil && s.identity.Anonymous {
		access = "a"
	}
	status := "i"
	if completed {
		status = "c"
	}

	line := fmt.Sprintf("%s %d %s %d %s %s _ %s %s %s ftp 0 * %s\n",
		time.Now().Format("Mon Jan _2 15:04:05 2006"),
		int64(math.Max(1, math.Round(duration.Seconds()))),
		s.server.redactIP(s.remoteIP),
		bytes,
		strings.ReplaceAll(s.absPath(path), " ", "_"),
		transferType,
		direction,
		access,
		s.user,
		status,
	)
	if _, err := s.server.transferLog.Write([]byte(line)); err != nil {
		s.logger.Warn("transfer_log_write_failed", "error", err)
	}
}

// absPath resolves path against the working directory.
func (s *Session) absPath(p string) string {
	if strings.HasPrefix(p, "/") || s.fs == nil {
		return s.server.redactPath(p)
	}
	wd := s.fs.Getwd()
	if !strings.HasSuffix(wd, "/") {
		wd += "/"
	}
	return s.server.redactPath(wd + p)
}
