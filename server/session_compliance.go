package server

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// handleMODE handles the MODE command.
// RFC 1123 requires Stream mode support.
func (s *Session) handleMODE(_ context.Context, arg string) (Reply, error) {
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "S":
		return Reply{Code: 200, Message: "Mode set to Stream."}, nil
	case "B":
		return Reply{Code: 504, Message: "Block mode not implemented."}, nil
	case "C":
		return Reply{Code: 504, Message: "Compressed mode not implemented."}, nil
	}
	return Reply{Code: 504, Message: "Command not implemented for that parameter."}, nil
}

// handleSTRU handles the STRU command.
// RFC 1123 requires File structure support.
func (s *Session) handleSTRU(_ context.Context, arg string) (Reply, error) {
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "F":
		return Reply{Code: 200, Message: "Structure set to File."}, nil
	case "R":
		return Reply{Code: 504, Message: "Record structure not implemented."}, nil
	case "P":
		return Reply{Code: 504, Message: "Page structure not implemented."}, nil
	}
	return Reply{Code: 504, Message: "Command not implemented for that parameter."}, nil
}

// handleSYST reports the system type based on runtime.GOOS.
func (s *Session) handleSYST(_ context.Context, _ string) (Reply, error) {
	return Reply{Code: 215, Message: systemType(runtime.GOOS)}, nil
}

func systemType(goos string) string {
	switch goos {
	case "linux", "darwin", "freebsd", "openbsd", "netbsd", "dragonfly", "solaris", "illumos", "aix":
		return "UNIX Type: L8"
	case "windows":
		return "Windows_NT"
	case "plan9":
		return "Plan9"
	}
	return "UNKNOWN Type: L8"
}

// handleSTAT reports session status, or lists path over the control
// connection when one is given.
func (s *Session) handleSTAT(_ context.Context, arg string) (Reply, error) {
	if strings.TrimSpace(arg) != "" {
		if !s.LoggedIn() {
			return Reply{Code: 530, Message: "Please login with USER and PASS."}, nil
		}
		entries, err := s.listTarget(listPath(arg))
		if err != nil {
			return Reply{}, err
		}
		now := time.Now()
		lines := make([]string, 0, len(entries))
		for _, fi := range entries {
			lines = append(lines, formatListLine(fi, now))
		}
		return Reply{Code: 213, Message: "Status follows:", Lines: lines, Trailer: "End of status"}, nil
	}

	lines := []string{"Connected from " + s.server.redactIP(s.remoteIP)}
	if s.LoggedIn() {
		lines = append(lines, "Logged in as "+s.user)
	} else {
		lines = append(lines, "Not logged in")
	}
	typ := "BINARY"
	if s.transferType == "A" {
		typ = "ASCII"
	}
	lines = append(lines,
		fmt.Sprintf("TYPE: %s; STRUcture: File; transfer MODE: Stream", typ),
		"Control charset: "+s.charset.Name(),
	)
	if s.tlsActive {
		lines = append(lines, "Control connection is TLS protected, PROT "+s.prot)
	}
	switch s.data.Mode() {
	case "passive":
		lines = append(lines, "Passive mode pending")
	case "active":
		lines = append(lines, "Active mode pending")
	}
	return Reply{Code: 211, Message: "FTP server status:", Lines: lines, Trailer: "End of status"}, nil
}

// handleHELP lists the registered commands, or the help text of one.
func (s *Session) handleHELP(_ context.Context, arg string) (Reply, error) {
	if name := strings.TrimSpace(arg); name != "" {
		entry, ok := s.server.registry.Lookup(name)
		if !ok {
			return Reply{Code: 502, Message: "Unknown command " + strings.ToUpper(name) + "."}, nil
		}
		help := entry.Help
		if help == "" {
			help = "No help available."
		}
		return Reply{Code: 214, Message: "Syntax: " + entry.Name + " " + help}, nil
	}

	names := s.server.registry.Names()
	var lines []string
	for i := 0; i < len(names); i += 8 {
		lines = append(lines, strings.Join(names[i:min(i+8, len(names))], " "))
	}
	return Reply{Code: 214, Message: "The following commands are recognized:", Lines: lines, Trailer: "Help OK."}, nil
}

// handleSITE handles the SITE command.
// Provides server-specific commands (RFC 959).
func (s *Session) handleSITE(_ context.Context, arg string) (Reply, error) {
	parts := strings.Fields(arg)
	if len(parts) == 0 {
		return Reply{Code: 501, Message: "SITE command requires parameters."}, nil
	}

	switch strings.ToUpper(parts[0]) {
	case "HELP":
		return Reply{Code: 214, Message: "Available SITE commands: HELP, CHMOD"}, nil
	case "CHMOD":
		// SITE CHMOD <mode> <file>
		if len(parts) < 3 {
			return Reply{Code: 501, Message: "Syntax error in parameters or arguments."}, nil
		}
		mode, err := strconv.ParseUint(parts[1], 8, 32)
		if err != nil {
			return Reply{Code: 501, Message: "Invalid mode."}, nil
		}
		if mode > 0o777 {
			return Reply{Code: 501, Message: "Invalid mode: special bits not allowed."}, nil
		}
		path := strings.Join(parts[2:], " ")
		if err := s.fs.Chmod(path, os.FileMode(mode)); err != nil {
			return Reply{}, err
		}
		return Reply{Code: 200, Message: "SITE CHMOD command successful."}, nil
	}
	return Reply{Code: 502, Message: "SITE command not implemented."}, nil
}
