package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

func (s *Session) handlePWD(_ context.Context, _ string) (Reply, error) {
	return Reply{Code: 257, Message: fmt.Sprintf("%s is the current directory.", quotePath(s.fs.Getwd()))}, nil
}

func (s *Session) handleCWD(_ context.Context, path string) (Reply, error) {
	if path == "" {
		return Reply{Code: 501, Message: "Syntax error in parameters or arguments."}, nil
	}
	if err := s.fs.ChangeDir(path); err != nil {
		return Reply{}, err
	}
	return Reply{Code: 250, Message: "Directory successfully changed."}, nil
}

func (s *Session) handleCDUP(ctx context.Context, _ string) (Reply, error) {
	return s.handleCWD(ctx, "..")
}

func (s *Session) handleMKD(_ context.Context, path string) (Reply, error) {
	if path == "" {
		return Reply{Code: 501, Message: "Syntax error in parameters or arguments."}, nil
	}
	if err := s.fs.MakeDir(path); err != nil {
		return Reply{}, err
	}
	s.logger.Info("directory_created", "user", s.user, "host", s.host, "path", s.redactPath(path))
	return Reply{Code: 257, Message: quotePath(path) + " created."}, nil
}

func (s *Session) handleRMD(_ context.Context, path string) (Reply, error) {
	if path == "" {
		return Reply{Code: 501, Message: "Syntax error in parameters or arguments."}, nil
	}
	if err := s.fs.RemoveDir(path); err != nil {
		return Reply{}, err
	}
	s.logger.Info("directory_removed", "user", s.user, "host", s.host, "path", s.redactPath(path))
	return Reply{Code: 250, Message: "Directory removed."}, nil
}

func (s *Session) handleDELE(_ context.Context, path string) (Reply, error) {
	if path == "" {
		return Reply{Code: 501, Message: "Syntax error in parameters or arguments."}, nil
	}
	if err := s.fs.Remove(path); err != nil {
		return Reply{}, err
	}
	s.logger.Info("file_deleted", "user", s.user, "host", s.host, "path", s.redactPath(path))
	return Reply{Code: 250, Message: "File deleted."}, nil
}

func (s *Session) handleRNFR(_ context.Context, path string) (Reply, error) {
	s.renameFrom = ""
	if path == "" {
		return Reply{Code: 501, Message: "Syntax error in parameters or arguments."}, nil
	}
	if _, err := s.fs.Stat(path); err != nil {
		return Reply{}, err
	}
	s.renameFrom = path
	return Reply{Code: 350, Message: "Requested file action pending further information."}, nil
}

func (s *Session) handleRNTO(_ context.Context, path string) (Reply, error) {
	from := s.renameFrom
	s.renameFrom = ""
	if from == "" {
		return Reply{Code: 503, Message: "Bad sequence of commands. Send RNFR first."}, nil
	}
	if path == "" {
		return Reply{Code: 501, Message: "Syntax error in parameters or arguments."}, nil
	}
	if err := s.fs.Rename(from, path); err != nil {
		return Reply{}, err
	}
	s.logger.Info("file_renamed", "user", s.user, "host", s.host, "from", s.redactPath(from), "to", s.redactPath(path))
	return Reply{Code: 250, Message: "Requested file action successful, file renamed."}, nil
}

// listPath strips ls-style options ("-la", "-a") that many clients send
// with LIST and NLST.
func listPath(arg string) string {
	arg = strings.TrimSpace(arg)
	for strings.HasPrefix(arg, "-") {
		_, rest, _ := strings.Cut(arg, " ")
		arg = strings.TrimSpace(rest)
	}
	return arg
}

// listTarget returns the entries to list for path. A path naming a file
// lists that file alone.
func (s *Session) listTarget(path string) ([]os.FileInfo, error) {
	if path != "" {
		info, err := s.fs.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			return []os.FileInfo{info}, nil
		}
	}
	return s.fs.ReadDir(path)
}

func (s *Session) handleLIST(ctx context.Context, arg string) (Reply, error) {
	path := listPath(arg)
	entries, err := s.listTarget(path)
	if err != nil {
		return Reply{}, err
	}

	now := time.Now()
	return s.transfer(ctx, "LIST", path, "Here comes the directory listing.", func(_ context.Context, conn net.Conn) (int64, error) {
		return s.writeLines(conn, entries, func(fi os.FileInfo) string { return formatListLine(fi, now) })
	})
}

func (s *Session) handleNLST(ctx context.Context, arg string) (Reply, error) {
	path := listPath(arg)
	entries, err := s.listTarget(path)
	if err != nil {
		return Reply{}, err
	}

	return s.transfer(ctx, "NLST", path, "Here comes the file list.", func(_ context.Context, conn net.Conn) (int64, error) {
		return s.writeLines(conn, entries, os.FileInfo.Name)
	})
}

// writeLines writes one CRLF-terminated line per entry, encoded with the
// session charset.
func (s *Session) writeLines(conn net.Conn, entries []os.FileInfo, format func(os.FileInfo) string) (int64, error) {
	var total int64
	for _, entry := range entries {
		n, err := conn.Write(s.charset.Encode(format(entry) + "\r\n"))
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// formatListLine renders a Unix ls -l style line. Entries older than six
// months show the year instead of the time.
func formatListLine(fi os.FileInfo, now time.Time) string {
	mod := fi.ModTime()
	stamp := mod.Format("Jan _2 15:04")
	if now.Sub(mod) > 180*24*time.Hour || mod.After(now.Add(time.Hour)) {
		stamp = mod.Format("Jan _2  2006")
	}
	return fmt.Sprintf("%s 1 ftp ftp %12d %s %s", fi.Mode().String(), fi.Size(), stamp, fi.Name())
}

// quotePath quotes a path for 257 replies, doubling embedded quotes
// (RFC 959 appendix II).
func quotePath(path string) string {
	return `"` + strings.ReplaceAll(path, `"`, `""`) + `"`
}
