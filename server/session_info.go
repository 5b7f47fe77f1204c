package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"
)

const mdtmLayout = "20060102150405"

func (s *Session) handleSIZE(_ context.Context, p string) (Reply, error) {
	info, err := s.fs.Stat(p)
	if err != nil {
		return Reply{Code: 550, Message: "Could not get file size."}, nil
	}
	if info.IsDir() {
		return Reply{Code: 550, Message: "Not a regular file."}, nil
	}
	return Reply{Code: 213, Message: strconv.FormatInt(info.Size(), 10)}, nil
}

// handleMDTM replies with the modification time in UTC (RFC 3659 2.3).
func (s *Session) handleMDTM(_ context.Context, p string) (Reply, error) {
	info, err := s.fs.Stat(p)
	if err != nil {
		return Reply{Code: 550, Message: "Could not get file modification time."}, nil
	}
	return Reply{Code: 213, Message: info.ModTime().UTC().Format(mdtmLayout)}, nil
}

func (s *Session) handleMFMT(_ context.Context, arg string) (Reply, error) {
	stamp, p, ok := strings.Cut(arg, " ")
	if !ok || p == "" {
		return Reply{Code: 501, Message: "Syntax error in parameters or arguments."}, nil
	}
	t, err := time.Parse(mdtmLayout, stamp)
	if err != nil {
		return Reply{Code: 501, Message: "Invalid time format."}, nil
	}
	if err := s.fs.Chtimes(p, t); err != nil {
		return Reply{}, err
	}
	return Reply{Code: 213, Message: fmt.Sprintf("Modify=%s; %s", stamp, p)}, nil
}

// handleFEAT advertises the features of the registered commands.
func (s *Session) handleFEAT(_ context.Context, _ string) (Reply, error) {
	var features []string
	for _, e := range s.server.registry.Entries() {
		if e.RequiresTLS && s.server.tlsConfig == nil {
			continue
		}
		features = append(features, e.Features...)
	}
	slices.Sort(features)
	features = slices.Compact(features)
	return Reply{Code: 211, Message: "Features:", Lines: features}, nil
}

// handleOPTS supports OPTS UTF8 (RFC 2640) and OPTS MLST.
func (s *Session) handleOPTS(_ context.Context, arg string) (Reply, error) {
	name, value, _ := strings.Cut(strings.TrimSpace(arg), " ")
	switch strings.ToUpper(name) {
	case "UTF8", "UTF-8":
		switch strings.ToUpper(strings.TrimSpace(value)) {
		case "", "ON":
			s.SetCharset(UTF8)
			return Reply{Code: 200, Message: "UTF8 mode enabled."}, nil
		case "OFF":
			s.SetCharset(s.server.defaultCharset)
			return Reply{Code: 200, Message: "UTF8 mode disabled, using " + s.server.defaultCharset.Name() + "."}, nil
		}
		return Reply{Code: 501, Message: "Option not understood."}, nil
	case "MLST":
		return Reply{Code: 200, Message: "MLST OPTS type;size;modify;"}, nil
	}
	return Reply{Code: 501, Message: "Option not understood."}, nil
}

func (s *Session) handleMLSD(ctx context.Context, p string) (Reply, error) {
	info, err := s.fs.Stat(p)
	if err != nil {
		return Reply{}, err
	}
	if !info.IsDir() {
		return Reply{Code: 501, Message: "Not a directory."}, nil
	}
	entries, err := s.fs.ReadDir(p)
	if err != nil {
		return Reply{}, err
	}

	return s.transfer(ctx, "MLSD", p, "MLSD listing started.", func(_ context.Context, conn net.Conn) (int64, error) {
		return s.writeLines(conn, entries, func(fi os.FileInfo) string { return mlEntry(fi, fi.Name()) })
	})
}

func (s *Session) handleMLST(_ context.Context, p string) (Reply, error) {
	info, err := s.fs.Stat(p)
	if err != nil {
		return Reply{Code: 550, Message: "Could not get file info."}, nil
	}
	name := p
	if name == "" {
		name = s.fs.Getwd()
	} else if !strings.HasPrefix(name, "/") {
		name = path.Join(s.fs.Getwd(), name)
	}
	return Reply{Code: 250, Message: "Listing follows", Lines: []string{mlEntry(info, name)}}, nil
}

// mlEntry formats an RFC 3659 fact line: type=file;size=123;modify=...; name
func mlEntry(info os.FileInfo, name string) string {
	t := "file"
	if info.IsDir() {
		t = "dir"
	}
	return fmt.Sprintf("type=%s;size=%d;modify=%s; %s", t, info.Size(), info.ModTime().UTC().Format(mdtmLayout), name)
}
