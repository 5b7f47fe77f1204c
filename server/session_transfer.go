package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// openData establishes the negotiated data connection, sends the 150
// preliminary reply and then secures the connection when PROT P is set.
func (s *Session) openData(ctx context.Context, preliminary string) (net.Conn, error) {
	mode := s.data.Mode()
	if mode == "" {
		return nil, ErrNoDataConnection
	}

	conn, err := s.data.Await(ctx)
	if err != nil {
		s.logger.Warn("data_connection_failed", "user", s.user, "mode", mode, "error", err)
		return nil, &ReplyError{Code: 425, Message: "Can't open data connection.", Err: err}
	}

	// Clients start the TLS handshake on the data connection only once
	// they have seen the preliminary reply.
	if err := s.Reply(150, preliminary); err != nil {
		conn.Close()
		return nil, err
	}

	conn, err = s.wrapDataConn(ctx, conn)
	if err != nil {
		s.logger.Warn("data_connection_failed", "user", s.user, "mode", mode, "error", err)
		return nil, &ReplyError{Code: 425, Message: "Can't open data connection.", Err: err}
	}
	return conn, nil
}

func (s *Session) wrapDataConn(ctx context.Context, conn net.Conn) (net.Conn, error) {
	if s.prot == "P" {
		// RFC 4217: the FTP server acts as the TLS server on data
		// connections too.
		tlsConn := tls.Server(conn, s.server.tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		conn = tlsConn
	}

	if s.server.readTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.server.readTimeout))
	}
	if s.server.writeTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.server.writeTimeout))
	}
	return conn, nil
}

// transfer hands a fresh data connection to run, then logs and records the
// outcome. The data connection is closed before the final reply is
// sent.
func (s *Session) transfer(ctx context.Context, op, path, preliminary string, run func(ctx context.Context, conn net.Conn) (int64, error)) (Reply, error) {
	conn, err := s.openData(ctx, preliminary)
	if err != nil {
		return Reply{}, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	start := time.Now()
	n, err := run(ctx, conn)
	duration := time.Since(start)
	if err != nil {
		s.logger.Warn("transfer_aborted",
			"user", s.user,
			"operation", op,
			"path", s.redactPath(path),
			"bytes", n,
			"error", err,
		)
		s.logTransfer(op, path, n, duration, false)
		return Reply{Code: 426, Message: "Connection closed; transfer aborted."}, nil
	}

	throughputMBps := float64(0)
	if duration.Seconds() > 0 {
		throughputMBps = float64(n) / duration.Seconds() / 1024 / 1024
	}
	s.logger.Info("transfer_complete",
		"user", s.user,
		"host", s.host,
		"operation", op,
		"path", s.redactPath(path),
		"bytes", n,
		"duration_ms", duration.Milliseconds(),
		"throughput_mbps", fmt.Sprintf("%.2f", throughputMBps),
	)
	if s.server.metricsCollector != nil {
		s.server.metricsCollector.RecordTransfer(op, n, duration)
	}
	s.logTransfer(op, path, n, duration, true)

	return Reply{Code: 226, Message: "Transfer complete."}, nil
}

// takeRestart returns and clears the REST offset.
func (s *Session) takeRestart() int64 {
	offset := s.restartOffset
	s.restartOffset = 0
	return offset
}

func (s *Session) handleRETR(ctx context.Context, path string) (Reply, error) {
	offset := s.takeRestart()
	if path == "" {
		return Reply{Code: 501, Message: "Syntax error in parameters or arguments."}, nil
	}

	info, err := s.fs.Stat(path)
	if err != nil {
		return Reply{}, err
	}
	if info.IsDir() {
		return Reply{Code: 550, Message: "Not a regular file."}, nil
	}

	file, err := s.fs.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return Reply{}, err
	}
	defer file.Close()

	msg := "Opening data connection for RETR."
	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			return Reply{}, err
		}
		msg = fmt.Sprintf("Opening data connection for RETR (restarting at %d).", offset)
	}

	return s.transfer(ctx, "RETR", path, msg, func(ctx context.Context, conn net.Conn) (int64, error) {
		var src io.Reader = file
		if s.transferType == "A" {
			src = asciiDownload(src)
		}
		return io.Copy(s.rateLimitWriter(ctx, conn), src)
	})
}

func (s *Session) handleSTOR(ctx context.Context, path string) (Reply, error) {
	offset := s.takeRestart()
	if path == "" {
		return Reply{Code: 501, Message: "Syntax error in parameters or arguments."}, nil
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if offset > 0 {
		flags = os.O_WRONLY | os.O_CREATE
	}
	file, err := s.fs.OpenFile(path, flags, 0o644)
	if err != nil {
		return Reply{}, err
	}
	defer file.Close()

	if offset > 0 {
		if _, err := file.Seek(offset, io.SeekStart); err != nil {
			return Reply{}, err
		}
	}

	return s.store(ctx, "STOR", path, file, "Opening data connection for STOR.")
}

func (s *Session) handleAPPE(ctx context.Context, path string) (Reply, error) {
	s.restartOffset = 0
	if path == "" {
		return Reply{Code: 501, Message: "Syntax error in parameters or arguments."}, nil
	}

	file, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return Reply{}, err
	}
	defer file.Close()

	return s.store(ctx, "APPE", path, file, "Opening data connection for APPE.")
}

func (s *Session) handleSTOU(ctx context.Context, _ string) (Reply, error) {
	s.restartOffset = 0
	name := "ftp-" + uuid.NewString()

	file, err := s.fs.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return Reply{}, err
	}
	defer file.Close()

	reply, err := s.store(ctx, "STOU", name, file, "FILE: "+name)
	if err == nil && reply.Code == 226 {
		reply.Message = "Transfer complete (unique file name: " + name + ")."
	}
	return reply, err
}

func (s *Session) store(ctx context.Context, op, path string, file File, preliminary string) (Reply, error) {
	return s.transfer(ctx, op, path, preliminary, func(ctx context.Context, conn net.Conn) (int64, error) {
		var src io.Reader = s.rateLimitReader(ctx, conn)
		if s.transferType == "A" {
			src = asciiUpload(src)
		}
		return io.Copy(file, src)
	})
}

// handleABOR has nothing to interrupt: transfers run to completion before
// the next command is read. It drops any pending negotiation.
func (s *Session) handleABOR(_ context.Context, _ string) (Reply, error) {
	_ = s.data.Close()
	s.restartOffset = 0
	return Reply{Code: 226, Message: "ABOR command successful; no transfer in progress."}, nil
}

func (s *Session) handleTYPE(_ context.Context, arg string) (Reply, error) {
	switch strings.ToUpper(strings.Join(strings.Fields(arg), " ")) {
	case "A", "A N":
		s.transferType = "A"
		return Reply{Code: 200, Message: "Type set to A."}, nil
	case "I", "L 8":
		s.transferType = "I"
		return Reply{Code: 200, Message: "Type set to I."}, nil
	}
	return Reply{Code: 504, Message: "Type not supported."}, nil
}

func (s *Session) handleREST(_ context.Context, arg string) (Reply, error) {
	offset, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || offset < 0 {
		return Reply{Code: 501, Message: "Invalid offset."}, nil
	}
	s.restartOffset = offset
	return Reply{Code: 350, Message: fmt.Sprintf("Restarting at %d. Send STOR or RETR to initiate transfer.", offset)}, nil
}

func (s *Session) handlePASV(_ context.Context, _ string) (Reply, error) {
	addr, err := s.data.EnterPassive()
	if err != nil {
		s.logger.Warn("passive_listen_failed", "error", err)
		return Reply{Code: 425, Message: "Can't open passive connection."}, nil
	}

	octets := []string{"0", "0", "0", "0"}
	if ip := s.passiveIP(); ip != nil {
		octets = strings.Split(ip.String(), ".")
	}
	p1, p2 := addr.Port/256, addr.Port%256
	return Reply{Code: 227, Message: fmt.Sprintf("Entering Passive Mode (%s,%d,%d).", strings.Join(octets, ","), p1, p2)}, nil
}

// passiveIP returns the IPv4 address to advertise in a PASV reply: the
// public host when configured, otherwise the local end of the control
// connection.
func (s *Session) passiveIP() net.IP {
	s.mu.Lock()
	host := remoteHost(s.conn.LocalAddr())
	s.mu.Unlock()

	if s.server.publicHost != "" {
		host = s.server.publicHost
	}

	if ip := net.ParseIP(host); ip != nil {
		return ip.To4()
	}
	if host == s.lastPublicHost && s.resolvedIP != nil {
		return s.resolvedIP
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		s.logger.Warn("public_host_lookup_failed", "host", host, "error", err)
		return nil
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			s.lastPublicHost = host
			s.resolvedIP = v4
			return v4
		}
	}
	return nil
}

func (s *Session) handleEPSV(_ context.Context, arg string) (Reply, error) {
	switch strings.ToUpper(strings.TrimSpace(arg)) {
	case "", "1", "2":
	case "ALL":
		return Reply{Code: 200, Message: "EPSV ALL ok."}, nil
	default:
		return Reply{Code: 522, Message: "Network protocol not supported, use (1,2)."}, nil
	}

	addr, err := s.data.EnterPassive()
	if err != nil {
		s.logger.Warn("passive_listen_failed", "error", err)
		return Reply{Code: 425, Message: "Can't open passive connection."}, nil
	}
	return Reply{Code: 229, Message: fmt.Sprintf("Entering Extended Passive Mode (|||%d|)", addr.Port)}, nil
}

func (s *Session) handlePORT(_ context.Context, arg string) (Reply, error) {
	// h1,h2,h3,h4,p1,p2
	parts := strings.Split(strings.TrimSpace(arg), ",")
	if len(parts) != 6 {
		return Reply{Code: 501, Message: "Syntax error in parameters or arguments."}, nil
	}

	p1, err1 := strconv.Atoi(parts[4])
	p2, err2 := strconv.Atoi(parts[5])
	if err1 != nil || err2 != nil || p1 < 0 || p1 > 255 || p2 < 0 || p2 > 255 || p1*256+p2 == 0 {
		return Reply{Code: 501, Message: "Invalid port number."}, nil
	}

	ip := net.ParseIP(strings.Join(parts[:4], "."))
	if ip == nil {
		return Reply{Code: 501, Message: "Invalid IP address."}, nil
	}

	return s.enterActive("PORT", ip, p1*256+p2)
}

func (s *Session) handleEPRT(_ context.Context, arg string) (Reply, error) {
	// <d><proto><d><addr><d><port><d>
	if len(arg) < 4 {
		return Reply{Code: 501, Message: "Syntax error in parameters or arguments."}, nil
	}
	parts := strings.Split(arg, arg[:1])
	if len(parts) != 5 {
		return Reply{Code: 501, Message: "Syntax error in parameters or arguments."}, nil
	}
	proto, ipStr, portStr := parts[1], parts[2], parts[3]

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return Reply{Code: 501, Message: "Invalid network address."}, nil
	}
	switch {
	case proto != "1" && proto != "2":
		return Reply{Code: 522, Message: "Network protocol not supported, use (1,2)."}, nil
	case proto == "1" && ip.To4() == nil:
		return Reply{Code: 522, Message: "Network protocol not supported, use (2)."}, nil
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Reply{Code: 501, Message: "Invalid port number."}, nil
	}

	return s.enterActive("EPRT", ip, port)
}

func (s *Session) enterActive(verb string, ip net.IP, port int) (Reply, error) {
	if !s.validateActiveIP(ip) {
		s.logger.Warn("bounce_attempt_blocked", "user", s.user, "target", ip.String())
		return Reply{Code: 500, Message: "Illegal " + verb + " command."}, nil
	}
	if err := s.data.EnterActive(&net.TCPAddr{IP: ip, Port: port}); err != nil {
		s.logger.Debug("active mode rejected", "error", err)
		return Reply{Code: 501, Message: "Invalid port number."}, nil
	}
	return Reply{Code: 200, Message: verb + " command successful."}, nil
}
