package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gonzalop/ftpd/internal/ratelimit"
)

// MaxCommandLength is the maximum length of a command line.
const MaxCommandLength = 4096

// SessionState is the protocol state of a control connection.
type SessionState int

const (
	StateUnauthenticated SessionState = iota
	StateAnonymous
	StateAuthenticated
	StateTLSNegotiating
	StateClosed
)

func (st SessionState) String() string {
	switch st {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	case StateTLSNegotiating:
		return "tls-negotiating"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is the state of one control connection.
//
// A session is driven by a single goroutine that reads, decodes and
// dispatches commands strictly one at a time. Handlers run on that
// goroutine and may use the session freely; other goroutines must not.
type Session struct {
	server *Server
	id     string
	logger *slog.Logger

	remoteIP string

	// mu guards conn and writer, which the shutdown path touches from other
	// goroutines.
	mu     sync.Mutex
	conn   net.Conn
	writer *bufio.Writer
	tnet   *telnetReader

	decoder  *CommandDecoder
	charset  *Charset
	handlers map[string]Handler

	state    SessionState
	user     string
	identity *Identity
	fs       FileSystem
	host     string

	transferType  string
	prot          string
	tlsActive     bool
	restartOffset int64
	renameFrom    string
	data          *DataConnection
	userLimiter   *ratelimit.Limiter

	// Set by handlers, acted on by the read loop after the reply is sent.
	quit     bool
	startTLS bool

	lastPublicHost string
	resolvedIP     net.IP
}

func newSession(server *Server, conn net.Conn) *Session {
	id := uuid.NewString()
	ip := remoteHost(conn.RemoteAddr())

	s := &Session{
		server:       server,
		id:           id,
		remoteIP:     ip,
		conn:         conn,
		writer:       bufio.NewWriter(conn),
		tnet:         newTelnetReader(conn),
		charset:      server.defaultCharset,
		handlers:     make(map[string]Handler),
		transferType: "I",
		prot:         "C",
		data:         newDataConnection(server.ports, server.dataTimeout),
		userLimiter:  ratelimit.New(server.bandwidthLimitPerUser),
	}
	s.logger = server.logger.With("session_id", id, "remote_ip", server.redactIP(ip))
	s.decoder = NewCommandDecoder(s.Charset)

	if _, ok := conn.(*tls.Conn); ok {
		s.tlsActive = true
		s.prot = "P"
	}
	return s
}

// ID returns the unique session identifier used in logs.
func (s *Session) ID() string { return s.id }

// Logger returns the session logger.
func (s *Session) Logger() *slog.Logger { return s.logger }

// RemoteIP returns the client address without port.
func (s *Session) RemoteIP() string { return s.remoteIP }

// User returns the name sent with USER.
func (s *Session) User() string { return s.user }

// Identity returns the authenticated identity, or nil before login.
func (s *Session) Identity() *Identity { return s.identity }

// State returns the protocol state.
func (s *Session) State() SessionState { return s.state }

// LoggedIn reports whether the session passed PASS.
func (s *Session) LoggedIn() bool {
	return s.state == StateAnonymous || s.state == StateAuthenticated
}

// Charset returns the charset used for the next command and reply.
func (s *Session) Charset() *Charset { return s.charset }

// SetCharset switches the charset. Commands already framed but not yet
// dispatched are decoded with the new charset.
func (s *Session) SetCharset(cs *Charset) {
	if cs != nil {
		s.charset = cs
	}
}

// FileSystem returns the user's file system, or nil before login.
func (s *Session) FileSystem() FileSystem { return s.fs }

// Data returns the data connection coordinator of the session.
func (s *Session) Data() *DataConnection { return s.data }

// TLSActive reports whether the control connection is encrypted.
func (s *Session) TLSActive() bool { return s.tlsActive }

// Server returns the owning server.
func (s *Session) Server() *Server { return s.server }

// Reply writes a reply immediately. Handlers use it for preliminary replies
// such as 150; the final reply is returned from Handle.
func (s *Session) Reply(code int, message string) error {
	return s.writeReply(Reply{Code: code, Message: message})
}

func (s *Session) writeReply(r Reply) error {
	if r.Code == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server.writeTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.server.writeTimeout))
	}
	if _, err := s.writer.Write(s.charset.Encode(r.String())); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	if err := s.writer.Flush(); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	return nil
}

func (s *Session) sendWelcome() error {
	msg := s.server.welcomeMessage
	if strings.HasPrefix(msg, "220") {
		msg = strings.TrimSpace(msg[3:])
	}
	return s.Reply(220, msg)
}

// serve runs the read loop until the client quits, the connection fails or
// the server shuts down.
//
// Bytes read from the socket are framed at once, but each line is decoded
// just before it is dispatched, with the charset current at that moment.
// drain stops the loop from taking new commands; kill closes the socket.
func (s *Session) serve(drain, kill context.Context) {
	defer s.close()

	stopKill := context.AfterFunc(kill, s.closeConn)
	defer stopKill()
	stopDrain := context.AfterFunc(drain, s.interrupt)
	defer stopDrain()

	s.logger.Info("session_started")
	if err := s.sendWelcome(); err != nil {
		return
	}

	buf := make([]byte, 4096)
	var queue [][]byte
	for {
		for len(queue) > 0 {
			if drain.Err() != nil {
				s.goodbye()
				return
			}
			line := queue[0]
			queue = queue[1:]

			if err := s.dispatch(kill, line); err != nil {
				if !isConnClosed(err) {
					s.logger.Warn("session_aborted", "user", s.user, "error", err)
				}
				return
			}
			if s.quit {
				return
			}
			if s.startTLS {
				s.startTLS = false
				if err := s.upgradeTLS(kill, len(queue)); err != nil {
					s.logger.Warn("tls_handshake_failed", "error", err)
					return
				}
				queue = nil
			}
		}

		s.setReadDeadline()
		if drain.Err() != nil {
			s.goodbye()
			return
		}

		n, err := s.tnet.Read(buf)
		if n > 0 {
			for _, frame := range s.decoder.Frames(buf[:n]) {
				if len(frame) > MaxCommandLength {
					_ = s.Reply(500, "Command line too long.")
					return
				}
				queue = append(queue, frame)
			}
			if s.decoder.Buffered() > MaxCommandLength {
				_ = s.Reply(500, "Command line too long.")
				return
			}
		}
		if err != nil {
			s.readFailed(drain, err)
			return
		}
	}
}

func (s *Session) setReadDeadline() {
	var deadline time.Time
	switch {
	case s.server.readTimeout > 0:
		deadline = time.Now().Add(s.server.readTimeout)
	case s.server.maxIdleTime > 0:
		deadline = time.Now().Add(s.server.maxIdleTime)
	}
	s.mu.Lock()
	_ = s.conn.SetReadDeadline(deadline)
	s.mu.Unlock()
}

func (s *Session) readFailed(drain context.Context, err error) {
	var ne net.Error
	switch {
	case drain.Err() != nil:
		s.goodbye()
	case isConnClosed(err):
	case errors.As(err, &ne) && ne.Timeout():
		s.logger.Info("session_idle_timeout", "user", s.user)
		_ = s.Reply(421, "Timeout.")
	default:
		s.logger.Warn("read error", "user", s.user, "error", err)
	}
}

// goodbye tells the client the server is going away.
func (s *Session) goodbye() {
	_ = s.Reply(421, "Service closing control connection.")
}

// interrupt unblocks a pending read so the loop notices the drain.
func (s *Session) interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetReadDeadline(time.Now())
}

func (s *Session) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.Close()
}

func (s *Session) close() {
	if err := s.data.Close(); err != nil {
		s.logger.Debug("closing data connection", "error", err)
	}
	if s.fs != nil {
		if err := s.fs.Close(); err != nil {
			s.logger.Debug("closing file system", "error", err)
		}
		s.fs = nil
	}
	s.closeConn()
	s.state = StateClosed

	s.logger.Debug("session closed", "user", s.user)
}

// dispatch decodes and runs a single framed line. A returned error is fatal
// for the session.
func (s *Session) dispatch(ctx context.Context, line []byte) error {
	start := time.Now()

	cmd, err := s.decoder.Decode(line)
	if err != nil {
		s.logger.Warn("command_decode_failed", "charset", s.charset.Name(), "bytes", len(line), "error", err)
		return s.finish("INVALID", start, Reply{Code: 501, Message: "Syntax error: command is not valid " + s.charset.Name() + "."})
	}

	verb := cmd.Verb()
	logArg := cmd.Argument
	if verb == "PASS" {
		logArg = "***"
	}
	s.logger.Debug("command received", "user", s.user, "cmd", verb, "arg", logArg)

	entry, ok := s.server.registry.Lookup(verb)
	switch {
	case !ok:
		return s.finish("UNKNOWN", start, Reply{Code: 500, Message: "Command not recognized."})
	case entry.RequiresTLS && s.server.tlsConfig == nil:
		return s.finish(verb, start, Reply{Code: 502, Message: "TLS not configured."})
	case !entry.Public && !s.LoggedIn():
		return s.finish(verb, start, Reply{Code: 530, Message: "Please login with USER and PASS."})
	}

	ctx, span := s.server.tracer.Start(ctx, "ftp."+verb,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("ftp.command", verb),
			attribute.String("ftp.session_id", s.id),
		),
	)
	defer span.End()

	reply, err := s.runHandler(ctx, entry, cmd.Argument)
	if err != nil {
		span.RecordError(err)
		if isTransportError(err) {
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		reply = replyForError(err)
		s.logger.Debug("command failed", "user", s.user, "cmd", verb, "code", reply.Code, "error", err)
	}
	span.SetAttributes(attribute.Int("ftp.reply_code", reply.Code))
	return s.finish(verb, start, reply)
}

// runHandler calls the handler for entry. A panic is logged with its stack
// and turned into an error so the session keeps serving.
func (s *Session) runHandler(ctx context.Context, entry Entry, arg string) (reply Reply, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler_panic", "user", s.user, "cmd", entry.Name, "panic", r, "stack", string(debug.Stack()))
			reply, err = Reply{}, fmt.Errorf("ftp: %s handler panicked: %v", entry.Name, r)
		}
	}()
	return s.handlerFor(entry).Handle(ctx, s, arg)
}

func (s *Session) finish(verb string, start time.Time, reply Reply) error {
	err := s.writeReply(reply)
	if s.server.metricsCollector != nil && reply.Code != 0 {
		s.server.metricsCollector.RecordCommand(verb, reply.Code, time.Since(start))
	}
	return err
}

// handlerFor returns the session's handler for entry, creating it on first
// use.
func (s *Session) handlerFor(entry Entry) Handler {
	h, ok := s.handlers[entry.Name]
	if !ok {
		h = entry.Factory()
		s.handlers[entry.Name] = h
	}
	return h
}

// upgradeTLS wraps the control connection after a 234 reply. Plaintext that
// arrived after the AUTH command is discarded so it cannot be replayed as if
// it had been sent over TLS.
func (s *Session) upgradeTLS(ctx context.Context, queued int) error {
	if dropped := s.decoder.Reset() + s.tnet.Buffered(); dropped > 0 || queued > 0 {
		s.logger.Warn("tls_upgrade_discarded", "bytes", dropped, "commands", queued)
	}

	prev := s.state
	s.state = StateTLSNegotiating

	s.mu.Lock()
	tlsConn := tls.Server(s.conn, s.server.tlsConfig)
	s.conn = tlsConn
	s.writer.Reset(tlsConn)
	s.mu.Unlock()
	s.tnet.Reset(tlsConn)

	hsCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	err := tlsConn.HandshakeContext(hsCtx)
	s.state = prev
	if err != nil {
		return &TransportError{Op: "tls handshake", Err: err}
	}

	s.tlsActive = true
	st := tlsConn.ConnectionState()
	s.logger.Info("tls_established", "version", tls.VersionName(st.Version), "cipher", tls.CipherSuiteName(st.CipherSuite))
	return nil
}

// validateActiveIP ensures the data connection target matches the control
// connection peer, preventing FTP bounce attacks.
func (s *Session) validateActiveIP(ip net.IP) bool {
	remote := net.ParseIP(s.remoteIP)
	return remote != nil && ip.Equal(remote)
}

func (s *Session) rateLimitReader(ctx context.Context, r io.Reader) io.Reader {
	return ratelimit.NewReader(ctx, r, s.userLimiter, s.server.globalLimiter)
}

func (s *Session) rateLimitWriter(ctx context.Context, w io.Writer) io.Writer {
	return ratelimit.NewWriter(ctx, w, s.userLimiter, s.server.globalLimiter)
}

func (s *Session) redactPath(path string) string {
	return s.server.redactPath(path)
}
