package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/gonzalop/ftpd/internal/ratelimit"
)

// Server is the FTP server.
//
// It accepts control connections and runs one Session per client in its own
// goroutine. Commands are routed through a Registry built from handler
// sources when the server is created.
//
// Lifecycle:
//  1. Create the server with NewServer()
//  2. Start it with ListenAndServe() or Serve()
//  3. Stop it with Shutdown() (graceful, bounded by the shutdown timeout)
//     or Close() (immediate)
//
// Basic example:
//
//	fs, err := filesystem.NewOSProvider("/srv/ftp")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	s, err := server.NewServer(":21",
//	    server.WithMembership(membership.NewAnonymous()),
//	    server.WithFileSystem(fs),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(s.ListenAndServe())
type Server struct {
	addr string

	registry   *Registry
	sources    []HandlerSource
	disabled   []string
	membership Membership
	fsProvider FileSystemProvider

	logger *slog.Logger
	tracer trace.Tracer

	// tlsConfig enables AUTH TLS. With implicitTLS the listener itself is
	// wrapped.
	tlsConfig   *tls.Config
	implicitTLS bool

	welcomeMessage string
	defaultCharset *Charset

	maxIdleTime  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
	dataTimeout  time.Duration

	// shutdownTimeout bounds how long Shutdown waits for in-flight commands.
	shutdownTimeout time.Duration

	maxConnections      int
	maxConnectionsPerIP int

	publicHost string
	ports      *portAllocator

	metricsCollector MetricsCollector
	transferLog      io.Writer
	pathRedactor     PathRedactor
	redactIPs        bool

	bandwidthLimitGlobal  int64
	bandwidthLimitPerUser int64
	globalLimiter         *ratelimit.Limiter

	activeConns atomic.Int32
	connsByIP   map[string]int32
	connsByIPMu sync.Mutex

	mu         sync.Mutex
	listeners  map[net.Listener]struct{}
	sessions   map[*Session]struct{}
	wg         sync.WaitGroup
	inShutdown atomic.Bool

	// drain stops sessions from reading further commands. kill closes
	// their sockets and cancels running transfers.
	drain       context.Context
	drainCancel context.CancelFunc
	kill        context.Context
	killCancel  context.CancelFunc
}

// NewServer creates an FTP server for addr (":port" or "host:port").
//
// WithMembership and WithFileSystem are required. The command registry is
// built from BuiltinCommands, SecurityCommands and any WithHandlerSources;
// a command registered twice makes NewServer fail.
//
// Default values:
//   - Logger: slog.Default()
//   - Charset: UTF-8
//   - MaxIdleTime: 5 minutes
//   - ShutdownTimeout: 10 seconds
//   - MaxConnections: 0 (unlimited)
//   - TLS: disabled
func NewServer(addr string, options ...Option) (*Server, error) {
	s := &Server{
		addr:            addr,
		logger:          slog.Default(),
		tracer:          noop.NewTracerProvider().Tracer("ftpd"),
		welcomeMessage:  "220 FTP Server Ready",
		defaultCharset:  UTF8,
		maxIdleTime:     5 * time.Minute,
		dataTimeout:     30 * time.Second,
		shutdownTimeout: 10 * time.Second,
		ports:           &portAllocator{},
		connsByIP:       make(map[string]int32),
		listeners:       make(map[net.Listener]struct{}),
		sessions:        make(map[*Session]struct{}),
	}
	s.drain, s.drainCancel = context.WithCancel(context.Background())
	s.kill, s.killCancel = context.WithCancel(context.Background())

	for _, opt := range options {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.membership == nil {
		return nil, fmt.Errorf("membership is required (use WithMembership option)")
	}
	if s.fsProvider == nil {
		return nil, fmt.Errorf("file system is required (use WithFileSystem option)")
	}
	if s.implicitTLS && s.tlsConfig == nil {
		return nil, fmt.Errorf("implicit TLS requires a TLS configuration")
	}

	sources := append([]HandlerSource{BuiltinCommands(), SecurityCommands()}, s.sources...)
	registry, err := NewRegistry(sources...)
	if err != nil {
		return nil, err
	}
	if err := registry.Remove(s.disabled...); err != nil {
		return nil, fmt.Errorf("disable commands: %w", err)
	}
	registry.Seal()
	s.registry = registry

	s.globalLimiter = ratelimit.New(s.bandwidthLimitGlobal)

	return s, nil
}

// Registry returns the sealed command registry of the server.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Addr returns the address of the first active listener, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ln := range s.listeners {
		return ln.Addr()
	}
	return nil
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe() error {
	if s.inShutdown.Load() {
		return ErrServerClosed
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.logger.Info("FTP server listening", "addr", ln.Addr().String(), "implicit_tls", s.implicitTLS)
	return s.Serve(ln)
}

// Serve accepts control connections on l until the server is shut down.
// It always closes l and returns ErrServerClosed after Shutdown or Close.
func (s *Server) Serve(l net.Listener) error {
	if s.implicitTLS {
		l = tls.NewListener(l, s.tlsConfig)
	}

	if !s.trackListener(l, true) {
		l.Close()
		return ErrServerClosed
	}
	defer s.trackListener(l, false)
	defer l.Close()

	var backoff time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if s.inShutdown.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
				s.logger.Warn("accept error", "error", err, "retry_in", backoff)
				time.Sleep(backoff)
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.logger.Error("accept error", "error", err)
			continue
		}
		backoff = 0

		s.mu.Lock()
		if s.inShutdown.Load() {
			s.mu.Unlock()
			conn.Close()
			return ErrServerClosed
		}
		s.wg.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) trackListener(l net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.inShutdown.Load() {
			return false
		}
		s.listeners[l] = struct{}{}
		return true
	}
	delete(s.listeners, l)
	return true
}

// Shutdown stops the server gracefully.
//
// Listeners are closed at once, so the port is released before Shutdown
// returns. Sessions stop reading new commands and are sent 421; commands
// already running may finish until the shutdown timeout expires or ctx is
// done, whichever comes first. Remaining sessions are then closed forcibly
// and Shutdown returns an error wrapping the context error.
//
// Shutdown never waits past ctx. A handler that ignores its context may
// still be running when Shutdown returns in that case.
func (s *Server) Shutdown(ctx context.Context) error {
	lnErr := s.beginShutdown()

	grace := ctx
	if s.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		grace, cancel = context.WithTimeout(ctx, s.shutdownTimeout)
		defer cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.killCancel()
		s.logger.Info("shutdown_complete")
		return lnErr
	case <-grace.Done():
	}

	s.logger.Warn("shutdown_forced", "sessions", s.ActiveSessions())
	s.killCancel()
	forced := fmt.Errorf("ftp: sessions closed forcibly: %w", grace.Err())
	select {
	case <-done:
		return errors.Join(lnErr, forced)
	case <-ctx.Done():
		s.logger.Error("shutdown_abandoned", "sessions", s.ActiveSessions())
		return errors.Join(lnErr, forced, fmt.Errorf("ftp: sessions still running: %w", ctx.Err()))
	}
}

// Close stops the server immediately, closing every listener, session and
// data connection.
func (s *Server) Close() error {
	err := s.beginShutdown()
	s.killCancel()
	s.wg.Wait()
	return err
}

func (s *Server) beginShutdown() error {
	s.mu.Lock()
	s.inShutdown.Store(true)
	listeners := make([]net.Listener, 0, len(s.listeners))
	for ln := range s.listeners {
		listeners = append(listeners, ln)
	}
	s.mu.Unlock()

	var errs []error
	for _, ln := range listeners {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	s.drainCancel()
	return errors.Join(errs...)
}

// ActiveSessions returns the number of sessions being served.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Serving reports whether at least one listener is accepting connections.
func (s *Server) Serving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners) > 0 && !s.inShutdown.Load()
}

func remoteHost(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// handleConnection applies the connection limits and runs a session.
func (s *Server) handleConnection(conn net.Conn) {
	ip := remoteHost(conn.RemoteAddr())

	if s.maxConnections > 0 && s.activeConns.Load() >= int32(s.maxConnections) {
		s.reject(conn, ip, "global_limit_reached", s.maxConnections, "421 Too many users, sorry.")
		return
	}
	if !s.acquireIP(ip) {
		s.reject(conn, ip, "per_ip_limit_reached", s.maxConnectionsPerIP, "421 Too many connections from your IP address.")
		return
	}
	defer s.releaseIP(ip)

	s.activeConns.Add(1)
	defer s.activeConns.Add(-1)

	if s.metricsCollector != nil {
		s.metricsCollector.RecordConnection(true, "accepted")
		s.metricsCollector.SessionStarted()
		defer s.metricsCollector.SessionEnded()
	}

	session := newSession(s, conn)

	s.mu.Lock()
	s.sessions[session] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, session)
		s.mu.Unlock()
	}()

	session.serve(s.drain, s.kill)
}

func (s *Server) reject(conn net.Conn, ip, reason string, limit int, reply string) {
	s.logger.Warn("connection_rejected",
		"remote_ip", s.redactIP(ip),
		"reason", reason,
		"limit", limit,
	)
	if s.metricsCollector != nil {
		s.metricsCollector.RecordConnection(false, reason)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, _ = io.WriteString(conn, reply+"\r\n")
	conn.Close()
}

func (s *Server) acquireIP(ip string) bool {
	if s.maxConnectionsPerIP <= 0 {
		return true
	}
	s.connsByIPMu.Lock()
	defer s.connsByIPMu.Unlock()
	if s.connsByIP[ip] >= int32(s.maxConnectionsPerIP) {
		return false
	}
	s.connsByIP[ip]++
	return true
}

func (s *Server) releaseIP(ip string) {
	if s.maxConnectionsPerIP <= 0 {
		return
	}
	s.connsByIPMu.Lock()
	defer s.connsByIPMu.Unlock()
	s.connsByIP[ip]--
	if s.connsByIP[ip] <= 0 {
		delete(s.connsByIP, ip)
	}
}
