package server

import (
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Option is a functional option for configuring an FTP server.
type Option func(*Server) error

// WithMembership sets the authentication backend. Required.
func WithMembership(m Membership) Option {
	return func(s *Server) error {
		if s.membership != nil {
			return fmt.Errorf("membership already set")
		}
		s.membership = m
		return nil
	}
}

// WithFileSystem sets the storage backend. Required.
func WithFileSystem(p FileSystemProvider) Option {
	return func(s *Server) error {
		if s.fsProvider != nil {
			return fmt.Errorf("file system already set")
		}
		s.fsProvider = p
		return nil
	}
}

// WithHandlerSources adds command sources to the built-in ones. A source
// that registers an existing command name makes NewServer fail.
func WithHandlerSources(sources ...HandlerSource) Option {
	return func(s *Server) error {
		s.sources = append(s.sources, sources...)
		return nil
	}
}

// WithDisableCommands removes commands from the registry, for example
// server.WriteCommands for a read-only server.
func WithDisableCommands(names ...string) Option {
	return func(s *Server) error {
		s.disabled = append(s.disabled, names...)
		return nil
	}
}

// WithTLS enables explicit FTPS (AUTH TLS, PBSZ, PROT).
//
//	cert, _ := tls.LoadX509KeyPair("server.crt", "server.key")
//	s, _ := server.NewServer(":21",
//	    server.WithMembership(m),
//	    server.WithFileSystem(fs),
//	    server.WithTLS(&tls.Config{
//	        Certificates: []tls.Certificate{cert},
//	        MinVersion:   tls.VersionTLS12,
//	    }),
//	)
func WithTLS(config *tls.Config) Option {
	return func(s *Server) error {
		s.tlsConfig = config
		return nil
	}
}

// WithImplicitTLS wraps every listener in TLS (legacy FTPS, port 990).
// Sessions start with PROT P.
func WithImplicitTLS(config *tls.Config) Option {
	return func(s *Server) error {
		if config == nil {
			return fmt.Errorf("implicit TLS requires a TLS configuration")
		}
		s.tlsConfig = config
		s.implicitTLS = true
		return nil
	}
}

// WithLogger sets the logger. If not specified, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger == nil {
			return fmt.Errorf("logger must not be nil")
		}
		s.logger = logger
		return nil
	}
}

// WithTracerProvider records a span per dispatched command.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) error {
		s.tracer = tp.Tracer("github.com/gonzalop/ftpd/server")
		return nil
	}
}

// WithWelcomeMessage sets the 220 banner.
func WithWelcomeMessage(msg string) Option {
	return func(s *Server) error {
		s.welcomeMessage = msg
		return nil
	}
}

// WithDefaultCharset sets the charset used until the client sends
// OPTS UTF8 ON, and restored by OPTS UTF8 OFF.
func WithDefaultCharset(cs *Charset) Option {
	return func(s *Server) error {
		if cs == nil {
			return fmt.Errorf("charset must not be nil")
		}
		s.defaultCharset = cs
		return nil
	}
}

// WithMaxIdleTime sets how long a control connection may wait for the next
// command. If not specified, defaults to 5 minutes.
func WithMaxIdleTime(d time.Duration) Option {
	return func(s *Server) error {
		s.maxIdleTime = d
		return nil
	}
}

// WithReadTimeout sets a read deadline for control and data connections. It
// takes precedence over the idle time when both are set.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) error {
		s.readTimeout = d
		return nil
	}
}

// WithWriteTimeout sets a write deadline for replies and data connections.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) error {
		s.writeTimeout = d
		return nil
	}
}

// WithDataTimeout bounds how long a transfer waits for the data connection
// to be accepted or dialed. Defaults to 30 seconds.
func WithDataTimeout(d time.Duration) Option {
	return func(s *Server) error {
		s.dataTimeout = d
		return nil
	}
}

// WithShutdownTimeout sets the grace period of Shutdown. Zero means the
// context passed to Shutdown is the only bound.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) error {
		if d < 0 {
			return fmt.Errorf("shutdown timeout must not be negative")
		}
		s.shutdownTimeout = d
		return nil
	}
}

// WithMaxConnections limits simultaneous control connections in total and
// per client IP. Zero means no limit. Rejected clients receive 421.
func WithMaxConnections(total, perIP int) Option {
	return func(s *Server) error {
		if total < 0 || perIP < 0 {
			return fmt.Errorf("connection limits must not be negative")
		}
		s.maxConnections = total
		s.maxConnectionsPerIP = perIP
		return nil
	}
}

// WithPassivePorts restricts passive listeners to a port range.
func WithPassivePorts(r PortRange) Option {
	return func(s *Server) error {
		if err := r.Validate(); err != nil {
			return err
		}
		s.ports = &portAllocator{ports: r}
		return nil
	}
}

// WithPublicHost sets the host or IPv4 address advertised in PASV replies,
// for servers behind NAT.
func WithPublicHost(host string) Option {
	return func(s *Server) error {
		s.publicHost = host
		return nil
	}
}

// WithMetrics sets a metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(s *Server) error {
		s.metricsCollector = m
		return nil
	}
}

// WithTransferLog writes an xferlog line for every completed transfer.
func WithTransferLog(w io.Writer) Option {
	return func(s *Server) error {
		s.transferLog = w
		return nil
	}
}

// WithPathRedactor rewrites paths before they are logged.
func WithPathRedactor(fn PathRedactor) Option {
	return func(s *Server) error {
		s.pathRedactor = fn
		return nil
	}
}

// WithRedactIPs masks client addresses in logs.
func WithRedactIPs(enable bool) Option {
	return func(s *Server) error {
		s.redactIPs = enable
		return nil
	}
}

// WithBandwidthLimit limits data transfers, in bytes per second, across the
// whole server and per session. Zero means unlimited.
func WithBandwidthLimit(global, perUser int64) Option {
	return func(s *Server) error {
		if global < 0 || perUser < 0 {
			return fmt.Errorf("bandwidth limits must not be negative")
		}
		s.bandwidthLimitGlobal = global
		s.bandwidthLimitPerUser = perUser
		return nil
	}
}
