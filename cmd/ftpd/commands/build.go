package commands

import (
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/trace"

	"github.com/gonzalop/ftpd/filesystem"
	"github.com/gonzalop/ftpd/internal/config"
	"github.com/gonzalop/ftpd/membership"
	"github.com/gonzalop/ftpd/server"
)

// deployment is everything a running ftpd owns besides the server itself.
type deployment struct {
	server *server.Server
	store  *membership.Store

	closers []io.Closer
}

func (d *deployment) Close() error {
	var first error
	for _, c := range d.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// newDeployment builds the FTP server described by cfg. extra options are
// applied after the ones derived from cfg.
func newDeployment(cfg *config.Config, log *slog.Logger, tp trace.TracerProvider, extra ...server.Option) (*deployment, error) {
	store, err := membership.NewStore(cfg.Users...)
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}

	fsProvider, err := newFileSystem(cfg.Filesystem)
	if err != nil {
		return nil, err
	}

	charset, err := server.LookupCharset(cfg.Server.Charset)
	if err != nil {
		return nil, err
	}

	d := &deployment{store: store}
	opts := []server.Option{
		server.WithMembership(newMembership(cfg, store)),
		server.WithFileSystem(fsProvider),
		server.WithLogger(log),
		server.WithTracerProvider(tp),
		server.WithDefaultCharset(charset),
		server.WithMaxIdleTime(cfg.Server.IdleTimeout),
		server.WithReadTimeout(cfg.Server.ReadTimeout),
		server.WithWriteTimeout(cfg.Server.WriteTimeout),
		server.WithDataTimeout(cfg.Server.DataTimeout),
		server.WithShutdownTimeout(cfg.ShutdownTimeout),
		server.WithMaxConnections(cfg.Server.MaxConnections, cfg.Server.MaxConnectionsPerIP),
		server.WithPassivePorts(cfg.Server.PassivePorts),
		server.WithPublicHost(cfg.Server.PublicHost),
		server.WithRedactIPs(cfg.Server.RedactIPs),
		server.WithBandwidthLimit(int64(cfg.Server.BandwidthLimit), int64(cfg.Server.BandwidthLimitPerUser)),
		server.WithDisableCommands(cfg.Server.DisableCommands...),
	}
	if cfg.Server.Welcome != "" {
		opts = append(opts, server.WithWelcomeMessage(cfg.Server.Welcome))
	}

	if cfg.TLS.Enabled {
		tlsConfig, err := loadTLS(cfg.TLS)
		if err != nil {
			return nil, err
		}
		if cfg.TLS.Implicit {
			opts = append(opts, server.WithImplicitTLS(tlsConfig))
		} else {
			opts = append(opts, server.WithTLS(tlsConfig))
		}
	}

	if cfg.Server.TransferLog != "" {
		f, err := os.OpenFile(cfg.Server.TransferLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, fmt.Errorf("failed to open transfer log: %w", err)
		}
		d.closers = append(d.closers, f)
		opts = append(opts, server.WithTransferLog(f))
	}

	srv, err := server.NewServer(cfg.Server.Address, append(opts, extra...)...)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	d.server = srv
	return d, nil
}

// newMembership tries anonymous logins first, then the user store.
func newMembership(cfg *config.Config, store *membership.Store) server.Membership {
	var chain membership.Chain
	if cfg.Anonymous.Enabled {
		policy := membership.NoValidation
		if cfg.Anonymous.RequireEmail {
			policy = membership.EmailValidation
		}
		chain = append(chain, membership.NewAnonymous(
			membership.WithPasswordPolicy(policy),
			membership.WithAnonymousWrite(cfg.Anonymous.Writable),
			membership.WithAnonymousHome(cfg.Anonymous.Home),
		))
	}
	return append(chain, store)
}

func newFileSystem(cfg config.FilesystemConfig) (server.FileSystemProvider, error) {
	opts := []filesystem.Option{filesystem.WithCreateHome(cfg.CreateHome)}
	switch cfg.Type {
	case "memory":
		return filesystem.NewMemoryProvider(opts...), nil
	case "os", "":
		p, err := filesystem.NewOSProvider(cfg.Root, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to open filesystem root: %w", err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown filesystem type %q", cfg.Type)
}

func loadTLS(cfg config.TLSConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
