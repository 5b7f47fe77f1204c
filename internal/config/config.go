// Package config loads the ftpd configuration file.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (FTPD_*)
//  2. Configuration file
//  3. Default values
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/gonzalop/ftpd/internal/logger"
	"github.com/gonzalop/ftpd/internal/telemetry"
	"github.com/gonzalop/ftpd/membership"
	"github.com/gonzalop/ftpd/server"
)

// EnvPrefix prefixes every environment override, e.g. FTPD_SERVER_ADDRESS.
const EnvPrefix = "FTPD"

// Config is the complete ftpd configuration.
type Config struct {
	Logging   logger.Config    `mapstructure:"logging" yaml:"logging"`
	Telemetry telemetry.Config `mapstructure:"telemetry" yaml:"telemetry"`
	Metrics   MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`

	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	TLS        TLSConfig        `mapstructure:"tls" yaml:"tls"`
	Filesystem FilesystemConfig `mapstructure:"filesystem" yaml:"filesystem"`
	Anonymous  AnonymousConfig  `mapstructure:"anonymous" yaml:"anonymous"`

	// Users are the accounts of the bcrypt credential store.
	Users []membership.User `mapstructure:"users" yaml:"users,omitempty" validate:"dive"`

	// ShutdownTimeout bounds how long sessions may drain on shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
}

// ServerConfig configures the FTP listener and sessions.
type ServerConfig struct {
	Address      string           `mapstructure:"address" yaml:"address" validate:"required"`
	PublicHost   string           `mapstructure:"public_host" yaml:"public_host,omitempty"`
	PassivePorts server.PortRange `mapstructure:"passive_ports" yaml:"passive_ports,omitempty"`
	Charset      string           `mapstructure:"charset" yaml:"charset" validate:"required"`
	Welcome      string           `mapstructure:"welcome" yaml:"welcome,omitempty"`

	MaxConnections      int `mapstructure:"max_connections" yaml:"max_connections" validate:"gte=0"`
	MaxConnectionsPerIP int `mapstructure:"max_connections_per_ip" yaml:"max_connections_per_ip" validate:"gte=0"`

	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"gte=0"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout,omitempty" validate:"gte=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout,omitempty" validate:"gte=0"`
	DataTimeout  time.Duration `mapstructure:"data_timeout" yaml:"data_timeout" validate:"gte=0"`

	// Bandwidth limits in bytes per second, e.g. "10MB". Zero is unlimited.
	BandwidthLimit        ByteSize `mapstructure:"bandwidth_limit" yaml:"bandwidth_limit,omitempty"`
	BandwidthLimitPerUser ByteSize `mapstructure:"bandwidth_limit_per_user" yaml:"bandwidth_limit_per_user,omitempty"`

	DisableCommands []string `mapstructure:"disable_commands" yaml:"disable_commands,omitempty"`
	TransferLog     string   `mapstructure:"transfer_log" yaml:"transfer_log,omitempty"`
	RedactIPs       bool     `mapstructure:"redact_ips" yaml:"redact_ips,omitempty"`
}

// TLSConfig enables AUTH TLS, or implicit FTPS when Implicit is set.
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	CertFile string `mapstructure:"cert_file" yaml:"cert_file,omitempty" validate:"required_if=Enabled true"`
	KeyFile  string `mapstructure:"key_file" yaml:"key_file,omitempty" validate:"required_if=Enabled true"`
	Implicit bool   `mapstructure:"implicit" yaml:"implicit,omitempty"`
}

// FilesystemConfig selects the storage served to users.
type FilesystemConfig struct {
	Type       string `mapstructure:"type" yaml:"type" validate:"oneof=os memory"`
	Root       string `mapstructure:"root" yaml:"root,omitempty" validate:"required_if=Type os"`
	CreateHome bool   `mapstructure:"create_home" yaml:"create_home,omitempty"`
}

// AnonymousConfig configures anonymous logins.
type AnonymousConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	Writable     bool   `mapstructure:"writable" yaml:"writable,omitempty"`
	Home         string `mapstructure:"home" yaml:"home,omitempty"`
	RequireEmail bool   `mapstructure:"require_email" yaml:"require_email,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address" validate:"required_if=Enabled true"`
}

// ByteSize is a size in bytes that reads and writes as "10 MB" or "1 GiB".
type ByteSize uint64

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *ByteSize) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" {
		*b = 0
		return nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", s, err)
	}
	*b = ByteSize(n)
	return nil
}

// Load reads the configuration at path, applies environment overrides and
// defaults, and validates the result. An empty path loads defaults and
// environment only.
func Load(path string) (*Config, error) {
	v := newViper(path)

	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
	}
	return v
}

func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		intToByteSizeHook(),
	)
}

// intToByteSizeHook lets YAML numbers decode into ByteSize.
func intToByteSizeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case int:
			return ByteSize(v), nil
		case int64:
			return ByteSize(v), nil
		case float64:
			return ByteSize(v), nil
		}
		return data, nil
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks cfg against its struct tags and cross-field rules.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if _, _, err := net.SplitHostPort(cfg.Server.Address); err != nil {
		return fmt.Errorf("server.address: %w", err)
	}
	if cfg.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Address); err != nil {
			return fmt.Errorf("metrics.address: %w", err)
		}
	}
	if err := cfg.Server.PassivePorts.Validate(); err != nil {
		return err
	}
	if _, err := server.LookupCharset(cfg.Server.Charset); err != nil {
		return fmt.Errorf("server.charset: %w", err)
	}
	if !cfg.Anonymous.Enabled && len(cfg.Users) == 0 {
		return errors.New("no way to log in: enable anonymous access or add users")
	}
	if cfg.TLS.Implicit && !cfg.TLS.Enabled {
		return errors.New("tls.implicit requires tls.enabled")
	}
	return nil
}

// Save writes cfg as YAML. The file is created with 0600 permissions since
// it may contain password hashes.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Watch reloads the file at path whenever it changes and passes every valid
// result to onChange. Invalid edits are reported to onError and otherwise
// ignored. Watching stops when the process exits.
func Watch(path string, onChange func(*Config), onError func(error)) error {
	if path == "" {
		return errors.New("no config file to watch")
	}
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := Load(path)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}
