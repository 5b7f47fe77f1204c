package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// setDefaults registers every key with viper so FTPD_* variables override
// it even when the config file does not mention it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4317")
	v.SetDefault("telemetry.insecure", true)
	v.SetDefault("telemetry.sample_rate", 1.0)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", ":9100")

	v.SetDefault("server.address", ":2121")
	v.SetDefault("server.public_host", "")
	v.SetDefault("server.passive_ports", "")
	v.SetDefault("server.charset", "UTF-8")
	v.SetDefault("server.welcome", "")
	v.SetDefault("server.max_connections", 0)
	v.SetDefault("server.max_connections_per_ip", 0)
	v.SetDefault("server.idle_timeout", "5m")
	v.SetDefault("server.read_timeout", "0s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.data_timeout", "30s")
	v.SetDefault("server.bandwidth_limit", "")
	v.SetDefault("server.bandwidth_limit_per_user", "")
	v.SetDefault("server.disable_commands", []string{})
	v.SetDefault("server.transfer_log", "")
	v.SetDefault("server.redact_ips", false)

	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")
	v.SetDefault("tls.implicit", false)

	v.SetDefault("filesystem.type", "os")
	v.SetDefault("filesystem.root", "")
	v.SetDefault("filesystem.create_home", false)

	v.SetDefault("anonymous.enabled", true)
	v.SetDefault("anonymous.writable", false)
	v.SetDefault("anonymous.home", "")
	v.SetDefault("anonymous.require_email", false)

	v.SetDefault("shutdown_timeout", "10s")
}

// ApplyDefaults fills zero values left by a sparse file and normalizes
// values.
func ApplyDefaults(cfg *Config) {
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	if cfg.Server.Address == "" {
		cfg.Server.Address = ":2121"
	}
	if cfg.Server.Charset == "" {
		cfg.Server.Charset = "UTF-8"
	}
	if cfg.Server.DataTimeout == 0 {
		cfg.Server.DataTimeout = 30 * time.Second
	}
	for i, name := range cfg.Server.DisableCommands {
		cfg.Server.DisableCommands[i] = strings.ToUpper(strings.TrimSpace(name))
	}

	if cfg.Filesystem.Type == "" {
		cfg.Filesystem.Type = "os"
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = ":9100"
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
}

// Default returns the configuration written by "ftpd init".
func Default() *Config {
	cfg := &Config{
		Server: ServerConfig{
			IdleTimeout: 5 * time.Minute,
		},
		Filesystem: FilesystemConfig{Type: "os", Root: "/srv/ftp"},
		Anonymous:  AnonymousConfig{Enabled: true},
	}
	ApplyDefaults(cfg)
	return cfg
}
