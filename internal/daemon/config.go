// Package daemon wires configuration, the audit logger, the ledger
// store, and the HTTP server into a running process.
package daemon

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config is the full daemon configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Audit   AuditConfig   `toml:"audit"`
	Reports ReportsConfig `toml:"reports"`
	Metrics MetricsConfig `toml:"metrics"`
	Log     LogConfig     `toml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// AuditConfig controls the durable audit trail.
type AuditConfig struct {
	Path    string `toml:"path"`
	Service string `toml:"service"`
}

// ReportsConfig controls the offline analyzer's outputs.
type ReportsConfig struct {
	Dir    string `toml:"dir"`
	DBPath string `toml:"db_path"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// LogConfig controls operational (not audit) logging.
type LogConfig struct {
	Level  string `toml:"level"`  // trace, debug, info, warn, error
	Format string `toml:"format"` // console, json
}

// DefaultConfig returns the configuration used when no file or
// environment override is present.
func DefaultConfig() Config {
	return Config{
		Server:  ServerConfig{Host: "127.0.0.1", Port: 8000},
		Audit:   AuditConfig{Path: "logs/logs.jsonl", Service: "ledgerd"},
		Reports: ReportsConfig{Dir: "reports", DBPath: "reports/events.db"},
		Metrics: MetricsConfig{Enabled: true},
		Log:     LogConfig{Level: "info", Format: "console"},
	}
}

// Load builds the configuration: defaults, then the TOML file at path
// (if non-empty), then LEDGERD_* environment variables. A .env file in
// the working directory is folded into the environment first.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	// Missing .env is fine.
	_ = godotenv.Load()
	applyEnv(&cfg)

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return Config{}, fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	if cfg.Audit.Path == "" {
		return Config{}, fmt.Errorf("audit path must not be empty")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("LEDGERD_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("LEDGERD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LEDGERD_AUDIT_PATH"); v != "" {
		cfg.Audit.Path = v
	}
	if v := os.Getenv("LEDGERD_SERVICE"); v != "" {
		cfg.Audit.Service = v
	}
	if v := os.Getenv("LEDGERD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LEDGERD_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// Addr returns the host:port the server binds to.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
