// Package config is loom's environment-driven configuration, grounded on
// indigo-web-indigo's own config package for field naming and nesting, and
// on absmach-mproxy for loading it via caarlos0/env plus an optional .env
// file via joho/godotenv.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// NET holds the listener and per-connection tuning spec.md's design notes
// call out: buffer sizing, timeouts, and the handful of limits that guard
// against a misbehaving or hostile peer. ReadTimeout and IdleTimeout are not
// passed to the connection core, which applies its own fixed 30s and 90s
// read deadlines.
type NET struct {
	Addr           string        `env:"LOOM_ADDR" envDefault:":8080"`
	ReadBufferSize int           `env:"LOOM_READ_BUFFER_SIZE" envDefault:"4096"`
	ReadTimeout    time.Duration `env:"LOOM_READ_TIMEOUT" envDefault:"30s"`
	IdleTimeout    time.Duration `env:"LOOM_IDLE_TIMEOUT" envDefault:"90s"`
	MaxBodyBytes   int64         `env:"LOOM_MAX_BODY_BYTES" envDefault:"4194304"`
}

// TLS holds the optional HTTPS listener settings, mirroring the shape
// indigo-web-indigo's https.go config section uses for cert/key paths and
// auto-cert.
type TLS struct {
	Enabled     bool     `env:"LOOM_TLS_ENABLED" envDefault:"false"`
	CertFile    string   `env:"LOOM_TLS_CERT_FILE"`
	KeyFile     string   `env:"LOOM_TLS_KEY_FILE"`
	AutoCert    bool     `env:"LOOM_TLS_AUTOCERT" envDefault:"false"`
	AutoCertDir string   `env:"LOOM_TLS_AUTOCERT_DIR" envDefault:".autocert"`
	Domains     []string `env:"LOOM_TLS_DOMAINS" envSeparator:","`
}

// Log controls the ambient slog setup.
type Log struct {
	Level  string `env:"LOOM_LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOOM_LOG_FORMAT" envDefault:"text"` // "text" or "json"
}

// Metrics controls the Prometheus exposition endpoint.
type Metrics struct {
	Enabled bool   `env:"LOOM_METRICS_ENABLED" envDefault:"true"`
	Addr    string `env:"LOOM_METRICS_ADDR" envDefault:":9090"`
}

// SafeMode toggles the four recover() boundaries spec.md §4.5 describes. It
// defaults on, matching the original's production-safe default.
type Config struct {
	NET      NET
	TLS      TLS
	Log      Log
	Metrics  Metrics
	SafeMode bool `env:"LOOM_SAFE_MODE" envDefault:"true"`
}

// Default returns a Config populated entirely from envDefault tags, as if
// no environment variables were set.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads .env (if present, ignoring a missing file) and then populates
// Config from the process environment, env vars taking precedence over
// anything .env set.
func Load(dotenvPath string) (*Config, error) {
	if dotenvPath != "" {
		_ = godotenv.Load(dotenvPath)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
