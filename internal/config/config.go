// Package config loads relay configuration from an optional TOML file with
// environment variable overrides.
package config

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	env "github.com/Netflix/go-env"
)

// Config holds everything the relay needs at startup. Defaults apply first,
// then the TOML file when given, then the environment.
type Config struct {
	ListenAddr   string        `env:"LISTEN_ADDR" toml:"listen_addr"`
	PingInterval time.Duration `env:"PING_INTERVAL" toml:"ping_interval"`
	SpamRate     int           `env:"SPAM_RATE" toml:"spam_rate"`

	// OriginPatterns are case-insensitive regular expressions matched against
	// the Origin header of incoming connections. Which front-end hosts are
	// allowed is deployment configuration, not part of the relay contract.
	// The environment form is a comma-separated list.
	OriginPatterns    []string `toml:"origin_patterns"`
	OriginPatternsEnv string   `env:"ORIGIN_PATTERNS" toml:"-"`

	AdmissionRate  float64 `env:"ADMISSION_RATE" toml:"admission_rate"`
	AdmissionBurst int     `env:"ADMISSION_BURST" toml:"admission_burst"`

	TLSCertFile string `env:"TLS_CERT_FILE" toml:"tls_cert_file"`
	TLSKeyFile  string `env:"TLS_KEY_FILE" toml:"tls_key_file"`

	LogLevel string `env:"LOG_LEVEL" toml:"log_level"`
	LogFile  string `env:"LOG_FILE" toml:"log_file"`
}

// DefaultOriginPatterns allows the hosting domains the stock front end is
// published on, plus local development servers.
func DefaultOriginPatterns() []string {
	return []string{
		`^https?://([^.]+\.github\.io|[^.]+\.pages\.dev|localhost:8080|localhost:8001)`,
	}
}

func defaults() *Config {
	return &Config{
		ListenAddr:     ":8001",
		PingInterval:   30 * time.Second,
		SpamRate:       5,
		AdmissionBurst: 16,
		LogLevel:       "info",
	}
}

// Load builds the configuration. path may be empty; environment variables
// always win over file values.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	if _, err := env.UnmarshalFromEnviron(cfg); err != nil {
		return nil, fmt.Errorf("config environment: %w", err)
	}
	if cfg.OriginPatternsEnv != "" {
		cfg.OriginPatterns = cfg.OriginPatterns[:0]
		for _, p := range strings.Split(cfg.OriginPatternsEnv, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.OriginPatterns = append(cfg.OriginPatterns, p)
			}
		}
	}
	if len(cfg.OriginPatterns) == 0 {
		cfg.OriginPatterns = DefaultOriginPatterns()
	}
	return cfg, nil
}

// CheckOrigin compiles the configured origin patterns into an admission
// predicate. Requests without an Origin header are refused.
func (c *Config) CheckOrigin() (func(r *http.Request) bool, error) {
	patterns := make([]*regexp.Regexp, 0, len(c.OriginPatterns))
	for _, p := range c.OriginPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("origin pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return false
		}
		for _, re := range patterns {
			if re.MatchString(origin) {
				return true
			}
		}
		return false
	}, nil
}
