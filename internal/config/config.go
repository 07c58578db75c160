// Package config handles loading and persisting user configuration
// for reel. Configuration is stored in ~/.reel/config.yaml and can be
// overridden by environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arin/reel/internal/endpoint"
	"github.com/arin/reel/internal/readiness"
	"github.com/arin/reel/internal/transport"
)

const (
	dirName  = ".reel"
	fileName = "config.yaml"

	defaultTransport = string(transport.ModeStream)
	defaultLogLevel  = "warn"

	envKeyAPIURL       = "REEL_API_URL"
	envKeyFallbackURL  = "REEL_FALLBACK_URL"
	envKeyTransport    = "REEL_TRANSPORT"
	envKeyTMDBAPIKey   = "TMDB_API_KEY"
	envKeyPollInterval = "REEL_POLL_INTERVAL"
	envKeyLogLevel     = "REEL_LOG_LEVEL"
)

// Config holds the user's configuration.
type Config struct {
	// APIURL is the movie service address. Empty means the local default.
	// FallbackURL is tried when APIURL cannot be reached.
	APIURL          string `yaml:"api_url,omitempty"`
	FallbackURL     string `yaml:"fallback_url,omitempty"`
	Transport       string `yaml:"transport"`
	TMDBAPIKey      string `yaml:"tmdb_api_key,omitempty"`
	PollInterval    string `yaml:"poll_interval,omitempty"`
	MaxPollAttempts int    `yaml:"max_poll_attempts,omitempty"`
	LogLevel        string `yaml:"log_level"`
}

// ErrUnknownKey is returned by Set for keys Config does not have.
var ErrUnknownKey = errors.New("unknown config key")

// setters maps the keys accepted by Set to the field they write. Values are
// validated before anything is persisted.
var setters = map[string]func(*Config, string) error{
	"api_url": func(c *Config, v string) error {
		c.APIURL = v
		return nil
	},
	"fallback_url": func(c *Config, v string) error {
		c.FallbackURL = v
		return nil
	},
	"transport": func(c *Config, v string) error {
		m, err := transport.ParseMode(v)
		if err != nil {
			return err
		}
		c.Transport = string(m)
		return nil
	},
	"tmdb_api_key": func(c *Config, v string) error {
		c.TMDBAPIKey = v
		return nil
	},
	"poll_interval": func(c *Config, v string) error {
		if _, err := parseInterval(v); err != nil {
			return err
		}
		c.PollInterval = v
		return nil
	},
	"max_poll_attempts": func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > readiness.DefaultMaxAttempts {
			return fmt.Errorf("max_poll_attempts must be between 1 and %d, got %q", readiness.DefaultMaxAttempts, v)
		}
		c.MaxPollAttempts = n
		return nil
	},
	"log_level": func(c *Config, v string) error {
		c.LogLevel = strings.ToLower(v)
		return nil
	},
}

// Keys lists the keys accepted by Set.
func Keys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Dir returns the configuration directory path.
func Dir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, dirName)
}

// Path returns the configuration file path.
func Path() string {
	return filepath.Join(Dir(), fileName)
}

func defaults() *Config {
	return &Config{
		Transport: defaultTransport,
		LogLevel:  defaultLogLevel,
	}
}

// readFile loads the file over the defaults. A missing or unreadable file
// leaves the defaults in place.
func readFile() *Config {
	cfg := defaults()
	data, err := os.ReadFile(Path())
	if err == nil {
		_ = yaml.Unmarshal(data, cfg)
	}
	return cfg
}

// Load reads the configuration from disk and environment variables. A
// missing file is not an error.
func Load() (*Config, error) {
	cfg := readFile()

	if v := os.Getenv(envKeyAPIURL); v != "" {
		cfg.APIURL = v
	}
	if v := os.Getenv(envKeyFallbackURL); v != "" {
		cfg.FallbackURL = v
	}
	if v := os.Getenv(envKeyTransport); v != "" {
		cfg.Transport = v
	}
	if v := os.Getenv(envKeyTMDBAPIKey); v != "" {
		cfg.TMDBAPIKey = v
	}
	if v := os.Getenv(envKeyPollInterval); v != "" {
		cfg.PollInterval = v
	}
	if v := os.Getenv(envKeyLogLevel); v != "" {
		cfg.LogLevel = v
	}

	if cfg.Transport == "" {
		cfg.Transport = defaultTransport
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	return cfg, nil
}

// Set validates value, stores it under key and saves the file. Environment
// overrides are not written back.
func Set(key, value string) error {
	set, ok := setters[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return fmt.Errorf("%w %q (valid keys: %s)", ErrUnknownKey, key, strings.Join(Keys(), ", "))
	}
	cfg := readFile()
	if err := set(cfg, strings.TrimSpace(value)); err != nil {
		return err
	}
	return save(cfg)
}

// save persists the config to disk.
func save(cfg *Config) error {
	if err := os.MkdirAll(Dir(), 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(Path(), data, 0o600)
}

// Resolver builds the endpoint resolver for APIURL, falling back to
// FallbackURL or the local default.
func (c *Config) Resolver() *endpoint.Resolver {
	r := endpoint.NewResolver(c.APIURL)
	if c.FallbackURL != "" {
		r = r.WithFallback(c.FallbackURL)
	}
	return r
}

// Mode parses Transport.
func (c *Config) Mode() (transport.Mode, error) {
	return transport.ParseMode(c.Transport)
}

// GateOptions turns the polling settings into readiness options. Unset
// values keep the readiness defaults.
func (c *Config) GateOptions() ([]readiness.Option, error) {
	var opts []readiness.Option
	if c.PollInterval != "" {
		d, err := parseInterval(c.PollInterval)
		if err != nil {
			return nil, err
		}
		opts = append(opts, readiness.WithInterval(d))
	}
	if c.MaxPollAttempts > 0 {
		opts = append(opts, readiness.WithMaxAttempts(c.MaxPollAttempts))
	}
	return opts, nil
}

// parseInterval accepts a Go duration ("5s") or a bare number of seconds.
func parseInterval(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("poll_interval must be a positive duration like 5s, got %q", v)
	}
	return d, nil
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() Config {
	out := *c
	if n := len(out.TMDBAPIKey); n > 4 {
		out.TMDBAPIKey = strings.Repeat("*", n-4) + out.TMDBAPIKey[n-4:]
	} else if n > 0 {
		out.TMDBAPIKey = "****"
	}
	return out
}
