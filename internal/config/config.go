// Package config loads the user's global docket configuration.
//
// The file lives at $XDG_CONFIG_HOME/docket/config.toml (or the platform
// equivalent) and may be overridden with DOCKET_CONFIG. A missing file
// means defaults. A few settings can also be overridden from the
// environment, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap/zapcore"

	"github.com/HendryAvila/docket/internal/cache"
	"github.com/HendryAvila/docket/internal/fetch"
	"github.com/HendryAvila/docket/internal/policy"
)

// Environment variables read by Load.
const (
	EnvConfig          = "DOCKET_CONFIG"
	EnvLogLevel        = "DOCKET_LOG_LEVEL"
	EnvCacheDir        = "DOCKET_CACHE_DIR"
	EnvCachePersistent = "DOCKET_CACHE_PERSISTENT"
)

// ─── Types ───────────────────────────────────────────────────────────────────

type Config struct {
	AllowedReadPaths []string    `toml:"allowed_read_paths"`
	HTTPS            HTTPSConfig `toml:"https"`
	Fetch            FetchConfig `toml:"fetch"`
	Cache            CacheConfig `toml:"cache"`
	Log              LogConfig   `toml:"log"`

	// Path is the file the config was read from, empty for defaults.
	Path string `toml:"-"`
}

type HTTPSConfig struct {
	Allowlist []string `toml:"allowlist"`
	Blocklist []string `toml:"blocklist"`
}

// FetchConfig holds fetcher tuning. Durations are written as Go duration
// strings ("250ms", "15s") and parsed into the typed fields by Load.
type FetchConfig struct {
	MaxAttempts       int     `toml:"max_attempts"`
	BackoffRaw        string  `toml:"backoff"`
	MaxBackoffRaw     string  `toml:"max_backoff"`
	AttemptTimeoutRaw string  `toml:"attempt_timeout"`
	ClientTimeoutRaw  string  `toml:"client_timeout"`
	MaxDocumentBytes  int64   `toml:"max_document_bytes"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Concurrency       int     `toml:"concurrency"`
	HTMLToText        bool    `toml:"html_to_text"`

	Backoff        time.Duration `toml:"-"`
	MaxBackoff     time.Duration `toml:"-"`
	AttemptTimeout time.Duration `toml:"-"`
	ClientTimeout  time.Duration `toml:"-"`
}

type CacheConfig struct {
	Persistent bool   `toml:"persistent"`
	Dir        string `toml:"dir"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// ─── Defaults ────────────────────────────────────────────────────────────────

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	return Config{
		Fetch: FetchConfig{
			MaxAttempts:       fetch.DefaultMaxAttempts,
			BackoffRaw:        fetch.DefaultBackoff.String(),
			MaxBackoffRaw:     fetch.DefaultMaxBackoff.String(),
			AttemptTimeoutRaw: fetch.DefaultAttemptTimeout.String(),
			ClientTimeoutRaw:  fetch.DefaultClientTimeout.String(),
			MaxDocumentBytes:  fetch.DefaultMaxDocumentBytes,
			RequestsPerSecond: 5,
			Concurrency:       8,
			HTMLToText:        true,
			Backoff:           fetch.DefaultBackoff,
			MaxBackoff:        fetch.DefaultMaxBackoff,
			AttemptTimeout:    fetch.DefaultAttemptTimeout,
			ClientTimeout:     fetch.DefaultClientTimeout,
		},
		Cache: CacheConfig{Dir: cache.DefaultDir()},
		Log:   LogConfig{Level: "info"},
	}
}

// DefaultPath returns the config file location, honouring DOCKET_CONFIG.
func DefaultPath() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "docket", "config.toml")
}

// ─── Loading ─────────────────────────────────────────────────────────────────

// LoadDotEnv reads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: loading %s: %w", path, err)
	}
	return nil
}

// Load reads the config file at path over the defaults, applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	default:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
		cfg.Path = path
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := lookup(EnvCacheDir); ok && v != "" {
		c.Cache.Dir = v
	}
	if v, ok := lookup(EnvCachePersistent); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s=%q is not a boolean", EnvCachePersistent, v)
		}
		c.Cache.Persistent = b
	}
	return nil
}

func (c *Config) normalize() error {
	c.AllowedReadPaths = cleanList(c.AllowedReadPaths)
	c.HTTPS.Allowlist = cleanList(c.HTTPS.Allowlist)
	c.HTTPS.Blocklist = cleanList(c.HTTPS.Blocklist)

	f := &c.Fetch
	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"fetch.backoff", f.BackoffRaw, &f.Backoff},
		{"fetch.max_backoff", f.MaxBackoffRaw, &f.MaxBackoff},
		{"fetch.attempt_timeout", f.AttemptTimeoutRaw, &f.AttemptTimeout},
		{"fetch.client_timeout", f.ClientTimeoutRaw, &f.ClientTimeout},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, d.raw)
		}
		*d.dst = v
	}
	if f.MaxBackoff < f.Backoff {
		return fmt.Errorf("fetch.max_backoff (%s) is shorter than fetch.backoff (%s)", f.MaxBackoff, f.Backoff)
	}
	if f.MaxAttempts < 1 {
		return fmt.Errorf("fetch.max_attempts must be at least 1, got %d", f.MaxAttempts)
	}
	if f.MaxDocumentBytes < 1 {
		return fmt.Errorf("fetch.max_document_bytes must be positive, got %d", f.MaxDocumentBytes)
	}
	if f.RequestsPerSecond < 0 {
		return fmt.Errorf("fetch.requests_per_second must not be negative")
	}
	if f.Concurrency < 1 {
		f.Concurrency = 1
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = cache.DefaultDir()
	}
	return nil
}

// Policy returns the global security policy described by the config.
func (c Config) Policy() policy.Policy {
	return policy.Policy{
		Allowlist:        c.HTTPS.Allowlist,
		Blocklist:        c.HTTPS.Blocklist,
		AllowedReadPaths: c.AllowedReadPaths,
		Scope:            policy.ScopeGlobal,
	}
}

// RemoteOptions maps the fetch settings onto the remote fetcher.
func (c Config) RemoteOptions() fetch.RemoteOptions {
	return fetch.RemoteOptions{
		MaxAttempts:       c.Fetch.MaxAttempts,
		Backoff:           c.Fetch.Backoff,
		MaxBackoff:        c.Fetch.MaxBackoff,
		AttemptTimeout:    c.Fetch.AttemptTimeout,
		MaxBytes:          c.Fetch.MaxDocumentBytes,
		RequestsPerSecond: c.Fetch.RequestsPerSecond,
	}
}

func cleanList(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
