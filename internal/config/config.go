// Package config provides configuration management for the chapter agent.
// Configuration is loaded from defaults, an optional YAML file and
// environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// Default values
	DefaultPort          = 8787
	DefaultLogLevel      = "info"
	DefaultDataDir       = ".chapter-agent"
	DefaultFetchTimeout  = 15 // seconds
	DefaultMaxImageBytes = 10 * 1024 * 1024
	DefaultSessionTTL    = 240 // minutes

	// Environment variable names
	EnvConfigFile    = "CHAPTERS_CONFIG"
	EnvPort          = "CHAPTERS_PORT"
	EnvLogLevel      = "CHAPTERS_LOG_LEVEL"
	EnvDataDir       = "CHAPTERS_DATA_DIR"
	EnvHeadless      = "CHAPTERS_HEADLESS"
	EnvImageBaseURL  = "CHAPTERS_IMAGE_BASE_URL"
	EnvFetchTimeout  = "CHAPTERS_FETCH_TIMEOUT_S"
	EnvMaxImageBytes = "CHAPTERS_MAX_IMAGE_BYTES"
	EnvSessionTTL    = "CHAPTERS_SESSION_TTL_M"

	// Database filename
	DBFilename = "chapters.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	Headless() bool
	ImageBaseURL() string
	FetchTimeout() time.Duration
	MaxImageBytes() int64
	SessionTTL() time.Duration
}

// fileConfig is the YAML layout. Zero values leave the default in place.
type fileConfig struct {
	Port              int    `yaml:"port"`
	LogLevel          string `yaml:"log_level"`
	DataDir           string `yaml:"data_dir"`
	Headless          *bool  `yaml:"headless"`
	ImageBaseURL      string `yaml:"image_base_url"`
	FetchTimeoutS     int    `yaml:"fetch_timeout_s"`
	MaxImageBytes     int64  `yaml:"max_image_bytes"`
	SessionTTLMinutes int    `yaml:"session_ttl_m"`
}

// EnvConfig reads configuration from a YAML file and environment variables
type EnvConfig struct {
	port          int
	logLevel      string
	dataDir       string
	headless      bool
	imageBaseURL  string
	fetchTimeoutS int
	maxImageBytes int64
	sessionTTLM   int
}

// New creates a new EnvConfig with defaults, the file named by
// CHAPTERS_CONFIG if set, and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:          DefaultPort,
		logLevel:      DefaultLogLevel,
		dataDir:       defaultDataDir(),
		fetchTimeoutS: DefaultFetchTimeout,
		maxImageBytes: DefaultMaxImageBytes,
		sessionTTLM:   DefaultSessionTTL,
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EnvConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.Port != 0 {
		c.port = fc.Port
	}
	if fc.LogLevel != "" {
		c.logLevel = fc.LogLevel
	}
	if fc.DataDir != "" {
		c.dataDir = fc.DataDir
	}
	if fc.Headless != nil {
		c.headless = *fc.Headless
	}
	if fc.ImageBaseURL != "" {
		c.imageBaseURL = fc.ImageBaseURL
	}
	if fc.FetchTimeoutS != 0 {
		c.fetchTimeoutS = fc.FetchTimeoutS
	}
	if fc.MaxImageBytes != 0 {
		c.maxImageBytes = fc.MaxImageBytes
	}
	if fc.SessionTTLMinutes != 0 {
		c.sessionTTLM = fc.SessionTTLMinutes
	}
	return nil
}

func (c *EnvConfig) loadEnv() error {
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		c.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		c.dataDir = dd
	}

	if h := os.Getenv(EnvHeadless); h != "" {
		headless, err := strconv.ParseBool(h)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		c.headless = headless
	}

	if u := os.Getenv(EnvImageBaseURL); u != "" {
		c.imageBaseURL = u
	}

	if v := os.Getenv(EnvFetchTimeout); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvFetchTimeout, err)
		}
		c.fetchTimeoutS = n
	}

	if v := os.Getenv(EnvMaxImageBytes); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvMaxImageBytes, err)
		}
		c.maxImageBytes = n
	}

	if v := os.Getenv(EnvSessionTTL); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvSessionTTL, err)
		}
		c.sessionTTLM = n
	}
	return nil
}

func (c *EnvConfig) validate() error {
	var errs []error
	if c.port < 1 || c.port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d: must be between 1 and 65535", c.port))
	}
	switch strings.ToLower(c.logLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log level %q", c.logLevel))
	}
	if c.fetchTimeoutS <= 0 {
		errs = append(errs, fmt.Errorf("fetch timeout must be positive"))
	}
	if c.maxImageBytes <= 0 {
		errs = append(errs, fmt.Errorf("max image bytes must be positive"))
	}
	if c.sessionTTLM <= 0 {
		errs = append(errs, fmt.Errorf("session ttl must be positive"))
	}
	return errors.Join(errs...)
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// Headless reports whether the tray icon is disabled
func (c *EnvConfig) Headless() bool {
	return c.headless
}

// ImageBaseURL is the default prefix for image links in exports
func (c *EnvConfig) ImageBaseURL() string {
	return c.imageBaseURL
}

func (c *EnvConfig) FetchTimeout() time.Duration {
	return time.Duration(c.fetchTimeoutS) * time.Second
}

func (c *EnvConfig) MaxImageBytes() int64 {
	return c.maxImageBytes
}

func (c *EnvConfig) SessionTTL() time.Duration {
	return time.Duration(c.sessionTTLM) * time.Minute
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
