// Package config loads the storydesk configuration file.
//
// Values are layered: built-in defaults, then the YAML file, then
// STORYDESK_* environment variables. The result is validated once at the end.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/storydesk/storydesk/internal/logging"
	"github.com/storydesk/storydesk/internal/notify"
	"github.com/storydesk/storydesk/internal/resolution"
)

// DefaultPath is read when no --config flag is given and the file exists
const DefaultPath = ".storydesk/config.yaml"

// Config is the full process configuration
type Config struct {
	// DBPath overrides database discovery when set
	DBPath string `yaml:"db_path"`

	Resolution  resolution.Config `yaml:"resolution"`
	Resolver    ResolverConfig    `yaml:"resolver"`
	Notify      NotifyConfig      `yaml:"notify"`
	API         APIConfig         `yaml:"api"`
	Logging     logging.Config    `yaml:"logging"`
	Calibration CalibrationConfig `yaml:"calibration"`
}

// ResolverConfig configures the semantic resolver client
type ResolverConfig struct {
	Model              string  `yaml:"model"`    // empty uses STORYDESK_MODEL or the built-in default
	BaseURL            string  `yaml:"base_url"` // API endpoint override
	MaxTokens          int     `yaml:"max_tokens"`
	MaxRetries         int     `yaml:"max_retries"`
	CircuitBreaker     bool    `yaml:"circuit_breaker"`
	MaxConcurrentCalls int     `yaml:"max_concurrent_calls"`
	RequestsPerSecond  float64 `yaml:"requests_per_second"`
}

// NotifyConfig configures the publishable-set signal
type NotifyConfig struct {
	// RedisAddr enables the Redis notifier when set (host:port)
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Channel       string `yaml:"channel"`
}

// APIConfig configures the read-only HTTP API
type APIConfig struct {
	Addr string `yaml:"addr"`
}

// CalibrationConfig points at the calibration fixture
type CalibrationConfig struct {
	// Fixture is the YAML fixture path; empty disables calibration
	Fixture string `yaml:"fixture"`

	// Enforce makes resolve refuse to run when the fixture check fails
	Enforce bool `yaml:"enforce"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Resolution: resolution.DefaultConfig(),
		Resolver: ResolverConfig{
			MaxTokens:          1024,
			MaxRetries:         0,
			CircuitBreaker:     true,
			MaxConcurrentCalls: 3,
			RequestsPerSecond:  2,
		},
		Notify:  NotifyConfig{Channel: notify.DefaultChannel},
		API:     APIConfig{Addr: "127.0.0.1:8080"},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads the configuration at path. An empty path reads DefaultPath
// if it exists and falls back to defaults otherwise; a named path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := cfg.decode(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		cfg.resolveRelative(filepath.Dir(path))
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// defaults only
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	c.Resolution.Normalize()
	return nil
}

// resolveRelative anchors relative file paths at the config file's directory
func (c *Config) resolveRelative(dir string) {
	if c.Calibration.Fixture != "" && !filepath.IsAbs(c.Calibration.Fixture) {
		c.Calibration.Fixture = filepath.Join(dir, c.Calibration.Fixture)
	}
}

// ApplyEnv overrides the configuration with STORYDESK_* variables.
//
// Environment variables (in addition to those read by resolution.ApplyEnv):
//   - STORYDESK_LOG_LEVEL: debug, info, warn or error
//   - STORYDESK_LOG_FORMAT: text or json
//   - STORYDESK_REDIS_ADDR: enables the Redis notifier
//   - STORYDESK_REDIS_DB: Redis database number
//   - STORYDESK_API_ADDR: listen address for serve
//   - STORYDESK_CALIBRATION_FIXTURE: calibration fixture path
//   - STORYDESK_CALIBRATION_ENFORCE: refuse to resolve on a failed check
func (c *Config) ApplyEnv() error {
	if err := resolution.ApplyEnv(&c.Resolution); err != nil {
		return err
	}
	parseEnvString("STORYDESK_LOG_LEVEL", &c.Logging.Level)
	parseEnvString("STORYDESK_LOG_FORMAT", &c.Logging.Format)
	parseEnvString("STORYDESK_REDIS_ADDR", &c.Notify.RedisAddr)
	if err := parseEnvInt("STORYDESK_REDIS_DB", &c.Notify.RedisDB); err != nil {
		return err
	}
	parseEnvString("STORYDESK_API_ADDR", &c.API.Addr)
	parseEnvString("STORYDESK_CALIBRATION_FIXTURE", &c.Calibration.Fixture)
	if err := parseEnvBool("STORYDESK_CALIBRATION_ENFORCE", &c.Calibration.Enforce); err != nil {
		return err
	}
	return nil
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.Resolution.Validate(); err != nil {
		return fmt.Errorf("resolution: %w", err)
	}
	if err := c.Resolver.Validate(); err != nil {
		return fmt.Errorf("resolver: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if c.Notify.RedisDB < 0 {
		return fmt.Errorf("notify: redis_db cannot be negative (got %d)", c.Notify.RedisDB)
	}
	if c.Notify.RedisAddr != "" && strings.TrimSpace(c.Notify.Channel) == "" {
		return fmt.Errorf("notify: channel is required when redis_addr is set")
	}
	if strings.TrimSpace(c.API.Addr) == "" {
		return fmt.Errorf("api: addr is required")
	}
	if c.Calibration.Enforce && c.Calibration.Fixture == "" {
		return fmt.Errorf("calibration: enforce requires a fixture")
	}
	return nil
}

// Validate checks the resolver client settings
func (r ResolverConfig) Validate() error {
	if r.MaxTokens < 0 {
		return fmt.Errorf("max_tokens cannot be negative (got %d)", r.MaxTokens)
	}
	if r.MaxRetries < 0 || r.MaxRetries > 10 {
		return fmt.Errorf("max_retries must be between 0 and 10 (got %d)", r.MaxRetries)
	}
	if r.MaxConcurrentCalls < 0 {
		return fmt.Errorf("max_concurrent_calls cannot be negative (got %d)", r.MaxConcurrentCalls)
	}
	if r.RequestsPerSecond < 0 {
		return fmt.Errorf("requests_per_second cannot be negative (got %g)", r.RequestsPerSecond)
	}
	return nil
}

func parseEnvString(key string, dest *string) {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		*dest = value
	}
}

// parseEnvInt parses an integer from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvBool parses a boolean from an environment variable
func parseEnvBool(key string, dest *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dest = parsed
	return nil
}
