package resolution

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/mod/semver"

	"github.com/storydesk/storydesk/internal/corpus"
)

// Config holds configuration for the resolution engine
type Config struct {
	// ProfileVersion names the threshold and weight profile (semver, e.g. v1.0.0).
	// Calibration fixtures are tied to a profile version.
	ProfileVersion string `yaml:"profile_version"`

	// ThresholdNew: a top score at or above this is an automatic NEW.
	// Default: -80
	ThresholdNew float64 `yaml:"threshold_new"`

	// ThresholdDuplicate: a top score at or below this is an automatic duplicate.
	// Default: -201
	ThresholdDuplicate float64 `yaml:"threshold_duplicate"`

	// Weights are the bm25 field weights (headline, summary, body).
	// Default: 10/5/1
	Weights corpus.Weights `yaml:"weights"`

	// LookbackWindow is how far before an item's ingestion time candidates are searched.
	// Default: 30 days
	LookbackWindow time.Duration `yaml:"-"`

	// LookbackDays mirrors LookbackWindow for YAML
	LookbackDays int `yaml:"lookback_days"`

	// MaxCandidates is how many ranked candidates the scorer returns.
	// Only the best one is classified; the rest are logged.
	// Default: 10
	MaxCandidates int `yaml:"max_candidates"`

	// ResolverTimeout bounds each semantic resolver call.
	// Default: 60 seconds
	ResolverTimeout time.Duration `yaml:"resolver_timeout"`

	// MergeSemanticDuplicateSources merges a semantic duplicate's sources
	// into its canonical, like an automatic duplicate.
	// Default: true
	MergeSemanticDuplicateSources bool `yaml:"merge_semantic_duplicate_sources"`

	// BatchLimit caps the items selected per batch (0 = no cap).
	// Default: 0
	BatchLimit int `yaml:"batch_limit"`

	// MaxParallelBatches caps how many disjoint batches run at once.
	// Default: 4
	MaxParallelBatches int `yaml:"max_parallel_batches"`
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		ProfileVersion:                "v1.0.0",
		ThresholdNew:                  -80,
		ThresholdDuplicate:            -201,
		Weights:                       corpus.DefaultWeights(),
		LookbackWindow:                30 * 24 * time.Hour,
		LookbackDays:                  30,
		MaxCandidates:                 10,
		ResolverTimeout:               60 * time.Second,
		MergeSemanticDuplicateSources: true,
		BatchLimit:                    0,
		MaxParallelBatches:            4,
	}
}

// Thresholds returns the classifier thresholds
func (c Config) Thresholds() Thresholds {
	return Thresholds{New: c.ThresholdNew, Duplicate: c.ThresholdDuplicate}
}

// Normalize reconciles LookbackDays and LookbackWindow after YAML decoding
func (c *Config) Normalize() {
	if c.LookbackDays > 0 {
		c.LookbackWindow = time.Duration(c.LookbackDays) * 24 * time.Hour
	} else if c.LookbackWindow > 0 {
		c.LookbackDays = int(c.LookbackWindow / (24 * time.Hour))
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if !semver.IsValid(c.ProfileVersion) {
		return fmt.Errorf("profile_version must be a semantic version like v1.0.0 (got %q)", c.ProfileVersion)
	}
	if err := c.Thresholds().Validate(); err != nil {
		return err
	}
	if err := c.Weights.Validate(); err != nil {
		return fmt.Errorf("invalid weights: %w", err)
	}
	if c.LookbackWindow <= 0 {
		return fmt.Errorf("lookback_days must be positive (got %v)", c.LookbackWindow)
	}
	if c.LookbackWindow > 365*24*time.Hour {
		return fmt.Errorf("lookback_days too large (got %v, max 365 days)", c.LookbackWindow)
	}
	if c.MaxCandidates <= 0 {
		return fmt.Errorf("max_candidates must be positive (got %d)", c.MaxCandidates)
	}
	if c.MaxCandidates > 100 {
		return fmt.Errorf("max_candidates too large (got %d, max 100)", c.MaxCandidates)
	}
	if c.ResolverTimeout <= 0 {
		return fmt.Errorf("resolver_timeout must be positive (got %v)", c.ResolverTimeout)
	}
	if c.ResolverTimeout > 10*time.Minute {
		return fmt.Errorf("resolver_timeout too large (got %v, max 10 minutes)", c.ResolverTimeout)
	}
	if c.BatchLimit < 0 {
		return fmt.Errorf("batch_limit cannot be negative (got %d)", c.BatchLimit)
	}
	if c.MaxParallelBatches < 1 {
		return fmt.Errorf("max_parallel_batches must be at least 1 (got %d)", c.MaxParallelBatches)
	}
	return nil
}

// String returns a human-readable representation of the config
func (c Config) String() string {
	return fmt.Sprintf(
		"Config{Profile: %s, New: %.1f, Duplicate: %.1f, Weights: %g/%g/%g, Lookback: %v, "+
			"MaxCandidates: %d, ResolverTimeout: %v, MergeSemanticSources: %t, BatchLimit: %d, ParallelBatches: %d}",
		c.ProfileVersion, c.ThresholdNew, c.ThresholdDuplicate,
		c.Weights.Headline, c.Weights.Summary, c.Weights.Body, c.LookbackWindow,
		c.MaxCandidates, c.ResolverTimeout, c.MergeSemanticDuplicateSources, c.BatchLimit,
		c.MaxParallelBatches,
	)
}

// ConfigFromEnv creates a Config from environment variables, falling back to defaults
//
// Environment variables:
//   - STORYDESK_PROFILE_VERSION: threshold profile version (default: v1.0.0)
//   - STORYDESK_THRESHOLD_NEW: automatic NEW threshold (default: -80)
//   - STORYDESK_THRESHOLD_DUPLICATE: automatic duplicate threshold (default: -201)
//   - STORYDESK_WEIGHT_HEADLINE / _SUMMARY / _BODY: bm25 weights (default: 10/5/1)
//   - STORYDESK_LOOKBACK_DAYS: candidate window in days (default: 30)
//   - STORYDESK_MAX_CANDIDATES: candidates per item (default: 10)
//   - STORYDESK_RESOLVER_TIMEOUT_SECS: resolver call timeout (default: 60)
//   - STORYDESK_MERGE_SEMANTIC_SOURCES: merge sources of semantic duplicates (default: true)
//   - STORYDESK_BATCH_LIMIT: items per batch, 0 for all (default: 0)
//   - STORYDESK_MAX_PARALLEL_BATCHES: disjoint batches run at once (default: 4)
//
// Returns an error if any environment variable has an invalid value.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration from environment: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with any STORYDESK_* variables that are set.
// It does not validate.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv("STORYDESK_PROFILE_VERSION"); v != "" {
		cfg.ProfileVersion = v
	}
	if err := parseEnvFloat("STORYDESK_THRESHOLD_NEW", &cfg.ThresholdNew); err != nil {
		return err
	}
	if err := parseEnvFloat("STORYDESK_THRESHOLD_DUPLICATE", &cfg.ThresholdDuplicate); err != nil {
		return err
	}
	if err := parseEnvFloat("STORYDESK_WEIGHT_HEADLINE", &cfg.Weights.Headline); err != nil {
		return err
	}
	if err := parseEnvFloat("STORYDESK_WEIGHT_SUMMARY", &cfg.Weights.Summary); err != nil {
		return err
	}
	if err := parseEnvFloat("STORYDESK_WEIGHT_BODY", &cfg.Weights.Body); err != nil {
		return err
	}
	if err := parseEnvDuration("STORYDESK_LOOKBACK_DAYS", &cfg.LookbackWindow, 24*time.Hour); err != nil {
		return err
	}
	cfg.LookbackDays = int(cfg.LookbackWindow / (24 * time.Hour))
	if err := parseEnvInt("STORYDESK_MAX_CANDIDATES", &cfg.MaxCandidates); err != nil {
		return err
	}
	if err := parseEnvDuration("STORYDESK_RESOLVER_TIMEOUT_SECS", &cfg.ResolverTimeout, time.Second); err != nil {
		return err
	}
	if err := parseEnvBool("STORYDESK_MERGE_SEMANTIC_SOURCES", &cfg.MergeSemanticDuplicateSources); err != nil {
		return err
	}
	if err := parseEnvInt("STORYDESK_BATCH_LIMIT", &cfg.BatchLimit); err != nil {
		return err
	}
	if err := parseEnvInt("STORYDESK_MAX_PARALLEL_BATCHES", &cfg.MaxParallelBatches); err != nil {
		return err
	}
	return nil
}

// parseEnvFloat parses a float64 from an environment variable
func parseEnvFloat(key string, dest *float64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvBool parses a bool from an environment variable
func parseEnvBool(key string, dest *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvDuration parses a whole number of units from an environment variable
// (e.g., for days: multiplier = 24*time.Hour)
func parseEnvDuration(key string, dest *time.Duration, multiplier time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = time.Duration(parsed) * multiplier
	return nil
}
