// Package config loads the scenario runner's configuration from environment
// variables, validates it and hands each component its own settings.
//
// CLI flags override individual fields after loading; call Validate again
// once they are applied.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kuitang/crmscenarios/internal/artifacts"
	"github.com/kuitang/crmscenarios/internal/driver"
	"github.com/kuitang/crmscenarios/internal/history"
	"github.com/kuitang/crmscenarios/internal/pace"
	"github.com/kuitang/crmscenarios/internal/runner"
)

const (
	defaultAWSRegion = "us-east-1"
)

// Config holds all runner configuration.
type Config struct {
	// Target application
	BaseURL string

	// Browser
	Browser     string   // chromium, firefox or webkit
	Headless    bool     // HEADLESS
	BrowserArgs []string // BROWSER_ARGS, comma separated

	// Timing
	DefaultTimeout    time.Duration
	NavigationTimeout time.Duration
	SubframeWait      time.Duration
	ActionInterval    time.Duration // Minimum gap between the starts of fills and clicks; zero disables it
	ActionDelay       time.Duration // Fixed pause before every fill and click; zero disables it

	// Suite
	Parallelism         int
	ScenarioDir         string // SCENARIO_DIR; empty uses the embedded fixtures
	ScreenshotOnFailure bool
	LogLevel            string

	// Artifacts (S3-compatible; disabled unless ARTIFACTS_BUCKET is set)
	ArtifactsBucket    string // ARTIFACTS_BUCKET
	ArtifactsPrefix    string // ARTIFACTS_PREFIX
	ArtifactsPublicURL string // ARTIFACTS_PUBLIC_URL
	AWSEndpointS3      string // AWS_ENDPOINT_URL_S3
	AWSRegion          string // AWS_REGION
	AWSAccessKeyID     string // AWS_ACCESS_KEY_ID
	AWSSecretAccessKey string // AWS_SECRET_ACCESS_KEY
	AWSUsePathStyle    bool   // AWS_S3_USE_PATH_STYLE

	// Run history (disabled unless HISTORY_DB is set)
	HistoryDB  string
	HistoryKey string // 64 hex characters; empty leaves the database unencrypted
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// LoadConfig loads configuration from environment variables and validates it.
func LoadConfig() (*Config, error) {
	p := &envParser{}
	cfg := &Config{}

	cfg.BaseURL = strings.TrimRight(getEnvOrDefault("BASE_URL", runner.DefaultConfig.BaseURL), "/")

	cfg.Browser = getEnvOrDefault("BROWSER", runner.DefaultConfig.Launch.Browser)
	cfg.Headless = p.boolOrDefault("HEADLESS", runner.DefaultConfig.Launch.Headless)
	cfg.BrowserArgs = runner.DefaultConfig.Launch.Args
	if raw, ok := os.LookupEnv("BROWSER_ARGS"); ok {
		cfg.BrowserArgs = splitList(raw)
	}

	cfg.DefaultTimeout = p.durationOrDefault("DEFAULT_TIMEOUT", runner.DefaultConfig.DefaultTimeout)
	cfg.NavigationTimeout = p.durationOrDefault("NAVIGATION_TIMEOUT", runner.DefaultConfig.NavigationTimeout)
	cfg.SubframeWait = p.durationOrDefault("SUBFRAME_WAIT", runner.DefaultConfig.SubframeWait)
	cfg.ActionInterval = p.durationOrDefault("ACTION_INTERVAL", pace.DefaultConfig.Interval)
	cfg.ActionDelay = p.durationOrDefault("ACTION_DELAY", pace.DefaultConfig.Delay)

	cfg.Parallelism = p.intOrDefault("PARALLELISM", 1)
	cfg.ScenarioDir = strings.TrimSpace(os.Getenv("SCENARIO_DIR"))
	cfg.ScreenshotOnFailure = p.boolOrDefault("SCREENSHOT_ON_FAILURE", runner.DefaultConfig.ScreenshotOnFailure)
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.ArtifactsBucket = strings.TrimSpace(os.Getenv("ARTIFACTS_BUCKET"))
	cfg.ArtifactsPrefix = strings.TrimSpace(os.Getenv("ARTIFACTS_PREFIX"))
	cfg.ArtifactsPublicURL = strings.TrimSpace(os.Getenv("ARTIFACTS_PUBLIC_URL"))
	cfg.AWSEndpointS3 = strings.TrimSpace(os.Getenv("AWS_ENDPOINT_URL_S3"))
	cfg.AWSRegion = getEnvOrDefault("AWS_REGION", defaultAWSRegion)
	cfg.AWSAccessKeyID = strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID"))
	cfg.AWSSecretAccessKey = strings.TrimSpace(os.Getenv("AWS_SECRET_ACCESS_KEY"))
	cfg.AWSUsePathStyle = p.boolOrDefault("AWS_S3_USE_PATH_STYLE", cfg.AWSEndpointS3 != "")

	cfg.HistoryDB = strings.TrimSpace(os.Getenv("HISTORY_DB"))
	cfg.HistoryKey = strings.TrimSpace(os.Getenv("HISTORY_KEY"))

	if err := cfg.Validate(); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.Errors = append(p.errs, verr.Errors...)
		}
		return nil, err
	}
	if len(p.errs) > 0 {
		return nil, &ValidationError{Errors: p.errs}
	}
	return cfg, nil
}

// MustLoadConfig loads configuration and panics if validation fails.
func MustLoadConfig() *Config {
	cfg, err := LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []string

	if c.BaseURL == "" {
		errs = append(errs, "BASE_URL is required")
	} else if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		errs = append(errs, "BASE_URL must start with http:// or https://")
	}

	switch c.Browser {
	case "chromium", "firefox", "webkit":
	default:
		errs = append(errs, fmt.Sprintf("BROWSER must be chromium, firefox or webkit, got %q", c.Browser))
	}

	if c.DefaultTimeout <= 0 {
		errs = append(errs, "DEFAULT_TIMEOUT must be positive")
	}
	if c.NavigationTimeout <= 0 {
		errs = append(errs, "NAVIGATION_TIMEOUT must be positive")
	}
	if c.SubframeWait <= 0 {
		errs = append(errs, "SUBFRAME_WAIT must be positive")
	}
	if c.ActionInterval < 0 {
		errs = append(errs, "ACTION_INTERVAL must not be negative")
	}
	if c.ActionDelay < 0 {
		errs = append(errs, "ACTION_DELAY must not be negative")
	}
	if c.Parallelism <= 0 {
		errs = append(errs, "PARALLELISM must be positive")
	}

	if c.ArtifactsBucket != "" {
		if (c.AWSAccessKeyID == "") != (c.AWSSecretAccessKey == "") {
			errs = append(errs, "AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set together")
		}
	}

	if c.HistoryKey != "" {
		if _, err := history.ParseKey(c.HistoryKey); err != nil {
			errs = append(errs, "HISTORY_KEY: "+err.Error())
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// RunnerConfig returns the runner settings.
func (c *Config) RunnerConfig() runner.Config {
	rc := runner.DefaultConfig
	rc.Launch = driver.LaunchOptions{
		Browser:  c.Browser,
		Headless: c.Headless,
		Args:     c.BrowserArgs,
	}
	rc.BaseURL = c.BaseURL
	rc.DefaultTimeout = c.DefaultTimeout
	rc.NavigationTimeout = c.NavigationTimeout
	rc.SubframeWait = c.SubframeWait
	rc.Pace = pace.Config{Interval: c.ActionInterval, Burst: 1, Delay: c.ActionDelay}
	rc.ScreenshotOnFailure = c.ScreenshotOnFailure
	return rc
}

// ArtifactsConfig returns the artifact store settings.
func (c *Config) ArtifactsConfig() artifacts.Config {
	return artifacts.Config{
		Endpoint:        c.AWSEndpointS3,
		Region:          c.AWSRegion,
		AccessKeyID:     c.AWSAccessKeyID,
		SecretAccessKey: c.AWSSecretAccessKey,
		BucketName:      c.ArtifactsBucket,
		Prefix:          c.ArtifactsPrefix,
		PublicURL:       c.ArtifactsPublicURL,
		UsePathStyle:    c.AWSUsePathStyle,
	}
}

// PrintSummary prints a human-readable summary of the configuration to stderr.
func (c *Config) PrintSummary() {
	mode := "headless"
	if !c.Headless {
		mode = "headed"
	}
	fmt.Fprintf(os.Stderr, "  Target:    %s\n", c.BaseURL)
	fmt.Fprintf(os.Stderr, "  Browser:   %s (%s)\n", c.Browser, mode)
	fmt.Fprintf(os.Stderr, "  Timeouts:  action %s, navigation %s\n", c.DefaultTimeout, c.NavigationTimeout)
	if c.ActionInterval > 0 || c.ActionDelay > 0 {
		fmt.Fprintf(os.Stderr, "  Pacing:    interval %s, delay %s\n", c.ActionInterval, c.ActionDelay)
	}
	if c.ArtifactsBucket != "" {
		fmt.Fprintf(os.Stderr, "  Artifacts: s3://%s/%s\n", c.ArtifactsBucket, c.ArtifactsPrefix)
	} else {
		fmt.Fprintln(os.Stderr, "  Artifacts: disabled")
	}
	if c.HistoryDB != "" {
		fmt.Fprintf(os.Stderr, "  History:   %s\n", c.HistoryDB)
	} else {
		fmt.Fprintln(os.Stderr, "  History:   disabled")
	}
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

// envParser collects malformed values instead of silently using defaults.
type envParser struct {
	errs []string
}

func (p *envParser) intOrDefault(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s must be an integer, got %q", key, value))
		return defaultValue
	}
	return parsed
}

func (p *envParser) boolOrDefault(key string, defaultValue bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s must be a boolean, got %q", key, value))
		return defaultValue
	}
	return parsed
}

func (p *envParser) durationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s must be a duration like 5s, got %q", key, value))
		return defaultValue
	}
	return parsed
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
