// Package config loads and validates the appwatch configuration file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/appwatch/appwatch/internal/probe"
)

type Config struct {
	Database     DatabaseConfig      `yaml:"database"`
	Probe        ProbeConfig         `yaml:"probe"`
	Screenshots  ScreenshotsConfig   `yaml:"screenshots"`
	Logging      LoggingConfig       `yaml:"logging"`
	Applications []ApplicationConfig `yaml:"applications"`
}

type DatabaseConfig struct {
	Path          string `yaml:"path"`
	MaxReadConns  int    `yaml:"max_read_conns"`
	RetentionDays int    `yaml:"retention_days"`
}

// ProbeConfig holds execution defaults applied to every application unless
// the application overrides them.
type ProbeConfig struct {
	DefaultTimeout      probe.Duration `yaml:"default_timeout"`
	AllowPrivateTargets bool           `yaml:"allow_private_targets"`
	UserAgent           string         `yaml:"user_agent"`
	ViewportWidth       int            `yaml:"viewport_width"`
	ViewportHeight      int            `yaml:"viewport_height"`
	Headless            *bool          `yaml:"headless"`
	RateLimitPerSec     float64        `yaml:"rate_limit_per_sec"`
	RateLimitBurst      int            `yaml:"rate_limit_burst"`
}

type ScreenshotsConfig struct {
	Dir string `yaml:"dir"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// ApplicationConfig describes one application under watch. An application
// may carry a health check, a login test, or both.
type ApplicationConfig struct {
	ID          string                   `yaml:"id"`
	Name        string                   `yaml:"name"`
	HealthCheck *probe.HealthCheckConfig `yaml:"health_check"`
	LoginTest   *probe.LoginTestConfig   `yaml:"login_test"`
}

func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:          "appwatch.db",
			MaxReadConns:  4,
			RetentionDays: 90,
		},
		Probe: ProbeConfig{
			DefaultTimeout:  probe.Duration(30 * time.Second),
			ViewportWidth:   1280,
			ViewportHeight:  800,
			RateLimitPerSec: 1,
			RateLimitBurst:  1,
		},
		Screenshots: ScreenshotsConfig{
			Dir: "screenshots",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	cfg.applyDefaults()

	return cfg, nil
}

func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateProbe(); err != nil {
		return err
	}
	if err := c.validateApplications(); err != nil {
		return err
	}
	return validateLogLevel(c.Logging.Level)
}

func (c *Config) validateDatabase() error {
	if c.Database.Path != "" && c.Database.MaxReadConns <= 0 {
		return fmt.Errorf("database.max_read_conns must be positive")
	}
	if c.Database.RetentionDays < 0 {
		return fmt.Errorf("database.retention_days must not be negative")
	}
	return nil
}

func (c *Config) validateProbe() error {
	if c.Probe.DefaultTimeout <= 0 {
		return fmt.Errorf("probe.default_timeout must be positive")
	}
	if c.Probe.ViewportWidth <= 0 || c.Probe.ViewportHeight <= 0 {
		return fmt.Errorf("probe.viewport dimensions must be positive")
	}
	if c.Probe.RateLimitPerSec <= 0 {
		return fmt.Errorf("probe.rate_limit_per_sec must be positive")
	}
	if c.Probe.RateLimitBurst <= 0 {
		return fmt.Errorf("probe.rate_limit_burst must be positive")
	}
	return nil
}

func (c *Config) validateApplications() error {
	if len(c.Applications) == 0 {
		return fmt.Errorf("at least one application is required")
	}
	seen := make(map[string]bool, len(c.Applications))
	for i, app := range c.Applications {
		if app.ID == "" {
			return fmt.Errorf("applications[%d]: id is required", i)
		}
		if seen[app.ID] {
			return fmt.Errorf("applications[%d]: duplicate id %q", i, app.ID)
		}
		seen[app.ID] = true
		if app.HealthCheck == nil && app.LoginTest == nil {
			return fmt.Errorf("application %q: needs a health_check or a login_test", app.ID)
		}
		if app.HealthCheck != nil {
			if err := validateHealthCheck(app.HealthCheck); err != nil {
				return fmt.Errorf("application %q: %w", app.ID, err)
			}
		}
		if app.LoginTest != nil {
			if err := validateLoginTest(app.LoginTest); err != nil {
				return fmt.Errorf("application %q: %w", app.ID, err)
			}
		}
	}
	return nil
}

func validateHealthCheck(hc *probe.HealthCheckConfig) error {
	if hc.URL == "" {
		return fmt.Errorf("health_check.url is required")
	}
	for _, code := range hc.ExpectedStatus {
		if code < 100 || code > 599 {
			return fmt.Errorf("health_check.expected_status: invalid status code %d", code)
		}
	}
	return nil
}

var stepTypes = map[probe.StepType]bool{
	probe.StepNavigate:          true,
	probe.StepClick:             true,
	probe.StepTypeText:          true,
	probe.StepSelect:            true,
	probe.StepCheck:             true,
	probe.StepUncheck:           true,
	probe.StepHover:             true,
	probe.StepScroll:            true,
	probe.StepWait:              true,
	probe.StepWaitForNavigation: true,
	probe.StepWaitForSelector:   true,
	probe.StepWaitForFunction:   true,
	probe.StepScreenshot:        true,
}

// stepNeedsSelector mirrors the element-targeting step set of the runner.
var stepNeedsSelector = map[probe.StepType]bool{
	probe.StepClick:           true,
	probe.StepTypeText:        true,
	probe.StepSelect:          true,
	probe.StepCheck:           true,
	probe.StepUncheck:         true,
	probe.StepHover:           true,
	probe.StepWaitForSelector: true,
}

func validateLoginTest(lt *probe.LoginTestConfig) error {
	if lt.URL == "" {
		return fmt.Errorf("login_test.url is required")
	}
	if len(lt.Steps) == 0 {
		return fmt.Errorf("login_test.steps is required")
	}
	if lt.Credentials.PasswordEnvVar == "" {
		return fmt.Errorf("login_test.credentials.password_env_var is required")
	}
	for i, step := range lt.Steps {
		if !stepTypes[step.Type] {
			return fmt.Errorf("login_test.steps[%d]: unknown step type %q", i, step.Type)
		}
		if stepNeedsSelector[step.Type] && step.Selector == "" {
			return fmt.Errorf("login_test.steps[%d]: %s step needs a selector", i, step.Type)
		}
		if step.Type == probe.StepNavigate && step.URL == "" {
			return fmt.Errorf("login_test.steps[%d]: navigate step needs a url", i)
		}
		if step.Type == probe.StepWaitForFunction && step.Condition == "" {
			return fmt.Errorf("login_test.steps[%d]: waitForFunction step needs a condition", i)
		}
	}
	return nil
}

func validateLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
}

// applyDefaults pushes probe-level defaults into each application config so
// runners only ever see fully-resolved settings.
func (c *Config) applyDefaults() {
	for i := range c.Applications {
		app := &c.Applications[i]
		if hc := app.HealthCheck; hc != nil {
			if hc.Timeout <= 0 {
				hc.Timeout = c.Probe.DefaultTimeout
			}
			if c.Probe.AllowPrivateTargets {
				hc.AllowPrivate = true
			}
		}
		if lt := app.LoginTest; lt != nil && lt.Timeout <= 0 {
			lt.Timeout = c.Probe.DefaultTimeout
		}
	}
}

// Environment builds the browser environment runners receive, from the probe
// defaults.
func (c *Config) Environment() probe.Environment {
	headless := true
	if c.Probe.Headless != nil {
		headless = *c.Probe.Headless
	}
	return probe.Environment{
		UserAgent:      c.Probe.UserAgent,
		ViewportWidth:  c.Probe.ViewportWidth,
		ViewportHeight: c.Probe.ViewportHeight,
		Headless:       headless,
	}
}
