// Package probe defines the shared contract between the probe runners and
// their caller: one TestExecutionContext in, one TestResultData out.
package probe

import "time"

// TestType selects which runner executes a probe.
type TestType string

const (
	TestTypeHealthCheck TestType = "health_check"
	TestTypeLoginTest   TestType = "login_test"
)

// TestStatus is the overall outcome of a probe.
type TestStatus string

const (
	StatusPassed TestStatus = "passed"
	StatusFailed TestStatus = "failed"
)

// Environment describes the client environment a probe runs under.
type Environment struct {
	UserAgent      string `yaml:"user_agent" json:"userAgent"`
	ViewportWidth  int    `yaml:"viewport_width" json:"viewportWidth"`
	ViewportHeight int    `yaml:"viewport_height" json:"viewportHeight"`
	Headless       bool   `yaml:"headless" json:"headless"`
}

// TestExecutionContext identifies one probe invocation. It is immutable for
// the duration of the invocation and owned exclusively by the runner that
// receives it. Exactly one of HealthCheck or LoginTest is set, matching
// TestType.
type TestExecutionContext struct {
	TestRunID     string
	ApplicationID string
	TestType      TestType
	HealthCheck   *HealthCheckConfig
	LoginTest     *LoginTestConfig
	Environment   Environment
	StartedAt     time.Time
}
