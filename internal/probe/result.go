package probe

import "time"

// MaxBodyBytes bounds the response body stored in a health check result.
const MaxBodyBytes = 10 * 1024

// TruncationMarker is appended to bodies cut at MaxBodyBytes.
const TruncationMarker = "... [truncated]"

// TestResultData is the sole output of a probe. Exactly one of
// HealthCheckData or LoginTestData is set, discriminated by TestType.
type TestResultData struct {
	TestRunID     string             `json:"testRunId"`
	ApplicationID string             `json:"applicationId"`
	TestType      TestType           `json:"testType"`
	Status        TestStatus         `json:"status"`
	StartedAt     time.Time          `json:"startedAt"`
	CompletedAt   time.Time          `json:"completedAt"`
	DurationMs    int64              `json:"durationMs"`
	Error         *ProbeError        `json:"error,omitempty"`
	Screenshots   []string           `json:"screenshots,omitempty"`
	Logs          []TestLogEntry     `json:"logs"`
	Metrics       map[string]float64 `json:"metrics,omitempty"`
	HealthCheck   *HealthCheckData   `json:"healthCheckData,omitempty"`
	LoginTest     *LoginTestData     `json:"loginTestData,omitempty"`
}

// LogLevel classifies a structured log entry.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// TestLogEntry is one ordered diagnostic record attached to a result.
type TestLogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Source    string         `json:"source"`
}

// SSLInfo is best-effort certificate metadata for HTTPS targets.
type SSLInfo struct {
	Issuer          string    `json:"issuer"`
	Subject         string    `json:"subject"`
	NotBefore       time.Time `json:"notBefore"`
	NotAfter        time.Time `json:"notAfter"`
	DaysUntilExpiry int       `json:"daysUntilExpiry"`
	Valid           bool      `json:"valid"`
}

// TimingBreakdown decomposes a health check round trip. When measured
// sub-phase timing is unavailable the phases are apportioned as fixed
// fractions of the total (10/10/10/5/60/5 percent), an approximation
// rather than a measurement.
type TimingBreakdown struct {
	DNSMs     int64 `json:"dns"`
	ConnectMs int64 `json:"connect"`
	SSLMs     int64 `json:"ssl"`
	SendMs    int64 `json:"send"`
	WaitMs    int64 `json:"wait"`
	ReceiveMs int64 `json:"receive"`
}

// SyntheticTiming apportions total round-trip time across phases.
func SyntheticTiming(totalMs int64) TimingBreakdown {
	return TimingBreakdown{
		DNSMs:     totalMs * 10 / 100,
		ConnectMs: totalMs * 10 / 100,
		SSLMs:     totalMs * 10 / 100,
		SendMs:    totalMs * 5 / 100,
		WaitMs:    totalMs * 60 / 100,
		ReceiveMs: totalMs * 5 / 100,
	}
}

// HealthCheckData is the health check runner's detailed output.
type HealthCheckData struct {
	StatusCode     int               `json:"statusCode"`
	StatusText     string            `json:"statusText"`
	ResponseTimeMs int64             `json:"responseTime"`
	ResponseSize   int64             `json:"responseSize"`
	Headers        map[string]string `json:"headers"`
	Body           string            `json:"body"`
	Redirects      []string          `json:"redirects,omitempty"`
	SSL            *SSLInfo          `json:"ssl,omitempty"`
	Timing         TimingBreakdown   `json:"timing"`
}

// StepStatus is the outcome of a single login test step.
type StepStatus string

const (
	StepPassed StepStatus = "passed"
	StepFailed StepStatus = "failed"
)

// StepResult records the outcome of one executed step. ElementFound is set
// only for steps that locate an element, independent of Status, so a wrong
// selector can be told apart from a failed action on a present element.
type StepResult struct {
	ID           string     `json:"id"`
	Type         StepType   `json:"type"`
	Description  string     `json:"description,omitempty"`
	Status       StepStatus `json:"status"`
	DurationMs   int64      `json:"durationMs"`
	Attempts     int        `json:"attempts"`
	ElementFound *bool      `json:"elementFound,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Cookie is one browser cookie captured after a login flow.
type Cookie struct {
	Name    string  `json:"name"`
	Value   string  `json:"value"`
	Domain  string  `json:"domain"`
	Path    string  `json:"path"`
	Expires float64 `json:"expires"`
}

// SessionData holds best-effort session artifacts extracted after the step
// sequence. All fields may be empty when extraction fails.
type SessionData struct {
	Cookies        []Cookie          `json:"cookies,omitempty"`
	LocalStorage   map[string]string `json:"localStorage,omitempty"`
	SessionStorage map[string]string `json:"sessionStorage,omitempty"`
}

// LoginTestData is the login test runner's detailed output.
type LoginTestData struct {
	Steps []StepResult `json:"steps"`
	// FinalURL is the page URL after the last executed step.
	FinalURL string `json:"finalUrl"`
	// AuthenticationSuccess is true iff no executed step failed. It is
	// evaluated before, and independently of, the success criteria.
	AuthenticationSuccess bool         `json:"authenticationSuccess"`
	Session               *SessionData `json:"session,omitempty"`
	FailureReason         string       `json:"failureReason,omitempty"`
}

// TruncateBody bounds a response body at MaxBodyBytes, appending
// TruncationMarker when cut. A body of exactly MaxBodyBytes is returned
// unchanged.
func TruncateBody(body string) string {
	if len(body) <= MaxBodyBytes {
		return body
	}
	return body[:MaxBodyBytes] + TruncationMarker
}
