package probe

// HealthCheckConfig describes one HTTP health probe.
type HealthCheckConfig struct {
	URL              string            `yaml:"url" json:"url"`
	Method           string            `yaml:"method" json:"method"`
	Timeout          Duration          `yaml:"timeout" json:"timeout"`
	Headers          map[string]string `yaml:"headers" json:"headers,omitempty"`
	Body             string            `yaml:"body" json:"body,omitempty"`
	ExpectedStatus   []int             `yaml:"expected_status" json:"expectedStatus"`
	ExpectedResponse any               `yaml:"expected_response" json:"expectedResponse,omitempty"`
	FollowRedirects  bool              `yaml:"follow_redirects" json:"followRedirects"`
	ValidateSSL      bool              `yaml:"validate_ssl" json:"validateSSL"`
	ProxyURL         string            `yaml:"proxy_url" json:"proxyUrl,omitempty"`
	AllowPrivate     bool              `yaml:"allow_private" json:"allowPrivate"`
}

// StepType enumerates the scripted browser actions a login test may perform.
type StepType string

const (
	StepNavigate          StepType = "navigate"
	StepClick             StepType = "click"
	StepTypeText          StepType = "type"
	StepSelect            StepType = "select"
	StepCheck             StepType = "check"
	StepUncheck           StepType = "uncheck"
	StepHover             StepType = "hover"
	StepScroll            StepType = "scroll"
	StepWait              StepType = "wait"
	StepWaitForNavigation StepType = "waitForNavigation"
	StepWaitForSelector   StepType = "waitForSelector"
	StepWaitForFunction   StepType = "waitForFunction"
	StepScreenshot        StepType = "screenshot"
)

// StepRetry controls per-step retry behavior. Attempts is the number of
// additional tries after the first failure.
type StepRetry struct {
	Attempts int      `yaml:"attempts" json:"attempts"`
	Delay    Duration `yaml:"delay" json:"delay"`
}

// LoginTestStep is one scripted action in a login flow.
type LoginTestStep struct {
	ID          string     `yaml:"id" json:"id"`
	Type        StepType   `yaml:"type" json:"type"`
	Selector    string     `yaml:"selector" json:"selector,omitempty"`
	URL         string     `yaml:"url" json:"url,omitempty"`
	Text        string     `yaml:"text" json:"text,omitempty"`
	Condition   string     `yaml:"condition" json:"condition,omitempty"`
	Timeout     Duration   `yaml:"timeout" json:"timeout,omitempty"`
	Optional    bool       `yaml:"optional" json:"optional"`
	Retry       *StepRetry `yaml:"retry" json:"retry,omitempty"`
	Description string     `yaml:"description" json:"description,omitempty"`
}

// Credentials holds the login identity. The password is never stored here;
// PasswordEnvVar names the environment variable resolved at execution time.
type Credentials struct {
	Username       string `yaml:"username" json:"username"`
	PasswordEnvVar string `yaml:"password_env_var" json:"passwordEnvVar"`
}

// SuccessCriteria is the declarative post-condition set for a login test.
type SuccessCriteria struct {
	Selectors        []string `yaml:"selectors" json:"selectors,omitempty"`
	URLPattern       string   `yaml:"url_pattern" json:"urlPattern,omitempty"`
	TextContent      []string `yaml:"text_content" json:"textContent,omitempty"`
	CustomValidation string   `yaml:"custom_validation" json:"customValidation,omitempty"`
}

// LoginTestConfig describes one browser-driven login probe.
type LoginTestConfig struct {
	URL                 string          `yaml:"url" json:"url"`
	Steps               []LoginTestStep `yaml:"steps" json:"steps"`
	Credentials         Credentials     `yaml:"credentials" json:"credentials"`
	Timeout             Duration        `yaml:"timeout" json:"timeout"`
	SuccessCriteria     SuccessCriteria `yaml:"success_criteria" json:"successCriteria"`
	ScreenshotOnFailure bool            `yaml:"screenshot_on_failure" json:"screenshotOnFailure"`
}
