package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/appwatch/appwatch/internal/probe"
)

const defaultScreenshotDir = "screenshots"

// LoginTestRunner drives a headless browser through a scripted login flow and
// judges the outcome against declarative success criteria.
type LoginTestRunner struct {
	logger        *slog.Logger
	screenshotDir string
	newSession    sessionFactory
}

func NewLoginTestRunner(logger *slog.Logger, screenshotDir string) *LoginTestRunner {
	if screenshotDir == "" {
		screenshotDir = defaultScreenshotDir
	}
	return &LoginTestRunner{
		logger:        logger,
		screenshotDir: screenshotDir,
		newSession:    newChromedpSession,
	}
}

func (r *LoginTestRunner) Type() probe.TestType { return probe.TestTypeLoginTest }

// loginExecution carries the state of one login test invocation: the browser
// session, resolved credentials, and the result fields built up step by step.
type loginExecution struct {
	sess          session
	cfg           *probe.LoginTestConfig
	creds         credentials
	rec           *probe.Recorder
	appID         string
	data          *probe.LoginTestData
	timeout       time.Duration
	screenshotDir string
	currentURL    string
	screenshots   []string
}

// Execute runs one login test. It never returns an error; every failure mode
// ends up in the result, and browser resources are released before it
// returns.
func (r *LoginTestRunner) Execute(ctx context.Context, tc *probe.TestExecutionContext) *probe.TestResultData {
	started := tc.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	rec := probe.NewRecorder(r.logger, string(probe.TestTypeLoginTest), tc.ApplicationID)

	result := &probe.TestResultData{
		TestRunID:     tc.TestRunID,
		ApplicationID: tc.ApplicationID,
		TestType:      probe.TestTypeLoginTest,
		Status:        probe.StatusPassed,
		StartedAt:     started,
	}

	data := &probe.LoginTestData{}
	result.LoginTest = data

	shots, err := r.run(ctx, tc, rec, data)
	result.Screenshots = shots
	if err != nil {
		result.Status = probe.StatusFailed
		result.Error = probe.Wrap(err)
		rec.Error("login test failed", map[string]any{"code": string(result.Error.Code), "error": result.Error.Message})
	} else {
		rec.Info("login test passed", nil)
	}

	result.CompletedAt = time.Now()
	result.DurationMs = result.CompletedAt.Sub(started).Milliseconds()
	result.Logs = rec.Entries()

	failed := 0
	for _, s := range data.Steps {
		if s.Status == probe.StepFailed {
			failed++
		}
	}
	result.Metrics = map[string]float64{
		"steps_total":  float64(len(data.Steps)),
		"steps_failed": float64(failed),
	}
	return result
}

// run acquires the browser session, executes the flow, and guarantees the
// session is released exactly once on every exit path, after the failure
// screenshot (if any) has been taken. Cleanup failures are logged, never
// escalated, so they cannot mask the original error.
func (r *LoginTestRunner) run(ctx context.Context, tc *probe.TestExecutionContext, rec *probe.Recorder, data *probe.LoginTestData) (shots []string, err error) {
	cfg := tc.LoginTest
	if cfg == nil {
		return nil, probe.NewError(probe.CodeUnknown, "execution context has no login test config")
	}

	creds := credentials{username: cfg.Credentials.Username}
	if envVar := cfg.Credentials.PasswordEnvVar; envVar != "" {
		creds.password = os.Getenv(envVar)
		if creds.password == "" {
			rec.Warn("password environment variable is unset or empty", map[string]any{"env_var": envVar})
		} else {
			rec.Redact(creds.password)
		}
	}

	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}

	rec.Info("launching browser", map[string]any{"headless": tc.Environment.Headless})
	sess, err := r.newSession(ctx, tc.Environment, r.logger)
	if err != nil {
		return nil, err
	}

	e := &loginExecution{
		sess:          sess,
		cfg:           cfg,
		creds:         creds,
		rec:           rec,
		appID:         tc.ApplicationID,
		data:          data,
		timeout:       timeout,
		screenshotDir: r.screenshotDir,
		currentURL:    cfg.URL,
	}

	defer func() {
		if p := recover(); p != nil {
			err = probe.NewError(probe.CodeUnknown, "panic during login test: %v", p)
		}
		if err != nil && cfg.ScreenshotOnFailure {
			sctx, cancel := context.WithTimeout(sess.Context(), 10*time.Second)
			if path, serr := e.captureScreenshot(sctx, "failure"); serr != nil {
				rec.Warn("failure screenshot could not be captured", map[string]any{"error": serr.Error()})
			} else {
				e.screenshots = append(e.screenshots, path)
				rec.Info("failure screenshot captured", map[string]any{"path": path})
			}
			cancel()
		}
		if cerr := sess.Close(); cerr != nil {
			rec.Warn("browser cleanup reported errors", map[string]any{"error": cerr.Error()})
		}
		shots = e.screenshots
	}()

	err = e.run()
	return e.screenshots, err
}

// run executes the step sequence and post-sequence checks.
func (e *loginExecution) run() error {
	if e.cfg.URL != "" {
		ctx, cancel := context.WithTimeout(e.sess.Context(), e.timeout)
		err := e.sess.Navigate(ctx, e.cfg.URL)
		cancel()
		if err != nil {
			return navigationError(err, e.cfg.URL)
		}
		e.refreshURL()
		e.rec.Info("opened login page", map[string]any{"url": e.cfg.URL})
	}

	var halted error
	for i, step := range e.cfg.Steps {
		if step.ID == "" {
			step.ID = fmt.Sprintf("step-%d", i+1)
		}
		e.rec.Info("executing step", map[string]any{
			"step":        step.ID,
			"type":        string(step.Type),
			"description": step.Description,
		})

		res, err := e.executeStep(step)
		e.data.Steps = append(e.data.Steps, res)
		if err == nil {
			continue
		}
		if step.Optional {
			e.rec.Warn("optional step failed, continuing", map[string]any{"step": step.ID, "error": res.Error})
			continue
		}
		e.rec.Error("required step failed, halting sequence", map[string]any{"step": step.ID, "error": res.Error})
		halted = err
		break
	}

	e.refreshURL()
	e.data.FinalURL = e.currentURL

	// Evaluated before, and independently of, the success criteria: true iff
	// no executed step failed.
	e.data.AuthenticationSuccess = true
	for _, s := range e.data.Steps {
		if s.Status == probe.StepFailed {
			e.data.AuthenticationSuccess = false
			break
		}
	}

	e.extractSession()

	if halted != nil {
		e.data.FailureReason = probe.Wrap(halted).Message
		return halted
	}

	if err := e.validateCriteria(); err != nil {
		e.data.FailureReason = probe.Wrap(err).Message
		return err
	}
	return nil
}

// extractSession collects cookies and page storage. Best effort: each part
// that fails is logged as a warning and left unset.
func (e *loginExecution) extractSession() {
	sd := &probe.SessionData{}
	captured := false

	ctx, cancel := context.WithTimeout(e.sess.Context(), criteriaTimeout)
	defer cancel()

	if cookies, err := e.sess.Cookies(ctx); err != nil {
		e.rec.Warn("cookie extraction failed", map[string]any{"error": err.Error()})
	} else {
		sd.Cookies = cookies
		captured = true
	}

	for _, kind := range []string{"localStorage", "sessionStorage"} {
		snapshot, err := e.sess.StorageSnapshot(ctx, kind)
		if err != nil {
			e.rec.Warn("storage extraction failed", map[string]any{"kind": kind, "error": err.Error()})
			continue
		}
		if kind == "localStorage" {
			sd.LocalStorage = snapshot
		} else {
			sd.SessionStorage = snapshot
		}
		captured = true
	}

	if captured {
		e.data.Session = sd
	}
}

// saveShot writes screenshot bytes under the screenshot root as
// {applicationId}_{name}_{timestamp}.png.
func (e *loginExecution) saveShot(name string, img []byte) (string, error) {
	if err := os.MkdirAll(e.screenshotDir, 0o755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}
	filename := fmt.Sprintf("%s_%s_%d.png", e.appID, name, time.Now().UnixMilli())
	path := filepath.Join(e.screenshotDir, filename)
	if err := os.WriteFile(path, img, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}
