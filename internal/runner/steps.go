package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/appwatch/appwatch/internal/probe"
)

const (
	defaultStepTimeout = 30 * time.Second
	defaultWaitPause   = 1 * time.Second
)

// credentials holds the resolved login identity for one invocation. The
// password comes from the environment at execution time and must never be
// written anywhere except the page itself.
type credentials struct {
	username string
	password string
}

// substituteCredentials replaces the {username} and {password} tokens.
// Confined to the text of type steps.
func substituteCredentials(text string, creds credentials) string {
	text = strings.ReplaceAll(text, "{username}", creds.username)
	return strings.ReplaceAll(text, "{password}", creds.password)
}

// stepNeedsElement reports whether the step locates a target element before
// acting.
func stepNeedsElement(step probe.LoginTestStep) bool {
	switch step.Type {
	case probe.StepClick, probe.StepTypeText, probe.StepSelect, probe.StepCheck,
		probe.StepUncheck, probe.StepHover, probe.StepWaitForSelector:
		return true
	case probe.StepScroll:
		return step.Selector != ""
	}
	return false
}

// executeStep runs one step with its retry policy. The returned StepResult is
// always populated; err is the final failure after retries are exhausted, nil
// on success. Intermediate failures are logged as warnings only.
func (e *loginExecution) executeStep(step probe.LoginTestStep) (probe.StepResult, error) {
	res := probe.StepResult{
		ID:          step.ID,
		Type:        step.Type,
		Description: step.Description,
		Status:      probe.StepPassed,
	}

	attempts := 1
	var delay time.Duration
	if step.Retry != nil && step.Retry.Attempts > 0 {
		attempts += step.Retry.Attempts
		delay = step.Retry.Delay.Std()
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			e.rec.Warn("step failed, retrying", map[string]any{
				"step":    step.ID,
				"attempt": attempt,
				"of":      attempts,
				"error":   lastErr.Error(),
			})
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-e.sess.Context().Done():
				}
			}
		}

		res.Attempts = attempt
		found, err := e.performAction(step)
		if found != nil {
			res.ElementFound = found
		}
		lastErr = err
		if err == nil {
			break
		}
	}

	res.DurationMs = time.Since(start).Milliseconds()
	if lastErr != nil {
		res.Status = probe.StepFailed
		res.Error = probe.Wrap(lastErr).Message
		return res, lastErr
	}
	return res, nil
}

// performAction runs a single attempt of a step. For element-targeting steps
// the element is located first; found reports the outcome of that lookup
// independently of the action itself.
func (e *loginExecution) performAction(step probe.LoginTestStep) (found *bool, err error) {
	timeout := step.Timeout.Std()
	if timeout <= 0 {
		timeout = e.timeout
	}

	// Explicit waits pause for the configured duration; the step timeout is
	// the pause itself, not a deadline.
	if step.Type == probe.StepWait {
		pause := step.Timeout.Std()
		if pause <= 0 {
			pause = defaultWaitPause
		}
		timer := time.NewTimer(pause)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil, nil
		case <-e.sess.Context().Done():
			return nil, e.sess.Context().Err()
		}
	}

	ctx, cancel := context.WithTimeout(e.sess.Context(), timeout)
	defer cancel()

	if stepNeedsElement(step) {
		if step.Selector == "" {
			return nil, probe.NewError(probe.CodeValidationFailed, "step %q (%s) requires a selector", step.ID, step.Type)
		}
		if err := e.sess.WaitVisible(ctx, step.Selector); err != nil {
			f := false
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return &f, probe.NewError(probe.CodeElementNotFound, "element %q not found within %s", step.Selector, timeout)
			}
			return &f, err
		}
		f := true
		found = &f
	}

	switch step.Type {
	case probe.StepNavigate:
		if err := e.sess.Navigate(ctx, step.URL); err != nil {
			return found, navigationError(err, step.URL)
		}
		e.refreshURL()
		return found, nil

	case probe.StepClick:
		return found, e.sess.Click(ctx, step.Selector)

	case probe.StepTypeText:
		text := substituteCredentials(step.Text, e.creds)
		return found, e.sess.Type(ctx, step.Selector, text)

	case probe.StepSelect:
		return found, e.sess.SelectOption(ctx, step.Selector, step.Text)

	case probe.StepCheck:
		return found, e.sess.SetChecked(ctx, step.Selector, true)

	case probe.StepUncheck:
		return found, e.sess.SetChecked(ctx, step.Selector, false)

	case probe.StepHover:
		return found, e.sess.Hover(ctx, step.Selector)

	case probe.StepScroll:
		return found, e.sess.Scroll(ctx, step.Selector)

	case probe.StepWaitForNavigation:
		if err := e.sess.WaitReady(ctx); err != nil {
			return found, navigationError(err, "")
		}
		e.refreshURL()
		return found, nil

	case probe.StepWaitForSelector:
		// The element lookup above is the whole action.
		return found, nil

	case probe.StepWaitForFunction:
		if step.Condition == "" {
			return found, probe.NewError(probe.CodeValidationFailed, "step %q (waitForFunction) requires a condition", step.ID)
		}
		if err := e.sess.Poll(ctx, step.Condition); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return found, probe.NewError(probe.CodeTimeout, "condition for step %q not met within %s", step.ID, timeout)
			}
			return found, err
		}
		return found, nil

	case probe.StepScreenshot:
		name := step.ID
		if name == "" {
			name = "step"
		}
		path, err := e.captureScreenshot(ctx, name)
		if err != nil {
			return found, err
		}
		e.screenshots = append(e.screenshots, path)
		return found, nil

	default:
		return found, probe.NewError(probe.CodeValidationFailed, "unknown step type %q", step.Type)
	}
}

// navigationError maps a failed navigation onto the taxonomy. Timeouts stay
// timeouts; anything else the classifier does not recognize becomes
// NAVIGATION_FAILED rather than UNKNOWN_ERROR.
func navigationError(err error, url string) error {
	code := probe.Classify(err)
	if code == probe.CodeUnknown {
		code = probe.CodeNavigationFailed
	}
	if url != "" {
		return probe.NewError(code, "navigation to %s failed: %v", url, err)
	}
	return probe.NewError(code, "navigation did not complete: %v", err)
}

// refreshURL updates the runner's notion of the current page URL after
// navigation-type steps. Best effort.
func (e *loginExecution) refreshURL() {
	ctx, cancel := context.WithTimeout(e.sess.Context(), 5*time.Second)
	defer cancel()
	url, err := e.sess.Location(ctx)
	if err != nil {
		e.rec.Warn("could not read current URL", map[string]any{"error": err.Error()})
		return
	}
	e.currentURL = url
}

// captureScreenshot writes a full-page screenshot under the screenshot root
// as {applicationId}_{name}_{timestamp}.png and returns its path.
func (e *loginExecution) captureScreenshot(ctx context.Context, name string) (string, error) {
	img, err := e.sess.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("capture screenshot: %w", err)
	}
	return e.saveShot(name, img)
}
