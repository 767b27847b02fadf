package runner

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/appwatch/appwatch/internal/probe"
)

const criteriaTimeout = 10 * time.Second

// validateCriteria checks the declarative success criteria in order:
// selectors, URL pattern, text content, custom validation. The first failing
// criterion short-circuits and becomes the failure reason; later criteria are
// not evaluated.
func (e *loginExecution) validateCriteria() error {
	c := e.cfg.SuccessCriteria

	for _, selector := range c.Selectors {
		ctx, cancel := context.WithTimeout(e.sess.Context(), criteriaTimeout)
		visible, err := e.sess.ElementVisible(ctx, selector)
		cancel()
		if err != nil {
			return probe.NewError(probe.CodeValidationFailed, "success criteria: could not evaluate selector %q: %v", selector, err)
		}
		if !visible {
			return probe.NewError(probe.CodeValidationFailed, "success criteria: selector %q is not visible", selector)
		}
	}

	if c.URLPattern != "" {
		re, err := regexp.Compile(c.URLPattern)
		if err != nil {
			return probe.NewError(probe.CodeValidationFailed, "success criteria: invalid url pattern %q: %v", c.URLPattern, err)
		}
		if !re.MatchString(e.currentURL) {
			return probe.NewError(probe.CodeValidationFailed, "success criteria: final URL %q does not match pattern %q", e.currentURL, c.URLPattern)
		}
	}

	if len(c.TextContent) > 0 {
		ctx, cancel := context.WithTimeout(e.sess.Context(), criteriaTimeout)
		body, err := e.sess.BodyText(ctx)
		cancel()
		if err != nil {
			return probe.NewError(probe.CodeValidationFailed, "success criteria: could not read page text: %v", err)
		}
		for _, want := range c.TextContent {
			if !strings.Contains(body, want) {
				return probe.NewError(probe.CodeValidationFailed, "success criteria: page text does not contain %q", want)
			}
		}
	}

	if c.CustomValidation != "" {
		ctx, cancel := context.WithTimeout(e.sess.Context(), criteriaTimeout)
		truthy, err := e.sess.EvaluateBool(ctx, c.CustomValidation)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return probe.NewError(probe.CodeValidationFailed, "success criteria: custom validation timed out")
			}
			return probe.NewError(probe.CodeValidationFailed, "success criteria: custom validation error: %v", err)
		}
		if !truthy {
			return probe.NewError(probe.CodeValidationFailed, "success criteria: custom validation returned falsy")
		}
	}

	return nil
}
