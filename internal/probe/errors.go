package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrorCode is the taxonomy the dashboard groups failures by.
type ErrorCode string

const (
	CodeNetworkError     ErrorCode = "NETWORK_ERROR"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeNavigationFailed ErrorCode = "NAVIGATION_FAILED"
	CodeElementNotFound  ErrorCode = "ELEMENT_NOT_FOUND"
	CodeBrowserCrashed   ErrorCode = "BROWSER_CRASHED"
	CodeAuthFailed       ErrorCode = "AUTHENTICATION_FAILED"
	CodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	CodeUnknown          ErrorCode = "UNKNOWN_ERROR"
)

// ProbeError is the error shape carried in TestResultData. It is what the
// caller sees instead of a raw exception.
type ProbeError struct {
	Message string    `json:"message"`
	Stack   string    `json:"stack,omitempty"`
	Code    ErrorCode `json:"code"`
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a ProbeError with an explicit taxonomy code.
func NewError(code ErrorCode, format string, args ...any) *ProbeError {
	return &ProbeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Classify maps a transport-level error onto the taxonomy. Timeouts win over
// other classifications because a deadline usually wraps the underlying cause.
func Classify(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	var pe *ProbeError
	if errors.As(err, &pe) {
		return pe.Code
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return CodeTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CodeNetworkError
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return CodeNetworkError
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return CodeNetworkError
	}

	// Browser-side errors arrive as plain strings from the devtools protocol.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "net::err_name_not_resolved"),
		strings.Contains(msg, "net::err_connection_refused"),
		strings.Contains(msg, "net::err_internet_disconnected"):
		return CodeNetworkError
	case strings.Contains(msg, "net::err_aborted"),
		strings.Contains(msg, "page load error"):
		return CodeNavigationFailed
	case strings.Contains(msg, "browser closed"),
		strings.Contains(msg, "browser process"),
		strings.Contains(msg, "websocket url timeout"):
		return CodeBrowserCrashed
	case strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "timeout"):
		return CodeTimeout
	}

	return CodeUnknown
}

// Wrap converts any error into a ProbeError, classifying it when it does not
// already carry a code.
func Wrap(err error) *ProbeError {
	if err == nil {
		return nil
	}
	var pe *ProbeError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProbeError{Code: Classify(err), Message: err.Error()}
}
