package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"syscall"
	"testing"
)

func TestTruncateBody(t *testing.T) {
	exact := strings.Repeat("a", MaxBodyBytes)
	if got := TruncateBody(exact); got != exact {
		t.Fatal("body of exactly 10KiB must not be truncated")
	}

	long := strings.Repeat("b", MaxBodyBytes+1)
	got := TruncateBody(long)
	if !strings.HasSuffix(got, TruncationMarker) {
		t.Fatalf("expected truncation marker suffix, got tail %q", got[len(got)-30:])
	}
	if len(got) != MaxBodyBytes+len(TruncationMarker) {
		t.Fatalf("unexpected truncated length %d", len(got))
	}

	if got := TruncateBody("short"); got != "short" {
		t.Fatalf("short body modified: %q", got)
	}
}

func TestSyntheticTiming(t *testing.T) {
	tb := SyntheticTiming(1000)
	if tb.DNSMs != 100 || tb.ConnectMs != 100 || tb.SSLMs != 100 {
		t.Fatalf("unexpected dns/connect/ssl split: %+v", tb)
	}
	if tb.SendMs != 50 || tb.WaitMs != 600 || tb.ReceiveMs != 50 {
		t.Fatalf("unexpected send/wait/receive split: %+v", tb)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"nil", nil, CodeUnknown},
		{"deadline", context.DeadlineExceeded, CodeTimeout},
		{"wrapped deadline", fmt.Errorf("run: %w", context.DeadlineExceeded), CodeTimeout},
		{"dns", &net.DNSError{Err: "no such host", Name: "nope.invalid", IsNotFound: true}, CodeNetworkError},
		{"refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), CodeNetworkError},
		{"op error", &net.OpError{Op: "dial", Err: errors.New("broken")}, CodeNetworkError},
		{"chrome dns", errors.New("page load error net::ERR_NAME_NOT_RESOLVED"), CodeNetworkError},
		{"chrome abort", errors.New("page load error net::ERR_ABORTED"), CodeNavigationFailed},
		{"browser gone", errors.New("chrome browser process exited"), CodeBrowserCrashed},
		{"existing code", NewError(CodeElementNotFound, "no #login"), CodeElementNotFound},
		{"opaque", errors.New("something odd"), CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestWrapKeepsCode(t *testing.T) {
	orig := NewError(CodeValidationFailed, "status 500 not in [200]")
	pe := Wrap(fmt.Errorf("execute: %w", orig))
	if pe.Code != CodeValidationFailed {
		t.Fatalf("expected VALIDATION_FAILED, got %s", pe.Code)
	}
	if Wrap(nil) != nil {
		t.Fatal("Wrap(nil) must be nil")
	}
}

func TestRecorderRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	rec := NewRecorder(logger, "login_test", "app-1")
	rec.Redact("s3cr3t-pw")
	rec.Info("typing into field", map[string]any{"value": "s3cr3t-pw", "selector": "#password"})
	rec.Warn("retrying step s3cr3t-pw visible in message", nil)

	entries := rec.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	for _, e := range entries {
		if strings.Contains(e.Message, "s3cr3t-pw") {
			t.Fatalf("secret leaked in message: %q", e.Message)
		}
		for k, v := range e.Data {
			if s, ok := v.(string); ok && strings.Contains(s, "s3cr3t-pw") {
				t.Fatalf("secret leaked in data %s: %q", k, s)
			}
		}
	}
	if strings.Contains(buf.String(), "s3cr3t-pw") {
		t.Fatal("secret leaked to process logger")
	}
	if !strings.Contains(buf.String(), "[redacted]") {
		t.Fatal("expected redaction marker in process log")
	}
}

func TestRecorderOrderingAndSource(t *testing.T) {
	rec := NewRecorder(nil, "health_check", "app-2")
	rec.Debug("first", nil)
	rec.Info("second", nil)
	rec.Error("third", nil)

	entries := rec.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	want := []struct {
		level LogLevel
		msg   string
	}{{LogDebug, "first"}, {LogInfo, "second"}, {LogError, "third"}}
	for i, w := range want {
		if entries[i].Level != w.level || entries[i].Message != w.msg {
			t.Fatalf("entry %d = %s %q, want %s %q", i, entries[i].Level, entries[i].Message, w.level, w.msg)
		}
		if entries[i].Source != "health_check" {
			t.Fatalf("entry %d source = %q", i, entries[i].Source)
		}
	}
}
