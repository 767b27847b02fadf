package runner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/appwatch/appwatch/internal/probe"
)

func healthContext(url string, mutate func(*probe.HealthCheckConfig)) *probe.TestExecutionContext {
	cfg := &probe.HealthCheckConfig{
		URL:            url,
		Method:         "GET",
		Timeout:        probe.Duration(5 * time.Second),
		ExpectedStatus: []int{200},
		AllowPrivate:   true,
	}
	if mutate != nil {
		mutate(cfg)
	}
	return &probe.TestExecutionContext{
		TestRunID:     "run-1",
		ApplicationID: "app-1",
		TestType:      probe.TestTypeHealthCheck,
		HealthCheck:   cfg,
		StartedAt:     time.Now(),
	}
}

func TestHealthCheckPassed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","uptime":12345}`))
	}))
	defer server.Close()

	r := NewHealthCheckRunner(nil)
	tc := healthContext(server.URL, func(cfg *probe.HealthCheckConfig) {
		cfg.ExpectedResponse = map[string]any{"status": "healthy"}
	})

	result := r.Execute(context.Background(), tc)
	if result.Status != probe.StatusPassed {
		t.Fatalf("expected passed, got %s (error: %+v)", result.Status, result.Error)
	}
	if result.HealthCheck == nil {
		t.Fatal("expected health check data")
	}
	if result.HealthCheck.StatusCode != 200 {
		t.Fatalf("expected status 200, got %d", result.HealthCheck.StatusCode)
	}
	if result.HealthCheck.Body != `{"status":"healthy","uptime":12345}` {
		t.Fatalf("unexpected body: %s", result.HealthCheck.Body)
	}
	if result.TestType != probe.TestTypeHealthCheck || result.LoginTest != nil {
		t.Fatal("result discriminator is wrong")
	}
	if len(result.Logs) == 0 {
		t.Fatal("expected structured logs")
	}
	if result.Metrics["response_time_ms"] < 0 {
		t.Fatal("expected response time metric")
	}
}

func TestHealthCheckUnexpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	r := NewHealthCheckRunner(nil)
	result := r.Execute(context.Background(), healthContext(server.URL, nil))

	if result.Status != probe.StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if result.Error == nil || result.Error.Code != probe.CodeValidationFailed {
		t.Fatalf("expected VALIDATION_FAILED, got %+v", result.Error)
	}
	// The response was received, so the decomposed data must be present even
	// though validation failed.
	if result.HealthCheck == nil || result.HealthCheck.StatusCode != 500 {
		t.Fatalf("expected health check data with status 500, got %+v", result.HealthCheck)
	}
}

func TestHealthCheckBodyMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"degraded"}`))
	}))
	defer server.Close()

	r := NewHealthCheckRunner(nil)
	tc := healthContext(server.URL, func(cfg *probe.HealthCheckConfig) {
		cfg.ExpectedResponse = map[string]any{"status": "healthy"}
	})
	result := r.Execute(context.Background(), tc)

	if result.Status != probe.StatusFailed || result.Error.Code != probe.CodeValidationFailed {
		t.Fatalf("expected VALIDATION_FAILED, got %s %+v", result.Status, result.Error)
	}
}

func TestHealthCheckNetworkError(t *testing.T) {
	// Grab a port that nothing is listening on.
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	r := NewHealthCheckRunner(nil)
	tc := healthContext(url, func(cfg *probe.HealthCheckConfig) {
		cfg.Timeout = probe.Duration(2 * time.Second)
	})
	result := r.Execute(context.Background(), tc)

	if result.Status != probe.StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if result.Error == nil || result.Error.Code != probe.CodeNetworkError {
		t.Fatalf("expected NETWORK_ERROR, got %+v", result.Error)
	}
	if result.HealthCheck != nil {
		t.Fatal("no response was received, data must be nil")
	}
}

func TestHealthCheckTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	r := NewHealthCheckRunner(nil)
	tc := healthContext(server.URL, func(cfg *probe.HealthCheckConfig) {
		cfg.Timeout = probe.Duration(100 * time.Millisecond)
	})
	result := r.Execute(context.Background(), tc)

	if result.Status != probe.StatusFailed || result.Error.Code != probe.CodeTimeout {
		t.Fatalf("expected TIMEOUT, got %s %+v", result.Status, result.Error)
	}
}

func TestHealthCheckBodyTruncation(t *testing.T) {
	big := strings.Repeat("x", probe.MaxBodyBytes+500)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(big))
	}))
	defer server.Close()

	r := NewHealthCheckRunner(nil)
	result := r.Execute(context.Background(), healthContext(server.URL, nil))

	if !strings.HasSuffix(result.HealthCheck.Body, probe.TruncationMarker) {
		t.Fatal("expected truncated body")
	}
	if result.HealthCheck.ResponseSize != int64(len(big)) {
		t.Fatalf("response size must reflect the full body, got %d", result.HealthCheck.ResponseSize)
	}
}

func TestHealthCheckRedirects(t *testing.T) {
	final := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer final.Close()
	hopping := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, final.URL, http.StatusFound)
	}))
	defer hopping.Close()

	r := NewHealthCheckRunner(nil)

	// Redirects followed: final status 200, chain recorded.
	tc := healthContext(hopping.URL, func(cfg *probe.HealthCheckConfig) {
		cfg.FollowRedirects = true
	})
	result := r.Execute(context.Background(), tc)
	if result.Status != probe.StatusPassed {
		t.Fatalf("expected passed, got %s %+v", result.Status, result.Error)
	}
	if len(result.HealthCheck.Redirects) != 1 || result.HealthCheck.Redirects[0] != final.URL {
		t.Fatalf("unexpected redirect chain: %v", result.HealthCheck.Redirects)
	}

	// Redirects not followed: the 302 itself is the response.
	tc = healthContext(hopping.URL, func(cfg *probe.HealthCheckConfig) {
		cfg.ExpectedStatus = []int{302}
	})
	result = r.Execute(context.Background(), tc)
	if result.Status != probe.StatusPassed {
		t.Fatalf("expected passed on 302, got %s %+v", result.Status, result.Error)
	}
	if len(result.HealthCheck.Redirects) != 0 {
		t.Fatalf("expected no redirect chain, got %v", result.HealthCheck.Redirects)
	}
}

func TestHealthCheckRequestShape(t *testing.T) {
	var gotMethod, gotContentType, gotUA, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		gotUA = r.Header.Get("User-Agent")
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
	}))
	defer server.Close()

	r := NewHealthCheckRunner(nil)
	tc := healthContext(server.URL, func(cfg *probe.HealthCheckConfig) {
		cfg.Method = "post"
		cfg.Body = `{"ping":true}`
		cfg.Headers = map[string]string{"X-Probe": "appwatch"}
	})
	tc.Environment.UserAgent = "appwatch-probe/1.0"

	result := r.Execute(context.Background(), tc)
	if result.Status != probe.StatusPassed {
		t.Fatalf("expected passed, got %+v", result.Error)
	}
	if gotMethod != "POST" {
		t.Fatalf("expected POST, got %s", gotMethod)
	}
	if gotContentType != "application/json" {
		t.Fatalf("expected forced json content type, got %q", gotContentType)
	}
	if gotUA != "appwatch-probe/1.0" {
		t.Fatalf("expected environment user agent, got %q", gotUA)
	}
	if gotBody != `{"ping":true}` {
		t.Fatalf("unexpected body: %q", gotBody)
	}
}

func TestHealthCheckSSLInfo(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	r := NewHealthCheckRunner(nil)
	tc := healthContext(server.URL, func(cfg *probe.HealthCheckConfig) {
		cfg.ValidateSSL = false // self-signed test cert
	})
	result := r.Execute(context.Background(), tc)

	if result.Status != probe.StatusPassed {
		t.Fatalf("expected passed, got %+v", result.Error)
	}
	if result.HealthCheck.SSL == nil {
		t.Fatal("expected ssl metadata for https target")
	}
	if !result.HealthCheck.SSL.Valid {
		t.Fatal("test certificate should be within its validity window")
	}
}

func TestHealthCheckSyntheticTimingSumsToTotal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	r := NewHealthCheckRunner(nil)
	result := r.Execute(context.Background(), healthContext(server.URL, nil))

	tb := result.HealthCheck.Timing
	total := result.HealthCheck.ResponseTimeMs
	sum := tb.DNSMs + tb.ConnectMs + tb.SSLMs + tb.SendMs + tb.WaitMs + tb.ReceiveMs
	// Fixed-fraction apportioning uses integer division; allow rounding loss.
	if sum > total || total-sum > 6 {
		t.Fatalf("timing sum %d out of range for total %d", sum, total)
	}
}

func TestValidateStatus(t *testing.T) {
	if err := validateStatus(200, []int{200, 204}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := validateStatus(500, []int{200}); err == nil {
		t.Fatal("expected validation failure")
	}
	if err := validateStatus(302, nil); err != nil {
		t.Fatalf("empty set should accept non-error status: %v", err)
	}
	if err := validateStatus(503, nil); err == nil {
		t.Fatal("empty set should reject error status")
	}
}
