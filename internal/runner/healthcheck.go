package runner

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/appwatch/appwatch/internal/probe"
	"github.com/appwatch/appwatch/internal/safenet"
)

// maxBodyRead bounds how much of a response is read off the wire. Storage
// truncation to probe.MaxBodyBytes happens separately so the reported
// response size stays accurate for bodies up to this limit.
const maxBodyRead = 1 << 20 // 1MB

const defaultHealthCheckTimeout = 30 * time.Second

// HealthCheckRunner probes an HTTP health endpoint and validates the
// response against the configured expectations.
type HealthCheckRunner struct {
	logger *slog.Logger
}

func NewHealthCheckRunner(logger *slog.Logger) *HealthCheckRunner {
	return &HealthCheckRunner{logger: logger}
}

func (r *HealthCheckRunner) Type() probe.TestType { return probe.TestTypeHealthCheck }

// Execute runs one health check. It never returns an error: transport
// failures, validation failures, and panics all land in the result.
func (r *HealthCheckRunner) Execute(ctx context.Context, tc *probe.TestExecutionContext) *probe.TestResultData {
	started := tc.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	rec := probe.NewRecorder(r.logger, string(probe.TestTypeHealthCheck), tc.ApplicationID)

	result := &probe.TestResultData{
		TestRunID:     tc.TestRunID,
		ApplicationID: tc.ApplicationID,
		TestType:      probe.TestTypeHealthCheck,
		Status:        probe.StatusPassed,
		StartedAt:     started,
	}

	data, err := r.run(ctx, tc, rec)
	result.HealthCheck = data
	if err != nil {
		result.Status = probe.StatusFailed
		result.Error = probe.Wrap(err)
		rec.Error("health check failed", map[string]any{"code": string(result.Error.Code), "error": result.Error.Message})
	} else {
		rec.Info("health check passed", nil)
	}

	result.CompletedAt = time.Now()
	result.DurationMs = result.CompletedAt.Sub(started).Milliseconds()
	result.Logs = rec.Entries()
	if data != nil {
		result.Metrics = map[string]float64{
			"response_time_ms":    float64(data.ResponseTimeMs),
			"response_size_bytes": float64(data.ResponseSize),
			"redirect_count":      float64(len(data.Redirects)),
		}
	}
	return result
}

// run performs the request and validation. The returned HealthCheckData is
// non-nil whenever a response was received, even if validation failed.
func (r *HealthCheckRunner) run(ctx context.Context, tc *probe.TestExecutionContext, rec *probe.Recorder) (data *probe.HealthCheckData, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = probe.NewError(probe.CodeUnknown, "panic during health check: %v", p)
		}
	}()

	cfg := tc.HealthCheck
	if cfg == nil {
		return nil, probe.NewError(probe.CodeUnknown, "execution context has no health check config")
	}

	target, err := url.Parse(cfg.URL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, probe.NewError(probe.CodeValidationFailed, "invalid health check URL %q", cfg.URL)
	}

	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = defaultHealthCheckTimeout
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, redirects, client, err := r.buildRequest(reqCtx, cfg, tc.Environment, method, timeout)
	if err != nil {
		return nil, err
	}

	rec.Info("issuing request", map[string]any{"method": method, "url": cfg.URL, "timeout_ms": timeout.Milliseconds()})

	start := time.Now()
	resp, err := client.Do(req)
	responseTime := time.Since(start).Milliseconds()
	if err != nil {
		return nil, fmt.Errorf("request failed after %dms: %w", responseTime, err)
	}
	defer resp.Body.Close()

	bodyBytes, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyRead))
	if readErr != nil {
		rec.Warn("response body read incomplete", map[string]any{"error": readErr.Error()})
	}

	data = r.decompose(resp, bodyBytes, responseTime, *redirects)

	if target.Scheme == "https" {
		if ssl, sslErr := extractSSLInfo(resp); sslErr != nil {
			rec.Warn("ssl metadata extraction failed", map[string]any{"error": sslErr.Error()})
		} else {
			data.SSL = ssl
		}
	}

	rec.Info("response received", map[string]any{
		"status":           resp.StatusCode,
		"response_time_ms": responseTime,
		"size_bytes":       data.ResponseSize,
	})

	// Slow-but-responded is intentionally a warning, not a failure.
	if time.Duration(responseTime)*time.Millisecond > timeout {
		rec.Warn("response time exceeded configured timeout", map[string]any{
			"response_time_ms": responseTime,
			"timeout_ms":       timeout.Milliseconds(),
		})
	}

	if err := validateStatus(resp.StatusCode, cfg.ExpectedStatus); err != nil {
		return data, err
	}

	if cfg.ExpectedResponse != nil {
		if err := validateBody(bodyBytes, cfg.ExpectedResponse); err != nil {
			return data, err
		}
	}

	return data, nil
}

func (r *HealthCheckRunner) buildRequest(ctx context.Context, cfg *probe.HealthCheckConfig, env probe.Environment, method string, timeout time.Duration) (*http.Request, *[]string, *http.Client, error) {
	var bodyReader io.Reader
	hasBody := cfg.Body != "" && (method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch)
	if hasBody {
		bodyReader = strings.NewReader(cfg.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, bodyReader)
	if err != nil {
		return nil, nil, nil, probe.NewError(probe.CodeValidationFailed, "build request: %v", err)
	}

	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if env.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", env.UserAgent)
	}
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}

	baseDial := (&net.Dialer{
		Timeout: timeout,
		Control: safenet.MaybeDialControl(cfg.AllowPrivate),
	}).DialContext

	transport := &http.Transport{
		DialContext: baseDial,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !cfg.ValidateSSL,
		},
		DisableKeepAlives: true,
	}
	configureProxy(transport, cfg.ProxyURL, baseDial)

	redirects := &[]string{}
	client := &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
	if cfg.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("stopped after 10 redirects")
			}
			*redirects = append(*redirects, req.URL.String())
			return nil
		}
	} else {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return req, redirects, client, nil
}

func (r *HealthCheckRunner) decompose(resp *http.Response, bodyBytes []byte, responseTime int64, redirects []string) *probe.HealthCheckData {
	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	size := int64(len(bodyBytes))
	if resp.ContentLength >= 0 {
		size = resp.ContentLength
	}

	statusText := http.StatusText(resp.StatusCode)
	if statusText == "" {
		statusText = resp.Status
	}

	return &probe.HealthCheckData{
		StatusCode:     resp.StatusCode,
		StatusText:     statusText,
		ResponseTimeMs: responseTime,
		ResponseSize:   size,
		Headers:        headers,
		Body:           probe.TruncateBody(string(bodyBytes)),
		Redirects:      redirects,
		Timing:         probe.SyntheticTiming(responseTime),
	}
}

// validateStatus checks membership in the expected set. An empty set accepts
// any non-error status.
func validateStatus(status int, expected []int) error {
	if len(expected) == 0 {
		if status >= 400 {
			return probe.NewError(probe.CodeValidationFailed, "status %d indicates failure", status)
		}
		return nil
	}
	for _, want := range expected {
		if status == want {
			return nil
		}
	}
	return probe.NewError(probe.CodeValidationFailed, "status %d not in expected set %v", status, expected)
}

func validateBody(bodyBytes []byte, expected any) error {
	var actual any
	if err := json.Unmarshal(bodyBytes, &actual); err != nil {
		return probe.NewError(probe.CodeValidationFailed, "response body is not valid JSON: %v", err)
	}
	if !matchSubset(normalizeExpected(expected), actual) {
		return probe.NewError(probe.CodeValidationFailed, "response body does not match expected structure")
	}
	return nil
}

// normalizeExpected converts YAML-decoded map[any]any trees into the
// map[string]any shape JSON decoding produces.
func normalizeExpected(v any) any {
	switch m := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(m))
		for k, mv := range m {
			out[k] = normalizeExpected(mv)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, mv := range m {
			out[fmt.Sprintf("%v", k)] = normalizeExpected(mv)
		}
		return out
	case []any:
		out := make([]any, len(m))
		for i, mv := range m {
			out[i] = normalizeExpected(mv)
		}
		return out
	default:
		return v
	}
}

func extractSSLInfo(resp *http.Response) (*probe.SSLInfo, error) {
	if resp.TLS == nil || len(resp.TLS.PeerCertificates) == 0 {
		return nil, fmt.Errorf("no TLS connection state available")
	}
	cert := resp.TLS.PeerCertificates[0]
	now := time.Now()
	return &probe.SSLInfo{
		Issuer:          cert.Issuer.CommonName,
		Subject:         cert.Subject.CommonName,
		NotBefore:       cert.NotBefore,
		NotAfter:        cert.NotAfter,
		DaysUntilExpiry: int(time.Until(cert.NotAfter).Hours() / 24),
		Valid:           now.After(cert.NotBefore) && now.Before(cert.NotAfter),
	}, nil
}
