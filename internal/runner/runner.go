// Package runner implements the probe runners (an HTTP health check and a
// browser-driven login test) behind a common contract: one
// TestExecutionContext in, one TestResultData out, never an error. All
// failures are folded into the result.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/appwatch/appwatch/internal/probe"
)

// Runner executes one probe. Execute must not panic and never reports
// failure through a return error; the outcome, including any failure, is the
// returned result.
type Runner interface {
	// Type returns the test type this runner handles.
	Type() probe.TestType
	// Execute runs a single probe to completion.
	Execute(ctx context.Context, tc *probe.TestExecutionContext) *probe.TestResultData
}

// Registry holds runners by test type.
type Registry struct {
	mu      sync.RWMutex
	runners map[probe.TestType]Runner
}

func NewRegistry() *Registry {
	return &Registry{runners: make(map[probe.TestType]Runner)}
}

func (r *Registry) Register(runner Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[runner.Type()] = runner
}

func (r *Registry) Get(typ probe.TestType) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runner, ok := r.runners[typ]
	if !ok {
		return nil, fmt.Errorf("no runner registered for test type: %s", typ)
	}
	return runner, nil
}

// Options configures the default runner set.
type Options struct {
	Logger        *slog.Logger
	ScreenshotDir string
}

// DefaultRegistry creates a registry with both built-in runners.
func DefaultRegistry(opts Options) *Registry {
	r := NewRegistry()
	r.Register(NewHealthCheckRunner(opts.Logger))
	r.Register(NewLoginTestRunner(opts.Logger, opts.ScreenshotDir))
	return r
}
