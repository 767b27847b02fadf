package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/appwatch/appwatch/internal/config"
	"github.com/appwatch/appwatch/internal/probe"
	"github.com/appwatch/appwatch/internal/runner"
	"github.com/appwatch/appwatch/internal/store"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "appwatch.yaml", "path to configuration file")
	appID := flag.String("app", "", "run probes for a single application id")
	testType := flag.String("type", "", "run only one probe type (health_check or login_test)")
	jsonOut := flag.Bool("json", false, "print results as JSON to stdout")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("appwatch %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
	if *testType != "" && *testType != string(probe.TestTypeHealthCheck) && *testType != string(probe.TestTypeLoginTest) {
		fmt.Fprintf(os.Stderr, "error: unknown test type %q\n", *testType)
		os.Exit(2)
	}

	logger := setupLogger(cfg.Logging)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	code := run(ctx, cfg, logger, *appID, probe.TestType(*testType), *jsonOut)
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, onlyApp string, onlyType probe.TestType, jsonOut bool) int {
	runID := uuid.NewString()
	logger.Info("starting appwatch", "version", version, "test_run_id", runID)

	var archive store.Store
	if cfg.Database.Path != "" {
		s, err := store.NewSQLiteStore(cfg.Database.Path, cfg.Database.MaxReadConns)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			return 2
		}
		defer s.Close()
		archive = s

		if cfg.Database.RetentionDays > 0 {
			cutoff := time.Now().AddDate(0, 0, -cfg.Database.RetentionDays)
			removed, err := s.PruneBefore(ctx, cutoff)
			if err != nil {
				logger.Warn("retention prune failed", "error", err)
			} else if removed > 0 {
				logger.Info("pruned old results", "removed", removed)
			}
		}
	}

	registry := runner.DefaultRegistry(runner.Options{
		Logger:        logger,
		ScreenshotDir: cfg.Screenshots.Dir,
	})
	limiter := rate.NewLimiter(rate.Limit(cfg.Probe.RateLimitPerSec), cfg.Probe.RateLimitBurst)
	env := cfg.Environment()

	var results []*probe.TestResultData
	failed := 0

	for _, app := range cfg.Applications {
		if onlyApp != "" && app.ID != onlyApp {
			continue
		}
		for _, tc := range executionContexts(app, runID, env) {
			if onlyType != "" && tc.TestType != onlyType {
				continue
			}
			if err := limiter.Wait(ctx); err != nil {
				logger.Info("run interrupted", "error", err)
				return 1
			}

			result := execute(ctx, registry, tc, logger)
			results = append(results, result)
			if result.Status == probe.StatusFailed {
				failed++
			}

			if archive != nil {
				if _, err := archive.InsertResult(ctx, result); err != nil {
					logger.Error("failed to archive result", "application_id", app.ID, "error", err)
				}
			}
		}
	}

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			logger.Error("failed to encode results", "error", err)
		}
	}

	logger.Info("run complete", "test_run_id", runID, "total", len(results), "failed", failed)
	if failed > 0 {
		return 1
	}
	return 0
}

// executionContexts expands one application into its configured probe
// invocations, health check first.
func executionContexts(app config.ApplicationConfig, runID string, env probe.Environment) []*probe.TestExecutionContext {
	var out []*probe.TestExecutionContext
	if app.HealthCheck != nil {
		out = append(out, &probe.TestExecutionContext{
			TestRunID:     runID,
			ApplicationID: app.ID,
			TestType:      probe.TestTypeHealthCheck,
			HealthCheck:   app.HealthCheck,
			Environment:   env,
			StartedAt:     time.Now(),
		})
	}
	if app.LoginTest != nil {
		out = append(out, &probe.TestExecutionContext{
			TestRunID:     runID,
			ApplicationID: app.ID,
			TestType:      probe.TestTypeLoginTest,
			LoginTest:     app.LoginTest,
			Environment:   env,
			StartedAt:     time.Now(),
		})
	}
	return out
}

func execute(ctx context.Context, registry *runner.Registry, tc *probe.TestExecutionContext, logger *slog.Logger) *probe.TestResultData {
	r, err := registry.Get(tc.TestType)
	if err != nil {
		// Unreachable with the default registry; fold into the result
		// contract anyway.
		now := time.Now()
		return &probe.TestResultData{
			TestRunID:     tc.TestRunID,
			ApplicationID: tc.ApplicationID,
			TestType:      tc.TestType,
			Status:        probe.StatusFailed,
			StartedAt:     now,
			CompletedAt:   now,
			Error:         probe.NewError(probe.CodeUnknown, "%v", err),
		}
	}

	tc.StartedAt = time.Now()
	result := r.Execute(ctx, tc)

	attrs := []any{
		"application_id", tc.ApplicationID,
		"test_type", tc.TestType,
		"status", result.Status,
		"duration_ms", result.DurationMs,
	}
	if result.Error != nil {
		attrs = append(attrs, "error_code", result.Error.Code, "error", result.Error.Message)
	}
	if result.Status == probe.StatusPassed {
		logger.Info("probe passed", attrs...)
	} else {
		logger.Warn("probe failed", attrs...)
	}
	return result
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
