// Package store persists probe results so runs can be inspected and replayed
// after the fact. It is a local archive for the CLI harness, not the
// dashboard's own persistence.
package store

import (
	"context"
	"time"

	"github.com/appwatch/appwatch/internal/probe"
)

// Store is the persistence interface for probe results.
type Store interface {
	// InsertResult archives one result and returns its row id.
	InsertResult(ctx context.Context, result *probe.TestResultData) (int64, error)
	// GetResult loads one archived result by row id.
	GetResult(ctx context.Context, id int64) (*probe.TestResultData, error)
	// ListResults returns the most recent results for an application,
	// newest first.
	ListResults(ctx context.Context, applicationID string, limit int) ([]*probe.TestResultData, error)
	// ListRunResults returns all results belonging to one test run.
	ListRunResults(ctx context.Context, testRunID string) ([]*probe.TestResultData, error)
	// PruneBefore deletes results that started before the cutoff and
	// returns how many were removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}
