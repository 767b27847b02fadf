package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"runtime"
	"time"

	_ "modernc.org/sqlite"

	"github.com/appwatch/appwatch/internal/probe"
)

// SQLiteStore implements Store using SQLite with WAL mode and separate read
// and write pools.
type SQLiteStore struct {
	readDB  *sql.DB
	writeDB *sql.DB
}

// NewSQLiteStore opens (and if needed migrates) the archive database.
func NewSQLiteStore(path string, maxReadConns int) (*SQLiteStore, error) {
	if maxReadConns <= 0 {
		maxReadConns = runtime.NumCPU()
	}

	writeDB, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open write db: %w", err)
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)

	readDB, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("open read db: %w", err)
	}
	readDB.SetMaxOpenConns(maxReadConns)
	readDB.SetMaxIdleConns(maxReadConns)

	if err := runMigrations(writeDB); err != nil {
		readDB.Close()
		writeDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &SQLiteStore{readDB: readDB, writeDB: writeDB}, nil
}

func runMigrations(db *sql.DB) error {
	var hasSchemaTbl int
	if err := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='schema_version'`).Scan(&hasSchemaTbl); err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if hasSchemaTbl == 0 {
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("apply base schema: %w", err)
		}
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
			return fmt.Errorf("stamp schema version: %w", err)
		}
		return nil
	}

	var currentVersion int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&currentVersion); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migration v%d begin: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d: %w", m.version, err)
		}
		if _, err := tx.Exec("UPDATE schema_version SET version = ?", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d version update: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration v%d commit: %w", m.version, err)
		}
		currentVersion = m.version
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	s.readDB.Close()
	s.writeDB.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.writeDB.Close()
}

// timeFormat is the format used for storing timestamps.
const timeFormat = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func (s *SQLiteStore) InsertResult(ctx context.Context, result *probe.TestResultData) (int64, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return 0, fmt.Errorf("marshal result: %w", err)
	}

	var errCode, errMsg sql.NullString
	if result.Error != nil {
		errCode = sql.NullString{String: string(result.Error.Code), Valid: true}
		errMsg = sql.NullString{String: result.Error.Message, Valid: true}
	}

	res, err := s.writeDB.ExecContext(ctx, `
		INSERT INTO probe_results
			(test_run_id, application_id, test_type, status, started_at, completed_at, duration_ms, error_code, error_message, result_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.TestRunID, result.ApplicationID, string(result.TestType), string(result.Status),
		formatTime(result.StartedAt), formatTime(result.CompletedAt), result.DurationMs,
		errCode, errMsg, string(payload),
	)
	if err != nil {
		return 0, fmt.Errorf("insert result: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) GetResult(ctx context.Context, id int64) (*probe.TestResultData, error) {
	var payload string
	err := s.readDB.QueryRowContext(ctx, `SELECT result_json FROM probe_results WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		return nil, fmt.Errorf("get result %d: %w", id, err)
	}
	return unmarshalResult(payload)
}

func (s *SQLiteStore) ListResults(ctx context.Context, applicationID string, limit int) ([]*probe.TestResultData, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT result_json FROM probe_results
		WHERE application_id = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, applicationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()
	return collectResults(rows)
}

func (s *SQLiteStore) ListRunResults(ctx context.Context, testRunID string) ([]*probe.TestResultData, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT result_json FROM probe_results
		WHERE test_run_id = ?
		ORDER BY started_at, id`, testRunID)
	if err != nil {
		return nil, fmt.Errorf("list run results: %w", err)
	}
	defer rows.Close()
	return collectResults(rows)
}

func (s *SQLiteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.writeDB.ExecContext(ctx, `DELETE FROM probe_results WHERE started_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune results: %w", err)
	}
	return res.RowsAffected()
}

func collectResults(rows *sql.Rows) ([]*probe.TestResultData, error) {
	var out []*probe.TestResultData
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		result, err := unmarshalResult(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, result)
	}
	return out, rows.Err()
}

func unmarshalResult(payload string) (*probe.TestResultData, error) {
	var result probe.TestResultData
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &result, nil
}
