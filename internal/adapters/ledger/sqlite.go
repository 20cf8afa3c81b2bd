// Package ledger provides the SQLite-backed run ledger.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/jobrunner/tilemerge/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	zones       TEXT NOT NULL,
	start_year  INTEGER NOT NULL,
	end_year    INTEGER NOT NULL,
	indexes     TEXT NOT NULL,
	start_month TEXT NOT NULL,
	end_month   TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT,
	discovered  INTEGER NOT NULL DEFAULT 0,
	downloaded  INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	mosaics     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS downloads (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	object_key  TEXT NOT NULL,
	local_path  TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	attempts    INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	error       TEXT
);

CREATE INDEX IF NOT EXISTS downloads_run_id ON downloads(run_id);

CREATE TABLE IF NOT EXISTS mosaics (
	run_id TEXT NOT NULL REFERENCES runs(id),
	year   INTEGER NOT NULL,
	idx    TEXT NOT NULL,
	month  TEXT NOT NULL,
	path   TEXT NOT NULL,
	tiles  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS mosaics_run_id ON mosaics(run_id);
`

// RunRecord is a run as stored in the ledger.
type RunRecord struct {
	ID         string
	Zones      []string
	StartYear  int
	EndYear    int
	Indexes    []string
	StartMonth string
	EndMonth   string
	StartedAt  time.Time
	FinishedAt time.Time // zero while the run is in progress or was interrupted
	Discovered int
	Downloaded int
	Failed     int
	Mosaics    int
}

// FailedDownload is a failed download task of a run.
type FailedDownload struct {
	Key      string
	Path     string
	Attempts int
	Error    string
}

// SQLiteLedger implements the RunLedger port on a SQLite database.
type SQLiteLedger struct {
	db *sql.DB
}

// Open opens or creates the ledger database at path.
func Open(ctx context.Context, path string) (*SQLiteLedger, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, err
		}
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// A single connection keeps :memory: databases alive and serialises writers.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, &domain.StorageError{Operation: "open", Key: path, Err: err}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating ledger schema: %w", err)
	}

	return &SQLiteLedger{db: db}, nil
}

// Close closes the database.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// StartRun inserts a new run.
func (l *SQLiteLedger) StartRun(ctx context.Context, run *domain.Run) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO runs (id, zones, start_year, end_year, indexes, start_month, end_month, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		strings.Join(run.Job.Zones, ","),
		run.Job.StartYear,
		run.Job.EndYear,
		strings.Join(run.Job.Indexes, ","),
		run.Job.StartMonth,
		run.Job.EndMonth,
		formatTime(run.StartedAt),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("%w: run %s already recorded", domain.ErrInvalidInput, run.ID)
		}
		return err
	}
	return nil
}

// RecordDownloads inserts the download results of a run in one transaction.
func (l *SQLiteLedger) RecordDownloads(ctx context.Context, runID string, results []domain.DownloadResult) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO downloads (run_id, object_key, local_path, outcome, attempts, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, res := range results {
		var errText sql.NullString
		if res.Err != nil {
			errText = sql.NullString{String: res.Err.Error(), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			runID,
			res.Task.Object.Key,
			res.Path,
			string(res.Outcome),
			res.Attempts,
			res.Duration.Milliseconds(),
			errText,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// RecordMosaic inserts a produced mosaic.
func (l *SQLiteLedger) RecordMosaic(ctx context.Context, runID string, mosaic domain.Mosaic) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO mosaics (run_id, year, idx, month, path, tiles)
		VALUES (?, ?, ?, ?, ?, ?)`,
		runID,
		mosaic.Group.Year,
		mosaic.Group.Index,
		mosaic.Group.MonthNumber,
		mosaic.Path,
		mosaic.Tiles,
	)
	return err
}

// FinishRun stores the final counters of a run.
func (l *SQLiteLedger) FinishRun(ctx context.Context, run *domain.Run) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE runs
		SET finished_at = ?, discovered = ?, downloaded = ?, failed = ?, mosaics = ?
		WHERE id = ?`,
		formatTime(run.FinishedAt),
		run.Discovered,
		run.Downloaded,
		run.Failed,
		len(run.Mosaics),
		run.ID,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: run %s", domain.ErrNotFound, run.ID)
	}
	return nil
}

// Runs returns the most recent runs, newest first.
func (l *SQLiteLedger) Runs(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, zones, start_year, end_year, indexes, start_month, end_month,
		       started_at, finished_at, discovered, downloaded, failed, mosaics
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []RunRecord
	for rows.Next() {
		var (
			rec       RunRecord
			zones     string
			indexes   string
			startedAt string
			finished  sql.NullString
		)
		if err := rows.Scan(
			&rec.ID, &zones, &rec.StartYear, &rec.EndYear, &indexes, &rec.StartMonth, &rec.EndMonth,
			&startedAt, &finished, &rec.Discovered, &rec.Downloaded, &rec.Failed, &rec.Mosaics,
		); err != nil {
			return nil, err
		}

		rec.Zones = splitList(zones)
		rec.Indexes = splitList(indexes)
		if rec.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if finished.Valid {
			if rec.FinishedAt, err = parseTime(finished.String); err != nil {
				return nil, err
			}
		}
		runs = append(runs, rec)
	}

	return runs, rows.Err()
}

// FailedDownloads returns the failed download tasks of a run.
func (l *SQLiteLedger) FailedDownloads(ctx context.Context, runID string) ([]FailedDownload, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT object_key, local_path, attempts, COALESCE(error, '')
		FROM downloads
		WHERE run_id = ? AND outcome = ?
		ORDER BY object_key`, runID, string(domain.OutcomeFailed))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var failed []FailedDownload
	for rows.Next() {
		var f FailedDownload
		if err := rows.Scan(&f.Key, &f.Path, &f.Attempts, &f.Error); err != nil {
			return nil, err
		}
		failed = append(failed, f)
	}
	return failed, rows.Err()
}

// timeLayout has fixed width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
