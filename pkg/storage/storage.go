package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rua-project/rua/pkg/history"

	_ "modernc.org/sqlite"
)

const DefaultPath = "rua.sqlite"

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS snapshots (
  id          INTEGER PRIMARY KEY,
  datetime    TEXT,
  status      INTEGER NOT NULL CHECK (status IN (0,1)),
  created_at  DATETIME,
  updated_at  DATETIME,
  area_count  INTEGER NOT NULL DEFAULT 0,
  fetch_run   TEXT NOT NULL DEFAULT '',
  fetched_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS area_records (
  id          INTEGER PRIMARY KEY,
  snapshot_id INTEGER NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
  position    INTEGER NOT NULL,
  time_index  INTEGER NOT NULL,
  hash        TEXT NOT NULL,
  area        REAL NOT NULL,
  percent     REAL NOT NULL,
  area_type   TEXT NOT NULL,
  UNIQUE(snapshot_id, position)
);
CREATE INDEX IF NOT EXISTS idx_records_time ON area_records(time_index, position);
CREATE INDEX IF NOT EXISTS idx_records_type ON area_records(area_type, time_index);
    `); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// UpsertSnapshot stores one snapshot and replaces whatever records were kept
// for it before, so re-running over the same history is idempotent. runID
// tags the fetch run that wrote it.
func (d *DB) UpsertSnapshot(ctx context.Context, runID string, entry history.HistoryEntry, records []history.AreaRecord) (err error) {
	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
INSERT INTO snapshots(id, datetime, status, created_at, updated_at, area_count, fetch_run, fetched_at)
VALUES(?,?,?,?,?,?,?,CURRENT_TIMESTAMP)
ON CONFLICT(id) DO UPDATE SET
  datetime = excluded.datetime,
  status = excluded.status,
  created_at = excluded.created_at,
  updated_at = excluded.updated_at,
  area_count = excluded.area_count,
  fetch_run = excluded.fetch_run,
  fetched_at = CURRENT_TIMESTAMP`,
		entry.ID, entry.Datetime, boolToInt(entry.Status), nullTime(entry.CreatedAt), nullTime(entry.UpdatedAt), len(records), runID)
	if err != nil {
		return err
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM area_records WHERE snapshot_id = ?`, entry.ID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO area_records(snapshot_id, position, time_index, hash, area, percent, area_type) VALUES(?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, r := range records {
		if _, err = stmt.ExecContext(ctx, entry.ID, i, r.TimeIndex.Unix(), r.Hash, r.Area, r.Percent, r.AreaType); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListOptions controls selection when listing records.
type ListOptions struct {
	AreaType string
	Since    time.Time
}

// ListRecords returns stored records ordered by snapshot time, then by their
// position inside the snapshot.
func (d *DB) ListRecords(ctx context.Context, opts ListOptions) ([]history.AreaRecord, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	if opts.AreaType != "" {
		where += " AND area_type = ?"
		args = append(args, opts.AreaType)
	}
	if !opts.Since.IsZero() {
		where += " AND time_index >= ?"
		args = append(args, opts.Since.Unix())
	}

	q := "SELECT time_index, hash, area, percent, area_type FROM area_records " + where + " ORDER BY time_index, snapshot_id, position"
	rows, err := d.sql.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []history.AreaRecord
	for rows.Next() {
		var r history.AreaRecord
		var ts int64
		if err := rows.Scan(&ts, &r.Hash, &r.Area, &r.Percent, &r.AreaType); err != nil {
			return nil, err
		}
		r.TimeIndex = history.SnapshotTime(ts)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type CategoryStats struct {
	AreaType      string
	SnapshotCount int
	RecordCount   int
	First         time.Time
	Last          time.Time
}

func (d *DB) GetStats(ctx context.Context) ([]CategoryStats, error) {
	query := `
		SELECT
			area_type,
			COUNT(DISTINCT snapshot_id),
			COUNT(*),
			MIN(time_index),
			MAX(time_index)
		FROM
			area_records
		GROUP BY
			area_type
		ORDER BY
			area_type;
	`
	rows, err := d.sql.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []CategoryStats
	for rows.Next() {
		var s CategoryStats
		var first, last int64
		if err := rows.Scan(&s.AreaType, &s.SnapshotCount, &s.RecordCount, &first, &last); err != nil {
			return nil, err
		}
		s.First = history.SnapshotTime(first)
		s.Last = history.SnapshotTime(last)
		stats = append(stats, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return stats, nil
}

// SnapshotCount returns how many snapshots are stored.
func (d *DB) SnapshotCount(ctx context.Context) (int, error) {
	var n int
	if err := d.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM snapshots").Scan(&n); err != nil {
		return 0, fmt.Errorf("count snapshots: %w", err)
	}
	return n, nil
}

// LastRun reports the fetch run that most recently wrote a snapshot and when
// it did. Both are empty when the database holds nothing.
func (d *DB) LastRun(ctx context.Context) (runID, fetchedAt string, err error) {
	err = d.sql.QueryRowContext(ctx, "SELECT fetch_run, fetched_at FROM snapshots ORDER BY fetched_at DESC, rowid DESC LIMIT 1").Scan(&runID, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("last run: %w", err)
	}
	return runID, fetchedAt, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
