package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS units (
    site_id     TEXT NOT NULL,
    device_id   TEXT NOT NULL,
    unit_id     TEXT NOT NULL,
    device_type TEXT NOT NULL,
    status      TEXT NOT NULL DEFAULT 'normal',
    updated_at  TEXT,
    PRIMARY KEY (site_id, device_id, unit_id)
);
CREATE TABLE IF NOT EXISTS unit_fields (
    site_id    TEXT NOT NULL,
    device_id  TEXT NOT NULL,
    unit_id    TEXT NOT NULL,
    field      TEXT NOT NULL,
    value      TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (site_id, device_id, unit_id, field)
);
CREATE TABLE IF NOT EXISTS command_logs (
    id          TEXT PRIMARY KEY,
    site_id     TEXT NOT NULL,
    device_id   TEXT NOT NULL,
    unit_id     TEXT NOT NULL,
    action      TEXT NOT NULL,
    value       TEXT,
    status      TEXT NOT NULL,
    result      TEXT,
    error       TEXT,
    created_at  TEXT NOT NULL,
    finished_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_command_logs_status ON command_logs(status);`

const timeLayout = time.RFC3339Nano

// SQLiteStore persists the engine state in a single SQLite file
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies the schema
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// One writer keeps modernc sqlite clear of SQLITE_BUSY between goroutines
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema in %s: %w", path, err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) stamp() string { return s.now().UTC().Format(timeLayout) }

func parseTime(v sql.NullString) time.Time {
	if !v.Valid || v.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, v.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ListUnits implements Catalog
func (s *SQLiteStore) ListUnits(ctx context.Context) ([]UnitRef, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT site_id, device_id, unit_id, device_type FROM units ORDER BY site_id, device_id, unit_id`)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	defer rows.Close()

	var out []UnitRef
	for rows.Next() {
		var ref UnitRef
		if err := rows.Scan(&ref.SiteID, &ref.DeviceID, &ref.UnitID, &ref.DeviceType); err != nil {
			return nil, fmt.Errorf("scan unit: %w", err)
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// UpsertUnit implements Catalog
func (s *SQLiteStore) UpsertUnit(ctx context.Context, ref UnitRef) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO units (site_id, device_id, unit_id, device_type, updated_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (site_id, device_id, unit_id) DO UPDATE SET device_type = excluded.device_type`,
		ref.SiteID, ref.DeviceID, ref.UnitID, ref.DeviceType, s.stamp())
	if err != nil {
		return fmt.Errorf("upsert unit %s: %w", ref, err)
	}
	return nil
}

// GetField implements UnitData
func (s *SQLiteStore) GetField(ctx context.Context, ref UnitRef, field string) (interface{}, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM unit_fields WHERE site_id = ? AND device_id = ? AND unit_id = ? AND field = ?`,
		ref.SiteID, ref.DeviceID, ref.UnitID, field).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get field %s of %s: %w", field, ref, err)
	}

	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, false, fmt.Errorf("decode field %s of %s: %w", field, ref, err)
	}
	return v, true, nil
}

// SetField implements UnitData
func (s *SQLiteStore) SetField(ctx context.Context, ref UnitRef, field string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode field %s of %s: %w", field, ref, err)
	}

	now := s.stamp()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO unit_fields (site_id, device_id, unit_id, field, value, updated_at) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (site_id, device_id, unit_id, field) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		ref.SiteID, ref.DeviceID, ref.UnitID, field, string(raw), now); err != nil {
		return fmt.Errorf("set field %s of %s: %w", field, ref, err)
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO units (site_id, device_id, unit_id, device_type, updated_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (site_id, device_id, unit_id) DO UPDATE SET updated_at = excluded.updated_at`,
		ref.SiteID, ref.DeviceID, ref.UnitID, ref.DeviceType, now); err != nil {
		return fmt.Errorf("touch unit %s: %w", ref, err)
	}
	return tx.Commit()
}

// SetStatus implements UnitData
func (s *SQLiteStore) SetStatus(ctx context.Context, ref UnitRef, status HealthStatus) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO units (site_id, device_id, unit_id, device_type, status, updated_at) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (site_id, device_id, unit_id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		ref.SiteID, ref.DeviceID, ref.UnitID, ref.DeviceType, string(status), s.stamp())
	if err != nil {
		return fmt.Errorf("set status of %s: %w", ref, err)
	}
	return nil
}

// GetUnit implements UnitData
func (s *SQLiteStore) GetUnit(ctx context.Context, ref UnitRef) (*Unit, error) {
	u := &Unit{UnitRef: ref, Fields: make(map[string]interface{})}
	var status string
	var updated sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT device_type, status, updated_at FROM units WHERE site_id = ? AND device_id = ? AND unit_id = ?`,
		ref.SiteID, ref.DeviceID, ref.UnitID).Scan(&u.DeviceType, &status, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("unit %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get unit %s: %w", ref, err)
	}
	u.Status = HealthStatus(status)
	u.UpdatedAt = parseTime(updated)

	rows, err := s.db.QueryContext(ctx,
		`SELECT field, value FROM unit_fields WHERE site_id = ? AND device_id = ? AND unit_id = ?`,
		ref.SiteID, ref.DeviceID, ref.UnitID)
	if err != nil {
		return nil, fmt.Errorf("get fields of %s: %w", ref, err)
	}
	defer rows.Close()

	for rows.Next() {
		var field, raw string
		if err := rows.Scan(&field, &raw); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		var v interface{}
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode field %s of %s: %w", field, ref, err)
		}
		u.Fields[field] = v
	}
	return u, rows.Err()
}

// Create implements CommandLog
func (s *SQLiteStore) Create(ctx context.Context, entry LogEntry) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM command_logs WHERE id = ?`, entry.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check log entry %s: %w", entry.ID, err)
	}
	if exists > 0 {
		return fmt.Errorf("log entry %s: %w", entry.ID, ErrDuplicate)
	}

	created := entry.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO command_logs (id, site_id, device_id, unit_id, action, value, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.SiteID, entry.DeviceID, entry.UnitID, entry.Action, entry.Value,
		string(LogWaiting), created.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("create log entry %s: %w", entry.ID, err)
	}
	return nil
}

// Get implements CommandLog
func (s *SQLiteStore) Get(ctx context.Context, id string) (*LogEntry, error) {
	var (
		e                     LogEntry
		status                string
		value, result, errMsg sql.NullString
		createdAt, finishedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, site_id, device_id, unit_id, action, value, status, result, error, created_at, finished_at
FROM command_logs WHERE id = ?`, id).Scan(
		&e.ID, &e.SiteID, &e.DeviceID, &e.UnitID, &e.Action, &value, &status, &result, &errMsg, &createdAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("log entry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get log entry %s: %w", id, err)
	}
	e.Value = value.String
	e.Status = LogStatus(status)
	e.Result = result.String
	e.Error = errMsg.String
	e.CreatedAt = parseTime(createdAt)
	e.FinishedAt = parseTime(finishedAt)
	return &e, nil
}

// Finalize implements CommandLog. The status guard in the WHERE clause makes
// the terminal transition happen at most once.
func (s *SQLiteStore) Finalize(ctx context.Context, id string, status LogStatus, result, errMsg string) (bool, error) {
	if err := validFinalStatus(status); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE command_logs SET status = ?, result = ?, error = ?, finished_at = ?
WHERE id = ? AND status = ?`,
		string(status), result, errMsg, s.stamp(), id, string(LogWaiting))
	if err != nil {
		return false, fmt.Errorf("finalize log entry %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("finalize log entry %s: %w", id, err)
	}
	if n == 1 {
		return true, nil
	}

	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
