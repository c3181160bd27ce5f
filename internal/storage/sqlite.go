// Package storage persists the app's key-value preferences, interaction
// logs and alert logs in SQLite, and keeps a daily markdown incident journal.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

// InteractionLog describes one saved recording.
type InteractionLog struct {
	ID              string    `json:"id"`
	RecordedAt      time.Time `json:"recorded_at"`
	Location        string    `json:"location"`
	MediaPath       string    `json:"-"`
	MimeType        string    `json:"mime_type"`
	Kind            string    `json:"kind"`
	SizeBytes       int64     `json:"size_bytes"`
	DurationSeconds int       `json:"duration_seconds"`
	Notes           string    `json:"notes"`
	BackupID        string    `json:"backup_id,omitempty"`
}

type AlertRecipient struct {
	Name       string `json:"name"`
	Phone      string `json:"phone_number"`
	Preference string `json:"notification_preference"`
}

// AlertLog records one fired SOS alert.
type AlertLog struct {
	ID         string           `json:"id"`
	FiredAt    time.Time        `json:"fired_at"`
	Location   string           `json:"location"`
	Recipients []AlertRecipient `json:"recipients"`
}

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "knowyourrights.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create kv table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS interaction_logs (
			id TEXT PRIMARY KEY,
			recorded_at TEXT NOT NULL,
			location TEXT NOT NULL DEFAULT '',
			media_path TEXT NOT NULL,
			mime_type TEXT NOT NULL,
			kind TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			duration_seconds INTEGER NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			backup_id TEXT NOT NULL DEFAULT ''
		);
	`); err != nil {
		return fmt.Errorf("create interaction_logs table: %w", err)
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS alert_logs (
			id TEXT PRIMARY KEY,
			fired_at TEXT NOT NULL,
			location TEXT NOT NULL,
			recipients TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create alert_logs table: %w", err)
	}

	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_interaction_logs_recorded_at ON interaction_logs(recorded_at)"); err != nil {
		return fmt.Errorf("create interaction_logs index: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX IF NOT EXISTS idx_alert_logs_fired_at ON alert_logs(fired_at)"); err != nil {
		return fmt.Errorf("create alert_logs index: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// GetValue returns the stored value for key and whether it exists.
func (s *SQLiteStore) GetValue(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get value %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) SetValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv(key, value, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key,
		value,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("set value %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) InsertInteractionLog(ctx context.Context, log InteractionLog) error {
	if strings.TrimSpace(log.ID) == "" {
		return errors.New("interaction log id is required")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO interaction_logs(id, recorded_at, location, media_path, mime_type, kind, size_bytes, duration_seconds, notes, backup_id)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID,
		log.RecordedAt.UTC().Format(time.RFC3339Nano),
		log.Location,
		log.MediaPath,
		log.MimeType,
		log.Kind,
		log.SizeBytes,
		log.DurationSeconds,
		log.Notes,
		log.BackupID,
	)
	if err != nil {
		return fmt.Errorf("insert interaction log %s: %w", log.ID, err)
	}
	return nil
}

const interactionColumns = `id, recorded_at, location, media_path, mime_type, kind, size_bytes, duration_seconds, notes, backup_id`

func (s *SQLiteStore) GetInteractionLog(ctx context.Context, id string) (InteractionLog, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+interactionColumns+` FROM interaction_logs WHERE id = ?`, id)

	log, err := scanInteractionLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return InteractionLog{}, fmt.Errorf("interaction log %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return InteractionLog{}, fmt.Errorf("query interaction log %s: %w", id, err)
	}
	return log, nil
}

// ListInteractionLogs returns logs newest first. An empty date lists all
// logs; otherwise only logs recorded on that UTC date (YYYY-MM-DD).
func (s *SQLiteStore) ListInteractionLogs(ctx context.Context, date string) ([]InteractionLog, error) {
	query := `SELECT ` + interactionColumns + ` FROM interaction_logs`
	var args []any
	if date != "" {
		query += ` WHERE substr(recorded_at, 1, 10) = ?`
		args = append(args, date)
	}
	query += ` ORDER BY recorded_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query interaction logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	logs := make([]InteractionLog, 0, 16)
	for rows.Next() {
		log, err := scanInteractionLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan interaction log: %w", err)
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate interaction log rows: %w", err)
	}
	return logs, nil
}

func (s *SQLiteStore) GetLogDates(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT substr(recorded_at, 1, 10) AS date FROM interaction_logs ORDER BY date DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query dates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var dates []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan date: %w", err)
		}
		dates = append(dates, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dates rows: %w", err)
	}

	return dates, nil
}

func (s *SQLiteStore) UpdateInteractionNotes(ctx context.Context, id, notes string) error {
	return s.updateInteraction(ctx, id, `UPDATE interaction_logs SET notes = ? WHERE id = ?`, notes)
}

func (s *SQLiteStore) SetInteractionBackup(ctx context.Context, id, backupID string) error {
	return s.updateInteraction(ctx, id, `UPDATE interaction_logs SET backup_id = ? WHERE id = ?`, backupID)
}

func (s *SQLiteStore) updateInteraction(ctx context.Context, id, query, value string) error {
	res, err := s.db.ExecContext(ctx, query, value, id)
	if err != nil {
		return fmt.Errorf("update interaction log %s: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update interaction log rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("interaction log %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) InsertAlertLog(ctx context.Context, log AlertLog) error {
	if strings.TrimSpace(log.ID) == "" {
		return errors.New("alert log id is required")
	}
	recipients := log.Recipients
	if recipients == nil {
		recipients = []AlertRecipient{}
	}
	encoded, err := json.Marshal(recipients)
	if err != nil {
		return fmt.Errorf("encode alert recipients: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO alert_logs(id, fired_at, location, recipients) VALUES(?, ?, ?, ?)`,
		log.ID,
		log.FiredAt.UTC().Format(time.RFC3339Nano),
		log.Location,
		string(encoded),
	)
	if err != nil {
		return fmt.Errorf("insert alert log %s: %w", log.ID, err)
	}
	return nil
}

// ListAlertLogs returns up to limit alerts, newest first.
func (s *SQLiteStore) ListAlertLogs(ctx context.Context, limit int) ([]AlertLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fired_at, location, recipients FROM alert_logs ORDER BY fired_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query alert logs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	logs := make([]AlertLog, 0, limit)
	for rows.Next() {
		var log AlertLog
		var firedAt, recipients string
		if err := rows.Scan(&log.ID, &firedAt, &log.Location, &recipients); err != nil {
			return nil, fmt.Errorf("scan alert log: %w", err)
		}
		if log.FiredAt, err = time.Parse(time.RFC3339Nano, firedAt); err != nil {
			return nil, fmt.Errorf("parse alert %s fired_at: %w", log.ID, err)
		}
		if err := json.Unmarshal([]byte(recipients), &log.Recipients); err != nil {
			return nil, fmt.Errorf("decode alert %s recipients: %w", log.ID, err)
		}
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alert log rows: %w", err)
	}
	return logs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInteractionLog(row rowScanner) (InteractionLog, error) {
	var log InteractionLog
	var recordedAt string
	if err := row.Scan(&log.ID, &recordedAt, &log.Location, &log.MediaPath, &log.MimeType, &log.Kind,
		&log.SizeBytes, &log.DurationSeconds, &log.Notes, &log.BackupID); err != nil {
		return InteractionLog{}, err
	}

	parsed, err := time.Parse(time.RFC3339Nano, recordedAt)
	if err != nil {
		return InteractionLog{}, fmt.Errorf("parse recorded_at: %w", err)
	}
	log.RecordedAt = parsed
	return log, nil
}
