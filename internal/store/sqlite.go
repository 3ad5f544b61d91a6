// Package store provides durable device-local storage for Sit.
//
// This file implements the SQLite-backed queue and state cache.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sit-app/sit/internal/models"
)

// DefaultDirPermissions defines the default permissions for database directories
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Compile-time checks that SQLiteStore satisfies both storage roles.
var (
	_ Queue      = (*SQLiteStore)(nil)
	_ StateCache = (*SQLiteStore)(nil)
)

// SQLiteStore persists the response queue and state slots in one database
// file under the device state directory.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN is a file path to the database file; its directory is created if
// missing, and migrations run on open.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("NewSQLiteStore: failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("NewSQLiteStore: failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("NewSQLiteStore: SQLite ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("NewSQLiteStore: failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("NewSQLiteStore: database ready", "dir", dir)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Enqueue(rec models.QueuedResponse) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("refusing to enqueue invalid record: %w", err)
	}
	stepsJSON, err := encodeSteps(rec.Steps)
	if err != nil {
		return fmt.Errorf("encode steps failed: %w", err)
	}
	now := time.Now()
	_, err = s.db.Exec(
		`INSERT INTO queued_responses (id, schema_version, kind, responded_at, flow_id, steps_json, voice_note_duration, voice_note_file, duration_seconds, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, CurrentSchemaVersion, string(rec.Kind), rec.RespondedAt,
		nilIfEmpty(rec.FlowID), stepsJSON, nilIfZero(rec.VoiceNoteDuration),
		nilIfEmpty(rec.VoiceNoteFile), nilIfZero(rec.DurationSeconds), now, now,
	)
	if err != nil {
		return fmt.Errorf("enqueue response failed: %w", err)
	}
	slog.Debug("SQLiteStore.Enqueue", "id", rec.ID, "kind", rec.Kind)
	return nil
}

func (s *SQLiteStore) LoadAll() ([]models.QueuedResponse, error) {
	rows, err := s.db.Query(
		`SELECT id, schema_version, kind, responded_at, flow_id, steps_json, voice_note_duration, voice_note_file, duration_seconds
		 FROM queued_responses ORDER BY responded_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("load queued responses failed: %w", err)
	}
	defer rows.Close()

	var recs []models.QueuedResponse
	for rows.Next() {
		var (
			rec      models.QueuedResponse
			version  int
			kind     string
			flowID   sql.NullString
			steps    sql.NullString
			voiceDur sql.NullFloat64
			voice    sql.NullString
			duration sql.NullFloat64
		)
		if err := rows.Scan(&rec.ID, &version, &kind, &rec.RespondedAt, &flowID, &steps, &voiceDur, &voice, &duration); err != nil {
			return nil, fmt.Errorf("scan queued response failed: %w", err)
		}
		if version > CurrentSchemaVersion {
			slog.Warn("SQLiteStore.LoadAll: skipping record with newer schema", "id", rec.ID, "schemaVersion", version)
			continue
		}
		rec.Kind = models.ResponseKind(kind)
		rec.FlowID = flowID.String
		rec.VoiceNoteDuration = voiceDur.Float64
		rec.VoiceNoteFile = voice.String
		rec.DurationSeconds = duration.Float64
		if steps.Valid && steps.String != "" {
			if err := json.Unmarshal([]byte(steps.String), &rec.Steps); err != nil {
				slog.Warn("SQLiteStore.LoadAll: skipping record with undecodable steps", "id", rec.ID, "error", err)
				continue
			}
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queued responses failed: %w", err)
	}
	return recs, nil
}

func (s *SQLiteStore) DequeueConfirmed(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	result, err := s.db.Exec(
		`DELETE FROM queued_responses WHERE id IN (`+placeholders+`)`, args...,
	)
	if err != nil {
		return fmt.Errorf("dequeue confirmed responses failed: %w", err)
	}
	n, _ := result.RowsAffected()
	slog.Debug("SQLiteStore.DequeueConfirmed", "requested", len(ids), "removed", n)
	return nil
}

func (s *SQLiteStore) RecordFailure(id string, msg string) error {
	_, err := s.db.Exec(
		`UPDATE queued_responses SET last_error = ?, updated_at = ? WHERE id = ?`,
		msg, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("record failure failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PendingCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM queued_responses`).Scan(&n); err != nil {
		return 0, fmt.Errorf("pending count failed: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) PutSlot(name string, payload []byte) error {
	now := time.Now()
	_, err := s.db.Exec(
		`INSERT INTO state_slots (name, schema_version, payload, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET payload = excluded.payload, schema_version = excluded.schema_version, updated_at = excluded.updated_at`,
		name, CurrentSchemaVersion, string(payload), now,
	)
	if err != nil {
		return fmt.Errorf("put slot %s failed: %w", name, err)
	}
	slog.Debug("SQLiteStore.PutSlot", "slot", name, "bytes", len(payload))
	return nil
}

func (s *SQLiteStore) GetSlot(name string) ([]byte, bool, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM state_slots WHERE name = ?`, name).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get slot %s failed: %w", name, err)
	}
	return []byte(payload), true, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func encodeSteps(steps []models.FlowStepResult) (any, error) {
	if len(steps) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(steps)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// nilIfEmpty returns nil for empty strings so optional columns stay NULL.
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nilIfZero(f float64) any {
	if f == 0 {
		return nil
	}
	return f
}
