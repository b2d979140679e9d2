// This file implements an SQLite-backed store for entries and the outbox.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/PingPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	sqlOutbox
	db *sql.DB
}

// Compile-time check that SQLiteStore implements Backend.
var _ Backend = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// The outbox sender and the API goroutines share one writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db, sqlOutbox: sqlOutbox{db: db, name: "SQLiteStore"}}, nil
}

func (s *SQLiteStore) AddEntries(entries []models.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin entries transaction failed: %w", err)
	}
	defer tx.Rollback()

	for _, e := range withIDs(entries) {
		_, err := tx.Exec(
			`INSERT OR IGNORE INTO entries (id, response_text, time_collected, time_block_length_min, submission_type, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			e.ID, e.ResponseText, e.TimeCollected, e.TimeBlockLengthMin, string(e.SubmissionType), e.CreatedAt,
		)
		if err != nil {
			slog.Error("SQLiteStore AddEntries failed", "error", err, "id", e.ID)
			return fmt.Errorf("failed to insert entry %s: %w", e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit entries failed: %w", err)
	}
	slog.Debug("SQLiteStore AddEntries succeeded", "count", len(entries))
	return nil
}

func (s *SQLiteStore) EntriesBetween(from, to time.Time) ([]models.Entry, error) {
	rows, err := s.db.Query(
		`SELECT id, response_text, time_collected, time_block_length_min, submission_type, created_at
		 FROM entries WHERE time_collected >= ? AND time_collected < ? ORDER BY time_collected ASC, id ASC`,
		from.UTC(), to.UTC(),
	)
	if err != nil {
		slog.Error("SQLiteStore EntriesBetween query failed", "error", err)
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		slog.Error("SQLiteStore EntriesBetween scan failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLiteStore EntriesBetween succeeded", "count", len(entries))
	return entries, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
