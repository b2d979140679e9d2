// This file implements a PostgreSQL-backed store for entries and the outbox.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/PingPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	sqlOutbox
	db *sql.DB
}

// Compile-time check that PostgresStore implements Backend.
var _ Backend = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db, sqlOutbox: sqlOutbox{db: db, postgres: true, name: "PostgresStore"}}, nil
}

func (s *PostgresStore) AddEntries(entries []models.Entry) error {
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
			`INSERT INTO entries (id, response_text, time_collected, time_block_length_min, submission_type, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
			e.ID, e.ResponseText, e.TimeCollected, e.TimeBlockLengthMin, string(e.SubmissionType), e.CreatedAt,
		)
		if err != nil {
			slog.Error("PostgresStore AddEntries failed", "error", err, "id", e.ID)
			return fmt.Errorf("failed to insert entry %s: %w", e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit entries failed: %w", err)
	}
	slog.Debug("PostgresStore AddEntries succeeded", "count", len(entries))
	return nil
}

func (s *PostgresStore) EntriesBetween(from, to time.Time) ([]models.Entry, error) {
	rows, err := s.db.Query(
		`SELECT id, response_text, time_collected, time_block_length_min, submission_type, created_at
		 FROM entries WHERE time_collected >= $1 AND time_collected < $2 ORDER BY time_collected ASC, id ASC`,
		from, to,
	)
	if err != nil {
		slog.Error("PostgresStore EntriesBetween query failed", "error", err)
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		slog.Error("PostgresStore EntriesBetween scan failed", "error", err)
		return nil, err
	}
	slog.Debug("PostgresStore EntriesBetween succeeded", "count", len(entries))
	return entries, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
