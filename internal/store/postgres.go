// Package store provides storage backends for CalmPipe.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/CalmCompanion/CalmPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants.
const (
	// DefaultMaxOpenConns is the maximum number of open connections to the database.
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the maximum number of idle connections in the pool.
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the maximum amount of time a connection may be reused.
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

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
		slog.Error("PostgresStore failed to open connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("PostgresStore ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("PostgresStore failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgresStore migrations applied")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) AddInteraction(in models.Interaction) error {
	_, err := s.db.Exec(
		`INSERT INTO interactions (id, user_id, user_text, detected_mood, chosen_strategy, message, safety_flag, advice_given, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		in.ID, in.UserID, in.UserText, in.DetectedMood, in.ChosenStrategy, in.Message, in.SafetyFlag, in.AdviceGiven, in.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore AddInteraction failed", "error", err, "user_id", in.UserID)
		return fmt.Errorf("failed to insert interaction for %s: %w", in.UserID, err)
	}
	slog.Debug("PostgresStore AddInteraction succeeded", "user_id", in.UserID, "safety_flag", in.SafetyFlag)
	return nil
}

func (s *PostgresStore) RecentInteractions(userID string, limit int) ([]models.Interaction, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, user_text, detected_mood, chosen_strategy, message, safety_flag, advice_given, created_at
		 FROM interactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		slog.Error("PostgresStore RecentInteractions query failed", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer rows.Close()

	out, err := scanInteractions(rows)
	if err != nil {
		slog.Error("PostgresStore RecentInteractions scan failed", "error", err)
		return nil, err
	}
	slog.Debug("PostgresStore RecentInteractions succeeded", "user_id", userID, "count", len(out))
	return out, nil
}

func (s *PostgresStore) ListStrategies() ([]models.StrategyCard, error) {
	rows, err := s.db.Query(
		`SELECT id, tag, label, step, why, keywords, moods, source_name, source_url FROM strategies ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore ListStrategies query failed", "error", err)
		return nil, fmt.Errorf("failed to query strategies: %w", err)
	}
	defer rows.Close()

	out, err := scanStrategies(rows)
	if err != nil {
		slog.Error("PostgresStore ListStrategies scan failed", "error", err)
		return nil, err
	}
	slog.Debug("PostgresStore ListStrategies succeeded", "count", len(out))
	return out, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
