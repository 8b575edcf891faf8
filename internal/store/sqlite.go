// Package store provides storage backends for CalmPipe.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/CalmCompanion/CalmPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the permissions for created database
// directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("SQLiteStore failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("SQLiteStore failed to open connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLiteStore ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("SQLiteStore failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLiteStore migrations applied")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) AddInteraction(in models.Interaction) error {
	_, err := s.db.Exec(
		`INSERT INTO interactions (id, user_id, user_text, detected_mood, chosen_strategy, message, safety_flag, advice_given, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.UserID, in.UserText, in.DetectedMood, in.ChosenStrategy, in.Message, in.SafetyFlag, in.AdviceGiven, in.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore AddInteraction failed", "error", err, "user_id", in.UserID)
		return fmt.Errorf("failed to insert interaction for %s: %w", in.UserID, err)
	}
	slog.Debug("SQLiteStore AddInteraction succeeded", "user_id", in.UserID, "safety_flag", in.SafetyFlag)
	return nil
}

func (s *SQLiteStore) RecentInteractions(userID string, limit int) ([]models.Interaction, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, user_text, detected_mood, chosen_strategy, message, safety_flag, advice_given, created_at
		 FROM interactions WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		slog.Error("SQLiteStore RecentInteractions query failed", "error", err, "user_id", userID)
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer rows.Close()

	out, err := scanInteractions(rows)
	if err != nil {
		slog.Error("SQLiteStore RecentInteractions scan failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLiteStore RecentInteractions succeeded", "user_id", userID, "count", len(out))
	return out, nil
}

func (s *SQLiteStore) ListStrategies() ([]models.StrategyCard, error) {
	rows, err := s.db.Query(
		`SELECT id, tag, label, step, why, keywords, moods, source_name, source_url FROM strategies ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore ListStrategies query failed", "error", err)
		return nil, fmt.Errorf("failed to query strategies: %w", err)
	}
	defer rows.Close()

	out, err := scanStrategies(rows)
	if err != nil {
		slog.Error("SQLiteStore ListStrategies scan failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLiteStore ListStrategies succeeded", "count", len(out))
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
