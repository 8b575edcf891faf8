// Package store provides storage backends for CalmPipe.
//
// It persists interaction records for auditing and short conversation
// context, and holds the strategy card corpus loaded once at startup.
// Backends: SQLite, PostgreSQL, and an in-memory store for tests.
package store

import (
	"sort"
	"strings"
	"sync"

	"github.com/CalmCompanion/CalmPipe/internal/models"
)

// Store is the persistence interface consumed by the API layer.
type Store interface {
	// AddInteraction persists one completed chat turn.
	AddInteraction(in models.Interaction) error
	// RecentInteractions returns up to limit rows for the user, newest first.
	RecentInteractions(userID string, limit int) ([]models.Interaction, error)
	// ListStrategies returns the strategy card corpus snapshot.
	ListStrategies() ([]models.StrategyCard, error)
	// Close releases the underlying database handle.
	Close() error
}

// Opts holds store configuration collected from options.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithSQLiteDSN sets a file path DSN for the SQLite backend.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets a connection string for the PostgreSQL backend.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL-style connection strings
// and "sqlite" for file paths.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStore is a mutex-guarded in-memory store used in tests and when
// no DSN is configured.
type InMemoryStore struct {
	mu           sync.Mutex
	interactions []models.Interaction
	strategies   []models.StrategyCard
}

// NewInMemoryStore creates an in-memory store with the given strategy
// corpus. A nil corpus leaves ListStrategies empty, which downstream
// consumers treat as "use the built-in fallback set".
func NewInMemoryStore(strategies []models.StrategyCard) *InMemoryStore {
	return &InMemoryStore{strategies: strategies}
}

func (s *InMemoryStore) AddInteraction(in models.Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interactions = append(s.interactions, in)
	return nil
}

func (s *InMemoryStore) RecentInteractions(userID string, limit int) ([]models.Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Interaction
	for _, in := range s.interactions {
		if in.UserID == userID {
			out = append(out, in)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) ListStrategies() ([]models.StrategyCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.StrategyCard, len(s.strategies))
	copy(out, s.strategies)
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

// splitList converts the comma-separated text columns used by both SQL
// backends back into []string card fields.
func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
