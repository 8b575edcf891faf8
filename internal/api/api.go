// Package api provides HTTP handlers and the main API server logic for
// CalmPipe.
//
// It exposes the chat endpoint backed by the turn orchestrator, direct
// strategy and resource suggestion endpoints, an interaction audit listing,
// and a health check.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/CalmCompanion/CalmPipe/internal/models"
	"github.com/CalmCompanion/CalmPipe/internal/risk"
	"github.com/CalmCompanion/CalmPipe/internal/store"
	"github.com/CalmCompanion/CalmPipe/internal/strategy"
)

// Server defaults.
const (
	DefaultAddr = ":8080"

	// historyLimit is how many prior interaction rows rebuild the
	// conversation context when the caller omits history.
	historyLimit = 8

	defaultReadTimeout     = 15 * time.Second
	defaultWriteTimeout    = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// turnRunner is the slice of the orchestrator the server needs, kept
// narrow so tests can substitute a mock.
type turnRunner interface {
	RunTurn(ctx context.Context, userText string, history []models.Message) (*models.TurnState, error)
}

// Server wires the HTTP surface to the orchestrator, the store, and the
// strategy retriever.
type Server struct {
	addr       string
	runner     turnRunner
	store      store.Store
	retriever  *strategy.Retriever
	resources  *strategy.ResourceFinder
	classifier *risk.Classifier
	corpus     []models.StrategyCard

	httpServer *http.Server
}

// Opts holds server configuration collected from options.
type Opts struct {
	Addr string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// NewServer creates the API server. The corpus is the strategy card
// snapshot the retriever was built over, used to resolve provenance for
// chosen steps.
func NewServer(runner turnRunner, st store.Store, retriever *strategy.Retriever, classifier *risk.Classifier, corpus []models.StrategyCard, opts ...Option) (*Server, error) {
	if runner == nil {
		return nil, fmt.Errorf("turn runner is required")
	}
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	addr := cfg.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	if retriever == nil {
		retriever = strategy.NewRetriever(corpus)
	}
	if classifier == nil {
		classifier = risk.NewClassifier()
	}
	return &Server{
		addr:       addr,
		runner:     runner,
		store:      st,
		retriever:  retriever,
		resources:  strategy.NewResourceFinder(nil),
		classifier: classifier,
		corpus:     corpus,
	}, nil
}

// Handler returns the route table. Exposed for httptest-based tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/chat", s.chatHandler)
	mux.HandleFunc("/suggest/strategy", s.suggestStrategyHandler)
	mux.HandleFunc("/suggest/resources", s.suggestResourcesHandler)
	mux.HandleFunc("/interactions", s.interactionsHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run starts the HTTP server and blocks until the context is cancelled or
// the listener fails.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API server listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("Server.Run: shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err, ok := <-errCh:
		if !ok || err == nil {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	}
}
