// ABOUTME: Gateway orchestrator wiring store, relay, and HTTP server together
// ABOUTME: Manages startup, the route table, and graceful shutdown

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/2389/skycast/internal/config"
	"github.com/2389/skycast/internal/conversation"
	"github.com/2389/skycast/internal/relay"
	"github.com/2389/skycast/internal/store"
	"github.com/2389/skycast/internal/upstream"
)

// Gateway runs the skycast server: the relay endpoint, the conversation
// API, and the persistence layer behind them.
type Gateway struct {
	config     *config.Config
	store      store.SnapshotStore
	chat       *conversation.Store
	relay      *relay.Relay
	httpServer *http.Server
	logger     *slog.Logger
}

// initStore creates the snapshot store from config and environment.
func initStore(cfg *config.Config) (store.SnapshotStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("SKYCAST_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a Gateway from configuration: snapshot store, upstream
// client, relay, conversation store, and the HTTP route table.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	client := upstream.NewClient(upstream.Options{
		URL:         cfg.Upstream.URL,
		Headers:     cfg.Upstream.Headers,
		RunID:       cfg.Upstream.RunID,
		ResourceID:  cfg.Upstream.ResourceID,
		ThreadID:    cfg.Upstream.ThreadID,
		MaxRetries:  cfg.Upstream.MaxRetries,
		MaxSteps:    cfg.Upstream.MaxSteps,
		Temperature: cfg.Upstream.Temperature,
		TopP:        cfg.Upstream.TopP,
		Timeout:     cfg.Upstream.RequestTimeout,
	}, logger)

	rel := relay.New(client, logger)

	chat, err := conversation.New(context.Background(), s, rel, logger)
	if err != nil {
		s.Close()
		return nil, err
	}

	g := &Gateway{
		config: cfg,
		store:  s,
		chat:   chat,
		relay:  rel,
		logger: logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()
	g.registerRoutes(mux)

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// registerRoutes installs the HTTP API on the mux.
func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", g.handleHealth)

	mux.HandleFunc("/api/chat", g.handleChat)
	mux.HandleFunc("/api/send", g.handleSend)
	mux.HandleFunc("/api/conversations", g.handleConversations)
	mux.HandleFunc("/api/conversations/", g.handleConversationRoutes)
	mux.HandleFunc("/api/search", g.handleSearch)
	mux.HandleFunc("/api/state", g.handleState)
}

// Chat exposes the conversation store, mainly for tests.
func (g *Gateway) Chat() *conversation.Store {
	return g.chat
}

// Handler returns the HTTP handler, mainly for tests.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.chat.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
