// Package api provides HTTP handlers and the main API server logic for
// DietPipe.
//
// It exposes operational endpoints for health, profile inspection and manual
// sends, plus the Twilio inbound webhook, and runs the response handler loop
// that feeds transport messages into the onboarding engine.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/DietPipe/internal/messaging"
	"github.com/BTreeMap/DietPipe/internal/onboarding"
	"github.com/BTreeMap/DietPipe/internal/store"
)

// Server configuration constants
const (
	// DefaultAddr is the default listen address for the API server
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful HTTP shutdown
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// Server wires the messaging service, store and onboarding engine behind the
// HTTP surface.
type Server struct {
	addr         string
	msgService   messaging.Service
	st           store.Store
	orchestrator *onboarding.Orchestrator
	respHandler  *messaging.ResponseHandler
	httpServer   *http.Server
}

// NewServer creates an API server over the given collaborators.
func NewServer(msgService messaging.Service, st store.Store, orchestrator *onboarding.Orchestrator, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return &Server{
		addr:         cfg.Addr,
		msgService:   msgService,
		st:           st,
		orchestrator: orchestrator,
		respHandler:  messaging.NewResponseHandler(msgService, orchestrator),
	}
}

// routes builds the HTTP mux. Split out so tests can exercise handlers
// without a listening server.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/profile", s.profileHandler)
	mux.HandleFunc("/messages", s.messagesHandler)
	mux.HandleFunc("/send", s.sendHandler)

	// Twilio delivers inbound WhatsApp messages over this webhook.
	if twilioSvc, ok := s.msgService.(*messaging.TwilioService); ok {
		mux.HandleFunc("/webhook/twilio", twilioSvc.TwilioWebhookHandler)
		slog.Debug("Server.routes: Twilio webhook registered")
	}
	return mux
}

// Run starts the messaging service, the response handler loop, and the HTTP
// server, then blocks until the context is cancelled or the server fails.
func (s *Server) Run(ctx context.Context) error {
	if err := s.msgService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	go s.respHandler.Start(ctx)

	s.httpServer = &http.Server{Addr: s.addr, Handler: s.routes()}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("DietPipe API running", "addr", s.addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("Server.Run: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server.Run: HTTP shutdown failed", "error", err)
		}
		if err := s.msgService.Stop(); err != nil {
			slog.Error("Server.Run: messaging service stop failed", "error", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server failed: %w", err)
	}
}
