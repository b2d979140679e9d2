package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/BTreeMap/PingPipe/internal/clock"
	"github.com/BTreeMap/PingPipe/internal/models"
	"github.com/BTreeMap/PingPipe/internal/popup"
	"github.com/BTreeMap/PingPipe/internal/store"
	"github.com/BTreeMap/PingPipe/internal/suggest"
)

// DefaultAddr is the default HTTP listen address.
const DefaultAddr = ":8080"

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Engine is the part of the orchestrator the server drives. All methods run on
// the engine loop.
type Engine interface {
	Current() *models.Popup
	Complete(p models.Popup, responses []models.Response)
	SwitchToDetailed()
	SwitchToSimple()
	UserInteracted()
	ShowNow(suggestedResponse string)
	Pause()
	Resume()
	UpdateCadenceContext(ctx models.CadenceContext)
	UpdateUser(u models.User)
	RegularTimer() *popup.RegularTimer
	Queue() *popup.DeliveryQueue
}

// Compile-time check that the orchestrator satisfies Engine.
var _ Engine = (*popup.Orchestrator)(nil)

// Server serves the popup engine over HTTP.
type Server struct {
	addr      string
	loop      *clock.Loop
	engine    Engine
	entries   store.Store
	suggester *suggest.Suggester
	onUser    func(models.User)

	mu      sync.Mutex
	cadence models.CadenceContext
	user    models.User

	httpServer *http.Server
	closed     bool
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithEntries enables GET /entries.
func WithEntries(entries store.Store) Option {
	return func(s *Server) { s.entries = entries }
}

// WithSuggester fills in show-now suggestions when the client sends none.
func WithSuggester(sg *suggest.Suggester) Option {
	return func(s *Server) { s.suggester = sg }
}

// WithUserHook is called after the user is replaced through the API.
func WithUserHook(fn func(models.User)) Option {
	return func(s *Server) { s.onUser = fn }
}

// WithInitialState records the cadence and user the engine was started with.
func WithInitialState(cadence models.CadenceContext, user models.User) Option {
	return func(s *Server) {
		s.cadence = cadence
		s.user = user
	}
}

// NewServer creates a server driving engine through loop.
func NewServer(loop *clock.Loop, engine Engine, opts ...Option) *Server {
	s := &Server{addr: DefaultAddr, loop: loop, engine: engine}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/popup", s.popupHandler)
	mux.HandleFunc("/popup/complete", s.completeHandler)
	mux.HandleFunc("/popup/show-now", s.showNowHandler)
	mux.HandleFunc("/popup/detailed", s.engineAction("switchToDetailedHandler", s.engine.SwitchToDetailed))
	mux.HandleFunc("/popup/simple", s.engineAction("switchToSimpleHandler", s.engine.SwitchToSimple))
	mux.HandleFunc("/popup/interact", s.engineAction("interactHandler", s.engine.UserInteracted))
	mux.HandleFunc("/pause", s.engineAction("pauseHandler", s.engine.Pause))
	mux.HandleFunc("/resume", s.engineAction("resumeHandler", s.engine.Resume))
	mux.HandleFunc("/cadence", s.cadenceHandler)
	mux.HandleFunc("/user", s.userHandler)
	mux.HandleFunc("/entries", s.entriesHandler)
	return mux
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	slog.Info("Server.ListenAndServe: API listening", "addr", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.closed = true
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	slog.Info("Server.Shutdown: stopping API server")
	return srv.Shutdown(ctx)
}

// onLoop runs fn on the engine loop, bounded by the request context.
func (s *Server) onLoop(r *http.Request, fn func()) error {
	return s.loop.Call(r.Context(), fn)
}
