package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ajitpratap0/mcp-notify-go/pkg/logging"
	"github.com/ajitpratap0/mcp-notify-go/pkg/registry"
)

// Defaults for the session server
const (
	DefaultKeepAlive       = 15 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// SessionCleaner forgets per-session state when a session ends
type SessionCleaner interface {
	ClearSession(sessionID string)
}

// SessionRecorder tracks the number of open sessions per transport
type SessionRecorder interface {
	RecordActiveSessions(ctx context.Context, transport string, delta int)
}

type session struct {
	transport string
	closer    interface{ Close() error }
	openedAt  time.Time
}

// Server accepts SSE and websocket sessions, registers them in the
// multi-session map of the registry and feeds their inbound messages to a
// Dispatcher.
type Server struct {
	registry   *registry.Registry
	dispatcher *Dispatcher
	cleaners   []SessionCleaner
	recorder   SessionRecorder
	logger     logging.Logger

	allowedOrigins []string
	keepAlive      time.Duration
	wsWriteTimeout time.Duration
	metricsPath    string
	metrics        http.Handler

	router chi.Router

	mu       sync.RWMutex
	sessions map[string]*session

	httpServer *http.Server
	done       chan struct{}
	stopOnce   sync.Once
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithAllowedOrigins accepts browser origins beyond localhost. "*" accepts
// any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		s.allowedOrigins = append(s.allowedOrigins, origins...)
	}
}

// WithKeepAlive sets the SSE keepalive interval
func WithKeepAlive(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.keepAlive = d
		}
	}
}

// WithWSWriteTimeout bounds websocket writes
func WithWSWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.wsWriteTimeout = d
	}
}

// WithSessionCleaner registers state to clear when a session ends
func WithSessionCleaner(c SessionCleaner) Option {
	return func(s *Server) {
		s.cleaners = append(s.cleaners, c)
	}
}

// WithSessionRecorder reports open sessions
func WithSessionRecorder(r SessionRecorder) Option {
	return func(s *Server) {
		s.recorder = r
	}
}

// WithMetricsHandler mounts h at path
func WithMetricsHandler(path string, h http.Handler) Option {
	return func(s *Server) {
		s.metricsPath = path
		s.metrics = h
	}
}

// New creates a server registering sessions into reg
func New(reg *registry.Registry, dispatcher *Dispatcher, opts ...Option) *Server {
	s := &Server{
		registry:   reg,
		dispatcher: dispatcher,
		logger:     logging.GetGlobalLogger(),
		keepAlive:  DefaultKeepAlive,
		sessions:   make(map[string]*session),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithFields(logging.String("component", "SessionServer"))
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logging.HTTPMiddleware(s.logger))

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, s.metricsPath, s.metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.checkOrigin)
		r.Options("/mcp", s.handleOptions)
		r.Get("/mcp", s.handleStream)
		r.Post("/mcp", s.handlePost)
		r.Delete("/mcp", s.handleDelete)
		r.Get("/ws", s.handleWebSocket)
	})
	return r
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start listens on addr and serves until Shutdown. It returns once the
// listener is bound.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		_ = ln.Close()
		return errors.New("server already started")
	}
	s.httpServer = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("session server listening", logging.String("address", ln.Addr().String()))
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("session server stopped")
		}
	}()
	return nil
}

// Shutdown ends every open session and stops the listener
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.done) })

	for _, id := range s.SessionIDs() {
		s.closeSession(ctx, id)
	}

	s.mu.RLock()
	srv := s.httpServer
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// SessionIDs returns the open session ids, sorted
func (s *Server) SessionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SessionCount returns the number of open sessions
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Server) hasSession(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[id]
	return ok
}

func (s *Server) addSession(ctx context.Context, id, transportName string, conn registry.Conn) {
	closer, _ := conn.(interface{ Close() error })

	s.mu.Lock()
	s.sessions[id] = &session{transport: transportName, closer: closer, openedAt: time.Now()}
	s.mu.Unlock()

	s.registry.AddSession(id, conn)
	if s.recorder != nil {
		s.recorder.RecordActiveSessions(ctx, transportName, 1)
	}
	s.logger.Info("session opened", logging.Session(id), logging.Transport(transportName))
}

// removeSession drops a session from the registry and clears its state.
// Removing an unknown session does nothing.
func (s *Server) removeSession(ctx context.Context, id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return
	}

	s.registry.RemoveSession(id)
	for _, c := range s.cleaners {
		c.ClearSession(id)
	}
	if s.recorder != nil {
		s.recorder.RecordActiveSessions(ctx, sess.transport, -1)
	}
	s.logger.Info("session closed",
		logging.Session(id),
		logging.Transport(sess.transport),
		logging.Duration("lifetime", time.Since(sess.openedAt)),
	)
}

// closeSession closes the session's connection and removes it. It reports
// whether the session existed.
func (s *Server) closeSession(ctx context.Context, id string) bool {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	if sess.closer != nil {
		if err := sess.closer.Close(); err != nil {
			s.logger.Debug("close failed", logging.Session(id), logging.ErrorField(err))
		}
	}
	s.removeSession(ctx, id)
	return true
}

// contextUntil returns a context that is also cancelled when done closes
func contextUntil(parent context.Context, done <-chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
