// Package stream is the WebSocket gateway subscribers connect to. It speaks a
// small JSON protocol (subscribe, unsubscribe, getRooms) and pushes committed
// domain events for the rooms a session joined.
package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/devblac/nft-stream/internal/metrics"
	"github.com/devblac/nft-stream/internal/rooms"
)

// Options tunes per-session limits.
type Options struct {
	QueueSize       int
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64
	RequestRate     float64
	RequestBurst    int
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 4096
	}
	if o.RequestRate <= 0 {
		o.RequestRate = 10
	}
	if o.RequestBurst <= 0 {
		o.RequestBurst = 20
	}
	return o
}

// pongWait is how long a session may stay silent before it is considered
// dead; it spans two ping intervals.
func (o Options) pongWait() time.Duration {
	return 2 * o.PingInterval
}

// Server upgrades HTTP requests to subscriber sessions.
type Server struct {
	rooms    *rooms.Manager
	opts     Options
	logger   *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session
	closing  bool
}

// NewServer builds a gateway on top of the room manager. logger and m may be
// nil.
func NewServer(mgr *rooms.Manager, opts Options, logger *slog.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		rooms:   mgr,
		opts:    opts.withDefaults(),
		logger:  logger.With("component", "stream"),
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sessions: map[string]*session{},
	}
}

// ServeHTTP upgrades the connection and runs the session until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	sess := newSession(conn, s)
	if !s.register(sess) {
		sess.close(ErrShutdown)
		sess.writeLoop()
		return
	}
	defer s.unregister(sess)

	go sess.writeLoop()
	sess.readLoop()
}

func (s *Server) register(sess *session) bool {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return false
	}
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	s.rooms.Connect(sess)
	s.metrics.SessionOpened()
	s.logger.Debug("session connected", "session", sess.id)
	return true
}

func (s *Server) unregister(sess *session) {
	s.rooms.LeaveAll(sess)

	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()

	s.metrics.SessionClosed()
	if sess.reason != nil {
		s.logger.Info("session closed by server", "session", sess.id, "reason", sess.reason)
	} else {
		s.logger.Debug("session disconnected", "session", sess.id)
	}
}

// Sessions returns the number of live sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close stops accepting sessions and closes the open ones with a going-away
// frame.
func (s *Server) Close() {
	s.mu.Lock()
	s.closing = true
	open := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()

	for _, sess := range open {
		sess.close(ErrShutdown)
	}
}

// NewRouter mounts the gateway on /ws next to the operational endpoints.
// health may be nil.
func NewRouter(srv *Server, health http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/ws", srv.ServeHTTP)
	r.Get("/rooms", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"rooms":    srv.rooms.ListRooms(),
			"sessions": srv.Sessions(),
		})
	})
	if health != nil {
		r.Method(http.MethodGet, "/healthz", health)
	}
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}
