// Package gateway exposes the lobby core over WebSocket and serves the
// read-only HTTP endpoints.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Oko-Tester/multiplayer-lobby-railway/internal/config"
	"github.com/Oko-Tester/multiplayer-lobby-railway/internal/lobby"
	"github.com/Oko-Tester/multiplayer-lobby-railway/internal/stats"
)

// Server accepts WebSocket connections, runs one Session per connection, and
// serves the health and stats endpoints.
type Server struct {
	cfg      config.ServerConfig
	logger   *zap.Logger
	coord    *lobby.Coordinator
	registry lobby.PeerRegistry
	reporter *stats.Reporter
	gauge    *stats.ConnectionGauge

	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// NewServer creates a gateway Server with the given dependencies.
//
// Precondition: coord, registry, reporter, gauge, and logger must be non-nil.
func NewServer(
	cfg config.ServerConfig,
	coord *lobby.Coordinator,
	registry lobby.PeerRegistry,
	reporter *stats.Reporter,
	gauge *stats.ConnectionGauge,
	logger *zap.Logger,
) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		coord:    coord,
		registry: registry,
		reporter: reporter,
		gauge:    gauge,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.httpSrv = &http.Server{
		Addr:    cfg.Addr(),
		Handler: s.Routes(),
	}
	return s
}

// Routes builds the HTTP router. Exposed for tests.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWS)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/lobbies", s.handleLobbies).Methods(http.MethodGet)
	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	return r
}

// Start serves HTTP until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("gateway listening", zap.String("addr", s.cfg.Addr()))
	if err := s.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the HTTP server down gracefully within the configured timeout.
func (s *Server) Stop() {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", zap.Error(err))
	}
}

// checkOrigin enforces the configured allow-list. Requests without an Origin
// header (non-browser clients) are allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// handleWS upgrades the connection and runs its session to completion. The
// read pump returning is the connection-termination signal: it fires the
// disconnect cleanup exactly once, graceful close or not.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sess := newSession(uuid.NewString(), conn, s.coord, s.logger)
	s.registry.Attach(sess)
	s.gauge.Inc()
	s.logger.Info("player connected",
		zap.String("conn_id", sess.ID()),
		zap.Int64("total_connections", s.gauge.Value()),
	)

	go sess.writePump()
	sess.readPump(r.Context())

	s.registry.Detach(sess.ID())
	// Cleanup must run to completion even though the request context is
	// gone.
	s.coord.Disconnect(context.Background(), sess.ID())
	s.gauge.Dec()
	s.logger.Info("player disconnected",
		zap.String("conn_id", sess.ID()),
		zap.Int64("total_connections", s.gauge.Value()),
	)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.reporter.Health(r.Context()))
}

func (s *Server) handleLobbies(w http.ResponseWriter, r *http.Request) {
	overview, err := s.reporter.Overview(r.Context())
	if err != nil {
		s.logger.Error("collecting lobby stats", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "Failed to get lobby stats",
		})
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Multiplayer Lobby Server",
		"status":  "running",
		"endpoints": map[string]string{
			"health":  "/health",
			"lobbies": "/api/lobbies",
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
