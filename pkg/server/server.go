// Package server implements the realtime feed: a WebSocket endpoint
// that authenticates one connection per member, routes their messages
// through storage-first handlers, fans out notifications by role, and
// periodically reconciles every client against the store.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/saint-community/realtime/pkg/middleware"
	"github.com/saint-community/realtime/pkg/protocol"
	"github.com/saint-community/realtime/pkg/store"
	"github.com/saint-community/realtime/pkg/upload"
)

// Server is the realtime feed server.
type Server struct {
	config     *Config
	gw         store.Gateway
	registry   *Registry
	router     *Router
	reconciler *Reconciler
	metrics    *Metrics
	promReg    *prometheus.Registry
	uploads    upload.Store
	upgrader   websocket.Upgrader
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a feed server over the given gateway. A nil config gets
// defaults; unset fields are filled in.
func New(config *Config, gw store.Gateway) *Server {
	config = config.withDefaults()
	logger := slog.Default().With("component", "server")

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	promReg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := NewMetrics(promReg)

	registry := NewRegistry(logger)
	router := NewRouter(gw, registry, logger)
	router.SetMetrics(metrics)

	reconciler := NewReconciler(gw, registry, config.ReconcileInterval, logger)
	reconciler.SetMetrics(metrics)

	return &Server{
		config:     config,
		gw:         gw,
		registry:   registry,
		router:     router,
		reconciler: reconciler,
		metrics:    metrics,
		promReg:    promReg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		logger: logger,
	}
}

// SetUploads wires the attachment store and exposes the upload route.
func (s *Server) SetUploads(store upload.Store) {
	s.uploads = store
	s.router.SetUploads(store)
}

// SetLogger replaces the server's logger.
func (s *Server) SetLogger(logger *slog.Logger) {
	s.logger = logger.With("component", "server")
}

// Registry returns the connection registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Handler returns the HTTP routes: the WebSocket endpoint, health and
// metrics, and the attachment upload endpoint when a store is wired.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(middleware.Prometheus(middleware.WithRegistry(s.promReg)))
	r.Use(middleware.OpenTelemetry())

	r.Get("/ws", s.handleWebSocket)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))

	if s.uploads != nil {
		r.Post("/api/upload", upload.Handler(s.uploads).ServeHTTP)
	}

	return r
}

// handleWebSocket upgrades the connection and runs its read loop. The
// member's identity arrives as query parameters; connections without a
// valid identity are refused before the upgrade.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	role := protocol.Role(r.URL.Query().Get("role"))
	if userID == "" {
		http.Error(w, "userId required", http.StatusBadRequest)
		return
	}
	if role == "" {
		role = protocol.RoleMember
	}
	if !role.Valid() {
		http.Error(w, "invalid role", http.StatusBadRequest)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	transport := newWSTransport(wsConn, s.config.WriteTimeout)
	conn := s.registry.Register(userID, role, transport)
	s.metrics.setConnections(s.registry.Count())

	// The snapshot push must not delay the read loop: a client that
	// sends immediately after connecting is already valid.
	go s.router.SendInitialData(r.Context(), conn)

	s.readLoop(conn, wsConn)
}

// readLoop reads and dispatches messages until the connection dies.
// Dispatch is sequential so one member's messages apply in the order
// they were sent.
func (s *Server) readLoop(conn *Conn, wsConn *websocket.Conn) {
	defer func() {
		s.registry.Drop(conn)
		s.metrics.setConnections(s.registry.Count())
		s.logger.Info("connection closed", "user_id", conn.UserID)
	}()

	wsConn.SetReadLimit(s.config.MaxMessageSize)

	for {
		if s.config.ReadTimeout > 0 {
			wsConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		}

		_, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("read error", "user_id", conn.UserID, "error", err)
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			// Malformed frames are dropped; the connection survives.
			s.logger.Warn("malformed message", "user_id", conn.UserID, "error", err)
			continue
		}

		s.router.Dispatch(context.Background(), conn, msg)
	}
}

// Run starts the reconciler and the HTTP server, then blocks until a
// shutdown signal or a listener error.
func (s *Server) Run() error {
	s.httpServer = &http.Server{
		Addr:         s.config.Address,
		Handler:      s.Handler(),
		WriteTimeout: s.config.WriteTimeout,
	}

	s.reconciler.Start()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "address", s.config.Address)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.reconciler.Stop()
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-shutdown:
		s.logger.Info("shutting down...")
		return s.Shutdown(context.Background())
	}
}

// Shutdown stops the reconciler, closes every connection, and shuts the
// HTTP server down gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.reconciler.Stop()
	s.registry.CloseAll()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.logger.Info("server shutdown complete")
	return nil
}
