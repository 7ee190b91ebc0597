// Package httpapi exposes the daemon's recording slots to the complaint
// portal over HTTP, with a websocket feed of slot state.
package httpapi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/schovi/mediarec/internal/daemon"
	"github.com/schovi/mediarec/internal/logging"
)

const (
	ReadTimeout  = 30 * time.Second
	WriteTimeout = 60 * time.Second
	IdleTimeout  = 60 * time.Second
)

type Options struct {
	Addr           string
	AllowedOrigins []string
	Logger         *logging.Logger
}

type Server struct {
	daemon   *daemon.Server
	router   *mux.Router
	handler  http.Handler
	server   *http.Server
	upgrader websocket.Upgrader
	origins  []string
	logger   *logging.Logger
}

func New(d *daemon.Server, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}

	s := &Server{
		daemon:  d,
		router:  mux.NewRouter(),
		origins: opts.AllowedOrigins,
		logger:  logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	s.setupRoutes()

	c := cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		ExposedHeaders: []string{"Content-Disposition", HeaderPartial, HeaderDuration},
	})
	s.handler = c.Handler(s.router)

	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.handler,
		ReadTimeout:  ReadTimeout,
		WriteTimeout: WriteTimeout,
		IdleTimeout:  IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)

	api.HandleFunc("/slots", s.listSlotsHandler).Methods(http.MethodGet)
	api.HandleFunc("/slots", s.createSlotHandler).Methods(http.MethodPost)
	api.HandleFunc("/slots/{name}", s.getSlotHandler).Methods(http.MethodGet)
	api.HandleFunc("/slots/{name}", s.deleteSlotHandler).Methods(http.MethodDelete)

	api.HandleFunc("/slots/{name}/start", s.startHandler).Methods(http.MethodPost)
	api.HandleFunc("/slots/{name}/pause", s.pauseHandler).Methods(http.MethodPost)
	api.HandleFunc("/slots/{name}/resume", s.resumeHandler).Methods(http.MethodPost)
	api.HandleFunc("/slots/{name}/stop", s.stopHandler).Methods(http.MethodPost)
	api.HandleFunc("/slots/{name}/clear", s.clearHandler).Methods(http.MethodPost)

	api.HandleFunc("/slots/{name}/artifact", s.artifactHandler).Methods(http.MethodGet)
	api.HandleFunc("/slots/{name}/events", s.eventsHandler).Methods(http.MethodGet)
}

// Handler is the routed handler wrapped in CORS.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe blocks until Shutdown. It returns nil after a clean
// shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http api listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// checkOrigin applies the CORS origin list to websocket upgrades. Requests
// without an Origin header come from non-browser clients and are allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(s.origins, "*") || slices.Contains(s.origins, origin)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
