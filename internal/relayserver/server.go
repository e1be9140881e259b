package relayserver

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

var errNoIdentity = errors.New("relayserver: no identity presented")

// Server bundles the relay endpoint: websocket hub, account handlers,
// middleware, and metrics.
type Server struct {
	DB      *sql.DB
	hub     *Hub
	metrics *Metrics
}

// New creates a Server with the provided DB (may be nil for stateless mode:
// routing works, accounts and history do not).
func New(db *sql.DB) *Server {
	metrics := &Metrics{}
	return &Server{
		DB:      db,
		hub:     NewHub(db, metrics),
		metrics: metrics,
	}
}

// Hub exposes the websocket hub, mainly for tests.
func (s *Server) Hub() *Hub {
	return s.hub
}

// MetricsSnapshot exposes the current counters.
func (s *Server) MetricsSnapshot() *Metrics {
	return s.metrics
}

// Router wires up chi routes, middleware, and handlers ready for
// http.ListenAndServe.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(s.loggingMiddleware())

	r.Get("/healthz", s.healthHandler())
	r.Post("/register", s.registerHandler())
	r.Post("/login", s.loginHandler())
	r.Get("/peers", s.peersHandler())
	r.Get("/ws", s.hub.HandleWS)

	r.With(s.authenticated()).Get("/history", s.historyHandler())

	return r
}
