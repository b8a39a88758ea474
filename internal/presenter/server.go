package presenter

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/blackholelabs/lpstrategy/internal/pnltracker"
	"github.com/blackholelabs/lpstrategy/internal/scheduler"
)

// Config is everything Server needs to wire its routes, grounded on
// aristath-sentinel's server.Config shape (a thin bag of already-constructed
// dependencies, nothing this package builds itself).
type Config struct {
	Log       zerolog.Logger
	Scheduler *scheduler.Scheduler
	PnL       *pnltracker.Tracker
	Port      int
}

// Server is the process's single HTTP listener, serving both the control
// plane (`/strategy`, `/profit-loss`) and the per-instance WebSocket stream.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
}

// New builds a Server with every route mounted, ready for Start.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "presenter").Logger(),
	}

	m := newMetrics()

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(m.middleware)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", m.handler())

	// Mounted at root rather than under /api: routes are named literally
	// (`POST /strategy`, `GET /profit-loss/summary`, ...).
	NewStrategyHandlers(cfg.Scheduler).RegisterRoutes(s.router)
	NewPnLHandlers(cfg.PnL).RegisterRoutes(s.router)
	NewEventStream(cfg.Scheduler, cfg.Log).RegisterRoutes(s.router)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the WebSocket route holds connections open indefinitely
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeOK(w, map[string]string{"status": "ok"})
}

// Start runs the HTTP server, blocking until it stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
