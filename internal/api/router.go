package api

import (
	"context"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"taskscheduler/internal/core"
	"taskscheduler/internal/metrics"
	"taskscheduler/internal/supervisor"
	"taskscheduler/web"
)

// Directory lists Home Assistant objects a task can target.
type Directory interface {
	Addons(ctx context.Context) ([]supervisor.Addon, error)
	States(ctx context.Context, prefixes ...string) ([]core.EntityState, error)
}

// Server holds the HTTP server state.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	scheduler  *core.Scheduler
	directory  Directory
	mcpHandler http.Handler
	logger     zerolog.Logger
	location   *time.Location
	authToken  string
	now        func() time.Time
}

// NewServer constructs the HTTP API server. directory and mcpHandler may be
// nil; without an MCP handler /mcp is not mounted.
func NewServer(addr string, authToken string, scheduler *core.Scheduler, directory Directory, mcpHandler http.Handler, logger zerolog.Logger, location *time.Location) *Server {
	if location == nil {
		location = time.Local
	}
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(countRequests)

	s := &Server{
		router:     router,
		scheduler:  scheduler,
		directory:  directory,
		mcpHandler: mcpHandler,
		logger:     logger.With().Str("component", "api").Logger(),
		location:   location,
		authToken:  authToken,
		now:        time.Now,
	}
	s.registerRoutes(web.Files())

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Run requests wait for the control plane; keep writes unbounded.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes(staticFS fs.FS) {
	s.router.Get("/", s.handleIndex(staticFS))
	s.router.Handle("/metrics", metrics.Handler())

	if s.mcpHandler != nil {
		var mcpHandler = s.mcpHandler
		if s.authToken != "" {
			mcpHandler = AuthMiddleware(s.authToken)(mcpHandler)
		}
		s.router.Handle("/mcp", mcpHandler)
	}

	s.router.Route("/api", func(r chi.Router) {
		if s.authToken != "" {
			r.Use(AuthMiddleware(s.authToken))
		}

		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", s.handleListTasks)
			r.Post("/", s.handleCreateTask)

			r.Route("/{taskID}", func(r chi.Router) {
				r.Get("/", s.handleGetTask)
				r.Put("/", s.handleUpdateTask)
				r.Delete("/", s.handleDeleteTask)
				r.Post("/toggle", s.handleToggleTask)
				r.Post("/run", s.handleRunTask)
			})
		})

		r.Get("/history", s.handleListHistory)
		r.Get("/sun", s.handleSun)
		r.Post("/schedule/preview", s.handleSchedulePreview)

		r.Get("/addons", s.handleAddons)
		r.Get("/automations", s.handleAutomations)
		r.Get("/scripts", s.handleScripts)
		r.Get("/entities", s.handleEntities)
	})
}

func (s *Server) handleIndex(staticFS fs.FS) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := fs.ReadFile(staticFS, "index.html")
		if err != nil {
			http.Error(w, "index not found", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		_, _ = w.Write(data)
	}
}
