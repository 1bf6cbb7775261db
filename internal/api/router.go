package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/coveline/consult/internal/config"
	"github.com/coveline/consult/internal/gateway"
	"github.com/coveline/consult/internal/router"
	"github.com/coveline/consult/internal/session"
	"github.com/coveline/consult/internal/storage/sqlite"
	"github.com/coveline/consult/pkg/logger"
)

// Router wires the HTTP API and the WebSocket gateway onto one chi mux
type Router struct {
	handler *Handler
	gateway *gateway.Gateway
	config  *config.Config
	logger  *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(registry *session.Registry, eventRouter *router.Router, storage *sqlite.Storage, gw *gateway.Gateway, cfg *config.Config, log *logger.Logger) *Router {
	return &Router{
		handler: NewHandler(registry, eventRouter, storage, cfg, log),
		gateway: gw,
		config:  cfg,
		logger:  log.Named("api-router"),
	}
}

// Routes returns the HTTP handler with all routes configured
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(rt.config.Server.CORSAllowedOrigins))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", rt.handler.Health)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", rt.handler.CreateSession)
			r.Get("/", rt.handler.ListSessions)
			r.Get("/{sessionID}", rt.handler.GetSession)
			r.Post("/{sessionID}/end", rt.handler.EndSession)
			r.Get("/{sessionID}/events", rt.handler.GetSessionEvents)
		})
	})

	r.Get("/ws/{sessionID}", rt.gateway.HandleConnection)

	return r
}

// corsMiddleware sets CORS headers for the configured origins. An empty list
// disables cross-origin access; "*" allows any origin.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || allowed[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
