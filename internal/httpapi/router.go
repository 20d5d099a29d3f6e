// Package httpapi implements the HTTP/JSON front-end adapter (spec §6):
// health, login/logout, admin namespace management, and the per-key
// cache surface, plus the admin UI static mount.
//
// The teacher has no HTTP surface at all (it only speaks the text
// memcached protocol over TCP), so this package is new; it is grounded
// on the chi-based routing shown in the wider example pack
// (tomtom215-cartographus) for router/middleware composition, and on
// this module's own tcpserver dispatch-by-registry-lookup shape for how
// requests reach a Cache.
package httpapi

import (
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/carbondb/carbon/internal/authcache"
	"github.com/carbondb/carbon/internal/registry"
)

// API bundles the dependencies HTTP handlers need: the cache Registry
// and the AuthCache, both explicit context handles per spec §9 rather
// than ambient globals.
type API struct {
	reg  *registry.Registry
	auth *authcache.AuthCache
	log  zerolog.Logger
}

// Config configures the router's cross-cutting concerns.
type Config struct {
	AllowedOrigins []string // CARBON_ALLOWED_ORIGINS, spec §6.
	AdminUI        fs.FS    // embedded static assets; nil disables the mount.
}

// NewRouter builds the chi.Router exposing spec §6's HTTP surface.
func NewRouter(reg *registry.Registry, auth *authcache.AuthCache, cfg Config, log zerolog.Logger) http.Handler {
	a := &API{reg: reg, auth: auth, log: log.With().Str("component", "httpapi").Logger()}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(a.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   originsOrWildcard(cfg.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"x-session-token", "x-session-reused"},
		AllowCredentials: false,
	}))

	r.Get("/health", a.handleHealth)
	r.Post("/auth/login", a.handleLogin)
	r.Post("/auth/logout", a.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(a.requireAuth)

		r.Route("/admin/caches", func(r chi.Router) {
			r.Use(a.requireAdmin)
			r.Post("/", a.handleCreateCache)
			r.Get("/", a.handleListCaches)
			r.Get("/{name}", a.handleDescribeCache)
			r.Delete("/{name}", a.handleDeleteCache)
		})

		r.Put("/cache/{name}/{key}", a.handlePutKey)
		r.Get("/cache/{name}/{key}", a.handleGetKey)
		r.Delete("/cache/{name}/{key}", a.handleDeleteKey)
	})

	if cfg.AdminUI != nil {
		r.Handle("/admin/ui/*", http.StripPrefix("/admin/ui/", http.FileServer(http.FS(cfg.AdminUI))))
	}

	return r
}

func originsOrWildcard(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("http request")
			next.ServeHTTP(w, r)
		})
	}
}
