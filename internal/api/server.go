package api

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/controlface/deploy-console/internal/auth"
	"github.com/controlface/deploy-console/internal/config"
	"github.com/controlface/deploy-console/internal/dispatch"
	"github.com/controlface/deploy-console/internal/metrics"
	"github.com/controlface/deploy-console/internal/registry"
	"github.com/controlface/deploy-console/internal/storage"
)

type contextKey string

const claimsKey contextKey = "claims"
const viewKey contextKey = "view"
const queryTokenKey contextKey = "query_token"

// queryTokenParam carries the session token on WebSocket upgrades
const queryTokenParam = "access_token"

// RESTServer represents the REST API server
type RESTServer struct {
	config     *config.Config
	store      storage.Store
	auth       *auth.JWTManager
	gate       *auth.Gate
	dispatcher *dispatch.Dispatcher
	views      *registry.Manager
	router     chi.Router
	server     *http.Server
}

// NewRESTServer creates a new REST API server
func NewRESTServer(cfg *config.Config, store storage.Store, dispatcher *dispatch.Dispatcher, views *registry.Manager) *RESTServer {
	s := &RESTServer{
		config:     cfg,
		store:      store,
		auth:       auth.NewJWTManager(&cfg.JWT),
		gate:       auth.NewGate(&cfg.Gate),
		dispatcher: dispatcher,
		views:      views,
		router:     chi.NewRouter(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(stripQueryToken)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders: []string{"Link"},
		MaxAge:         300,
	}))

	if s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, metrics.Handler())
	}

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		s.setupAPIRoutes(r)
	})
}

// Handler returns the HTTP handler, including the Web UI when its directory exists
func (s *RESTServer) Handler() http.Handler {
	webDir := s.config.Web.StaticDir
	if envWebDir := os.Getenv("WEB_DIR"); envWebDir != "" {
		webDir = envWebDir
	}

	if _, err := os.Stat(webDir); err != nil {
		log.Warn().Str("dir", webDir).Msg("Web directory not found, Web UI will not be available")
		return s.router
	}

	log.Info().Str("dir", webDir).Msg("Serving Web UI from directory")
	fs := http.FileServer(http.Dir(webDir))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == s.config.Metrics.Path {
			s.router.ServeHTTP(w, r)
			return
		}

		// Client-side routes fall back to index.html
		if r.URL.Path == "/" || !strings.Contains(r.URL.Path, ".") {
			http.ServeFile(w, r, filepath.Join(webDir, "index.html"))
			return
		}

		fs.ServeHTTP(w, r)
	})
}

// ListenAndServe starts the server
func (s *RESTServer) ListenAndServe(addr string) error {
	s.server.Addr = addr
	s.server.Handler = s.Handler()

	log.Info().Str("addr", addr).Msg("Starting REST API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// stripQueryToken moves access_token out of the URL into the request
// context, so the access log never records it.
func stripQueryToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		token := query.Get(queryTokenParam)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		query.Del(queryTokenParam)
		u := *r.URL
		u.RawQuery = query.Encode()

		r = r.WithContext(context.WithValue(r.Context(), queryTokenKey, token))
		r.URL = &u
		r.RequestURI = u.RequestURI()
		next.ServeHTTP(w, r)
	})
}

// authMiddleware is the authentication middleware. Only the Authorization
// header is accepted.
func (s *RESTServer) authMiddleware(next http.Handler) http.Handler {
	return s.requireSession(next, false)
}

// streamAuthMiddleware also accepts access_token from the query, since
// browsers cannot set headers on WebSocket upgrades.
func (s *RESTServer) streamAuthMiddleware(next http.Handler) http.Handler {
	return s.requireSession(next, true)
}

func (s *RESTServer) requireSession(next http.Handler, allowQuery bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queryToken, _ := r.Context().Value(queryTokenKey).(string)
		if queryToken != "" && !allowQuery {
			s.respondError(w, http.StatusUnauthorized, "access_token is only accepted on the console stream")
			return
		}

		token := queryToken
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				s.respondError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}
			token = parts[1]
		}

		if token == "" {
			s.respondError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		claims, err := s.auth.ValidateToken(token)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		if s.views.IsRevoked(claims.SessionID) {
			s.respondError(w, http.StatusUnauthorized, "session locked")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// viewMiddleware attaches the session's operator view, reopening it when
// the server restarted while the token stayed valid.
func (s *RESTServer) viewMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFromContext(r.Context())
		if claims == nil {
			s.respondError(w, http.StatusUnauthorized, "missing session")
			return
		}

		view, ok := s.views.Get(claims.SessionID)
		if !ok {
			var err error
			view, err = s.views.Open(claims.SessionID, claims.ExpiresAt.Time)
			if err != nil {
				s.respondRegistryError(w, err)
				return
			}
		}

		ctx := context.WithValue(r.Context(), viewKey, view)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

func viewFromContext(ctx context.Context) *registry.Registry {
	view, _ := ctx.Value(viewKey).(*registry.Registry)
	return view
}
