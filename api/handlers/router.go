// Package handlers exposes the CareConnect HTTP API.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/careconnect/backend/api/applications"
	"github.com/careconnect/backend/api/auth"
	"github.com/careconnect/backend/api/metrics"
	"github.com/careconnect/backend/api/query"
	"github.com/careconnect/backend/api/resources"
	"github.com/careconnect/backend/api/rules"
	"github.com/careconnect/backend/api/signatures"
	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Pinger reports database reachability for /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// VersionInfo contains build-time version information.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// API holds the services behind the HTTP routes.
type API struct {
	Log *slog.Logger

	Verifier auth.TokenVerifier
	Roles    auth.RoleChecker

	Queries      *query.Engine
	Rules        *rules.Store
	Executor     *rules.Executor
	Applications *applications.Service
	Resources    *resources.Service
	Catalog      *resources.Registry
	Signatures   *signatures.Service

	// Limiter throttles the query and rule endpoints.
	Limiter        *RateLimiter
	AllowedOrigins []string
	DB             Pinger
	Version        VersionInfo
	Public         PublicConfig
	// ReportPanics sends recovered panics to Sentry.
	ReportPanics   bool
}

// NewRouter wires every route.
func (a *API) NewRouter() http.Handler {
	a.Log = logger(a.Log)
	if a.Catalog == nil {
		a.Catalog = resources.Catalog()
	}
	if a.Limiter == nil {
		a.Limiter = PerMinute(120, 20)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.requestLogger)
	r.Use(middleware.Recoverer)
	if a.ReportPanics {
		r.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	}
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: !allowsAny(a.AllowedOrigins),
		MaxAge:           300,
	}))

	r.Get("/", a.root)
	r.Get("/healthz", a.healthz)
	r.Get("/readyz", a.readyz)
	r.Get("/version", a.version)
	r.Get("/config", a.publicConfig)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(a.Log, a.Verifier, a.writeError))

		limited := r.With(RateLimitMiddleware(a.Limiter))
		limited.Post("/query", a.runQuery)
		limited.Post("/rules/execute", a.executeRule)

		r.Route("/api", func(r chi.Router) {
			limited := r.With(RateLimitMiddleware(a.Limiter))
			limited.Post("/query", a.runQuery)
			limited.Post("/rules/execute", a.executeRule)

			r.Get("/rules", a.listRules)
			r.Get("/rules/{name}", a.getRule)
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(a.Roles, auth.RoleAdmin, a.writeError))
				r.Post("/rules", a.createRule)
				r.Put("/rules/{name}", a.updateRule)
			})

			a.applicationRoutes(r)
			a.careRequestRoutes(r)
			a.resourceRoutes(r)
			a.signatureRoutes(r)
		})
	})

	return r
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		a.Log.Debug("http request",
			"method", r.Method,
			"route", route,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func allowsAny(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return len(origins) == 0
}
