package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alecgard/rolewarden/internal/auth"
	"github.com/alecgard/rolewarden/internal/grant"
	"github.com/alecgard/rolewarden/internal/lifecycle"
	"github.com/alecgard/rolewarden/internal/metrics"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Controller is the lifecycle surface the HTTP handlers need. It exists
// to allow testing without a database or a live gateway connection.
type Controller interface {
	CheckTrial(ctx context.Context, userID string) (*lifecycle.TrialStatus, error)
	TrialStatuses(ctx context.Context) ([]lifecycle.TrialReport, error)
	SweepNow(ctx context.Context) (*lifecycle.Summary, error)
	DeleteTrial(ctx context.Context, userID string) error

	PutRoleConfig(ctx context.Context, roleID, roleName string, days int) (*grant.RoleConfig, error)
	ListRoleConfigs(ctx context.Context) ([]*grant.RoleConfig, error)
	DeleteRoleConfig(ctx context.Context, roleID string) error

	IssueGrant(ctx context.Context, userID, roleID string, days *int) (*grant.RoleGrant, error)
	ActiveGrants(ctx context.Context) ([]*grant.RoleGrant, error)
	MemberGrants(ctx context.Context, userID string) ([]lifecycle.GrantReport, error)
}

// RouterDeps holds all dependencies for the ops API router.
type RouterDeps struct {
	Controller   Controller
	Metrics      *metrics.Metrics
	AdminKeyHash string
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(secureHeaders)
	r.Use(slogRequestLogger(deps.Metrics))

	// Handlers.
	trials := newTrialsHandler(deps.Controller)
	roles := newRolesHandler(deps.Controller)
	grants := newGrantsHandler(deps.Controller)

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Metrics.
	r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{}))
	r.Get("/metrics/summary", deps.Metrics.SummaryHandler())

	// Admin routes (require the operator key).
	r.Route("/api/v1/admin", func(ar chi.Router) {
		ar.Use(auth.AdminKeyMiddleware(deps.AdminKeyHash, deps.Metrics))

		// Trial management.
		ar.Get("/trials", trials.ListTrials)
		ar.Get("/trials/{userID}", trials.GetTrial)
		ar.Post("/trials/sweep", trials.Sweep)
		ar.Delete("/trials/{userID}", trials.DeleteTrial)

		// Role template management.
		ar.Get("/roles", roles.ListRoleConfigs)
		ar.Put("/roles/{roleID}", roles.PutRoleConfig)
		ar.Delete("/roles/{roleID}", roles.DeleteRoleConfig)

		// Grant management.
		ar.Post("/grants", grants.IssueGrant)
		ar.Get("/grants", grants.ListActiveGrants)
		ar.Get("/members/{userID}/grants", grants.MemberGrants)
	})

	return r
}

// slogRequestLogger logs each request and records HTTP metrics keyed by
// the matched route pattern rather than the raw path.
func slogRequestLogger(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			pattern := chi.RouteContext(r.Context()).RoutePattern()
			if pattern == "" {
				pattern = "unmatched"
			}
			elapsed := time.Since(start)

			m.HTTPRequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(ww.Status())).Inc()
			m.HTTPRequestDuration.WithLabelValues(r.Method, pattern).Observe(elapsed.Seconds())

			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", elapsed.Milliseconds(),
				"bytes", ww.BytesWritten(),
			)
		})
	}
}
