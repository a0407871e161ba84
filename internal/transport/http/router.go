// Package httptransport assembles the HTTP surface: the authenticated
// administrative API, the open public verification endpoints, and the
// operational endpoints (health, metrics).
package httptransport

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	cataloghandler "constancia/internal/catalog/handler"
	certificatehandler "constancia/internal/certificate/handler"
	"constancia/internal/platform/metrics"
	"constancia/internal/platform/middleware"
	verificationhandler "constancia/internal/verification/handler"
)

// Deps collects everything the router mounts. Handlers stay thin; services
// own the behavior behind them.
type Deps struct {
	Catalog      *cataloghandler.Handler
	Certificates *certificatehandler.Handler
	Verification *verificationhandler.Handler
	Auth         middleware.OperatorValidator
	Metrics      *metrics.Metrics
	Logger       *slog.Logger

	// DB is only used by the health endpoint; nil when running on the
	// in-memory stores.
	DB *sql.DB
}

// NewRouter wires the middleware stack and route groups.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(d.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(d.Logger))
	r.Use(middleware.Latency(d.Metrics))
	r.Use(middleware.ContentTypeJSON)

	// Administrative API. Every route below requires an operator token.
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(d.Auth, d.Logger))
		d.Catalog.Register(r)
		d.Certificates.Register(r)
	})

	// Public verification surface, reachable without credentials. Bounded
	// tightly; admin routes stay unbounded because bulk issuance renders
	// documents inline.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(15 * time.Second))
		d.Verification.Register(r)
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", d.healthz)

	return r
}

func (d Deps) healthz(w http.ResponseWriter, r *http.Request) {
	if d.DB != nil {
		if err := d.DB.PingContext(r.Context()); err != nil {
			d.Logger.ErrorContext(r.Context(), "health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"degraded"}`))
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
