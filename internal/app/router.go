package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chaquecarne/pesajes/internal/observability"
	registerhttp "github.com/chaquecarne/pesajes/internal/register/http"
	"github.com/chaquecarne/pesajes/internal/platform/httpx"
	"github.com/chaquecarne/pesajes/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	RegisterHandler *registerhttp.Handler
	JobHandler      *jobs.Handler
	Metrics         *observability.Metrics
	// Health checks the store; nil reports healthy.
	Health func(ctx context.Context) error
}

// NewRouter constructs the chi.Router with the register defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Health != nil {
			if err := params.Health(r.Context()); err != nil {
				if params.Logger != nil {
					params.Logger.Warn("health check", slog.Any("error", err))
				}
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if params.RegisterHandler != nil {
		params.RegisterHandler.MountRoutes(r)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
