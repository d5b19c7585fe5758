package httpapi

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Namann-14/artifex/internal/http/handlers"
	"github.com/Namann-14/artifex/internal/middleware"
)

// Options carries the pieces of the router that are not handlers.
type Options struct {
	Metrics       *middleware.Metrics
	CountryLookup middleware.CountryLookup
	// Static serves persisted media when the filesystem backend is used.
	Static http.Handler
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	if opts.Metrics != nil {
		r.Use(opts.Metrics.Handler)
	}
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		middleware.Logger(app.Logger),
		recoverer(app.Logger),
		cors.Handler(cors.Options{
			AllowedOrigins:   app.Config.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
			ExposedHeaders:   []string{middleware.RequestIDHeader, "Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}),
		middleware.Geo(opts.CountryLookup),
	)

	r.Get("/v1/healthz", app.Health)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)
	if opts.Static != nil {
		r.Handle("/static/*", http.StripPrefix("/static/", opts.Static))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(app.Config.JWTSecret))
		r.Get("/v1/me/quota", app.MyQuota)
		r.Route("/v1/generations", func(r chi.Router) {
			r.Get("/", app.ListGenerations)
			r.With(middleware.RateLimit(app.Config.RateLimitPerMin, time.Minute)).Post("/{kind}", app.CreateGeneration)
			r.Get("/{jobId}", app.GetGeneration)
		})
	})

	return r
}

// recoverer turns a panic into the standard error envelope.
func recoverer(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error().
						Interface("panic", rec).
						Bytes("stack", debug.Stack()).
						Str("request_id", middleware.RequestIDFromContext(r.Context())).
						Msg("http: handler panicked")
					render.Status(r, http.StatusInternalServerError)
					render.JSON(w, r, middleware.ErrorBody{Message: "internal error", Code: "internal_error"})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
