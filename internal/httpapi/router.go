package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/noah-isme/juliana/internal/health"
	"github.com/noah-isme/juliana/internal/obs"
	"github.com/noah-isme/juliana/internal/security"
)

// Options wires the router.
type Options struct {
	Terminal       Terminal
	Prices         Prices
	Display        DisplaySource
	Health         health.Handler
	Logger         zerolog.Logger
	HTTPMetrics    *obs.HTTPMetrics
	MetricsHandler http.Handler
	Tracing        bool
	AllowedOrigins []string
	HSTSMaxAge     int
}

// NewRouter builds the terminal HTTP API.
func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if opts.Tracing {
		r.Use(obs.TracingMiddleware)
	}
	if opts.HTTPMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: opts.HTTPMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: opts.Logger}.Middleware)
	r.Use(security.Headers{HSTSMaxAge: opts.HSTSMaxAge, NoStore: true}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(opts.AllowedOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRFToken"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if opts.MetricsHandler != nil {
		r.Handle("/metrics", opts.MetricsHandler)
	}
	r.Get("/health/live", opts.Health.Live)
	r.Get("/health/ready", opts.Health.Ready)

	h := NewHandler(opts.Terminal, opts.Prices, opts.Display)
	r.Route("/api/v1", func(v chi.Router) {
		v.Route("/terminal", func(t chi.Router) {
			t.Get("/", h.Snapshot)
			t.Post("/keypad", h.Keypad)
			t.Post("/commands", h.Command)
		})
		v.Get("/display", h.Display)
		v.Get("/prices", h.Prices)
	})
	return r
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:*"}
	}
	return origins
}
