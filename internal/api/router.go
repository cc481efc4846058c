package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/maltedev/deal-scraper/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterConfig struct {
	AllowedOrigins []string
	// RequestTimeout bounds admin and read requests.
	RequestTimeout time.Duration
	// LookupTimeout bounds routes that may fetch a product page, which can
	// run the full HTTP attempt cycle followed by the browser fallback.
	LookupTimeout time.Duration
}

// NewRouter wires the handlers. gatherer backs /metrics and may be nil to
// disable the endpoint.
func NewRouter(h *Handlers, cfg RouterConfig, m *metrics.Metrics, gatherer prometheus.Gatherer) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = time.Minute
	}
	if cfg.LookupTimeout < cfg.RequestTimeout {
		cfg.LookupTimeout = cfg.RequestTimeout
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(instrument(m))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	short := middleware.Timeout(cfg.RequestTimeout)
	lookup := middleware.Timeout(cfg.LookupTimeout)

	r.With(short).Get("/health", h.Health)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.With(lookup).Post("/metadata", h.FetchMetadata)

		r.With(short).Get("/cache/stats", h.CacheStats)
		r.With(short).Post("/cache/cleanup", h.CleanupCache)
		r.With(short).Delete("/cache", h.ClearCache)

		if h.creator != nil {
			r.With(lookup).Post("/deals", h.CreateDeal)
		}
		if h.reader != nil {
			r.With(short).Get("/deals/{dealID}", h.GetDeal)
		}
	})

	return r
}
