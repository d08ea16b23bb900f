package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SaleDjerfi/shopit/internal/auth"
	"github.com/SaleDjerfi/shopit/pkg/health"
	"github.com/SaleDjerfi/shopit/pkg/httputil"
	"github.com/SaleDjerfi/shopit/pkg/middleware"
)

// APIPrefix is where the catalog API is mounted.
const APIPrefix = "/api/v1"

// Route binds one method and pattern under APIPrefix to a handler and the
// guards that must pass before it runs.
type Route struct {
	Method  string
	Pattern string
	Guards  []middleware.Guard
	Handler http.Handler
}

// Routes returns the catalog route table. Review mutations are additionally
// rate limited per caller when limiter is non-nil.
func Routes(products *ProductHandler, reviews *ReviewHandler, gate *auth.Gate, limiter *middleware.RateLimiter) []Route {
	identity := gate.RequireIdentity()
	admin := []middleware.Guard{identity, auth.RequireRole(auth.RoleAdmin)}

	reviewWrite := []middleware.Guard{identity}
	if limiter != nil {
		reviewWrite = append(reviewWrite, limiter.Guard(auth.IdentityKey))
	}

	return []Route{
		{http.MethodGet, "/products", nil, http.HandlerFunc(products.ListProducts)},
		{http.MethodGet, "/admin/products", admin, http.HandlerFunc(products.ListAdminProducts)},
		{http.MethodGet, "/products/{id}", nil, http.HandlerFunc(products.GetProduct)},
		{http.MethodPost, "/admin/product/new", admin, http.HandlerFunc(products.CreateProduct)},
		{http.MethodPut, "/admin/products/{id}", admin, http.HandlerFunc(products.UpdateProduct)},
		{http.MethodDelete, "/admin/products/{id}", admin, http.HandlerFunc(products.DeleteProduct)},

		{http.MethodPut, "/review", reviewWrite, http.HandlerFunc(reviews.UpsertReview)},
		{http.MethodGet, "/reviews", []middleware.Guard{identity}, http.HandlerFunc(reviews.ListReviews)},
		{http.MethodDelete, "/reviews", reviewWrite, http.HandlerFunc(reviews.DeleteReview)},
	}
}

// RouterConfig carries the settings NewRouter needs beyond the route table.
// PublicCacheMaxAge applies to routes without guards; zero sends no-store.
type RouterConfig struct {
	ServiceName       string
	AllowedOrigins    []string
	PublicCacheMaxAge int
}

// NewRouter creates a chi router serving routes under APIPrefix together with
// the health and metrics endpoints.
func NewRouter(routes []Route, healthHandler *health.Handler, logger *slog.Logger, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestLogging(logger, "/health", "/metrics"))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.AllowedOrigins)))

	// Operational endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	writeErr := func(w http.ResponseWriter, r *http.Request, err error) {
		httputil.WriteError(w, r, err, logger)
	}

	r.Route(APIPrefix, func(r chi.Router) {
		public := middleware.CacheControl(cfg.PublicCacheMaxAge)
		for _, rt := range routes {
			// Guards answer 401 and 403 before the body's media type is checked.
			h := middleware.Guarded(rt.Guards, ContentTypeJSON(rt.Handler), writeErr)
			if len(rt.Guards) == 0 {
				h = public(h)
			}
			r.Method(rt.Method, rt.Pattern, h)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httputil.Fail(w, http.StatusNotFound, &httputil.ErrorResponse{Code: "NOT_FOUND", Message: "route " + r.URL.Path + " not found"})
	})

	return r
}
