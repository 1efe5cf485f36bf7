package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/AFFWORLDT/ChicCOMET-sub001/internal/platform/httpx"
)

// RouteRegistrar registers a set of routes against the provided router.
type RouteRegistrar func(r chi.Router)

type routeGroup struct {
	path        string
	register    RouteRegistrar
	middlewares []func(http.Handler) http.Handler
}

type routerConfig struct {
	prefix      string
	timeout     time.Duration
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	groups      []routeGroup
}

// Option customises the router configuration before construction.
type Option func(*routerConfig)

const (
	defaultAPIPrefix = "/api/v1"
	defaultTimeout   = 30 * time.Second
)

// NewRouter builds the chi router. Probes live at the root; every registered group is mounted
// under the API prefix. Groups without a registrar are not mounted and answer 404.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{prefix: defaultAPIPrefix, timeout: defaultTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP)
	if cfg.timeout > 0 {
		r.Use(middleware.Timeout(cfg.timeout))
	}
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", fmt.Sprintf("no route for %s", req.URL.Path), http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", fmt.Sprintf("method %s not allowed on %s", req.Method, req.URL.Path), http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(cfg.prefix, func(api chi.Router) {
		for _, g := range cfg.groups {
			if g.register == nil {
				continue
			}
			api.Group(func(scoped chi.Router) {
				for _, mw := range g.middlewares {
					if mw != nil {
						scoped.Use(mw)
					}
				}
				scoped.Route(g.path, g.register)
			})
		}
	})

	return r
}

// WithMiddlewares appends global middleware, applied after request id, real ip and timeout.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithRequestTimeout overrides the per-request timeout. Zero disables it.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *routerConfig) {
		cfg.timeout = d
	}
}

// WithHealthHandlers overrides the handlers used for /healthz and /readyz endpoints.
func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithOrderRoutes mounts the order endpoints at /orders.
func WithOrderRoutes(reg RouteRegistrar, mw ...func(http.Handler) http.Handler) Option {
	return withGroup("/orders", reg, mw)
}

// WithPaymentRoutes mounts the payment endpoints at /payments.
func WithPaymentRoutes(reg RouteRegistrar, mw ...func(http.Handler) http.Handler) Option {
	return withGroup("/payments", reg, mw)
}

// WithWebhookRoutes mounts the provider callbacks at /webhooks. Middleware passed here is scoped
// to the webhook group only.
func WithWebhookRoutes(reg RouteRegistrar, mw ...func(http.Handler) http.Handler) Option {
	return withGroup("/webhooks", reg, mw)
}

func withGroup(path string, reg RouteRegistrar, mw []func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.groups = append(cfg.groups, routeGroup{path: path, register: reg, middlewares: mw})
	}
}
