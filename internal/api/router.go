package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"github.com/technosupport/license-server/internal/middleware"
)

// Observer is the metrics surface the router needs. *metrics.Metrics implements it.
type Observer interface {
	middleware.Recorder
	CacheRecorder
	Handler() http.Handler
}

type Config struct {
	Service   Service
	Audit     AuditQuerier
	Admin     middleware.KeyVerifier          // nil leaves the admin API unmounted
	RateLimit *middleware.RateLimitMiddleware // nil disables rate limiting
	Metrics   Observer
	Log       *logrus.Entry

	WebhookSecret    string // empty leaves the webhook unmounted
	AllowedOrigins   []string
	RequestTimeout   time.Duration
	ProductCacheSize int
	ProductCacheTTL  time.Duration
}

func NewRouter(c Config) http.Handler {
	log := c.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}

	products := NewProductHandler(c.Service, c.ProductCacheSize, c.ProductCacheTTL, c.Metrics, log.WithField("component", "products"))
	licenses := &LicenseHandler{Service: c.Service, RateLimit: c.RateLimit, Log: log.WithField("component", "licenses")}
	health := &HealthHandler{DB: c.Service, Log: log}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(log.WithField("component", "http"), c.Metrics))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(c.AllowedOrigins))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Get("/healthz", health.GetHealth)
	if c.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", c.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimw.Timeout(c.RequestTimeout))
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Group(func(r chi.Router) {
			if c.RateLimit != nil {
				r.Use(c.RateLimit.Handler)
			}
			r.Post("/licenses/activate", licenses.Activate)
			r.Post("/licenses/deactivate", licenses.Deactivate)
			r.Post("/licenses/validate", licenses.Validate)
			r.Post("/licenses/heartbeat", licenses.Heartbeat)
			r.Get("/products/{slug}", products.Get)
			r.Get("/downloads/{slug}", products.Download)
		})

		if c.WebhookSecret != "" {
			webhooks := &WebhookHandler{Service: c.Service, Secret: []byte(c.WebhookSecret), Log: log.WithField("component", "webhook")}
			r.Post("/webhooks/purchase", webhooks.Purchase)
		} else {
			log.Warn("webhook secret not configured; purchase webhook disabled")
		}

		if c.Admin != nil {
			admin := &AdminHandler{Service: c.Service, Products: products, Log: log.WithField("component", "admin")}
			auditH := &AuditHandler{Audit: c.Audit, Service: c.Service, Log: log.WithField("component", "admin")}

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.AdminAuth(c.Admin, log.WithField("component", "admin_auth")))

				r.Post("/licenses", admin.CreateLicense)
				r.Get("/licenses", admin.ListLicenses)
				r.Get("/licenses/{key}", admin.GetLicense)
				r.Patch("/licenses/{key}", admin.UpdateLicense)
				r.Delete("/licenses/{key}", admin.DeleteLicense)
				r.Post("/licenses/{key}/deactivate", admin.DeactivateLicense)

				r.Post("/products", admin.CreateProduct)
				r.Get("/products", admin.ListProducts)
				r.Patch("/products/{slug}", admin.UpdateProduct)
				r.Delete("/products/{slug}", admin.DeleteProduct)

				if c.Audit != nil {
					r.Get("/audit", auditH.GetEvents)
				}
			})
		} else {
			log.Warn("no admin key hashes configured; admin API disabled")
		}
	})

	return r
}
