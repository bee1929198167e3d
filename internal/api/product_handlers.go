package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/technosupport/license-server/internal/data"
	"github.com/technosupport/license-server/internal/licensing"
)

// CacheRecorder counts product cache hits and misses. *metrics.Metrics implements it.
type CacheRecorder interface {
	CacheLookup(hit bool)
}

// ProductHandler serves public product info and license-gated downloads.
// Active products are cached by slug; misses and not_found are not cached.
type ProductHandler struct {
	service Service
	cache   *expirable.LRU[string, *data.Product]
	rec     CacheRecorder
	log     *logrus.Entry
}

func NewProductHandler(svc Service, size int, ttl time.Duration, rec CacheRecorder, log *logrus.Entry) *ProductHandler {
	if size <= 0 {
		size = 256
	}
	return &ProductHandler{
		service: svc,
		cache:   expirable.NewLRU[string, *data.Product](size, nil, ttl),
		rec:     rec,
		log:     log,
	}
}

type productInfo struct {
	Slug           string `json:"slug"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	CurrentVersion string `json:"current_version,omitempty"`
}

func (h *ProductHandler) product(ctx context.Context, slug string) (*data.Product, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if p, ok := h.cache.Get(slug); ok {
		h.observe(true)
		return p, nil
	}
	h.observe(false)

	p, err := h.service.GetProduct(ctx, slug)
	if err != nil {
		return nil, err
	}
	h.cache.Add(slug, p)
	return p, nil
}

func (h *ProductHandler) observe(hit bool) {
	if h.rec != nil {
		h.rec.CacheLookup(hit)
	}
}

// Invalidate drops a slug after an admin change.
func (h *ProductHandler) Invalidate(slug string) {
	h.cache.Remove(strings.ToLower(strings.TrimSpace(slug)))
}

func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.product(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}
	writeJSON(w, r, http.StatusOK, productInfo{
		Slug:           p.Slug,
		Name:           p.Name,
		Description:    p.Description,
		CurrentVersion: p.CurrentVersion,
	})
}

// Download validates the license, domain and activation token, then
// redirects to the product's download URL.
func (h *ProductHandler) Download(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	q := r.URL.Query()
	key, domain, token := q.Get("license_key"), q.Get("domain"), q.Get("token")
	if key == "" || domain == "" || token == "" {
		writeError(w, r, http.StatusBadRequest, string(licensing.CodeInvalidRequest), "license_key, domain and token are required")
		return
	}

	p, err := h.product(r.Context(), slug)
	if err != nil {
		handleError(w, r, h.log, err)
		return
	}

	if _, err := h.service.ValidateLicense(r.Context(), licensing.ValidateParams{
		LicenseKey:  key,
		Domain:      domain,
		Token:       token,
		ProductSlug: p.Slug,
	}); err != nil {
		handleError(w, r, h.log, err)
		return
	}

	if p.DownloadURL == "" {
		writeError(w, r, http.StatusNotFound, string(licensing.CodeNotFound), "no download available for this product")
		return
	}
	http.Redirect(w, r, p.DownloadURL, http.StatusFound)
}
