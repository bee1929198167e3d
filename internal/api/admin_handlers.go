package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/technosupport/license-server/internal/data"
	"github.com/technosupport/license-server/internal/licensing"
	"github.com/technosupport/license-server/internal/middleware"
)

// AdminHandler serves license and product management behind AdminAuth.
type AdminHandler struct {
	Service  Service
	Products *ProductHandler // cache to invalidate on product changes; may be nil
	Log      *logrus.Entry
}

type createLicenseRequest struct {
	Email          string     `json:"email" validate:"required,email,max=254"`
	Plan           string     `json:"plan" validate:"required,max=50"`
	MaxActivations int        `json:"max_activations" validate:"required,min=1,max=100000"`
	ExpiresAt      *time.Time `json:"expires_at"`
	ExpiresInDays  int        `json:"expires_in_days" validate:"min=0,max=36500"`
	ProductSlug    string     `json:"product_slug" validate:"max=100"`
	Notes          string     `json:"notes" validate:"max=2000"`
}

type updateLicenseRequest struct {
	Plan           *string    `json:"plan" validate:"omitempty,max=50"`
	MaxActivations *int       `json:"max_activations" validate:"omitempty,min=1,max=100000"`
	ExpiresAt      *time.Time `json:"expires_at"`
	ClearExpiry    bool       `json:"clear_expiry"`
	ProductSlug    *string    `json:"product_slug" validate:"omitempty,max=100"`
}

type adminDeactivateRequest struct {
	Domain string `json:"domain" validate:"required,max=253"`
}

type createProductRequest struct {
	Slug           string `json:"slug" validate:"required,max=100"`
	Name           string `json:"name" validate:"required,max=255"`
	Description    string `json:"description" validate:"max=5000"`
	CurrentVersion string `json:"current_version" validate:"max=32"`
	DownloadURL    string `json:"download_url" validate:"omitempty,url,max=2048"`
}

type updateProductRequest struct {
	Name           *string `json:"name" validate:"omitempty,max=255"`
	Description    *string `json:"description" validate:"omitempty,max=5000"`
	CurrentVersion *string `json:"current_version" validate:"omitempty,max=50"`
	DownloadURL    *string `json:"download_url" validate:"omitempty,url,max=2048"`
}

func (h *AdminHandler) CreateLicense(w http.ResponseWriter, r *http.Request) {
	var req createLicenseRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, string(licensing.CodeInvalidRequest), err.Error())
		return
	}

	p := licensing.CreateLicenseParams{
		Email:          req.Email,
		Plan:           req.Plan,
		MaxActivations: req.MaxActivations,
		ExpiresAt:      req.ExpiresAt,
		Metadata:       licensing.Metadata{Source: "admin", Notes: req.Notes},
	}
	if p.ExpiresAt == nil && req.ExpiresInDays > 0 {
		at := time.Now().UTC().AddDate(0, 0, req.ExpiresInDays)
		p.ExpiresAt = &at
	}
	if req.ProductSlug != "" {
		prod, err := h.Service.GetProduct(r.Context(), req.ProductSlug)
		if err != nil {
			handleError(w, r, h.Log, err)
			return
		}
		p.ProductID = &prod.ID
	}

	l, err := h.Service.CreateLicense(r.Context(), p)
	if err != nil {
		handleError(w, r, h.Log, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, l)
}

func (h *AdminHandler) ListLicenses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := data.LicenseFilter{Email: strings.TrimSpace(q.Get("email"))}

	var err error
	if f.Limit, err = intParam(q.Get("limit"), 100, 1, 500); err != nil {
		writeError(w, r, http.StatusBadRequest, string(licensing.CodeInvalidRequest), "limit must be between 1 and 500")
		return
	}
	if f.Offset, err = intParam(q.Get("offset"), 0, 0, 1<<30); err != nil {
		writeError(w, r, http.StatusBadRequest, string(licensing.CodeInvalidRequest), "offset must not be negative")
		return
	}
	if slug := q.Get("product"); slug != "" {
		prod, err := h.Service.GetProduct(r.Context(), slug)
		if err != nil {
			handleError(w, r, h.Log, err)
			return
		}
		f.ProductID = &prod.ID
	}

	licenses, err := h.Service.ListLicenses(r.Context(), f)
	if err != nil {
		handleError(w, r, h.Log, err)
		return
	}
	if licenses == nil {
		licenses = []*data.License{}
	}
	writeJSON(w, r, http.StatusOK, licenses)
}

func (h *AdminHandler) GetLicense(w http.ResponseWriter, r *http.Request) {
	d, err := h.Service.GetLicense(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		handleError(w, r, h.Log, err)
		return
	}
	writeJSON(w, r, http.StatusOK, d)
}

func (h *AdminHandler) UpdateLicense(w http.ResponseWriter, r *http.Request) {
	var req updateLicenseRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, string(licensing.CodeInvalidRequest), err.Error())
		return
	}
	if req.ClearExpiry && req.ExpiresAt != nil {
		writeError(w, r, http.StatusBadRequest, string(licensing.CodeInvalidRequest), "expires_at and clear_expiry are mutually exclusive")
		return
	}

	p := licensing.UpdateLicenseParams{
		Plan:           req.Plan,
		MaxActivations: req.MaxActivations,
		ExpiresAt:      req.ExpiresAt,
		ClearExpiry:    req.ClearExpiry,
		IPAddress:      middleware.ClientIP(r),
	}
	if req.ProductSlug != nil {
		prod, err := h.Service.GetProduct(r.Context(), *req.ProductSlug)
		if err != nil {
			handleError(w, r, h.Log, err)
			return
		}
		p.ProductID = &prod.ID
	}

	l, err := h.Service.UpdateLicense(r.Context(), chi.URLParam(r, "key"), p)
	if err != nil {
		handleError(w, r, h.Log, err)
		return
	}
	writeJSON(w, r, http.StatusOK, l)
}

func (h *AdminHandler) DeleteLicense(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := h.Service.DeleteLicense(r.Context(), key, middleware.ClientIP(r)); err != nil {
		handleError(w, r, h.Log, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"license_key": key, "deleted": true})
}

// DeactivateLicense frees a domain on behalf of a customer.
func (h *AdminHandler) DeactivateLicense(w http.ResponseWriter, r *http.Request) {
	var req adminDeactivateRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, string(licensing.CodeInvalidRequest), err.Error())
		return
	}

	res, err := h.Service.DeactivateLicense(r.Context(), chi.URLParam(r, "key"), req.Domain, middleware.ClientIP(r))
	if err != nil {
		handleError(w, r, h.Log, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (h *AdminHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, string(licensing.CodeInvalidRequest), err.Error())
		return
	}

	p, err := h.Service.CreateProduct(r.Context(), licensing.CreateProductParams{
		Slug:           req.Slug,
		Name:           req.Name,
		Description:    req.Description,
		CurrentVersion: req.CurrentVersion,
		DownloadURL:    req.DownloadURL,
	})
	if err != nil {
		handleError(w, r, h.Log, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, p)
}

func (h *AdminHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	includeInactive, _ := strconv.ParseBool(r.URL.Query().Get("include_inactive"))

	products, err := h.Service.ListProducts(r.Context(), includeInactive)
	if err != nil {
		handleError(w, r, h.Log, err)
		return
	}
	if products == nil {
		products = []*data.Product{}
	}
	writeJSON(w, r, http.StatusOK, products)
}

func (h *AdminHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req updateProductRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, string(licensing.CodeInvalidRequest), err.Error())
		return
	}

	slug := chi.URLParam(r, "slug")
	p, err := h.Service.UpdateProduct(r.Context(), slug, licensing.UpdateProductParams{
		Name:           req.Name,
		Description:    req.Description,
		CurrentVersion: req.CurrentVersion,
		DownloadURL:    req.DownloadURL,
		IPAddress:      middleware.ClientIP(r),
	})
	if err != nil {
		handleError(w, r, h.Log, err)
		return
	}
	if h.Products != nil {
		h.Products.Invalidate(slug)
	}
	writeJSON(w, r, http.StatusOK, p)
}

func (h *AdminHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if err := h.Service.DeactivateProduct(r.Context(), slug, middleware.ClientIP(r)); err != nil {
		handleError(w, r, h.Log, err)
		return
	}
	if h.Products != nil {
		h.Products.Invalidate(slug)
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"slug": slug, "is_active": false})
}

func intParam(raw string, def, lo, hi int) (int, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if v < lo || v > hi {
		return 0, strconv.ErrRange
	}
	return v, nil
}

func parseUUID(raw string) (*uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
