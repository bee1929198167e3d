package api

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/technosupport/license-server/internal/data"
	"github.com/technosupport/license-server/internal/licensing"
	"github.com/technosupport/license-server/internal/middleware"
)

// LicenseHandler serves the plugin-facing endpoints.
type LicenseHandler struct {
	Service   Service
	RateLimit *middleware.RateLimitMiddleware // per-license limits; nil disables
	Log       *logrus.Entry
}

type activateRequest struct {
	LicenseKey    string `json:"license_key" validate:"required,max=64"`
	Domain        string `json:"domain" validate:"required,max=253"`
	SiteURL       string `json:"site_url" validate:"omitempty,url,max=2048"`
	WPVersion     string `json:"wp_version" validate:"max=32"`
	PluginVersion string `json:"plugin_version" validate:"max=32"`
}

type deactivateRequest struct {
	LicenseKey string `json:"license_key" validate:"required,max=64"`
	Domain     string `json:"domain" validate:"required,max=253"`
}

type validateRequest struct {
	LicenseKey  string `json:"license_key" validate:"required,max=64"`
	Domain      string `json:"domain" validate:"required,max=253"`
	Token       string `json:"token" validate:"max=4096"`
	ProductSlug string `json:"product_slug" validate:"max=100"`
}

type heartbeatRequest struct {
	LicenseKey    string `json:"license_key" validate:"required,max=64"`
	Domain        string `json:"domain" validate:"required,max=253"`
	WPVersion     string `json:"wp_version" validate:"max=32"`
	PluginVersion string `json:"plugin_version" validate:"max=32"`
}

func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, string(licensing.CodeInvalidRequest), err.Error())
		return
	}
	if !h.RateLimit.AllowLicense(w, r, req.LicenseKey, "activate") {
		return
	}

	res, err := h.Service.ActivateLicense(r.Context(), licensing.ActivateParams{
		LicenseKey: req.LicenseKey,
		Domain:     req.Domain,
		Site: data.SiteInfo{
			SiteURL:       req.SiteURL,
			WPVersion:     req.WPVersion,
			PluginVersion: req.PluginVersion,
		},
		IPAddress: middleware.ClientIP(r),
	})
	if err != nil {
		handleError(w, r, h.Log, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	var req deactivateRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, string(licensing.CodeInvalidRequest), err.Error())
		return
	}
	if !h.RateLimit.AllowLicense(w, r, req.LicenseKey, "deactivate") {
		return
	}

	res, err := h.Service.DeactivateLicense(r.Context(), req.LicenseKey, req.Domain, middleware.ClientIP(r))
	if err != nil {
		handleError(w, r, h.Log, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, string(licensing.CodeInvalidRequest), err.Error())
		return
	}

	res, err := h.Service.ValidateLicense(r.Context(), licensing.ValidateParams{
		LicenseKey:  req.LicenseKey,
		Domain:      req.Domain,
		Token:       req.Token,
		ProductSlug: req.ProductSlug,
	})
	if err != nil {
		handleError(w, r, h.Log, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (h *LicenseHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, string(licensing.CodeInvalidRequest), err.Error())
		return
	}

	res, err := h.Service.RecordHeartbeat(r.Context(), licensing.HeartbeatParams{
		LicenseKey: req.LicenseKey,
		Domain:     req.Domain,
		Site: data.SiteInfo{
			WPVersion:     req.WPVersion,
			PluginVersion: req.PluginVersion,
		},
	})
	if err != nil {
		handleError(w, r, h.Log, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}
