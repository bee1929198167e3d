package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/technosupport/license-server/internal/licensing"
)

const (
	SignatureHeader = "X-Signature"
	signaturePrefix = "sha256="

	// EventCheckoutCompleted is the only event that issues a license.
	EventCheckoutCompleted = "checkout.completed"
)

// WebhookHandler issues licenses for completed purchases.
type WebhookHandler struct {
	Service Service
	Secret  []byte
	Log     *logrus.Entry
}

type purchaseEvent struct {
	Event          string `json:"event" validate:"required"`
	SessionID      string `json:"session_id" validate:"required,max=255"`
	CustomerID     string `json:"customer_id" validate:"max=255"`
	Email          string `json:"email" validate:"required,email,max=254"`
	Plan           string `json:"plan" validate:"required,max=50"`
	ProductSlug    string `json:"product_slug" validate:"max=100"`
	MaxActivations int    `json:"max_activations" validate:"min=0,max=100000"`
	ExpiresInDays  int    `json:"expires_in_days" validate:"min=0,max=36500"`
	OrderID        string `json:"order_id" validate:"max=255"`
}

type purchaseResult struct {
	LicenseKey string     `json:"license_key"`
	Email      string     `json:"email"`
	Plan       string     `json:"plan"`
	ExpiresAt  *time.Time `json:"expires_at"`
	Created    bool       `json:"created"`
}

// Sign returns the X-Signature value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

func (h *WebhookHandler) verify(header string, body []byte) bool {
	got, ok := strings.CutPrefix(strings.TrimSpace(header), signaturePrefix)
	if !ok {
		return false
	}
	sig, err := hex.DecodeString(got)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.Secret)
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}

func (h *WebhookHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, http.StatusRequestEntityTooLarge, string(licensing.CodeInvalidRequest), "request body too large")
		return
	}
	if !h.verify(r.Header.Get(SignatureHeader), body) {
		h.Log.WithField("ip", r.RemoteAddr).Warn("webhook signature rejected")
		writeError(w, r, http.StatusUnauthorized, "invalid_signature", "signature verification failed")
		return
	}

	var ev purchaseEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		writeError(w, r, http.StatusBadRequest, string(licensing.CodeInvalidRequest), "request body must be valid JSON")
		return
	}
	if ev.Event != EventCheckoutCompleted {
		writeJSON(w, r, http.StatusOK, map[string]any{"ignored": true, "event": ev.Event})
		return
	}
	if err := validate.Struct(&ev); err != nil {
		msg := err.Error()
		if fe := firstFieldError(err); fe != "" {
			msg = fe
		}
		writeError(w, r, http.StatusBadRequest, string(licensing.CodeInvalidRequest), msg)
		return
	}

	p := licensing.CreateLicenseParams{
		Email:          ev.Email,
		Plan:           ev.Plan,
		MaxActivations: ev.MaxActivations,
		Metadata: licensing.Metadata{
			Source:            "webhook",
			PaymentSessionID:  ev.SessionID,
			PaymentCustomerID: ev.CustomerID,
			OrderID:           ev.OrderID,
		},
	}
	if p.MaxActivations == 0 {
		p.MaxActivations = 1
	}
	if ev.ExpiresInDays > 0 {
		at := time.Now().UTC().AddDate(0, 0, ev.ExpiresInDays)
		p.ExpiresAt = &at
	}
	if ev.ProductSlug != "" {
		prod, err := h.Service.GetProduct(r.Context(), ev.ProductSlug)
		if err != nil {
			handleError(w, r, h.Log, err)
			return
		}
		p.ProductID = &prod.ID
	}

	l, created, err := h.Service.IssueForPurchase(r.Context(), p)
	if err != nil {
		handleError(w, r, h.Log, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		h.Log.WithField("session_id", ev.SessionID).WithField("plan", l.Plan).Info("license issued for purchase")
	}
	writeJSON(w, r, status, purchaseResult{
		LicenseKey: l.LicenseKey,
		Email:      l.Email,
		Plan:       l.Plan,
		ExpiresAt:  l.ExpiresAt,
		Created:    created,
	})
}
