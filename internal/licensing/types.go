package licensing

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/license-server/internal/data"
	"github.com/technosupport/license-server/internal/domains"
)

// Metadata is the provenance recorded with a license. It is stored as an
// opaque JSON blob.
type Metadata struct {
	Source            string `json:"source,omitempty"` // admin, webhook, seed
	PaymentSessionID  string `json:"payment_session_id,omitempty"`
	PaymentCustomerID string `json:"payment_customer_id,omitempty"`
	OrderID           string `json:"order_id,omitempty"`
	Notes             string `json:"notes,omitempty"`
}

// DecodeMetadata reads the typed view of a stored blob. Unknown keys are ignored.
func DecodeMetadata(raw json.RawMessage) Metadata {
	var m Metadata
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &m)
	}
	return m
}

type CreateLicenseParams struct {
	Email          string
	Plan           string
	MaxActivations int
	ExpiresAt      *time.Time
	ProductID      *uuid.UUID
	Metadata       Metadata
}

type ActivateParams struct {
	LicenseKey string
	Domain     string
	Site       data.SiteInfo
	IPAddress  string
}

type ActivationResult struct {
	LicenseKey             string       `json:"license_key"`
	Domain                 string       `json:"domain"`
	Kind                   domains.Kind `json:"domain_type"`
	Plan                   string       `json:"plan"`
	ExpiresAt              *time.Time   `json:"expires_at"`
	Token                  string       `json:"token"`
	AlreadyActive          bool         `json:"already_activated"`
	MaxActivations         int          `json:"max_activations"`
	ProductionActivations  int          `json:"production_activations"`
	DevelopmentActivations int          `json:"development_activations"`
	Remaining              int          `json:"remaining"`
}

type DeactivationResult struct {
	LicenseKey string `json:"license_key"`
	Domain     string `json:"domain"`
	Remaining  int    `json:"remaining"`
}

type ValidateParams struct {
	LicenseKey  string
	Domain      string
	Token       string
	ProductSlug string
}

type LicenseSummary struct {
	LicenseKey             string     `json:"license_key"`
	Email                  string     `json:"email"`
	Plan                   string     `json:"plan"`
	ExpiresAt              *time.Time `json:"expires_at"`
	MaxActivations         int        `json:"max_activations"`
	ProductionActivations  int        `json:"production_activations"`
	DevelopmentActivations int        `json:"development_activations"`
	Remaining              int        `json:"remaining"`
}

type ProductSummary struct {
	Slug           string `json:"slug"`
	Name           string `json:"name"`
	CurrentVersion string `json:"current_version,omitempty"`
	DownloadURL    string `json:"-"`
}

type ValidationResult struct {
	Valid   bool            `json:"valid"`
	License LicenseSummary  `json:"license"`
	Product *ProductSummary `json:"product,omitempty"`
}

type HeartbeatParams struct {
	LicenseKey string
	Domain     string
	Site       data.SiteInfo
}

type HeartbeatResult struct {
	Valid     bool       `json:"valid"`
	Plan      string     `json:"plan"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// LicenseDetails is the admin view of a license.
type LicenseDetails struct {
	License     *data.License      `json:"license"`
	Metadata    Metadata           `json:"metadata"`
	Product     *data.Product      `json:"product,omitempty"`
	Activations []*data.Activation `json:"activations"`
	Usage       LicenseSummary     `json:"usage"`
}

// UpdateLicenseParams carries the mutable fields. Nil leaves a field unchanged;
// ClearExpiry makes the license perpetual.
type UpdateLicenseParams struct {
	Plan           *string
	MaxActivations *int
	ExpiresAt      *time.Time
	ClearExpiry    bool
	ProductID      *uuid.UUID
	IPAddress      string
}

type CreateProductParams struct {
	Slug           string
	Name           string
	Description    string
	CurrentVersion string
	DownloadURL    string
}

// UpdateProductParams changes only the non-nil fields.
type UpdateProductParams struct {
	Name           *string
	Description    *string
	CurrentVersion *string
	DownloadURL    *string
	IPAddress      string
}
