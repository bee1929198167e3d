package data

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Product struct {
	ID             uuid.UUID `json:"id"`
	Slug           string    `json:"slug"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	CurrentVersion string    `json:"current_version,omitempty"`
	DownloadURL    string    `json:"download_url,omitempty"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type License struct {
	ID             uuid.UUID       `json:"id"`
	LicenseKey     string          `json:"license_key"`
	ProductID      *uuid.UUID      `json:"product_id,omitempty"`
	Email          string          `json:"email"`
	Plan           string          `json:"plan"`
	MaxActivations int             `json:"max_activations"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"` // nil = perpetual
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// IsExpired reports whether the license has a past expiry at time now.
func (l *License) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && now.After(*l.ExpiresAt)
}

// SiteInfo is what the plugin reports about its installation.
type SiteInfo struct {
	SiteURL       string
	WPVersion     string
	PluginVersion string
}

type Activation struct {
	ID            uuid.UUID  `json:"id"`
	LicenseID     uuid.UUID  `json:"license_id"`
	Domain        string     `json:"domain"`
	SiteURL       string     `json:"site_url,omitempty"`
	WPVersion     string     `json:"wp_version,omitempty"`
	PluginVersion string     `json:"plugin_version,omitempty"`
	ActivatedAt   time.Time  `json:"activated_at"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	IsActive      bool       `json:"is_active"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`
}

type LicenseFilter struct {
	Email     string
	ProductID *uuid.UUID
	Limit     int
	Offset    int
}
