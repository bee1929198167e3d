package api

import (
	"context"

	"github.com/technosupport/license-server/internal/audit"
	"github.com/technosupport/license-server/internal/data"
	"github.com/technosupport/license-server/internal/licensing"
)

// Service is the engine surface the handlers call. *licensing.Engine implements it.
type Service interface {
	ActivateLicense(ctx context.Context, p licensing.ActivateParams) (*licensing.ActivationResult, error)
	DeactivateLicense(ctx context.Context, licenseKey, domain, ip string) (*licensing.DeactivationResult, error)
	ValidateLicense(ctx context.Context, p licensing.ValidateParams) (*licensing.ValidationResult, error)
	RecordHeartbeat(ctx context.Context, p licensing.HeartbeatParams) (*licensing.HeartbeatResult, error)

	CreateLicense(ctx context.Context, p licensing.CreateLicenseParams) (*data.License, error)
	IssueForPurchase(ctx context.Context, p licensing.CreateLicenseParams) (*data.License, bool, error)
	GetLicense(ctx context.Context, licenseKey string) (*licensing.LicenseDetails, error)
	ListLicenses(ctx context.Context, f data.LicenseFilter) ([]*data.License, error)
	UpdateLicense(ctx context.Context, licenseKey string, p licensing.UpdateLicenseParams) (*data.License, error)
	DeleteLicense(ctx context.Context, licenseKey, ip string) error

	CreateProduct(ctx context.Context, p licensing.CreateProductParams) (*data.Product, error)
	ListProducts(ctx context.Context, includeInactive bool) ([]*data.Product, error)
	GetProduct(ctx context.Context, slug string) (*data.Product, error)
	UpdateProduct(ctx context.Context, slug string, p licensing.UpdateProductParams) (*data.Product, error)
	DeactivateProduct(ctx context.Context, slug, ip string) error

	Ping(ctx context.Context) error
}

// AuditQuerier reads the audit trail. *audit.Service implements it.
type AuditQuerier interface {
	Query(ctx context.Context, f audit.Filter) ([]audit.Entry, string, error)
}
