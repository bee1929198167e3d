package api_test

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/technosupport/license-server/internal/audit"
	"github.com/technosupport/license-server/internal/data"
	"github.com/technosupport/license-server/internal/licensing"
)

// fakeService returns canned results and records the params it was called with.
type fakeService struct {
	mu sync.Mutex

	activate    func(licensing.ActivateParams) (*licensing.ActivationResult, error)
	deactivate  func(key, domain string) (*licensing.DeactivationResult, error)
	validate    func(licensing.ValidateParams) (*licensing.ValidationResult, error)
	heartbeat   func(licensing.HeartbeatParams) (*licensing.HeartbeatResult, error)
	issue       func(licensing.CreateLicenseParams) (*data.License, bool, error)
	update      func(key string, p licensing.UpdateLicenseParams) (*data.License, error)
	products    map[string]*data.Product
	productHits int
	pingErr     error

	lastActivate licensing.ActivateParams
	lastCreate   licensing.CreateLicenseParams
	lastFilter   data.LicenseFilter
	deleted      []string
}

func newFakeService() *fakeService {
	return &fakeService{products: map[string]*data.Product{}}
}

func (f *fakeService) ActivateLicense(_ context.Context, p licensing.ActivateParams) (*licensing.ActivationResult, error) {
	f.mu.Lock()
	f.lastActivate = p
	f.mu.Unlock()
	return f.activate(p)
}

func (f *fakeService) DeactivateLicense(_ context.Context, key, domain, _ string) (*licensing.DeactivationResult, error) {
	return f.deactivate(key, domain)
}

func (f *fakeService) ValidateLicense(_ context.Context, p licensing.ValidateParams) (*licensing.ValidationResult, error) {
	return f.validate(p)
}

func (f *fakeService) RecordHeartbeat(_ context.Context, p licensing.HeartbeatParams) (*licensing.HeartbeatResult, error) {
	return f.heartbeat(p)
}

func (f *fakeService) CreateLicense(_ context.Context, p licensing.CreateLicenseParams) (*data.License, error) {
	f.mu.Lock()
	f.lastCreate = p
	f.mu.Unlock()
	return &data.License{
		ID:             uuid.New(),
		LicenseKey:     "WPL-AAAA-BBBB-CCCC-DDDD",
		ProductID:      p.ProductID,
		Email:          p.Email,
		Plan:           p.Plan,
		MaxActivations: p.MaxActivations,
		ExpiresAt:      p.ExpiresAt,
	}, nil
}

func (f *fakeService) IssueForPurchase(_ context.Context, p licensing.CreateLicenseParams) (*data.License, bool, error) {
	return f.issue(p)
}

func (f *fakeService) GetLicense(_ context.Context, key string) (*licensing.LicenseDetails, error) {
	if key != "WPL-AAAA-BBBB-CCCC-DDDD" {
		return nil, &licensing.Error{Code: licensing.CodeInvalidKey, Message: "license key not found"}
	}
	return &licensing.LicenseDetails{License: &data.License{ID: uuid.MustParse("11111111-1111-1111-1111-111111111111"), LicenseKey: key}}, nil
}

func (f *fakeService) ListLicenses(_ context.Context, filter data.LicenseFilter) ([]*data.License, error) {
	f.mu.Lock()
	f.lastFilter = filter
	f.mu.Unlock()
	return nil, nil
}

func (f *fakeService) UpdateLicense(_ context.Context, key string, p licensing.UpdateLicenseParams) (*data.License, error) {
	return f.update(key, p)
}

func (f *fakeService) DeleteLicense(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeService) CreateProduct(_ context.Context, p licensing.CreateProductParams) (*data.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.products[p.Slug]; ok {
		return nil, &licensing.Error{Code: licensing.CodeConflict, Message: "product slug already exists"}
	}
	prod := &data.Product{ID: uuid.New(), Slug: p.Slug, Name: p.Name, DownloadURL: p.DownloadURL, IsActive: true}
	f.products[p.Slug] = prod
	return prod, nil
}

func (f *fakeService) ListProducts(context.Context, bool) ([]*data.Product, error) {
	return nil, nil
}

func (f *fakeService) GetProduct(_ context.Context, slug string) (*data.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.productHits++
	p, ok := f.products[slug]
	if !ok || !p.IsActive {
		return nil, &licensing.Error{Code: licensing.CodeNotFound, Message: "product not found"}
	}
	cp := *p
	return &cp, nil
}

func (f *fakeService) UpdateProduct(_ context.Context, slug string, p licensing.UpdateProductParams) (*data.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prod, ok := f.products[slug]
	if !ok || !prod.IsActive {
		return nil, &licensing.Error{Code: licensing.CodeNotFound, Message: "product not found"}
	}
	if p.CurrentVersion != nil {
		prod.CurrentVersion = *p.CurrentVersion
	}
	if p.DownloadURL != nil {
		prod.DownloadURL = *p.DownloadURL
	}
	return prod, nil
}

func (f *fakeService) DeactivateProduct(_ context.Context, slug, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[slug]
	if !ok {
		return &licensing.Error{Code: licensing.CodeNotFound, Message: "product not found"}
	}
	p.IsActive = false
	return nil
}

func (f *fakeService) Ping(context.Context) error { return f.pingErr }

type fakeAudit struct {
	filter audit.Filter
	err    error
}

func (a *fakeAudit) Query(_ context.Context, f audit.Filter) ([]audit.Entry, string, error) {
	a.filter = f
	if a.err != nil {
		return nil, "", a.err
	}
	return []audit.Entry{{ID: uuid.New(), Action: audit.ActionActivated, Domain: "example.com"}}, "next", nil
}

type staticVerifier string

func (s staticVerifier) Verify(key string) bool { return key == string(s) }
