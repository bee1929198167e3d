package licensing

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/technosupport/license-server/internal/audit"
	"github.com/technosupport/license-server/internal/data"
	"github.com/technosupport/license-server/internal/events"
	"github.com/technosupport/license-server/internal/keygen"
)

// GetLicense returns the license with its full activation history.
func (e *Engine) GetLicense(ctx context.Context, licenseKey string) (*LicenseDetails, error) {
	l, err := e.store.GetLicenseByKey(ctx, keygen.Normalize(licenseKey))
	if err != nil {
		return nil, e.lookupErr("get license", err)
	}

	acts, err := e.store.ListActivations(ctx, l.ID, false)
	if err != nil {
		return nil, storeErr("list activations", err)
	}

	d := &LicenseDetails{
		License:     l,
		Metadata:    DecodeMetadata(l.Metadata),
		Activations: acts,
	}
	if l.ProductID != nil {
		d.Product, err = e.store.GetProductByID(ctx, *l.ProductID)
		if err != nil && !errors.Is(err, data.ErrRecordNotFound) {
			return nil, storeErr("get product", err)
		}
	}

	var active []*data.Activation
	for _, a := range acts {
		if a.IsActive {
			active = append(active, a)
		}
	}
	prod, dev := countKinds(active)
	d.Usage = LicenseSummary{
		LicenseKey:             l.LicenseKey,
		Email:                  l.Email,
		Plan:                   l.Plan,
		ExpiresAt:              l.ExpiresAt,
		MaxActivations:         l.MaxActivations,
		ProductionActivations:  prod,
		DevelopmentActivations: dev,
		Remaining:              remaining(l.MaxActivations, prod),
	}
	return d, nil
}

func (e *Engine) ListLicenses(ctx context.Context, f data.LicenseFilter) ([]*data.License, error) {
	licenses, err := e.store.ListLicenses(ctx, f)
	if err != nil {
		return nil, storeErr("list licenses", err)
	}
	return licenses, nil
}

// UpdateLicense changes plan, cap, expiry or product. Lowering the cap below
// current usage keeps existing activations and only blocks new production ones.
func (e *Engine) UpdateLicense(ctx context.Context, licenseKey string, p UpdateLicenseParams) (updated *data.License, err error) {
	defer func() { e.done("update", err) }()

	if p.MaxActivations != nil && *p.MaxActivations < 1 {
		return nil, newError(CodeInvalidRequest, "max_activations must be positive")
	}
	if p.Plan != nil && strings.TrimSpace(*p.Plan) == "" {
		return nil, newError(CodeInvalidRequest, "plan must not be empty")
	}

	changes := map[string]any{}
	err = e.store.WithLicenseLock(ctx, keygen.Normalize(licenseKey), func(r data.Repository, l *data.License) error {
		if p.Plan != nil {
			changes["plan"] = map[string]any{"from": l.Plan, "to": *p.Plan}
			l.Plan = strings.TrimSpace(*p.Plan)
		}
		if p.MaxActivations != nil {
			changes["max_activations"] = map[string]any{"from": l.MaxActivations, "to": *p.MaxActivations}
			l.MaxActivations = *p.MaxActivations
		}
		switch {
		case p.ClearExpiry:
			changes["expires_at"] = map[string]any{"from": l.ExpiresAt, "to": nil}
			l.ExpiresAt = nil
		case p.ExpiresAt != nil:
			changes["expires_at"] = map[string]any{"from": l.ExpiresAt, "to": *p.ExpiresAt}
			l.ExpiresAt = p.ExpiresAt
		}
		if p.ProductID != nil {
			changes["product_id"] = map[string]any{"from": l.ProductID, "to": *p.ProductID}
			l.ProductID = p.ProductID
		}
		if err := r.UpdateLicense(ctx, l); err != nil {
			return err
		}
		updated = l
		return nil
	})
	if err != nil {
		return nil, e.lockErr("update license", err)
	}

	e.record(ctx, updated.ID, audit.ActionUpdated, "", p.IPAddress, changes)
	e.publish(ctx, events.Event{Type: events.LicenseUpdated, LicenseKey: updated.LicenseKey, Plan: updated.Plan})
	return updated, nil
}

// DeleteLicense removes the license and its activations. Audit history stays.
func (e *Engine) DeleteLicense(ctx context.Context, licenseKey, ip string) (err error) {
	defer func() { e.done("delete", err) }()

	l, err := e.store.GetLicenseByKey(ctx, keygen.Normalize(licenseKey))
	if err != nil {
		return e.lookupErr("get license", err)
	}
	if err := e.store.DeleteLicense(ctx, l.ID); err != nil {
		return e.lookupErr("delete license", err)
	}

	e.record(ctx, l.ID, audit.ActionDeleted, "", ip, map[string]any{
		"license_key": l.LicenseKey,
		"email":       l.Email,
		"plan":        l.Plan,
	})
	e.publish(ctx, events.Event{Type: events.LicenseDeleted, LicenseKey: l.LicenseKey, Plan: l.Plan})
	return nil
}

// IssueForPurchase creates a license for a completed checkout. A session that
// already has a license returns it with created=false.
func (e *Engine) IssueForPurchase(ctx context.Context, p CreateLicenseParams) (l *data.License, created bool, err error) {
	session := p.Metadata.PaymentSessionID
	if session == "" {
		return nil, false, newError(CodeInvalidRequest, "payment session id is required")
	}

	if l, err := e.store.GetLicenseByPaymentSession(ctx, session); err == nil {
		return l, false, nil
	} else if !errors.Is(err, data.ErrRecordNotFound) {
		return nil, false, storeErr("find purchase license", err)
	}

	l, err = e.CreateLicense(ctx, p)
	if errors.Is(err, ErrConflict) {
		// Lost a race with a concurrent delivery of the same event.
		l, err = e.store.GetLicenseByPaymentSession(ctx, session)
		if err != nil {
			return nil, false, storeErr("find purchase license", err)
		}
		return l, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return l, true, nil
}

func (e *Engine) CreateProduct(ctx context.Context, p CreateProductParams) (*data.Product, error) {
	slug := strings.ToLower(strings.TrimSpace(p.Slug))
	if slug == "" || strings.TrimSpace(p.Name) == "" {
		return nil, newError(CodeInvalidRequest, "slug and name are required")
	}

	prod := &data.Product{
		Slug:           slug,
		Name:           strings.TrimSpace(p.Name),
		Description:    p.Description,
		CurrentVersion: p.CurrentVersion,
		DownloadURL:    p.DownloadURL,
		IsActive:       true,
	}
	if err := e.store.CreateProduct(ctx, prod); err != nil {
		if errors.Is(err, data.ErrDuplicateSlug) {
			return nil, newError(CodeConflict, "product slug already exists")
		}
		return nil, storeErr("create product", err)
	}

	e.record(ctx, uuid.Nil, audit.ActionProductCreated, "", "", map[string]any{"slug": prod.Slug, "name": prod.Name})
	return prod, nil
}

func (e *Engine) ListProducts(ctx context.Context, includeInactive bool) ([]*data.Product, error) {
	products, err := e.store.ListProducts(ctx, includeInactive)
	if err != nil {
		return nil, storeErr("list products", err)
	}
	return products, nil
}

// GetProduct returns an active product by slug. Soft-deleted products are not_found.
func (e *Engine) GetProduct(ctx context.Context, slug string) (*data.Product, error) {
	p, err := e.store.GetProductBySlug(ctx, strings.ToLower(strings.TrimSpace(slug)))
	if errors.Is(err, data.ErrRecordNotFound) || (err == nil && !p.IsActive) {
		return nil, newError(CodeNotFound, "product not found")
	}
	if err != nil {
		return nil, storeErr("get product", err)
	}
	return p, nil
}

// UpdateProduct publishes a new version or download location for an active
// product.
func (e *Engine) UpdateProduct(ctx context.Context, slug string, p UpdateProductParams) (*data.Product, error) {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return nil, newError(CodeInvalidRequest, "name must not be empty")
	}

	prod, err := e.GetProduct(ctx, slug)
	if err != nil {
		return nil, err
	}

	changes := map[string]any{"slug": prod.Slug}
	if p.Name != nil {
		changes["name"] = map[string]any{"from": prod.Name, "to": *p.Name}
		prod.Name = strings.TrimSpace(*p.Name)
	}
	if p.Description != nil {
		prod.Description = *p.Description
		changes["description"] = true
	}
	if p.CurrentVersion != nil {
		changes["current_version"] = map[string]any{"from": prod.CurrentVersion, "to": *p.CurrentVersion}
		prod.CurrentVersion = *p.CurrentVersion
	}
	if p.DownloadURL != nil {
		changes["download_url"] = map[string]any{"from": prod.DownloadURL, "to": *p.DownloadURL}
		prod.DownloadURL = *p.DownloadURL
	}

	if err := e.store.UpdateProduct(ctx, prod); err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			return nil, newError(CodeNotFound, "product not found")
		}
		return nil, storeErr("update product", err)
	}

	e.record(ctx, uuid.Nil, audit.ActionProductUpdated, "", p.IPAddress, changes)
	return prod, nil
}

// DeactivateProduct soft-deletes a product. Licenses keep their reference.
func (e *Engine) DeactivateProduct(ctx context.Context, slug, ip string) error {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if err := e.store.DeactivateProduct(ctx, slug); err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			return newError(CodeNotFound, "product not found")
		}
		return storeErr("deactivate product", err)
	}
	e.record(ctx, uuid.Nil, audit.ActionProductDeactivated, "", ip, map[string]any{"slug": slug})
	return nil
}
