// Package licensing enforces activation limits, expiry and domain binding for
// license keys. All state lives in the Store; an Engine is safe for concurrent use.
package licensing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/technosupport/license-server/internal/audit"
	"github.com/technosupport/license-server/internal/data"
	"github.com/technosupport/license-server/internal/domains"
	"github.com/technosupport/license-server/internal/events"
	"github.com/technosupport/license-server/internal/keygen"
	"github.com/technosupport/license-server/internal/tokens"
)

const maxKeyAttempts = 5

// Store is the persistence the engine needs. *data.Store implements it.
type Store interface {
	data.Repository
	WithLicenseLock(ctx context.Context, licenseKey string, fn func(r data.Repository, l *data.License) error) error
	Ping(ctx context.Context) error
}

type TokenIssuer interface {
	IssueActivation(licenseKey, domain, plan string, expiresAt *time.Time) (string, error)
	VerifyActivation(token string) (*tokens.ActivationClaims, error)
}

type Auditor interface {
	Record(ctx context.Context, e audit.Entry)
}

type KeyGenerator interface {
	Generate() (string, error)
}

type Engine struct {
	store   Store
	tokens  TokenIssuer
	auditor Auditor
	events  events.Publisher
	keys    KeyGenerator
	now     func() time.Time
	log     *logrus.Entry
	observe func(op string, code Code)
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) { e.events = p }
}

func WithKeyGenerator(g KeyGenerator) Option {
	return func(e *Engine) { e.keys = g }
}

func WithLogger(l *logrus.Entry) Option {
	return func(e *Engine) { e.log = l.WithField("component", "licensing") }
}

// WithObserver is called once per operation with its outcome; code is "" on
// success and "error" for infrastructure failures.
func WithObserver(fn func(op string, code Code)) Option {
	return func(e *Engine) { e.observe = fn }
}

func New(store Store, tok TokenIssuer, aud Auditor, opts ...Option) *Engine {
	gen, _ := keygen.New(keygen.DefaultPrefix)
	e := &Engine{
		store:   store,
		tokens:  tok,
		auditor: aud,
		events:  events.Nop{},
		keys:    gen,
		now:     func() time.Time { return time.Now().UTC() },
		log:     logrus.WithField("component", "licensing"),
		observe: func(string, Code) {},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ping reports whether the store is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// CreateLicense issues a new key. A key collision is retried with a fresh key.
func (e *Engine) CreateLicense(ctx context.Context, p CreateLicenseParams) (l *data.License, err error) {
	defer func() { e.done("create", err) }()

	if strings.TrimSpace(p.Email) == "" || strings.TrimSpace(p.Plan) == "" {
		return nil, newError(CodeInvalidRequest, "email and plan are required")
	}
	if p.MaxActivations < 1 {
		return nil, newError(CodeInvalidRequest, "max_activations must be positive")
	}

	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	l = &data.License{
		ProductID:      p.ProductID,
		Email:          strings.TrimSpace(p.Email),
		Plan:           strings.TrimSpace(p.Plan),
		MaxActivations: p.MaxActivations,
		ExpiresAt:      p.ExpiresAt,
		Metadata:       meta,
	}

	for attempt := 1; ; attempt++ {
		key, err := e.keys.Generate()
		if err != nil {
			return nil, fmt.Errorf("generate key: %w", err)
		}
		l.LicenseKey = key

		err = e.store.CreateLicense(ctx, l)
		if err == nil {
			break
		}
		if errors.Is(err, data.ErrDuplicatePaymentSession) {
			return nil, newError(CodeConflict, "a license was already issued for this payment session")
		}
		if !errors.Is(err, data.ErrDuplicateKey) || attempt >= maxKeyAttempts {
			return nil, storeErr("create license", err)
		}
		e.log.WithField("attempt", attempt).Warn("license key collision, regenerating")
	}

	e.record(ctx, l.ID, audit.ActionCreated, "", "", map[string]any{
		"license_key":     l.LicenseKey,
		"plan":            l.Plan,
		"max_activations": l.MaxActivations,
		"source":          p.Metadata.Source,
	})
	e.publish(ctx, events.Event{Type: events.LicenseCreated, LicenseKey: l.LicenseKey, Plan: l.Plan})
	return l, nil
}

// ActivateLicense claims a slot for domain. The count-check-insert sequence
// runs under the license row lock, so concurrent activations cannot exceed
// MaxActivations.
func (e *Engine) ActivateLicense(ctx context.Context, p ActivateParams) (res *ActivationResult, err error) {
	defer func() { e.done("activate", err) }()

	key := keygen.Normalize(p.LicenseKey)
	domain := domains.Normalize(p.Domain)
	if key == "" || domain == "" {
		return nil, newError(CodeInvalidRequest, "license_key and domain are required")
	}
	now := e.now()
	kind := domains.Classify(domain)

	var lic data.License
	res = &ActivationResult{LicenseKey: key, Domain: domain, Kind: kind}

	err = e.store.WithLicenseLock(ctx, key, func(r data.Repository, l *data.License) error {
		lic = *l
		if l.IsExpired(now) {
			return newError(CodeExpired, "license has expired")
		}

		active, err := r.ListActivations(ctx, l.ID, true)
		if err != nil {
			return err
		}
		prod, dev := countKinds(active)

		for _, a := range active {
			if a.Domain != domain {
				continue
			}
			if _, err := r.TouchActivation(ctx, l.ID, domain, p.Site, now); err != nil {
				return err
			}
			res.AlreadyActive = true
			res.ProductionActivations, res.DevelopmentActivations = prod, dev
			return nil
		}

		if kind == domains.Production && prod >= l.MaxActivations {
			return &Error{
				Code:        CodeLimitReached,
				Message:     fmt.Sprintf("activation limit of %d production sites reached", l.MaxActivations),
				Activations: describe(active),
			}
		}

		a := &data.Activation{
			LicenseID:     l.ID,
			Domain:        domain,
			SiteURL:       p.Site.SiteURL,
			WPVersion:     p.Site.WPVersion,
			PluginVersion: p.Site.PluginVersion,
			ActivatedAt:   now,
		}
		if err := r.UpsertActivation(ctx, a); err != nil {
			return err
		}
		if kind == domains.Production {
			prod++
		} else {
			dev++
		}
		res.ProductionActivations, res.DevelopmentActivations = prod, dev
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrLimitReached) {
			e.publish(ctx, events.Event{Type: events.LicenseLimitReached, LicenseKey: key, Domain: domain, Plan: lic.Plan})
		}
		return nil, e.lockErr("activate", err)
	}

	res.Plan = lic.Plan
	res.ExpiresAt = lic.ExpiresAt
	res.MaxActivations = lic.MaxActivations
	res.Remaining = remaining(lic.MaxActivations, res.ProductionActivations)

	res.Token, err = e.tokens.IssueActivation(lic.LicenseKey, domain, lic.Plan, lic.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	e.record(ctx, lic.ID, audit.ActionActivated, domain, p.IPAddress, map[string]any{
		"domain_type":       string(kind),
		"already_activated": res.AlreadyActive,
		"site_url":          p.Site.SiteURL,
		"plugin_version":    p.Site.PluginVersion,
	})
	if !res.AlreadyActive {
		left := res.Remaining
		e.publish(ctx, events.Event{Type: events.LicenseActivated, LicenseKey: lic.LicenseKey, Domain: domain, Plan: lic.Plan, Remaining: &left})
	}
	return res, nil
}

// DeactivateLicense releases the slot held by domain. The row is kept for history.
func (e *Engine) DeactivateLicense(ctx context.Context, licenseKey, domain, ip string) (res *DeactivationResult, err error) {
	defer func() { e.done("deactivate", err) }()

	key := keygen.Normalize(licenseKey)
	domain = domains.Normalize(domain)
	if key == "" || domain == "" {
		return nil, newError(CodeInvalidRequest, "license_key and domain are required")
	}
	now := e.now()

	var lic data.License
	res = &DeactivationResult{LicenseKey: key, Domain: domain}
	err = e.store.WithLicenseLock(ctx, key, func(r data.Repository, l *data.License) error {
		lic = *l
		if err := r.DeactivateActivation(ctx, l.ID, domain, now); err != nil {
			if errors.Is(err, data.ErrRecordNotFound) {
				return newError(CodeNotFound, "no active activation for this domain")
			}
			return err
		}
		active, err := r.ListActivations(ctx, l.ID, true)
		if err != nil {
			return err
		}
		prod, _ := countKinds(active)
		res.Remaining = remaining(l.MaxActivations, prod)
		return nil
	})
	if err != nil {
		return nil, e.lockErr("deactivate", err)
	}

	e.record(ctx, lic.ID, audit.ActionDeactivated, domain, ip, map[string]any{
		"domain_type": string(domains.Classify(domain)),
	})
	left := res.Remaining
	e.publish(ctx, events.Event{Type: events.LicenseDeactivated, LicenseKey: lic.LicenseKey, Domain: domain, Plan: lic.Plan, Remaining: &left})
	return res, nil
}

// ValidateLicense checks stored state first and the optional token last. A
// token never substitutes for an active activation row.
func (e *Engine) ValidateLicense(ctx context.Context, p ValidateParams) (res *ValidationResult, err error) {
	defer func() { e.done("validate", err) }()

	key := keygen.Normalize(p.LicenseKey)
	domain := domains.Normalize(p.Domain)
	if key == "" || domain == "" {
		return nil, newError(CodeInvalidRequest, "license_key and domain are required")
	}

	l, err := e.store.GetLicenseByKey(ctx, key)
	if err != nil {
		return nil, e.lookupErr("get license", err)
	}

	var product *data.Product
	if l.ProductID != nil {
		product, err = e.store.GetProductByID(ctx, *l.ProductID)
		if err != nil && !errors.Is(err, data.ErrRecordNotFound) {
			return nil, storeErr("get product", err)
		}
	}
	if p.ProductSlug != "" && product != nil && !strings.EqualFold(product.Slug, p.ProductSlug) {
		return nil, newError(CodeProductMismatch, "license is for a different product")
	}

	if l.IsExpired(e.now()) {
		return nil, newError(CodeExpired, "license has expired")
	}

	active, err := e.store.ListActivations(ctx, l.ID, true)
	if err != nil {
		return nil, storeErr("list activations", err)
	}
	if !containsDomain(active, domain) {
		return nil, newError(CodeNotActivated, "license is not activated on this domain")
	}

	if p.Token != "" {
		claims, err := e.tokens.VerifyActivation(p.Token)
		switch {
		case errors.Is(err, tokens.ErrTokenExpired):
			return nil, newError(CodeTokenExpired, "activation token has expired")
		case err != nil:
			return nil, newError(CodeInvalidToken, "activation token is invalid")
		case claims.LicenseKey != l.LicenseKey || claims.Domain != domain:
			return nil, newError(CodeTokenMismatch, "activation token was issued for another license or domain")
		}
	}

	prod, dev := countKinds(active)
	res = &ValidationResult{
		Valid: true,
		License: LicenseSummary{
			LicenseKey:             l.LicenseKey,
			Email:                  l.Email,
			Plan:                   l.Plan,
			ExpiresAt:              l.ExpiresAt,
			MaxActivations:         l.MaxActivations,
			ProductionActivations:  prod,
			DevelopmentActivations: dev,
			Remaining:              remaining(l.MaxActivations, prod),
		},
	}
	if product != nil {
		res.Product = &ProductSummary{
			Slug:           product.Slug,
			Name:           product.Name,
			CurrentVersion: product.CurrentVersion,
			DownloadURL:    product.DownloadURL,
		}
	}
	return res, nil
}

// RecordHeartbeat refreshes an active activation and reports whether the
// license is still within its validity period.
func (e *Engine) RecordHeartbeat(ctx context.Context, p HeartbeatParams) (res *HeartbeatResult, err error) {
	defer func() { e.done("heartbeat", err) }()

	key := keygen.Normalize(p.LicenseKey)
	domain := domains.Normalize(p.Domain)
	if key == "" || domain == "" {
		return nil, newError(CodeInvalidRequest, "license_key and domain are required")
	}

	l, err := e.store.GetLicenseByKey(ctx, key)
	if err != nil {
		return nil, e.lookupErr("get license", err)
	}

	now := e.now()
	if _, err := e.store.TouchActivation(ctx, l.ID, domain, p.Site, now); err != nil {
		if errors.Is(err, data.ErrRecordNotFound) {
			return nil, newError(CodeNotActivated, "license is not activated on this domain")
		}
		return nil, storeErr("touch activation", err)
	}

	return &HeartbeatResult{
		Valid:     !l.IsExpired(now),
		Plan:      l.Plan,
		ExpiresAt: l.ExpiresAt,
	}, nil
}

func (e *Engine) done(op string, err error) {
	switch {
	case err == nil:
		e.observe(op, "")
	case CodeOf(err) != "":
		e.observe(op, CodeOf(err))
	default:
		e.log.WithError(err).WithField("op", op).Error("license operation failed")
		e.observe(op, "error")
	}
}

// lockErr maps errors out of WithLicenseLock: unknown key, domain outcomes,
// or infrastructure.
func (e *Engine) lockErr(op string, err error) error {
	var le *Error
	if errors.As(err, &le) {
		return le
	}
	return e.lookupErr(op, err)
}

func (e *Engine) lookupErr(op string, err error) error {
	if errors.Is(err, data.ErrRecordNotFound) {
		return newError(CodeInvalidKey, "license key not found")
	}
	return storeErr(op, err)
}

func (e *Engine) record(ctx context.Context, licenseID uuid.UUID, action audit.Action, domain, ip string, details map[string]any) {
	entry := audit.Entry{
		Action:    action,
		Domain:    domain,
		IPAddress: ip,
		Details:   audit.Details(details),
		CreatedAt: e.now(),
	}
	if licenseID != uuid.Nil {
		id := licenseID
		entry.LicenseID = &id
	}
	e.auditor.Record(ctx, entry)
}

func (e *Engine) publish(ctx context.Context, ev events.Event) {
	ev.OccurredAt = e.now()
	if err := e.events.Publish(ctx, ev); err != nil {
		e.log.WithError(err).WithField("event", ev.Type).Warn("publish license event")
	}
}

func countKinds(active []*data.Activation) (prod, dev int) {
	for _, a := range active {
		if domains.IsDevelopment(a.Domain) {
			dev++
		} else {
			prod++
		}
	}
	return prod, dev
}

func describe(active []*data.Activation) []ActivationInfo {
	out := make([]ActivationInfo, 0, len(active))
	for _, a := range active {
		out = append(out, ActivationInfo{
			Domain:      a.Domain,
			Kind:        domains.Classify(a.Domain),
			SiteURL:     a.SiteURL,
			ActivatedAt: a.ActivatedAt,
		})
	}
	return out
}

func containsDomain(active []*data.Activation, domain string) bool {
	for _, a := range active {
		if a.Domain == domain {
			return true
		}
	}
	return false
}

// remaining is production-only; lowering MaxActivations below usage floors at 0.
func remaining(max, prod int) int {
	if prod >= max {
		return 0
	}
	return max - prod
}
