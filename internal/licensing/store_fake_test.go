package licensing_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/license-server/internal/audit"
	"github.com/technosupport/license-server/internal/data"
	"github.com/technosupport/license-server/internal/events"
)

var errDown = errors.New("connection refused")

// memStore is an in-memory Store. WithLicenseLock serialises on a per-license
// mutex the way the row lock does in postgres.
type memStore struct {
	mu          sync.Mutex
	locks       map[string]*sync.Mutex
	products    map[uuid.UUID]*data.Product
	licenses    map[string]*data.License
	activations map[uuid.UUID][]*data.Activation

	dupKeys       int // CreateLicense reports ErrDuplicateKey this many times
	sessionMisses int // GetLicenseByPaymentSession misses this many times, as a concurrent reader would
	down          bool
}

// maxPlanLen mirrors licenses.plan VARCHAR(50).
const maxPlanLen = 50

func newMemStore() *memStore {
	return &memStore{
		locks:       map[string]*sync.Mutex{},
		products:    map[uuid.UUID]*data.Product{},
		licenses:    map[string]*data.License{},
		activations: map[uuid.UUID][]*data.Activation{},
	}
}

func (s *memStore) Ping(context.Context) error {
	if s.down {
		return errDown
	}
	return nil
}

func (s *memStore) WithLicenseLock(ctx context.Context, key string, fn func(r data.Repository, l *data.License) error) error {
	s.mu.Lock()
	if s.down {
		s.mu.Unlock()
		return errDown
	}
	lk, ok := s.locks[key]
	if !ok {
		lk = &sync.Mutex{}
		s.locks[key] = lk
	}
	s.mu.Unlock()

	lk.Lock()
	defer lk.Unlock()

	l, err := s.GetLicenseByKey(ctx, key)
	if err != nil {
		return err
	}
	return fn(s, l)
}

func (s *memStore) CreateProduct(_ context.Context, p *data.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.products {
		if existing.Slug == p.Slug {
			return data.ErrDuplicateSlug
		}
	}
	p.ID = uuid.New()
	p.CreatedAt, p.UpdatedAt = time.Now(), time.Now()
	cp := *p
	s.products[p.ID] = &cp
	return nil
}

func (s *memStore) GetProductByID(_ context.Context, id uuid.UUID) (*data.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) GetProductBySlug(_ context.Context, slug string) (*data.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.products {
		if p.Slug == slug {
			cp := *p
			return &cp, nil
		}
	}
	return nil, data.ErrRecordNotFound
}

func (s *memStore) ListProducts(_ context.Context, includeInactive bool) ([]*data.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*data.Product
	for _, p := range s.products {
		if p.IsActive || includeInactive {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) UpdateProduct(_ context.Context, p *data.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.products[p.ID]
	if !ok {
		return data.ErrRecordNotFound
	}
	if len(p.CurrentVersion) > 50 {
		return data.ErrInvalidValue
	}
	p.UpdatedAt = time.Now()
	existing.Name, existing.Description = p.Name, p.Description
	existing.CurrentVersion, existing.DownloadURL = p.CurrentVersion, p.DownloadURL
	existing.UpdatedAt = p.UpdatedAt
	return nil
}

func (s *memStore) DeactivateProduct(_ context.Context, slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.products {
		if p.Slug == slug && p.IsActive {
			p.IsActive = false
			return nil
		}
	}
	return data.ErrRecordNotFound
}

func (s *memStore) CreateLicense(_ context.Context, l *data.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return errDown
	}
	if len(l.Plan) > maxPlanLen {
		return data.ErrInvalidValue
	}
	if s.dupKeys > 0 {
		s.dupKeys--
		return data.ErrDuplicateKey
	}
	if _, ok := s.licenses[l.LicenseKey]; ok {
		return data.ErrDuplicateKey
	}
	session := sessionOf(l)
	if session != "" {
		for _, existing := range s.licenses {
			if sessionOf(existing) == session {
				return data.ErrDuplicatePaymentSession
			}
		}
	}
	l.ID = uuid.New()
	l.CreatedAt, l.UpdatedAt = time.Now(), time.Now()
	cp := *l
	s.licenses[l.LicenseKey] = &cp
	return nil
}

func (s *memStore) GetLicenseByKey(_ context.Context, key string) (*data.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, errDown
	}
	l, ok := s.licenses[key]
	if !ok {
		return nil, data.ErrRecordNotFound
	}
	cp := *l
	return &cp, nil
}

func (s *memStore) GetLicenseByPaymentSession(_ context.Context, session string) (*data.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessionMisses > 0 {
		s.sessionMisses--
		return nil, data.ErrRecordNotFound
	}
	for _, l := range s.licenses {
		if sessionOf(l) == session {
			cp := *l
			return &cp, nil
		}
	}
	return nil, data.ErrRecordNotFound
}

func (s *memStore) ListLicenses(_ context.Context, f data.LicenseFilter) ([]*data.License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*data.License
	for _, l := range s.licenses {
		if f.Email != "" && l.Email != f.Email {
			continue
		}
		cp := *l
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) UpdateLicense(_ context.Context, l *data.License) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.licenses[l.LicenseKey]; !ok {
		return data.ErrRecordNotFound
	}
	l.UpdatedAt = time.Now()
	cp := *l
	s.licenses[l.LicenseKey] = &cp
	return nil
}

func (s *memStore) DeleteLicense(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, l := range s.licenses {
		if l.ID == id {
			delete(s.licenses, key)
			delete(s.activations, id)
			return nil
		}
	}
	return data.ErrRecordNotFound
}

func (s *memStore) ListActivations(_ context.Context, licenseID uuid.UUID, activeOnly bool) ([]*data.Activation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.down {
		return nil, errDown
	}
	var out []*data.Activation
	for _, a := range s.activations[licenseID] {
		if activeOnly && !a.IsActive {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memStore) UpsertActivation(_ context.Context, a *data.Activation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	at := a.ActivatedAt
	for _, existing := range s.activations[a.LicenseID] {
		if existing.Domain == a.Domain {
			existing.SiteURL, existing.WPVersion, existing.PluginVersion = a.SiteURL, a.WPVersion, a.PluginVersion
			existing.ActivatedAt, existing.LastHeartbeat = at, &at
			existing.IsActive, existing.DeactivatedAt = true, nil
			*a = *existing
			return nil
		}
	}
	a.ID = uuid.New()
	a.LastHeartbeat = &at
	a.IsActive = true
	cp := *a
	s.activations[a.LicenseID] = append(s.activations[a.LicenseID], &cp)
	return nil
}

func (s *memStore) TouchActivation(_ context.Context, licenseID uuid.UUID, domain string, site data.SiteInfo, at time.Time) (*data.Activation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.activations[licenseID] {
		if a.Domain == domain && a.IsActive {
			a.LastHeartbeat = &at
			if site.PluginVersion != "" {
				a.PluginVersion = site.PluginVersion
			}
			if site.WPVersion != "" {
				a.WPVersion = site.WPVersion
			}
			cp := *a
			return &cp, nil
		}
	}
	return nil, data.ErrRecordNotFound
}

func (s *memStore) DeactivateActivation(_ context.Context, licenseID uuid.UUID, domain string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.activations[licenseID] {
		if a.Domain == domain && a.IsActive {
			a.IsActive = false
			a.DeactivatedAt = &at
			return nil
		}
	}
	return data.ErrRecordNotFound
}

// rows returns every activation row for a license, active or not.
func (s *memStore) rows(licenseID uuid.UUID) []*data.Activation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activations[licenseID]
}

func sessionOf(l *data.License) string {
	var m struct {
		PaymentSessionID string `json:"payment_session_id"`
	}
	_ = json.Unmarshal(l.Metadata, &m)
	return m.PaymentSessionID
}

type auditLog struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *auditLog) Record(_ context.Context, e audit.Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
}

func (a *auditLog) actions() []audit.Action {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]audit.Action, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *eventLog) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *eventLog) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixedKeys struct {
	keys []string
	i    int
}

func (f *fixedKeys) Generate() (string, error) {
	k := f.keys[f.i%len(f.keys)]
	f.i++
	return k, nil
}
