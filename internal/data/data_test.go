package data_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/license-server/internal/data"
)

var licenseCols = []string{"id", "license_key", "product_id", "email", "plan", "max_activations", "expires_at", "metadata", "created_at", "updated_at"}

var activationCols = []string{"id", "license_id", "domain", "site_url", "wp_version", "plugin_version", "activated_at", "last_heartbeat", "is_active", "deactivated_at"}

func newStore(t *testing.T) (*data.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return data.NewStore(db), mock
}

func TestCreateLicense_Success(t *testing.T) {
	store, mock := newStore(t)
	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery("INSERT INTO licenses").
		WithArgs("WPL-AAAA-BBBB-CCCC-DDDD", sqlmock.AnyArg(), "a@example.com", "pro", 3, sqlmock.AnyArg(), []byte("{}")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(id.String(), now, now))

	l := &data.License{LicenseKey: "WPL-AAAA-BBBB-CCCC-DDDD", Email: "a@example.com", Plan: "pro", MaxActivations: 3}
	require.NoError(t, store.CreateLicense(context.Background(), l))
	assert.Equal(t, id, l.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateLicense_DuplicateKey(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectQuery("INSERT INTO licenses").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "licenses_license_key_key"})

	err := store.CreateLicense(context.Background(), &data.License{LicenseKey: "WPL-X", Email: "a@example.com", Plan: "pro", MaxActivations: 1})
	assert.ErrorIs(t, err, data.ErrDuplicateKey)
}

func TestCreateLicense_DuplicatePaymentSession(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectQuery("INSERT INTO licenses").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "licenses_payment_session_key"})

	err := store.CreateLicense(context.Background(), &data.License{LicenseKey: "WPL-Y", Email: "a@example.com", Plan: "pro", MaxActivations: 1})
	assert.ErrorIs(t, err, data.ErrDuplicatePaymentSession)
}

func TestCreateLicense_ValueTooLong(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectQuery("INSERT INTO licenses").
		WillReturnError(&pq.Error{Code: "22001", Message: "value too long for type character varying(50)"})

	err := store.CreateLicense(context.Background(), &data.License{LicenseKey: "WPL-Z", Email: "a@example.com", Plan: strings.Repeat("p", 54), MaxActivations: 1})
	assert.ErrorIs(t, err, data.ErrInvalidValue)
	assert.Contains(t, err.Error(), "character varying(50)")
}

func TestUpdateLicense_ValueTooLong(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectQuery("UPDATE licenses").
		WillReturnError(&pq.Error{Code: "22001"})

	err := store.UpdateLicense(context.Background(), &data.License{ID: uuid.New(), Plan: strings.Repeat("p", 60), MaxActivations: 1})
	assert.ErrorIs(t, err, data.ErrInvalidValue)
}

func TestCreateProduct_OtherErrorsPassThrough(t *testing.T) {
	store, mock := newStore(t)
	down := errors.New("connection reset by peer")

	mock.ExpectQuery("INSERT INTO products").WillReturnError(down)

	err := store.CreateProduct(context.Background(), &data.Product{Slug: "seo-pro", Name: "SEO Pro"})
	assert.ErrorIs(t, err, down)
	assert.NotErrorIs(t, err, data.ErrInvalidValue)
}

func TestCreateProduct_DuplicateSlug(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectQuery("INSERT INTO products").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "products_slug_key"})

	err := store.CreateProduct(context.Background(), &data.Product{Slug: "seo-pro", Name: "SEO Pro"})
	assert.ErrorIs(t, err, data.ErrDuplicateSlug)
}

func TestGetLicenseByKey_NotFound(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectQuery("SELECT (.+) FROM licenses WHERE license_key = \\$1").
		WithArgs("WPL-NOPE").
		WillReturnRows(sqlmock.NewRows(licenseCols))

	_, err := store.GetLicenseByKey(context.Background(), "WPL-NOPE")
	assert.ErrorIs(t, err, data.ErrRecordNotFound)
}

func TestGetLicenseByKey_NullableColumns(t *testing.T) {
	store, mock := newStore(t)
	id := uuid.New()
	productID := uuid.New()
	expires := time.Now().Add(24 * time.Hour)

	mock.ExpectQuery("FROM licenses WHERE license_key").
		WillReturnRows(sqlmock.NewRows(licenseCols).
			AddRow(id.String(), "WPL-KEY", productID.String(), "a@example.com", "annual", 2, expires, []byte(`{"source":"webhook"}`), time.Now(), time.Now()))

	l, err := store.GetLicenseByKey(context.Background(), "WPL-KEY")
	require.NoError(t, err)
	require.NotNil(t, l.ProductID)
	assert.Equal(t, productID, *l.ProductID)
	require.NotNil(t, l.ExpiresAt)
	assert.JSONEq(t, `{"source":"webhook"}`, string(l.Metadata))
	assert.False(t, l.IsExpired(time.Now()))
	assert.True(t, l.IsExpired(expires.Add(time.Second)))
}

func TestWithLicenseLock_CommitsOnSuccess(t *testing.T) {
	store, mock := newStore(t)
	licenseID := uuid.New()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("FROM licenses WHERE license_key = \\$1 FOR UPDATE").
		WithArgs("WPL-KEY").
		WillReturnRows(sqlmock.NewRows(licenseCols).
			AddRow(licenseID.String(), "WPL-KEY", nil, "a@example.com", "pro", 1, nil, []byte("{}"), now, now))
	mock.ExpectQuery("INSERT INTO activations").
		WithArgs(licenseID, "example.com", "https://example.com", "6.5", "1.2.0", now).
		WillReturnRows(sqlmock.NewRows(activationCols).
			AddRow(uuid.New().String(), licenseID.String(), "example.com", "https://example.com", "6.5", "1.2.0", now, now, true, nil))
	mock.ExpectCommit()

	err := store.WithLicenseLock(context.Background(), "WPL-KEY", func(r data.Repository, l *data.License) error {
		a := &data.Activation{
			LicenseID:     l.ID,
			Domain:        "example.com",
			SiteURL:       "https://example.com",
			WPVersion:     "6.5",
			PluginVersion: "1.2.0",
			ActivatedAt:   now,
		}
		if err := r.UpsertActivation(context.Background(), a); err != nil {
			return err
		}
		assert.True(t, a.IsActive)
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithLicenseLock_RollsBackOnError(t *testing.T) {
	store, mock := newStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(sqlmock.NewRows(licenseCols).
			AddRow(uuid.New().String(), "WPL-KEY", nil, "a@example.com", "pro", 1, nil, []byte("{}"), now, now))
	mock.ExpectRollback()

	sentinel := errors.New("limit reached")
	err := store.WithLicenseLock(context.Background(), "WPL-KEY", func(r data.Repository, l *data.License) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithLicenseLock_UnknownKey(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WillReturnRows(sqlmock.NewRows(licenseCols))
	mock.ExpectRollback()

	called := false
	err := store.WithLicenseLock(context.Background(), "WPL-NOPE", func(r data.Repository, l *data.License) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, data.ErrRecordNotFound)
	assert.False(t, called)
}

func TestDeactivateActivation_NoActiveRow(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectExec("UPDATE activations").WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.DeactivateActivation(context.Background(), uuid.New(), "example.com", time.Now())
	assert.ErrorIs(t, err, data.ErrRecordNotFound)
}

func TestTouchActivation_NotActive(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectQuery("UPDATE activations").WillReturnRows(sqlmock.NewRows(activationCols))

	_, err := store.TouchActivation(context.Background(), uuid.New(), "example.com", data.SiteInfo{}, time.Now())
	assert.ErrorIs(t, err, data.ErrRecordNotFound)
}

func TestListActivations_ActiveOnly(t *testing.T) {
	store, mock := newStore(t)
	licenseID := uuid.New()
	now := time.Now()

	mock.ExpectQuery("FROM activations WHERE license_id = \\$1 AND is_active = TRUE").
		WithArgs(licenseID).
		WillReturnRows(sqlmock.NewRows(activationCols).
			AddRow(uuid.New().String(), licenseID.String(), "a.com", "", "", "", now, nil, true, nil).
			AddRow(uuid.New().String(), licenseID.String(), "b.local", "", "", "", now, now, true, nil))

	acts, err := store.ListActivations(context.Background(), licenseID, true)
	require.NoError(t, err)
	require.Len(t, acts, 2)
	assert.Nil(t, acts[0].LastHeartbeat)
	assert.NotNil(t, acts[1].LastHeartbeat)
}

func TestListLicenses_Filters(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectQuery("AND email = \\$1 ORDER BY created_at DESC LIMIT \\$2 OFFSET \\$3").
		WithArgs("a@example.com", 100, 0).
		WillReturnRows(sqlmock.NewRows(licenseCols))

	licenses, err := store.ListLicenses(context.Background(), data.LicenseFilter{Email: "a@example.com"})
	require.NoError(t, err)
	assert.Empty(t, licenses)
}

func TestUpdateProduct(t *testing.T) {
	store, mock := newStore(t)
	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery("UPDATE products").
		WithArgs("SEO Pro", "", "1.1.0", "https://cdn.example.com/seo-pro.zip", id).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))

	p := &data.Product{ID: id, Slug: "seo-pro", Name: "SEO Pro", CurrentVersion: "1.1.0", DownloadURL: "https://cdn.example.com/seo-pro.zip"}
	require.NoError(t, store.UpdateProduct(context.Background(), p))
	assert.Equal(t, now, p.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectQuery("UPDATE products").WillReturnRows(sqlmock.NewRows([]string{"updated_at"}))
	assert.ErrorIs(t, store.UpdateProduct(context.Background(), &data.Product{ID: uuid.New()}), data.ErrRecordNotFound)
}

func TestDeactivateProduct_Missing(t *testing.T) {
	store, mock := newStore(t)

	mock.ExpectExec("UPDATE products").WithArgs("gone").WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, store.DeactivateProduct(context.Background(), "gone"), data.ErrRecordNotFound)
}
