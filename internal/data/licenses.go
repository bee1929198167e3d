package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

const licenseColumns = `id, license_key, product_id, email, plan, max_activations, expires_at, metadata, created_at, updated_at`

const licenseByKeyQuery = `SELECT ` + licenseColumns + ` FROM licenses WHERE license_key = $1`

func scanLicense(row interface{ Scan(...any) error }) (*License, error) {
	var (
		l         License
		productID uuid.NullUUID
		expiresAt sql.NullTime
		metadata  []byte
	)
	err := row.Scan(&l.ID, &l.LicenseKey, &productID, &l.Email, &l.Plan, &l.MaxActivations, &expiresAt, &metadata, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if productID.Valid {
		id := productID.UUID
		l.ProductID = &id
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		l.ExpiresAt = &t
	}
	if len(metadata) > 0 {
		l.Metadata = metadata
	}
	return &l, nil
}

func (q Queries) getLicense(ctx context.Context, query string, args ...any) (*License, error) {
	l, err := scanLicense(q.DB.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	return l, err
}

// CreateLicense inserts l. A collision on license_key returns ErrDuplicateKey so
// the caller can regenerate.
func (q Queries) CreateLicense(ctx context.Context, l *License) error {
	query := `
		INSERT INTO licenses (license_key, product_id, email, plan, max_activations, expires_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`

	metadata := []byte(l.Metadata)
	if len(metadata) == 0 {
		metadata = []byte("{}")
	}

	err := q.DB.QueryRowContext(ctx, query,
		l.LicenseKey, nullUUID(l.ProductID), l.Email, l.Plan, l.MaxActivations, l.ExpiresAt, metadata,
	).Scan(&l.ID, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "licenses_license_key_key") {
			return ErrDuplicateKey
		}
		if isUniqueViolation(err, "licenses_payment_session_key") {
			return ErrDuplicatePaymentSession
		}
		return dataErr(err)
	}
	return nil
}

func (q Queries) GetLicenseByKey(ctx context.Context, key string) (*License, error) {
	return q.getLicense(ctx, licenseByKeyQuery, key)
}

// GetLicenseByPaymentSession finds the license created for a checkout session,
// so a redelivered purchase webhook does not mint a second key.
func (q Queries) GetLicenseByPaymentSession(ctx context.Context, sessionID string) (*License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE metadata->>'payment_session_id' = $1 LIMIT 1`
	return q.getLicense(ctx, query, sessionID)
}

func (q Queries) ListLicenses(ctx context.Context, f LicenseFilter) ([]*License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE 1=1`
	args := []any{}
	idx := 1

	if f.Email != "" {
		query += fmt.Sprintf(" AND email = $%d", idx)
		args = append(args, f.Email)
		idx++
	}
	if f.ProductID != nil {
		query += fmt.Sprintf(" AND product_id = $%d", idx)
		args = append(args, *f.ProductID)
		idx++
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := q.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var licenses []*License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, err
		}
		licenses = append(licenses, l)
	}
	return licenses, rows.Err()
}

// UpdateLicense writes the mutable fields. license_key is never updated.
func (q Queries) UpdateLicense(ctx context.Context, l *License) error {
	query := `
		UPDATE licenses
		SET plan = $1, max_activations = $2, expires_at = $3, product_id = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at`

	err := q.DB.QueryRowContext(ctx, query, l.Plan, l.MaxActivations, l.ExpiresAt, nullUUID(l.ProductID), l.ID).Scan(&l.UpdatedAt)
	if err == sql.ErrNoRows {
		return ErrRecordNotFound
	}
	return dataErr(err)
}

// DeleteLicense removes the license; activations go with it (ON DELETE CASCADE).
func (q Queries) DeleteLicense(ctx context.Context, id uuid.UUID) error {
	res, err := q.DB.ExecContext(ctx, `DELETE FROM licenses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
