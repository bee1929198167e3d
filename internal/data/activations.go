package data

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

const activationColumns = `id, license_id, domain, site_url, wp_version, plugin_version, activated_at, last_heartbeat, is_active, deactivated_at`

func scanActivation(row interface{ Scan(...any) error }) (*Activation, error) {
	var (
		a             Activation
		lastHeartbeat sql.NullTime
		deactivatedAt sql.NullTime
	)
	err := row.Scan(&a.ID, &a.LicenseID, &a.Domain, &a.SiteURL, &a.WPVersion, &a.PluginVersion,
		&a.ActivatedAt, &lastHeartbeat, &a.IsActive, &deactivatedAt)
	if err != nil {
		return nil, err
	}
	if lastHeartbeat.Valid {
		t := lastHeartbeat.Time
		a.LastHeartbeat = &t
	}
	if deactivatedAt.Valid {
		t := deactivatedAt.Time
		a.DeactivatedAt = &t
	}
	return &a, nil
}

func (q Queries) ListActivations(ctx context.Context, licenseID uuid.UUID, activeOnly bool) ([]*Activation, error) {
	query := `SELECT ` + activationColumns + ` FROM activations WHERE license_id = $1`
	if activeOnly {
		query += ` AND is_active = TRUE`
	}
	query += ` ORDER BY activated_at`

	rows, err := q.DB.QueryContext(ctx, query, licenseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activations []*Activation
	for rows.Next() {
		a, err := scanActivation(rows)
		if err != nil {
			return nil, err
		}
		activations = append(activations, a)
	}
	return activations, rows.Err()
}

// UpsertActivation inserts a new (license, domain) row or revives the existing
// soft-deactivated one in place, so a domain never has more than one row.
func (q Queries) UpsertActivation(ctx context.Context, a *Activation) error {
	query := `
		INSERT INTO activations (license_id, domain, site_url, wp_version, plugin_version, activated_at, last_heartbeat, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $6, TRUE)
		ON CONFLICT (license_id, domain) DO UPDATE SET
			site_url = EXCLUDED.site_url,
			wp_version = EXCLUDED.wp_version,
			plugin_version = EXCLUDED.plugin_version,
			activated_at = EXCLUDED.activated_at,
			last_heartbeat = EXCLUDED.last_heartbeat,
			is_active = TRUE,
			deactivated_at = NULL
		RETURNING ` + activationColumns

	got, err := scanActivation(q.DB.QueryRowContext(ctx, query,
		a.LicenseID, a.Domain, a.SiteURL, a.WPVersion, a.PluginVersion, a.ActivatedAt,
	))
	if err != nil {
		return dataErr(err)
	}
	*a = *got
	return nil
}

// TouchActivation refreshes the heartbeat and reported versions of an active
// activation. Empty site fields keep their stored values.
func (q Queries) TouchActivation(ctx context.Context, licenseID uuid.UUID, domain string, site SiteInfo, at time.Time) (*Activation, error) {
	query := `
		UPDATE activations
		SET last_heartbeat = $1,
			site_url = COALESCE(NULLIF($2, ''), site_url),
			wp_version = COALESCE(NULLIF($3, ''), wp_version),
			plugin_version = COALESCE(NULLIF($4, ''), plugin_version)
		WHERE license_id = $5 AND domain = $6 AND is_active = TRUE
		RETURNING ` + activationColumns

	a, err := scanActivation(q.DB.QueryRowContext(ctx, query,
		at, site.SiteURL, site.WPVersion, site.PluginVersion, licenseID, domain,
	))
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	return a, dataErr(err)
}

func (q Queries) DeactivateActivation(ctx context.Context, licenseID uuid.UUID, domain string, at time.Time) error {
	query := `
		UPDATE activations
		SET is_active = FALSE, deactivated_at = $1
		WHERE license_id = $2 AND domain = $3 AND is_active = TRUE`

	res, err := q.DB.ExecContext(ctx, query, at, licenseID, domain)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}
