package data

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

const productColumns = `id, slug, name, description, current_version, download_url, is_active, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (*Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Slug, &p.Name, &p.Description, &p.CurrentVersion, &p.DownloadURL, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (q Queries) CreateProduct(ctx context.Context, p *Product) error {
	query := `
		INSERT INTO products (slug, name, description, current_version, download_url, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err := q.DB.QueryRowContext(ctx, query, p.Slug, p.Name, p.Description, p.CurrentVersion, p.DownloadURL, p.IsActive).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "products_slug_key") {
			return ErrDuplicateSlug
		}
		return dataErr(err)
	}
	return nil
}

func (q Queries) GetProductByID(ctx context.Context, id uuid.UUID) (*Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	p, err := scanProduct(q.DB.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	return p, err
}

// GetProductBySlug returns active and inactive products alike; callers decide
// whether a soft-deleted product is usable.
func (q Queries) GetProductBySlug(ctx context.Context, slug string) (*Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE slug = $1`
	p, err := scanProduct(q.DB.QueryRowContext(ctx, query, slug))
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	return p, err
}

func (q Queries) ListProducts(ctx context.Context, includeInactive bool) ([]*Product, error) {
	query := `SELECT ` + productColumns + ` FROM products`
	if !includeInactive {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY name`

	rows, err := q.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []*Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// UpdateProduct writes the descriptive fields of p, located by ID. The slug
// and is_active are not touched.
func (q Queries) UpdateProduct(ctx context.Context, p *Product) error {
	query := `
		UPDATE products
		SET name = $1, description = $2, current_version = $3, download_url = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING updated_at`

	err := q.DB.QueryRowContext(ctx, query, p.Name, p.Description, p.CurrentVersion, p.DownloadURL, p.ID).Scan(&p.UpdatedAt)
	if err == sql.ErrNoRows {
		return ErrRecordNotFound
	}
	return dataErr(err)
}

// DeactivateProduct soft-deletes a product. Licenses referencing it are untouched.
func (q Queries) DeactivateProduct(ctx context.Context, slug string) error {
	query := `
		UPDATE products
		SET is_active = FALSE, updated_at = NOW()
		WHERE slug = $1 AND is_active = TRUE`
	res, err := q.DB.ExecContext(ctx, query, slug)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}
