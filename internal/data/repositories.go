package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateKey   = errors.New("license key already exists")
	ErrDuplicateSlug  = errors.New("product slug already exists")

	ErrDuplicatePaymentSession = errors.New("license already issued for payment session")

	// ErrInvalidValue means postgres rejected a value (too long, out of range).
	ErrInvalidValue = errors.New("invalid column value")
)

const (
	// Postgres SQLSTATE for unique_violation.
	uniqueViolation = "23505"
	// SQLSTATE class 22 is data_exception: 22001 string too long, 22003 out of range.
	dataExceptionClass = "22"
)

// DBTX is a common interface for *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Repository is the set of queries the license engine runs. Queries implements
// it against either the pool or a transaction.
type Repository interface {
	CreateProduct(ctx context.Context, p *Product) error
	GetProductByID(ctx context.Context, id uuid.UUID) (*Product, error)
	GetProductBySlug(ctx context.Context, slug string) (*Product, error)
	ListProducts(ctx context.Context, includeInactive bool) ([]*Product, error)
	UpdateProduct(ctx context.Context, p *Product) error
	DeactivateProduct(ctx context.Context, slug string) error

	CreateLicense(ctx context.Context, l *License) error
	GetLicenseByKey(ctx context.Context, key string) (*License, error)
	GetLicenseByPaymentSession(ctx context.Context, sessionID string) (*License, error)
	ListLicenses(ctx context.Context, f LicenseFilter) ([]*License, error)
	UpdateLicense(ctx context.Context, l *License) error
	DeleteLicense(ctx context.Context, id uuid.UUID) error

	ListActivations(ctx context.Context, licenseID uuid.UUID, activeOnly bool) ([]*Activation, error)
	UpsertActivation(ctx context.Context, a *Activation) error
	TouchActivation(ctx context.Context, licenseID uuid.UUID, domain string, site SiteInfo, at time.Time) (*Activation, error)
	DeactivateActivation(ctx context.Context, licenseID uuid.UUID, domain string, at time.Time) error
}

// Queries runs every repository statement against DB, which may be a pool or a tx.
type Queries struct {
	DB DBTX
}

// Store owns the connection pool and hands out tx-scoped Queries for
// operations that must hold the license row lock.
type Store struct {
	Queries
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{Queries: Queries{DB: db}, db: db}
}

// Open connects to postgres and verifies the connection.
func Open(ctx context.Context, dsn string, maxOpen, maxIdle int, maxLifetime time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if maxLifetime > 0 {
		db.SetConnMaxLifetime(maxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// WithLicenseLock loads the license by key with SELECT ... FOR UPDATE and runs fn
// inside the same transaction. Concurrent callers for the same license serialise
// on the row lock until commit or rollback. The transaction commits only if fn
// returns nil.
func (s *Store) WithLicenseLock(ctx context.Context, licenseKey string, fn func(r Repository, l *License) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	q := Queries{DB: tx}
	l, err := q.getLicense(ctx, licenseByKeyQuery+" FOR UPDATE", licenseKey)
	if err != nil {
		return err
	}

	if err := fn(q, l); err != nil {
		return err
	}
	return tx.Commit()
}

// dataErr maps postgres data exceptions to ErrInvalidValue and returns any
// other error unchanged.
func dataErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == dataExceptionClass {
		return fmt.Errorf("%w: %s", ErrInvalidValue, pqErr.Message)
	}
	return err
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if string(pqErr.Code) != uniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}
