package audit

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var ErrInvalidCursor = errors.New("invalid cursor")

type Service struct {
	db    *sql.DB
	spool *Spool
	log   *logrus.Entry
}

// NewService builds the recorder. spool may be nil, in which case failed
// writes are only logged.
func NewService(db *sql.DB, spool *Spool, log *logrus.Entry) *Service {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{db: db, spool: spool, log: log.WithField("component", "audit")}
}

// Record appends an entry and never fails the caller. A failed insert is
// spooled to disk for the replayer, or logged if spooling fails too.
func (s *Service) Record(ctx context.Context, e Entry) {
	if err := s.Write(ctx, e); err != nil {
		s.log.WithError(err).WithField("action", e.Action).Error("audit entry lost")
	}
}

// Write inserts e, falling back to the spool when the database refuses it.
func (s *Service) Write(ctx context.Context, e Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	err := s.insert(ctx, e)
	if err == nil || s.spool == nil {
		return err
	}
	s.log.WithError(err).WithField("entry_id", e.ID).Warn("audit insert failed, spooling")
	if spoolErr := s.spool.Append(e); spoolErr != nil {
		return fmt.Errorf("audit spool: %w", spoolErr)
	}
	return nil
}

func (s *Service) insert(ctx context.Context, e Entry) error {
	query := `
		INSERT INTO audit_log (id, license_id, action, domain, ip_address, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`

	var licenseID uuid.NullUUID
	if e.LicenseID != nil {
		licenseID = uuid.NullUUID{UUID: *e.LicenseID, Valid: true}
	}
	details := []byte(e.Details)
	if len(details) == 0 {
		details = []byte("{}")
	}

	_, err := s.db.ExecContext(ctx, query, e.ID, licenseID, string(e.Action), e.Domain, e.IPAddress, details, e.CreatedAt)
	return err
}

// Query returns entries newest first and a cursor for the next page ("" when done).
func (s *Service) Query(ctx context.Context, f Filter) ([]Entry, string, error) {
	q := `SELECT id, license_id, action, domain, ip_address, details, created_at FROM audit_log WHERE 1=1`
	args := []any{}
	idx := 1

	if f.LicenseID != nil {
		q += fmt.Sprintf(" AND license_id = $%d", idx)
		args = append(args, *f.LicenseID)
		idx++
	}
	if f.Action != "" {
		q += fmt.Sprintf(" AND action = $%d", idx)
		args = append(args, string(f.Action))
		idx++
	}
	if f.Cursor != "" {
		at, id, err := decodeCursor(f.Cursor)
		if err != nil {
			return nil, "", err
		}
		q += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", idx, idx+1)
		args = append(args, at, id)
		idx += 2
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", idx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			licenseID uuid.NullUUID
			action    string
			details   []byte
		)
		if err := rows.Scan(&e.ID, &licenseID, &action, &e.Domain, &e.IPAddress, &details, &e.CreatedAt); err != nil {
			return nil, "", err
		}
		if licenseID.Valid {
			id := licenseID.UUID
			e.LicenseID = &id
		}
		e.Action = Action(action)
		if len(details) > 0 {
			e.Details = details
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(entries) == limit {
		last := entries[len(entries)-1]
		next = encodeCursor(last.CreatedAt, last.ID)
	}
	return entries, next, nil
}

func encodeCursor(at time.Time, id uuid.UUID) string {
	raw := at.UTC().Format(time.RFC3339Nano) + "|" + id.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(c string) (time.Time, uuid.UUID, error) {
	raw, err := base64.RawURLEncoding.DecodeString(c)
	if err != nil {
		return time.Time{}, uuid.Nil, ErrInvalidCursor
	}
	at, idStr, ok := strings.Cut(string(raw), "|")
	if !ok {
		return time.Time{}, uuid.Nil, ErrInvalidCursor
	}
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return time.Time{}, uuid.Nil, ErrInvalidCursor
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return time.Time{}, uuid.Nil, ErrInvalidCursor
	}
	return t, id, nil
}
