package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

type Type string

const (
	LicenseCreated      Type = "license.created"
	LicenseActivated    Type = "license.activated"
	LicenseDeactivated  Type = "license.deactivated"
	LicenseUpdated      Type = "license.updated"
	LicenseDeleted      Type = "license.deleted"
	LicenseLimitReached Type = "license.limit_reached"
)

// Event is the JSON body published for a license lifecycle change.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Type       Type      `json:"type"`
	LicenseKey string    `json:"license_key"`
	Domain     string    `json:"domain,omitempty"`
	Plan       string    `json:"plan,omitempty"`
	Remaining  *int      `json:"remaining,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Conn is the slice of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
}

var _ Conn = (*nats.Conn)(nil)

type NATSPublisher struct {
	conn       Conn
	prefix     string
	maxRetries int
}

func NewNATSPublisher(conn Conn, prefix string, maxRetries int) *NATSPublisher {
	if prefix == "" {
		prefix = "licenses"
	}
	return &NATSPublisher{
		conn:       conn,
		prefix:     prefix,
		maxRetries: maxRetries,
	}
}

// Connect dials url with reconnects enabled.
func Connect(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}

func (p *NATSPublisher) Subject(t Type) string {
	return p.prefix + "." + string(t)
}

func (p *NATSPublisher) Publish(ctx context.Context, e Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	subject := p.Subject(e.Type)
	for i := 0; i <= p.maxRetries; i++ {
		err = p.conn.Publish(subject, data)
		if err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i*100) * time.Millisecond):
		}
	}

	return fmt.Errorf("publish failed after %d retries: %w", p.maxRetries, err)
}

// Nop discards events. Used when NATS is not configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
