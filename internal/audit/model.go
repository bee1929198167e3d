package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionCreated            Action = "created"
	ActionActivated          Action = "activated"
	ActionDeactivated        Action = "deactivated"
	ActionUpdated            Action = "updated"
	ActionDeleted            Action = "deleted"
	ActionProductCreated     Action = "product_created"
	ActionProductUpdated     Action = "product_updated"
	ActionProductDeactivated Action = "product_deactivated"
)

// Entry is one append-only audit_log row.
type Entry struct {
	ID        uuid.UUID       `json:"id"` // idempotency key for spool replay
	LicenseID *uuid.UUID      `json:"license_id,omitempty"`
	Action    Action          `json:"action"`
	Domain    string          `json:"domain,omitempty"`
	IPAddress string          `json:"ip_address,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Filter for querying
type Filter struct {
	LicenseID *uuid.UUID
	Action    Action
	Limit     int
	Cursor    string // opaque, from the previous page
}

// Details marshals a detail map for Entry.Details. Unmarshalable values yield
// an empty object rather than failing the audit write.
func Details(m map[string]any) json.RawMessage {
	if len(m) == 0 {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
