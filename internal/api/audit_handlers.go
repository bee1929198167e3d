package api

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/technosupport/license-server/internal/audit"
	"github.com/technosupport/license-server/internal/licensing"
)

type AuditHandler struct {
	Audit   AuditQuerier
	Service Service
	Log     *logrus.Entry
}

type auditPage struct {
	Entries    []audit.Entry `json:"entries"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// GetEvents pages through the audit trail, newest first. Filters: license_key
// or license_id, action, limit, cursor.
func (h *AuditHandler) GetEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Action: audit.Action(q.Get("action")),
		Cursor: q.Get("cursor"),
	}

	var err error
	if filter.Limit, err = intParam(q.Get("limit"), 50, 1, 500); err != nil {
		writeError(w, r, http.StatusBadRequest, string(licensing.CodeInvalidRequest), "limit must be between 1 and 500")
		return
	}

	switch {
	case q.Get("license_id") != "":
		// Deleted licenses are only reachable by id.
		if filter.LicenseID, err = parseUUID(q.Get("license_id")); err != nil {
			writeError(w, r, http.StatusBadRequest, string(licensing.CodeInvalidRequest), "license_id must be a UUID")
			return
		}
	case q.Get("license_key") != "":
		d, err := h.Service.GetLicense(r.Context(), q.Get("license_key"))
		if err != nil {
			handleError(w, r, h.Log, err)
			return
		}
		filter.LicenseID = &d.License.ID
	}

	entries, next, err := h.Audit.Query(r.Context(), filter)
	if errors.Is(err, audit.ErrInvalidCursor) {
		writeError(w, r, http.StatusBadRequest, string(licensing.CodeInvalidRequest), "cursor is invalid")
		return
	}
	if err != nil {
		handleError(w, r, h.Log, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, r, http.StatusOK, auditPage{Entries: entries, NextCursor: next})
}
