package middleware

import (
	"net/http"

	"github.com/sirupsen/logrus"
)

const AdminKeyHeader = "X-Admin-Key"

// KeyVerifier checks a presented admin key. *auth.Verifier implements it.
type KeyVerifier interface {
	Verify(key string) bool
}

// AdminAuth rejects requests without a valid X-Admin-Key: 401 when the header
// is missing, 403 when it does not match.
func AdminAuth(v KeyVerifier, log *logrus.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(AdminKeyHeader)
			if key == "" {
				writeError(w, r, http.StatusUnauthorized, "unauthorized", "admin key required")
				return
			}
			if !v.Verify(key) {
				log.WithField("ip", ClientIP(r)).WithField("path", r.URL.Path).Warn("admin key rejected")
				writeError(w, r, http.StatusForbidden, "forbidden", "invalid admin key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
