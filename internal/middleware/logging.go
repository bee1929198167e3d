package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// RequestLogger logs one line per request and feeds the latency histogram.
// It expects chi's RequestID middleware to run first.
func RequestLogger(log *logrus.Entry, rec Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			duration := time.Since(start)

			route := ""
			if rc := chi.RouteContext(r.Context()); rc != nil {
				route = rc.RoutePattern()
			}
			if rec != nil {
				rec.ObserveHTTP(r.Method, route, status, duration)
			}

			entry := log.WithFields(logrus.Fields{
				"req_id":   chimw.GetReqID(r.Context()),
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   status,
				"duration": duration.String(),
				"ip":       ClientIP(r),
			})
			switch {
			case status >= 500:
				entry.Error("request failed")
			case status == http.StatusUnauthorized || status == http.StatusForbidden:
				entry.Warn("request denied")
			default:
				entry.Info("request completed")
			}
		})
	}
}
