package middleware

import (
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/technosupport/license-server/internal/keygen"
	"github.com/technosupport/license-server/internal/ratelimit"
)

type RateLimitConfig struct {
	PerIP      ratelimit.LimitConfig
	Endpoints  map[string]ratelimit.LimitConfig // keyed by exact path
	PerLicense ratelimit.LimitConfig            // applied by handlers once the key is known
}

type RateLimitMiddleware struct {
	limiter *ratelimit.Limiter
	config  RateLimitConfig
	log     *logrus.Entry
	rec     Recorder
}

func NewRateLimitMiddleware(l *ratelimit.Limiter, c RateLimitConfig, log *logrus.Entry, rec Recorder) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: l, config: c, log: log, rec: rec}
}

// Handler applies the per-IP limit, then any limit configured for the exact
// path. Redis failures fail open: license checks must keep working.
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)

		if m.config.PerIP.Enabled() {
			key := m.limiter.Key(ratelimit.ScopeIP, ip)
			if !m.allow(w, r, ratelimit.ScopeIP, key, m.config.PerIP) {
				return
			}
		}

		if cfg, ok := m.config.Endpoints[r.URL.Path]; ok && cfg.Enabled() {
			key := m.limiter.Key(ratelimit.ScopeEndpoint, ip, r.URL.Path)
			if !m.allow(w, r, ratelimit.ScopeEndpoint, key, cfg) {
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// AllowLicense applies the per-license limit for an action. The key is
// normalized the way the engine looks it up. On false the 429 response has
// already been written.
func (m *RateLimitMiddleware) AllowLicense(w http.ResponseWriter, r *http.Request, licenseKey, action string) bool {
	licenseKey = keygen.Normalize(licenseKey)
	if m == nil || !m.config.PerLicense.Enabled() || licenseKey == "" {
		return true
	}
	key := m.limiter.Key(ratelimit.ScopeLicense, licenseKey, action)
	return m.allow(w, r, ratelimit.ScopeLicense, key, m.config.PerLicense)
}

func (m *RateLimitMiddleware) allow(w http.ResponseWriter, r *http.Request, scope ratelimit.Scope, key string, cfg ratelimit.LimitConfig) bool {
	d, err := m.limiter.Check(r.Context(), scope, key, cfg)
	if err != nil {
		m.log.WithError(err).WithField("scope", scope).Warn("rate limit check skipped")
		if m.rec != nil {
			m.rec.RedisError()
		}
		return true
	}

	writeRateLimitHeaders(w, d)
	if d.Allowed {
		return true
	}

	if m.rec != nil {
		m.rec.RateLimited(string(scope))
	}
	writeError(w, r, http.StatusTooManyRequests, "rate_limited", "too many requests, retry later")
	return false
}

func writeRateLimitHeaders(w http.ResponseWriter, d *ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
	if !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
	}
}
