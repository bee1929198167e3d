package middleware

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/render"
)

// errorBody matches the API's error envelope.
type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, tag, msg string) {
	render.Status(r, status)
	render.JSON(w, r, errorBody{Success: false, Error: tag, Message: msg})
}

// ClientIP returns the host part of RemoteAddr, which chi's RealIP has already
// replaced with the forwarded client address when behind a proxy.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Recorder receives HTTP and rate-limit observations. *metrics.Metrics implements it.
type Recorder interface {
	ObserveHTTP(method, route string, status int, d time.Duration)
	RateLimited(scope string)
	RedisError()
}
