package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	DB  Pinger
	Log *logrus.Entry
}

type healthStatus struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

func (h *HealthHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.DB.Ping(ctx); err != nil {
		h.Log.WithError(err).Warn("health check: database unreachable")
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, healthStatus{Status: "degraded", Database: "unreachable"})
		return
	}
	render.JSON(w, r, healthStatus{Status: "ok", Database: "ok"})
}
