package handlers

import (
	"net/http"
	"time"

	httpContracts "github.com/sawpanic/cornd/internal/http"
)

// Health handles GET /health. Liveness plus a best-effort store ping;
// a degraded store does not fail the probe.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := httpContracts.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   "cornd",
		Database:  "unknown",
	}

	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			resp.Database = "unreachable"
		} else {
			resp.Database = "ok"
			resp.Pool = h.store.Stats()
		}
	}

	h.writeJSON(w, http.StatusOK, resp)
}
