package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/RTNSmart/tier3-engine/pkg/responders"
)

// health returns service status including decision-store connectivity.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	now := time.Now()
	uptime := now.Sub(serverStartTime)
	storageHealthy := h.store.Ping(ctx) == nil

	status := "ok"
	statusCode := http.StatusOK
	if !storageHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	response := map[string]any{
		"status":         status,
		"uptime":         uptime.String(),
		"timestamp":      now.UTC(),
		"storageHealthy": storageHealthy,
		"storageBackend": h.cfg.Storage.Backend,
	}
	if h.cfg.Engine.VendorModelVersion != "" {
		response["vendorModelVersion"] = h.cfg.Engine.VendorModelVersion
	}

	responders.JSON(w, statusCode, response)
}
