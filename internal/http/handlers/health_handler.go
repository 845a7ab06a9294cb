package handlers

import (
	"net/http"

	"chargeledger/internal/service"
)

// NewHealthHandler returns GET /health handler probing store reachability.
func NewHealthHandler(engine *service.LifecycleEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := engine.HealthCheck(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unavailable",
				"store":  false,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "ok",
			"store":  true,
		})
	}
}
