package controllers

import (
	"net/http"

	"github.com/PhoenixWild29/APFA-Prod-sub001/internal/runtime"
	dispatchsvc "github.com/PhoenixWild29/APFA-Prod-sub001/internal/services/dispatch"
)

// GeneralController handles general HTTP endpoints like health and
// routing-table introspection.
type GeneralController struct {
	rt  *runtime.Runtime
	svc *dispatchsvc.Service
}

// NewGeneralController creates a new general controller.
func NewGeneralController(rt *runtime.Runtime, svc *dispatchsvc.Service) *GeneralController {
	return &GeneralController{rt: rt, svc: svc}
}

// RegisterRoutes registers general routes with the given mux.
//
// This method sets up HTTP endpoints for:
// - Health checks (/v1/healthz)
// - Queue listing (/v1/queues)
// - Routing key listing (/v1/routing-keys)
func (c *GeneralController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/healthz", c.handleHealth)
	mux.HandleFunc("/v1/queues", c.handleListQueues)
	mux.HandleFunc("/v1/routing-keys", c.handleListRoutingKeys)
}

// handleHealth returns the health status of the service.
//
// Returns 200 OK with {"status": "ok"} if healthy, 503 Service Unavailable otherwise.
func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := c.rt.CheckHealth(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_serving")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleListQueues lists the priority queues and their current stats.
func (c *GeneralController) handleListQueues(w http.ResponseWriter, r *http.Request) {
	stats, err := c.svc.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to collect queue stats")
		return
	}
	writeJSON(w, map[string]any{"queues": stats})
}

// handleListRoutingKeys lists the registered routing keys.
func (c *GeneralController) handleListRoutingKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"routing_keys": c.svc.RoutingKeys()})
}
