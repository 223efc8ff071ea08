package controllers

import (
	"net/http"

	dispatchsvc "github.com/PhoenixWild29/APFA-Prod-sub001/internal/services/dispatch"
)

// AdminController handles operator endpoints: dead letters, stats and
// metrics.
type AdminController struct {
	svc *dispatchsvc.Service
}

// NewAdminController creates a new admin controller.
func NewAdminController(svc *dispatchsvc.Service) *AdminController {
	return &AdminController{svc: svc}
}

// RegisterRoutes registers admin routes with the given mux.
//
// This method sets up HTTP endpoints for:
// - Dead-letter listing (/v1/admin/dlq)
// - Dead-letter requeue (/v1/admin/dlq/requeue)
// - Queue stats (/v1/admin/stats)
// - Metrics snapshot (/v1/admin/metrics)
func (c *AdminController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/admin/dlq", c.handleListDLQ)
	mux.HandleFunc("/v1/admin/dlq/requeue", c.handleRequeue)
	mux.HandleFunc("/v1/admin/stats", c.handleStats)
	mux.HandleFunc("/v1/admin/metrics", c.handleMetrics)
}

// handleListDLQ lists dead-lettered tasks for a queue. The optional filter
// parameter is a CEL expression over routing_key, attempts, error, age_ms
// and json.
func (c *AdminController) handleListDLQ(w http.ResponseWriter, r *http.Request) {
	queue := r.URL.Query().Get("queue")
	if queue == "" {
		writeError(w, http.StatusBadRequest, "Missing queue")
		return
	}
	tasks, err := c.svc.DeadLetters(r.Context(), queue, r.URL.Query().Get("filter"), parseLimit(r.URL.Query().Get("limit")))
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, map[string]any{"tasks": tasks})
}

// handleRequeue moves a dead-lettered task back to the tail of its queue.
func (c *AdminController) handleRequeue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	if err := c.svc.Requeue(r.Context(), id); err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "requeued"})
}

// handleStats returns per-queue statistics.
func (c *AdminController) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := c.svc.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to collect queue stats")
		return
	}
	writeJSON(w, map[string]any{"queues": stats})
}

// handleMetrics returns the aggregated metrics snapshot.
func (c *AdminController) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap, err := c.svc.Metrics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to collect metrics")
		return
	}
	writeJSON(w, snap)
}
