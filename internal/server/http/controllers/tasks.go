package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	dispatchsvc "github.com/PhoenixWild29/APFA-Prod-sub001/internal/services/dispatch"
)

// TasksController handles producer-facing task endpoints.
type TasksController struct {
	svc *dispatchsvc.Service
}

// NewTasksController creates a new tasks controller.
func NewTasksController(svc *dispatchsvc.Service) *TasksController {
	return &TasksController{svc: svc}
}

// RegisterRoutes registers task routes with the given mux.
//
// This method sets up HTTP endpoints for:
// - Task submission (/v1/tasks/submit)
// - Task lookup (/v1/tasks/get)
// - Cancellation (/v1/tasks/cancel)
func (c *TasksController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/tasks/submit", c.handleSubmit)
	mux.HandleFunc("/v1/tasks/get", c.handleGet)
	mux.HandleFunc("/v1/tasks/cancel", c.handleCancel)
}

// handleSubmit enqueues a task and returns its ID.
//
// Returns 202 Accepted: the task is durably queued, not yet executed.
func (c *TasksController) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	var req dispatchsvc.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	id, err := c.svc.Submit(r.Context(), req)
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(submitResp{ID: id.String()})
}

// handleGet returns the current record for a task by id.
func (c *TasksController) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	task, err := c.svc.Get(r.Context(), id)
	if err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, task)
}

// handleCancel requests cancellation of a task.
//
// Queued and retrying tasks are cancelled immediately; running tasks are
// flagged and stop at the worker's next cancellation check.
func (c *TasksController) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	if err := c.svc.Cancel(r.Context(), id); err != nil {
		writeBrokerError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "cancel_requested"})
}

// taskID parses the id query parameter, writing a 400 on failure.
func taskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.URL.Query().Get("id")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "Missing id")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid id")
		return uuid.Nil, false
	}
	return id, true
}
