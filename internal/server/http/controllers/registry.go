package controllers

import (
	"net/http"

	"github.com/PhoenixWild29/APFA-Prod-sub001/internal/runtime"
	dispatchsvc "github.com/PhoenixWild29/APFA-Prod-sub001/internal/services/dispatch"
)

// ControllerRegistry manages all HTTP controllers.
//
// It provides a centralized way to register all controller routes
// and manages the lifecycle of individual controllers.
type ControllerRegistry struct {
	general *GeneralController
	tasks   *TasksController
	admin   *AdminController
}

// NewControllerRegistry creates a new controller registry.
//
// It initializes all controllers with the provided runtime and service.
func NewControllerRegistry(rt *runtime.Runtime, svc *dispatchsvc.Service) *ControllerRegistry {
	return &ControllerRegistry{
		general: NewGeneralController(rt, svc),
		tasks:   NewTasksController(svc),
		admin:   NewAdminController(svc),
	}
}

// RegisterAllRoutes registers all controller routes with the given mux.
//
// This method sets up all HTTP endpoints for the dispatch service:
// general endpoints (health, queues, routing keys), producer task
// endpoints, and operator admin endpoints.
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.general.RegisterRoutes(mux)
	r.tasks.RegisterRoutes(mux)
	r.admin.RegisterRoutes(mux)
}
