package controllers

// Common response types for HTTP controllers

// submitResp carries the ID assigned to an accepted task.
type submitResp struct {
	ID string `json:"id"`
}
