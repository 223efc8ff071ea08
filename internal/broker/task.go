package broker

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Priority is the ordered priority class of a task. Lower values are more
// urgent.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityDefault
	PriorityLow
)

// Priorities lists all priority classes from most to least urgent.
var Priorities = []Priority{PriorityHigh, PriorityDefault, PriorityLow}

// String returns the wire name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityDefault:
		return "default"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// ParsePriority parses a wire priority name. An empty string maps to the
// default class.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return PriorityHigh, nil
	case "", "default":
		return PriorityDefault, nil
	case "low":
		return PriorityLow, nil
	default:
		return PriorityDefault, fmt.Errorf("broker: unknown priority %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler for JSON round-trips.
func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(b []byte) error {
	parsed, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Status is the lifecycle state of a task. Transitions are monotonic except
// retrying -> queued (when the backoff delay elapses).
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusRetrying  Status = "retrying"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Task is one unit of background work. The payload is an opaque serialized
// blob; the broker never inspects it.
type Task struct {
	ID          uuid.UUID `json:"id"`
	RoutingKey  string    `json:"routing_key"`
	Payload     []byte    `json:"payload"`
	Priority    Priority  `json:"priority"`
	Status      Status    `json:"status"`
	Queue       string    `json:"queue"`
	Seq         uint64    `json:"seq"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	CreatedAtMs int64     `json:"created_at_ms"`
	UpdatedAtMs int64     `json:"updated_at_ms"`
	LastError   string    `json:"last_error,omitempty"`
	// NextVisibleMs records the delay-index slot while the task is retrying,
	// so cancellation can locate the pending entry.
	NextVisibleMs int64 `json:"next_visible_ms,omitempty"`
	// CancelRequested is the cooperative cancellation flag checked by
	// handlers; it has no effect once a terminal status is reached.
	CancelRequested bool `json:"cancel_requested,omitempty"`
}

// Lease is a worker's exclusive claim on a task during execution. At most one
// valid (non-expired) lease exists per task.
type Lease struct {
	TaskID      uuid.UUID `json:"task_id"`
	WorkerID    string    `json:"worker_id"`
	ExpiresAtMs int64     `json:"expires_at_ms"`
	Attempts    int       `json:"attempts"`
}

// locArea is the lifecycle area a task record currently lives in.
type locArea string

const (
	areaActive locArea = "active"
	areaDone   locArea = "done"
	areaDLQ    locArea = "dlq"
)

// taskLoc is the value of the task_loc/{id} index.
type taskLoc struct {
	Queue string  `json:"queue"`
	Seq   uint64  `json:"seq"`
	Area  locArea `json:"area"`
}
