// Package dispatchsvc is the business layer over the broker and router.
// The HTTP controllers and the CLI talk to this facade rather than to the
// storage-backed broker directly.
package dispatchsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/PhoenixWild29/APFA-Prod-sub001/internal/broker"
	"github.com/PhoenixWild29/APFA-Prod-sub001/internal/router"
	"github.com/PhoenixWild29/APFA-Prod-sub001/pkg/log"
)

// Service validates producer requests, routes them to queues and exposes
// lookup, cancellation and operator surfaces.
type Service struct {
	broker *broker.Broker
	router *router.Router
	logger log.Logger
}

// New builds the dispatch service.
func New(b *broker.Broker, r *router.Router, logger log.Logger) *Service {
	if logger == nil {
		logger = log.NewLogger()
	}
	return &Service{broker: b, router: r, logger: logger.WithComponent("dispatch")}
}

// SubmitRequest is a producer's enqueue request.
type SubmitRequest struct {
	RoutingKey string          `json:"routing_key"`
	Payload    json.RawMessage `json:"payload"`
	// Priority is "high", "default" or "low". Empty means default.
	Priority string `json:"priority,omitempty"`
}

// Submit validates, routes and enqueues a task, returning its ID.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (uuid.UUID, error) {
	priority := broker.PriorityDefault
	if req.Priority != "" {
		p, err := broker.ParsePriority(req.Priority)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%w: %v", broker.ErrInvalidPayload, err)
		}
		priority = p
	}
	queue, err := s.router.Route(req.RoutingKey, priority)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := s.broker.Submit(ctx, &broker.Task{
		RoutingKey: req.RoutingKey,
		Payload:    req.Payload,
		Priority:   priority,
		Queue:      queue,
	}, 0)
	if err != nil {
		return uuid.Nil, err
	}
	s.logger.Debug("task submitted",
		log.Str("task", id.String()),
		log.Str("routing_key", req.RoutingKey),
		log.Str("queue", queue))
	return id, nil
}

// Get returns the current record for a task.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*broker.Task, error) {
	return s.broker.Get(ctx, id)
}

// Cancel requests cancellation. Queued and retrying tasks are cancelled
// immediately; running tasks are flagged for cooperative cancellation.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	return s.broker.Cancel(ctx, id, 0)
}

// Stats returns per-queue statistics, highest priority class first.
func (s *Service) Stats(ctx context.Context) ([]broker.QueueStats, error) {
	out := make([]broker.QueueStats, 0, len(s.router.Queues()))
	for _, q := range s.router.Queues() {
		st, err := s.broker.Stats(ctx, q)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// MetricsSnapshot is a point-in-time view of the dispatch gauges and
// counters, keyed for a text exposition or a JSON admin endpoint.
type MetricsSnapshot struct {
	QueueDepth        map[string]int `json:"queue_depth"`
	LeasesActive      map[string]int `json:"leases_active"`
	TasksFailedTotal  uint64         `json:"tasks_failed_total"`
	TasksRetriedTotal uint64         `json:"tasks_retried_total"`
}

// Metrics aggregates queue stats into a metrics snapshot.
func (s *Service) Metrics(ctx context.Context) (MetricsSnapshot, error) {
	snap := MetricsSnapshot{
		QueueDepth:   make(map[string]int),
		LeasesActive: make(map[string]int),
	}
	stats, err := s.Stats(ctx)
	if err != nil {
		return MetricsSnapshot{}, err
	}
	for _, st := range stats {
		snap.QueueDepth[st.Queue] = st.Depth
		snap.LeasesActive[st.Queue] = st.Leases
		snap.TasksFailedTotal += st.FailedTotal
		snap.TasksRetriedTotal += st.RetriedTotal
	}
	return snap, nil
}

// DeadLetters lists dead-lettered tasks for a queue, optionally narrowed by
// a CEL expression over routing_key, attempts, error, age_ms and json.
func (s *Service) DeadLetters(ctx context.Context, queue, filterExpr string, limit int) ([]*broker.Task, error) {
	filter, err := newCELFilter(filterExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid filter: %w", err)
	}
	// Fetch unfiltered, then narrow; the filter cannot be pushed into the
	// prefix scan.
	tasks, err := s.broker.ListDeadLetters(ctx, queue, 0)
	if err != nil {
		return nil, err
	}
	nowMs := time.Now().UnixMilli()
	out := make([]*broker.Task, 0, len(tasks))
	for _, t := range tasks {
		if !filter.Eval(t, nowMs) {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Requeue moves a dead-lettered task back to the tail of its queue with a
// fresh attempt budget.
func (s *Service) Requeue(ctx context.Context, id uuid.UUID) error {
	if err := s.broker.RequeueDeadLetter(ctx, id, 0); err != nil {
		return err
	}
	s.logger.Info("dead-lettered task requeued", log.Str("task", id.String()))
	return nil
}

// Queues returns the queue names the service routes to, by priority class.
func (s *Service) Queues() []string { return s.router.Queues() }

// RoutingKeys returns the registered routing keys.
func (s *Service) RoutingKeys() []string { return s.router.RoutingKeys() }
