// Package router maps submitted tasks to priority queues and decides the
// order in which workers poll those queues.
//
// Routing is static: each registered routing key names a handler domain
// (ingestion, embedding, notification by default) and each priority class
// owns one queue. The claim-side Sequencer bounds starvation so a steady
// stream of high-priority work cannot shut out lower classes forever.
package router

import (
	"fmt"
	"sort"
	"sync"

	"github.com/PhoenixWild29/APFA-Prod-sub001/internal/broker"
)

// DefaultRoutingKeys are the handler domains registered out of the box.
var DefaultRoutingKeys = []string{"ingestion", "embedding", "notification"}

// Router resolves (routing key, priority) to the queue a task belongs on.
type Router struct {
	mu     sync.RWMutex
	keys   map[string]struct{}
	queues map[broker.Priority]string
}

// New builds a Router for the given routing keys. Queue names follow the
// priority class they serve.
func New(routingKeys []string) *Router {
	r := &Router{
		keys: make(map[string]struct{}, len(routingKeys)),
		queues: map[broker.Priority]string{
			broker.PriorityHigh:    "high",
			broker.PriorityDefault: "default",
			broker.PriorityLow:     "low",
		},
	}
	for _, k := range routingKeys {
		r.keys[k] = struct{}{}
	}
	return r
}

// Register adds a routing key at runtime. Re-registering is a no-op.
func (r *Router) Register(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[key] = struct{}{}
}

// Known reports whether a routing key has been registered.
func (r *Router) Known(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.keys[key]
	return ok
}

// RoutingKeys returns the registered keys in sorted order.
func (r *Router) RoutingKeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.keys))
	for k := range r.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Route resolves the queue for a routing key and priority. Unknown routing
// keys are rejected before anything is persisted.
func (r *Router) Route(routingKey string, p broker.Priority) (string, error) {
	if !r.Known(routingKey) {
		return "", fmt.Errorf("%w: %q", broker.ErrUnknownRoutingKey, routingKey)
	}
	q, ok := r.queues[p]
	if !ok {
		return "", fmt.Errorf("unknown priority %d", p)
	}
	return q, nil
}

// Queues returns every queue the router can target, highest class first.
func (r *Router) Queues() []string {
	out := make([]string, 0, len(broker.Priorities))
	for _, p := range broker.Priorities {
		out = append(out, r.queues[p])
	}
	return out
}

// Queue returns the queue serving a priority class.
func (r *Router) Queue(p broker.Priority) string {
	return r.queues[p]
}
