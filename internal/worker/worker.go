// Package worker runs task handlers against the broker. A Pool claims
// leased tasks in priority order, executes the handler registered for
// each task's routing key, and acks or fails the result. Delivery is
// at-least-once: a worker crash leaves the lease to expire and the task
// is re-delivered, so handlers must be idempotent.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/PhoenixWild29/APFA-Prod-sub001/internal/broker"
	"github.com/PhoenixWild29/APFA-Prod-sub001/internal/router"
	"github.com/PhoenixWild29/APFA-Prod-sub001/pkg/log"
)

// Handler executes one task. Returning nil acks the task. A non-nil error
// schedules a retry unless it is wrapped with broker.Permanent, which
// dead-letters immediately. Handlers must honor ctx cancellation: the pool
// cancels it when a cooperative cancel is requested or the pool shuts down.
type Handler func(ctx context.Context, task *broker.Task) error

// Options tunes a Pool.
type Options struct {
	// Workers is the number of concurrent executors. Default 4.
	Workers int
	// PollInterval is the sleep between claim attempts when every queue is
	// empty. Default 250ms.
	PollInterval time.Duration
	// HeartbeatInterval is how often an executing worker extends its lease.
	// Should be well under the broker lease duration. Default 10s.
	HeartbeatInterval time.Duration
	// CancelCheckInterval is how often an executing task's cancel flag is
	// polled. Default 1s.
	CancelCheckInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 250 * time.Millisecond
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 10 * time.Second
	}
	if o.CancelCheckInterval <= 0 {
		o.CancelCheckInterval = time.Second
	}
	return o
}

// Pool owns a set of worker goroutines sharing one handler registry and
// one claim sequencer.
type Pool struct {
	broker *broker.Broker
	seq    *router.Sequencer
	opts   Options
	logger log.Logger

	mu       sync.RWMutex
	handlers map[string]Handler

	stop    context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewPool builds a Pool. queues must be ordered highest priority class
// first; maxConsecutive bounds starvation of the lowest class.
func NewPool(b *broker.Broker, queues []string, maxConsecutive int, opts Options, logger log.Logger) *Pool {
	if logger == nil {
		logger = log.NewLogger()
	}
	return &Pool{
		broker:   b,
		seq:      router.NewSequencer(queues, maxConsecutive),
		opts:     opts.withDefaults(),
		logger:   logger.WithComponent("worker"),
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a routing key. Must be called before Start.
func (p *Pool) Register(routingKey string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[routingKey] = h
}

func (p *Pool) handler(routingKey string) (Handler, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.handlers[routingKey]
	return h, ok
}

// Start launches the worker goroutines. It returns immediately; call Stop
// to drain. Starting an already-running pool is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	ctx, p.stop = context.WithCancel(ctx)
	for i := 0; i < p.opts.Workers; i++ {
		workerID := fmt.Sprintf("w-%d", i)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx, workerID)
		}()
	}
	p.mu.Unlock()
	p.logger.Info("worker pool started", log.Int("workers", p.opts.Workers))
}

// Stop cancels all workers and waits for in-flight handlers to return.
// Safe to call more than once and from concurrent goroutines.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	stop := p.stop
	p.mu.Unlock()
	stop()
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) run(ctx context.Context, workerID string) {
	for {
		if ctx.Err() != nil {
			return
		}
		task := p.claimNext(ctx, workerID)
		if task == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.opts.PollInterval):
			}
			continue
		}
		p.execute(ctx, workerID, task)
	}
}

// claimNext tries each queue in the sequencer's order and returns the first
// claimed task, or nil when everything is empty.
func (p *Pool) claimNext(ctx context.Context, workerID string) *broker.Task {
	for _, queue := range p.seq.Next() {
		task, err := p.broker.Claim(ctx, queue, workerID, 0)
		if err != nil {
			p.logger.Error("claim failed", log.Str("queue", queue), log.Err(err))
			return nil
		}
		if task != nil {
			p.seq.Served(queue)
			return task
		}
	}
	return nil
}

func (p *Pool) execute(ctx context.Context, workerID string, task *broker.Task) {
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Heartbeat and cancel-flag watcher for the duration of the handler.
	watchDone := make(chan struct{})
	go p.watch(taskCtx, cancel, task, watchDone)

	err := p.invoke(taskCtx, task)
	cancel()
	<-watchDone

	nowMs := time.Now().UnixMilli()
	if p.broker.CancelRequested(task.ID) {
		// A cancel arrived while the handler ran. Work that still finished
		// cleanly is acked; an interrupted handler is finalized as cancelled.
		if err == nil {
			if ackErr := p.broker.Ack(ctx, task.ID, nowMs); ackErr != nil {
				p.logger.Error("ack after cancel failed", log.Str("task", task.ID.String()), log.Err(ackErr))
			}
			return
		}
		if cancelErr := p.broker.FinishCancelled(ctx, task.ID, nowMs); cancelErr != nil {
			p.logger.Error("cancel finalize failed", log.Str("task", task.ID.String()), log.Err(cancelErr))
		}
		return
	}

	if err == nil {
		if ackErr := p.broker.Ack(ctx, task.ID, nowMs); ackErr != nil {
			p.logger.Error("ack failed", log.Str("task", task.ID.String()), log.Err(ackErr))
		}
		return
	}

	permanent := broker.IsPermanent(err)
	p.logger.Warn("task failed",
		log.Str("task", task.ID.String()),
		log.Str("routing_key", task.RoutingKey),
		log.Int("attempt", task.Attempts),
		log.Bool("permanent", permanent),
		log.Err(err))
	if failErr := p.broker.Fail(ctx, task.ID, err.Error(), permanent, nowMs); failErr != nil {
		p.logger.Error("fail report failed", log.Str("task", task.ID.String()), log.Err(failErr))
	}
}

// invoke runs the handler with panic recovery. A panicking handler counts
// as a retryable failure.
func (p *Pool) invoke(ctx context.Context, task *broker.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("handler panicked",
				log.Str("task", task.ID.String()),
				log.Str("routing_key", task.RoutingKey),
				log.Str("stack", string(debug.Stack())))
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	h, ok := p.handler(task.RoutingKey)
	if !ok {
		// No handler registered is not the task's fault; dead-letter it so
		// an operator can requeue once the handler ships.
		return broker.Permanent(fmt.Errorf("no handler for routing key %q", task.RoutingKey))
	}
	return h(ctx, task)
}

// watch extends the lease on a heartbeat cadence and cancels the task ctx
// when a cooperative cancel arrives. Closes done on exit.
func (p *Pool) watch(ctx context.Context, cancel context.CancelFunc, task *broker.Task, done chan<- struct{}) {
	defer close(done)
	heartbeat := time.NewTicker(p.opts.HeartbeatInterval)
	defer heartbeat.Stop()
	cancelCheck := time.NewTicker(p.opts.CancelCheckInterval)
	defer cancelCheck.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := p.broker.ExtendLease(ctx, task.ID, 0); err != nil {
				// Lost the lease; stop the handler, the task will be
				// re-delivered elsewhere.
				p.logger.Warn("lease lost", log.Str("task", task.ID.String()), log.Err(err))
				cancel()
				return
			}
		case <-cancelCheck.C:
			if p.broker.CancelRequested(task.ID) {
				cancel()
				return
			}
		}
	}
}
