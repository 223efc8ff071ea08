package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/PhoenixWild29/APFA-Prod-sub001/internal/broker"
	pebblestore "github.com/PhoenixWild29/APFA-Prod-sub001/internal/storage/pebble"
)

var testQueues = []string{"high", "default", "low"}

func openTestBroker(t *testing.T, opts broker.Options) *broker.Broker {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	b, err := broker.New(db, testQueues, opts, nil)
	if err != nil {
		t.Fatalf("open broker: %v", err)
	}
	t.Cleanup(b.Close)
	return b
}

func submit(t *testing.T, b *broker.Broker, queue, key string) uuid.UUID {
	t.Helper()
	id, err := b.Submit(context.Background(), &broker.Task{
		RoutingKey: key,
		Payload:    []byte(`{}`),
		Queue:      queue,
	}, 0)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return id
}

func waitStatus(t *testing.T, b *broker.Broker, id uuid.UUID, want broker.Status) *broker.Task {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		task, err := b.Get(context.Background(), id)
		if err == nil && task.Status == want {
			return task
		}
		select {
		case <-deadline:
			t.Fatalf("task %s never reached %s (last: %+v, err: %v)", id, want, task, err)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestPoolExecutesAndAcks(t *testing.T) {
	b := openTestBroker(t, broker.Options{})
	pool := NewPool(b, testQueues, 4, Options{Workers: 2, PollInterval: 10 * time.Millisecond}, nil)

	var ran atomic.Int32
	pool.Register("ingestion", func(ctx context.Context, task *broker.Task) error {
		ran.Add(1)
		return nil
	})
	pool.Start(context.Background())
	defer pool.Stop()

	id := submit(t, b, "default", "ingestion")
	waitStatus(t, b, id, broker.StatusSucceeded)
	if ran.Load() != 1 {
		t.Fatalf("handler ran %d times", ran.Load())
	}
}

func TestPoolRetriesThenSucceeds(t *testing.T) {
	b := openTestBroker(t, broker.Options{BackoffBase: 20 * time.Millisecond, MaxAttempts: 5})
	pool := NewPool(b, testQueues, 4, Options{Workers: 1, PollInterval: 10 * time.Millisecond}, nil)

	var calls atomic.Int32
	pool.Register("ingestion", func(ctx context.Context, task *broker.Task) error {
		if calls.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	})
	pool.Start(context.Background())
	defer pool.Stop()

	id := submit(t, b, "default", "ingestion")
	task := waitStatus(t, b, id, broker.StatusSucceeded)
	if calls.Load() != 2 {
		t.Fatalf("handler ran %d times", calls.Load())
	}
	if task.Attempts != 2 {
		t.Fatalf("attempts: %d", task.Attempts)
	}
}

func TestPoolPermanentErrorDeadLetters(t *testing.T) {
	b := openTestBroker(t, broker.Options{MaxAttempts: 5})
	pool := NewPool(b, testQueues, 4, Options{Workers: 1, PollInterval: 10 * time.Millisecond}, nil)

	pool.Register("ingestion", func(ctx context.Context, task *broker.Task) error {
		return broker.Permanent(errors.New("malformed payload"))
	})
	pool.Start(context.Background())
	defer pool.Stop()

	id := submit(t, b, "default", "ingestion")
	task := waitStatus(t, b, id, broker.StatusFailed)
	if task.Attempts != 1 {
		t.Fatalf("attempts: %d", task.Attempts)
	}
	dlq, err := b.ListDeadLetters(context.Background(), "default", 0)
	if err != nil || len(dlq) != 1 {
		t.Fatalf("dlq: %v %v", dlq, err)
	}
}

func TestPoolPanicIsRetryableFailure(t *testing.T) {
	b := openTestBroker(t, broker.Options{BackoffBase: 20 * time.Millisecond, MaxAttempts: 5})
	pool := NewPool(b, testQueues, 4, Options{Workers: 1, PollInterval: 10 * time.Millisecond}, nil)

	var calls atomic.Int32
	pool.Register("ingestion", func(ctx context.Context, task *broker.Task) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return nil
	})
	pool.Start(context.Background())
	defer pool.Stop()

	id := submit(t, b, "default", "ingestion")
	waitStatus(t, b, id, broker.StatusSucceeded)
	if calls.Load() != 2 {
		t.Fatalf("handler ran %d times", calls.Load())
	}
}

func TestPoolUnregisteredKeyDeadLetters(t *testing.T) {
	b := openTestBroker(t, broker.Options{})
	pool := NewPool(b, testQueues, 4, Options{Workers: 1, PollInterval: 10 * time.Millisecond}, nil)
	pool.Start(context.Background())
	defer pool.Stop()

	id := submit(t, b, "default", "embedding")
	waitStatus(t, b, id, broker.StatusFailed)
}

func TestPoolHighPriorityClaimedFirst(t *testing.T) {
	b := openTestBroker(t, broker.Options{})

	lowID := submit(t, b, "low", "ingestion")
	highID := submit(t, b, "high", "ingestion")

	order := make(chan uuid.UUID, 2)
	pool := NewPool(b, testQueues, 4, Options{Workers: 1, PollInterval: 10 * time.Millisecond}, nil)
	pool.Register("ingestion", func(ctx context.Context, task *broker.Task) error {
		order <- task.ID
		return nil
	})
	pool.Start(context.Background())
	defer pool.Stop()

	first := <-order
	second := <-order
	if first != highID || second != lowID {
		t.Fatalf("execution order: %s then %s", first, second)
	}
}

func TestPoolStartStopReentrant(t *testing.T) {
	b := openTestBroker(t, broker.Options{})
	pool := NewPool(b, testQueues, 4, Options{Workers: 1, PollInterval: 10 * time.Millisecond}, nil)

	pool.Start(context.Background())
	pool.Start(context.Background()) // no-op while running

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Stop()
		}()
	}
	wg.Wait()
	pool.Stop()

	// Restartable after a full stop.
	pool.Start(context.Background())
	pool.Stop()
}

func TestPoolCooperativeCancel(t *testing.T) {
	b := openTestBroker(t, broker.Options{})
	pool := NewPool(b, testQueues, 4, Options{
		Workers:             1,
		PollInterval:        10 * time.Millisecond,
		CancelCheckInterval: 20 * time.Millisecond,
	}, nil)

	started := make(chan struct{})
	pool.Register("ingestion", func(ctx context.Context, task *broker.Task) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	pool.Start(context.Background())
	defer pool.Stop()

	id := submit(t, b, "default", "ingestion")
	<-started
	if err := b.Cancel(context.Background(), id, 0); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitStatus(t, b, id, broker.StatusCancelled)
}
