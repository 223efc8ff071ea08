package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"

	pebblestore "github.com/PhoenixWild29/APFA-Prod-sub001/internal/storage/pebble"
)

// Submit validates and durably enqueues a task, returning its identifier.
// The caller (normally the router-backed service) must have set Queue,
// RoutingKey and Priority. If nowMs <= 0, time.Now().UnixMilli() is used.
func (b *Broker) Submit(ctx context.Context, t *Task, nowMs int64) (uuid.UUID, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	if len(t.Payload) > b.opts.PayloadMaxBytes {
		return uuid.Nil, fmt.Errorf("%w: payload size %d (max %d)", ErrInvalidPayload, len(t.Payload), b.opts.PayloadMaxBytes)
	}
	qs, ok := b.queue(t.Queue)
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrUnknownQueue, t.Queue)
	}

	qs.mu.Lock()
	defer qs.mu.Unlock()

	batch := b.db.NewBatch()
	defer batch.Close()

	qs.lastSeq++
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.Seq = qs.lastSeq
	t.Status = StatusQueued
	if t.MaxAttempts <= 0 {
		t.MaxAttempts = b.opts.MaxAttempts
	}
	t.CreatedAtMs = nowMs
	t.UpdatedAtMs = nowMs

	if err := b.putTask(batch, taskKey(t.Queue, t.Seq), t); err != nil {
		return uuid.Nil, err
	}
	if err := batch.Set(readyKey(t.Queue, t.Seq), nil, nil); err != nil {
		return uuid.Nil, err
	}
	if err := b.putLoc(batch, t.ID, taskLoc{Queue: t.Queue, Seq: t.Seq, Area: areaActive}); err != nil {
		return uuid.Nil, err
	}

	meta := b.readMeta(t.Queue)
	meta.lastSeq = qs.lastSeq
	meta.avail++
	if err := batch.Set(metaKey(t.Queue), encodeMeta(meta), nil); err != nil {
		return uuid.Nil, err
	}

	if err := b.db.CommitBatch(ctx, batch); err != nil {
		return uuid.Nil, err
	}
	return t.ID, nil
}

// Claim atomically removes the FIFO head of the named queue under a lease for
// workerID. Returns nil when the queue is empty. Safe under concurrent
// callers: the per-queue lock plus single-batch commit guarantee no two
// callers receive the same task.
func (b *Broker) Claim(ctx context.Context, queue, workerID string, nowMs int64) (*Task, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	qs, ok := b.queue(queue)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownQueue, queue)
	}

	qs.mu.Lock()
	defer qs.mu.Unlock()

	// Make due retries visible before claiming.
	if err := b.promoteDue(ctx, queue, nowMs, 64); err != nil {
		return nil, err
	}

	prefix := readyPrefix(queue)
	iter, err := b.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	batch := b.db.NewBatch()
	defer batch.Close()

	for ok := iter.First(); ok; ok = iter.Next() {
		seq := seqFromKey(iter.Key())
		t, err := b.loadTask(taskKey(queue, seq))
		if err != nil {
			// Orphan index entry; drop it and keep scanning.
			_ = batch.Delete(append([]byte(nil), iter.Key()...), nil)
			continue
		}

		t.Attempts++
		t.Status = StatusRunning
		t.UpdatedAtMs = nowMs
		if err := b.putTask(batch, taskKey(queue, seq), t); err != nil {
			return nil, err
		}

		lease := Lease{TaskID: t.ID, WorkerID: workerID, ExpiresAtMs: nowMs + b.opts.LeaseDuration.Milliseconds(), Attempts: t.Attempts}
		if err := b.putLease(batch, queue, seq, lease); err != nil {
			return nil, err
		}
		if err := batch.Set(leaseIdxKey(queue, lease.ExpiresAtMs, seq), nil, nil); err != nil {
			return nil, err
		}
		if err := batch.Delete(append([]byte(nil), iter.Key()...), nil); err != nil {
			return nil, err
		}

		meta := b.readMeta(queue)
		if meta.avail > 0 {
			meta.avail--
		}
		if err := batch.Set(metaKey(queue), encodeMeta(meta), nil); err != nil {
			return nil, err
		}
		if err := b.db.CommitBatch(ctx, batch); err != nil {
			return nil, err
		}
		return t, nil
	}

	// Nothing claimable; still commit any orphan cleanup.
	if !batch.Empty() {
		_ = b.db.CommitBatch(ctx, batch)
	}
	return nil, nil
}

// promoteDue moves retrying tasks whose backoff has elapsed into the ready
// index. Caller must hold the queue lock.
func (b *Broker) promoteDue(ctx context.Context, queue string, nowMs int64, max int) error {
	prefix := delayPrefix(queue)
	iter, err := b.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return err
	}
	defer iter.Close()

	batch := b.db.NewBatch()
	defer batch.Close()
	promoted := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		key := iter.Key()
		if len(key) < len(prefix)+16 {
			continue
		}
		fire := int64(seqFromKey(key[:len(key)-8])) // fire_ms is the first 8-byte suffix
		if fire > nowMs {
			break
		}
		seq := seqFromKey(key)
		if t, err := b.loadTask(taskKey(queue, seq)); err == nil {
			t.Status = StatusQueued
			t.NextVisibleMs = 0
			t.UpdatedAtMs = nowMs
			if err := b.putTask(batch, taskKey(queue, seq), t); err != nil {
				return err
			}
			if err := batch.Set(readyKey(queue, seq), nil, nil); err != nil {
				return err
			}
			promoted++
		}
		if err := batch.Delete(append([]byte(nil), key...), nil); err != nil {
			return err
		}
		if max > 0 && promoted >= max {
			break
		}
	}
	if promoted > 0 {
		meta := b.readMeta(queue)
		meta.avail += uint32(promoted)
		if err := batch.Set(metaKey(queue), encodeMeta(meta), nil); err != nil {
			return err
		}
	}
	if !batch.Empty() {
		return b.db.CommitBatch(ctx, batch)
	}
	return nil
}

// Ack marks the task succeeded, releases its lease and moves the record into
// the done buffer.
func (b *Broker) Ack(ctx context.Context, id uuid.UUID, nowMs int64) error {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	loc, err := b.getLoc(id)
	if err != nil {
		return err
	}
	if loc.Area != areaActive {
		return fmt.Errorf("%w: task %s is %s", ErrNoLease, id, loc.Area)
	}
	qs, ok := b.queue(loc.Queue)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownQueue, loc.Queue)
	}

	qs.mu.Lock()
	defer qs.mu.Unlock()

	lease, err := b.getLease(loc.Queue, loc.Seq)
	if err != nil {
		return fmt.Errorf("%w: task %s", ErrNoLease, id)
	}
	t, err := b.loadTask(taskKey(loc.Queue, loc.Seq))
	if err != nil {
		return err
	}

	t.Status = StatusSucceeded
	t.UpdatedAtMs = nowMs

	batch := b.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(leaseKey(loc.Queue, loc.Seq), nil); err != nil {
		return err
	}
	if err := batch.Delete(leaseIdxKey(loc.Queue, lease.ExpiresAtMs, loc.Seq), nil); err != nil {
		return err
	}
	if err := batch.Delete(taskKey(loc.Queue, loc.Seq), nil); err != nil {
		return err
	}
	if err := b.putTask(batch, doneKey(loc.Queue, loc.Seq), t); err != nil {
		return err
	}
	if err := b.putLoc(batch, id, taskLoc{Queue: loc.Queue, Seq: loc.Seq, Area: areaDone}); err != nil {
		return err
	}
	return b.db.CommitBatch(ctx, batch)
}

// FinishCancelled is the worker's acknowledgement of a cooperative cancel:
// the handler has stopped, the lease is released and the task moves to the
// done buffer as cancelled. Requires an active lease, like Ack.
func (b *Broker) FinishCancelled(ctx context.Context, id uuid.UUID, nowMs int64) error {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	loc, err := b.getLoc(id)
	if err != nil {
		return err
	}
	if loc.Area != areaActive {
		return fmt.Errorf("%w: task %s is %s", ErrNoLease, id, loc.Area)
	}
	qs, ok := b.queue(loc.Queue)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownQueue, loc.Queue)
	}

	qs.mu.Lock()
	defer qs.mu.Unlock()

	lease, err := b.getLease(loc.Queue, loc.Seq)
	if err != nil {
		return fmt.Errorf("%w: task %s", ErrNoLease, id)
	}
	t, err := b.loadTask(taskKey(loc.Queue, loc.Seq))
	if err != nil {
		return err
	}

	t.Status = StatusCancelled
	t.UpdatedAtMs = nowMs

	batch := b.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(leaseKey(loc.Queue, loc.Seq), nil); err != nil {
		return err
	}
	if err := batch.Delete(leaseIdxKey(loc.Queue, lease.ExpiresAtMs, loc.Seq), nil); err != nil {
		return err
	}
	if err := batch.Delete(taskKey(loc.Queue, loc.Seq), nil); err != nil {
		return err
	}
	if err := b.putTask(batch, doneKey(loc.Queue, loc.Seq), t); err != nil {
		return err
	}
	if err := b.putLoc(batch, id, taskLoc{Queue: loc.Queue, Seq: loc.Seq, Area: areaDone}); err != nil {
		return err
	}
	return b.db.CommitBatch(ctx, batch)
}

// Fail releases the lease and either schedules a retry with exponential
// backoff or, when permanent or attempts are exhausted, dead-letters the
// task terminally.
func (b *Broker) Fail(ctx context.Context, id uuid.UUID, taskErr string, permanent bool, nowMs int64) error {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	loc, err := b.getLoc(id)
	if err != nil {
		return err
	}
	if loc.Area != areaActive {
		return fmt.Errorf("%w: task %s is %s", ErrNoLease, id, loc.Area)
	}
	qs, ok := b.queue(loc.Queue)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownQueue, loc.Queue)
	}

	qs.mu.Lock()
	defer qs.mu.Unlock()

	lease, err := b.getLease(loc.Queue, loc.Seq)
	if err != nil {
		return fmt.Errorf("%w: task %s", ErrNoLease, id)
	}
	t, err := b.loadTask(taskKey(loc.Queue, loc.Seq))
	if err != nil {
		return err
	}

	batch := b.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(leaseKey(loc.Queue, loc.Seq), nil); err != nil {
		return err
	}
	if err := batch.Delete(leaseIdxKey(loc.Queue, lease.ExpiresAtMs, loc.Seq), nil); err != nil {
		return err
	}

	t.LastError = taskErr
	t.UpdatedAtMs = nowMs
	meta := b.readMeta(loc.Queue)

	if permanent || t.Attempts >= t.MaxAttempts {
		t.Status = StatusFailed
		if err := batch.Delete(taskKey(loc.Queue, loc.Seq), nil); err != nil {
			return err
		}
		if err := b.putTask(batch, dlqKey(loc.Queue, loc.Seq), t); err != nil {
			return err
		}
		if err := b.putLoc(batch, id, taskLoc{Queue: loc.Queue, Seq: loc.Seq, Area: areaDLQ}); err != nil {
			return err
		}
		meta.failed++
	} else {
		delay := backoffDelay(t.Attempts, b.opts.BackoffBase, b.opts.BackoffMax)
		t.Status = StatusRetrying
		t.NextVisibleMs = nowMs + delay.Milliseconds()
		if err := b.putTask(batch, taskKey(loc.Queue, loc.Seq), t); err != nil {
			return err
		}
		if err := batch.Set(delayKey(loc.Queue, t.NextVisibleMs, loc.Seq), nil, nil); err != nil {
			return err
		}
		meta.retried++
	}

	if err := batch.Set(metaKey(loc.Queue), encodeMeta(meta), nil); err != nil {
		return err
	}
	return b.db.CommitBatch(ctx, batch)
}

// ReclaimExpired returns tasks whose lease expired without ack or fail back
// to their queue at the original sequence, preserving FIFO position. Tasks
// whose attempt budget is already spent are dead-lettered instead, so a
// crash-looping worker cannot push Attempts past MaxAttempts. Returns the
// number of expired leases processed.
func (b *Broker) ReclaimExpired(ctx context.Context, nowMs int64, max int) (int, error) {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	reclaimed := 0
	for _, queue := range b.Queues() {
		n, err := b.reclaimQueue(ctx, queue, nowMs, max-reclaimed)
		if err != nil {
			return reclaimed, err
		}
		reclaimed += n
		if max > 0 && reclaimed >= max {
			break
		}
	}
	return reclaimed, nil
}

func (b *Broker) reclaimQueue(ctx context.Context, queue string, nowMs int64, max int) (int, error) {
	qs, ok := b.queue(queue)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownQueue, queue)
	}
	qs.mu.Lock()
	defer qs.mu.Unlock()

	prefix := leaseIdxPrefix(queue)
	iter, err := b.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	batch := b.db.NewBatch()
	defer batch.Close()
	reclaimed := 0
	requeued := 0
	deadLettered := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		key := iter.Key()
		if len(key) < len(prefix)+16 {
			continue
		}
		exp := int64(seqFromKey(key[:len(key)-8]))
		if exp > nowMs {
			break
		}
		seq := seqFromKey(key)
		if err := batch.Delete(append([]byte(nil), key...), nil); err != nil {
			return reclaimed, err
		}
		if err := batch.Delete(leaseKey(queue, seq), nil); err != nil {
			return reclaimed, err
		}
		t, err := b.loadTask(taskKey(queue, seq))
		if err != nil {
			// Lease index outlived the record (ack raced the sweep); index
			// cleanup above is all that is needed.
			continue
		}
		t.UpdatedAtMs = nowMs
		if t.Attempts >= t.MaxAttempts {
			// The final attempt's lease expired without an ack or fail. The
			// attempt budget is spent; dead-letter instead of handing the
			// task to yet another worker.
			t.Status = StatusFailed
			if t.LastError == "" {
				t.LastError = "lease expired on final attempt"
			}
			if err := batch.Delete(taskKey(queue, seq), nil); err != nil {
				return reclaimed, err
			}
			if err := b.putTask(batch, dlqKey(queue, seq), t); err != nil {
				return reclaimed, err
			}
			if err := b.putLoc(batch, t.ID, taskLoc{Queue: queue, Seq: seq, Area: areaDLQ}); err != nil {
				return reclaimed, err
			}
			deadLettered++
		} else {
			t.Status = StatusQueued
			if err := b.putTask(batch, taskKey(queue, seq), t); err != nil {
				return reclaimed, err
			}
			if err := batch.Set(readyKey(queue, seq), nil, nil); err != nil {
				return reclaimed, err
			}
			requeued++
		}
		reclaimed++
		if max > 0 && reclaimed >= max {
			break
		}
	}
	if requeued > 0 || deadLettered > 0 {
		meta := b.readMeta(queue)
		meta.avail += uint32(requeued)
		meta.failed += uint64(deadLettered)
		if err := batch.Set(metaKey(queue), encodeMeta(meta), nil); err != nil {
			return reclaimed, err
		}
	}
	if !batch.Empty() {
		if err := b.db.CommitBatch(ctx, batch); err != nil {
			return reclaimed, err
		}
	}
	return reclaimed, nil
}

// Cancel cancels a task. Queued and retrying tasks are cancelled immediately;
// running tasks only get the cooperative flag set, which handlers are
// expected to poll. Terminal tasks return ErrNotCancellable.
func (b *Broker) Cancel(ctx context.Context, id uuid.UUID, nowMs int64) error {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	loc, err := b.getLoc(id)
	if err != nil {
		return err
	}
	if loc.Area != areaActive {
		return fmt.Errorf("%w: task %s is %s", ErrNotCancellable, id, loc.Area)
	}
	qs, ok := b.queue(loc.Queue)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownQueue, loc.Queue)
	}

	qs.mu.Lock()
	defer qs.mu.Unlock()

	t, err := b.loadTask(taskKey(loc.Queue, loc.Seq))
	if err != nil {
		return err
	}

	batch := b.db.NewBatch()
	defer batch.Close()
	meta := b.readMeta(loc.Queue)

	switch t.Status {
	case StatusQueued:
		if err := batch.Delete(readyKey(loc.Queue, loc.Seq), nil); err != nil {
			return err
		}
		if meta.avail > 0 {
			meta.avail--
		}
	case StatusRetrying:
		if err := batch.Delete(delayKey(loc.Queue, t.NextVisibleMs, loc.Seq), nil); err != nil {
			return err
		}
	case StatusRunning:
		// Cooperative: flag only, the worker decides when to stop.
		t.CancelRequested = true
		t.UpdatedAtMs = nowMs
		if err := b.putTask(batch, taskKey(loc.Queue, loc.Seq), t); err != nil {
			return err
		}
		return b.db.CommitBatch(ctx, batch)
	default:
		return fmt.Errorf("%w: task %s is %s", ErrNotCancellable, id, t.Status)
	}

	t.Status = StatusCancelled
	t.UpdatedAtMs = nowMs
	if err := batch.Delete(taskKey(loc.Queue, loc.Seq), nil); err != nil {
		return err
	}
	if err := b.putTask(batch, doneKey(loc.Queue, loc.Seq), t); err != nil {
		return err
	}
	if err := b.putLoc(batch, id, taskLoc{Queue: loc.Queue, Seq: loc.Seq, Area: areaDone}); err != nil {
		return err
	}
	if err := batch.Set(metaKey(loc.Queue), encodeMeta(meta), nil); err != nil {
		return err
	}
	return b.db.CommitBatch(ctx, batch)
}

// CancelRequested reports whether cooperative cancellation was requested for
// an in-flight task.
func (b *Broker) CancelRequested(id uuid.UUID) bool {
	loc, err := b.getLoc(id)
	if err != nil || loc.Area != areaActive {
		return false
	}
	t, err := b.loadTask(taskKey(loc.Queue, loc.Seq))
	if err != nil {
		return false
	}
	return t.CancelRequested
}

// Get returns the current record for a task in any lifecycle area.
func (b *Broker) Get(_ context.Context, id uuid.UUID) (*Task, error) {
	loc, err := b.getLoc(id)
	if err != nil {
		return nil, err
	}
	var key []byte
	switch loc.Area {
	case areaDone:
		key = doneKey(loc.Queue, loc.Seq)
	case areaDLQ:
		key = dlqKey(loc.Queue, loc.Seq)
	default:
		key = taskKey(loc.Queue, loc.Seq)
	}
	return b.loadTask(key)
}

// --- record helpers ---

func (b *Broker) putTask(batch *pebble.Batch, key []byte, t *Task) error {
	enc, err := encodeTask(t)
	if err != nil {
		return err
	}
	return batch.Set(key, enc, nil)
}

func (b *Broker) loadTask(key []byte) (*Task, error) {
	val, err := b.db.Get(key)
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	t, ok := decodeTask(val)
	if !ok {
		return nil, fmt.Errorf("broker: corrupt task record at %q", key)
	}
	return t, nil
}

func (b *Broker) putLease(batch *pebble.Batch, queue string, seq uint64, lease Lease) error {
	val, err := json.Marshal(lease)
	if err != nil {
		return err
	}
	return batch.Set(leaseKey(queue, seq), val, nil)
}

func (b *Broker) getLease(queue string, seq uint64) (Lease, error) {
	val, err := b.db.Get(leaseKey(queue, seq))
	if err != nil {
		return Lease{}, err
	}
	var lease Lease
	if err := json.Unmarshal(val, &lease); err != nil {
		return Lease{}, err
	}
	return lease, nil
}

func (b *Broker) putLoc(batch *pebble.Batch, id uuid.UUID, loc taskLoc) error {
	val, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	return batch.Set(locKey(id.String()), val, nil)
}

func (b *Broker) getLoc(id uuid.UUID) (taskLoc, error) {
	val, err := b.db.Get(locKey(id.String()))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return taskLoc{}, ErrTaskNotFound
		}
		return taskLoc{}, err
	}
	var loc taskLoc
	if err := json.Unmarshal(val, &loc); err != nil {
		return taskLoc{}, err
	}
	return loc, nil
}
