package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ExtendLease pushes out the lease expiry for an in-flight task by the
// broker's lease duration. Used by worker heartbeats while a handler runs.
func (b *Broker) ExtendLease(ctx context.Context, id uuid.UUID, nowMs int64) error {
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
	if lease.ExpiresAtMs <= nowMs {
		// Expired leases are the sweeper's to reclaim; extending one would
		// resurrect a claim another worker may already hold.
		return fmt.Errorf("%w: lease for task %s expired at %d", ErrNoLease, id, lease.ExpiresAtMs)
	}

	batch := b.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(leaseIdxKey(loc.Queue, lease.ExpiresAtMs, loc.Seq), nil); err != nil {
		return err
	}
	lease.ExpiresAtMs = nowMs + b.opts.LeaseDuration.Milliseconds()
	if err := b.putLease(batch, loc.Queue, loc.Seq, lease); err != nil {
		return err
	}
	if err := batch.Set(leaseIdxKey(loc.Queue, lease.ExpiresAtMs, loc.Seq), nil, nil); err != nil {
		return err
	}
	return b.db.CommitBatch(ctx, batch)
}
