package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
)

// ListDeadLetters returns up to limit terminally failed tasks for a queue in
// sequence order. A limit <= 0 returns all.
func (b *Broker) ListDeadLetters(_ context.Context, queue string, limit int) ([]*Task, error) {
	if _, ok := b.queue(queue); !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownQueue, queue)
	}
	prefix := dlqPrefix(queue)
	iter, err := b.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var tasks []*Task
	for ok := iter.First(); ok; ok = iter.Next() {
		if t, ok := decodeTask(iter.Value()); ok {
			tasks = append(tasks, t)
		}
		if limit > 0 && len(tasks) >= limit {
			break
		}
	}
	return tasks, nil
}

// RequeueDeadLetter re-submits a dead-lettered task as a fresh attempt at the
// tail of its queue and removes the dead-letter record. The task keeps its
// identifier; the attempt counter resets.
func (b *Broker) RequeueDeadLetter(ctx context.Context, id uuid.UUID, nowMs int64) error {
	if nowMs <= 0 {
		nowMs = time.Now().UnixMilli()
	}
	loc, err := b.getLoc(id)
	if err != nil {
		return err
	}
	if loc.Area != areaDLQ {
		return fmt.Errorf("%w: task %s is not dead-lettered", ErrTaskNotFound, id)
	}
	qs, ok := b.queue(loc.Queue)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownQueue, loc.Queue)
	}

	qs.mu.Lock()
	defer qs.mu.Unlock()

	t, err := b.loadTask(dlqKey(loc.Queue, loc.Seq))
	if err != nil {
		return err
	}

	batch := b.db.NewBatch()
	defer batch.Close()

	qs.lastSeq++
	t.Seq = qs.lastSeq
	t.Status = StatusQueued
	t.Attempts = 0
	t.LastError = ""
	t.CancelRequested = false
	t.UpdatedAtMs = nowMs

	if err := batch.Delete(dlqKey(loc.Queue, loc.Seq), nil); err != nil {
		return err
	}
	if err := b.putTask(batch, taskKey(loc.Queue, t.Seq), t); err != nil {
		return err
	}
	if err := batch.Set(readyKey(loc.Queue, t.Seq), nil, nil); err != nil {
		return err
	}
	if err := b.putLoc(batch, id, taskLoc{Queue: loc.Queue, Seq: t.Seq, Area: areaActive}); err != nil {
		return err
	}

	meta := b.readMeta(loc.Queue)
	meta.lastSeq = qs.lastSeq
	meta.avail++
	if err := batch.Set(metaKey(loc.Queue), encodeMeta(meta), nil); err != nil {
		return err
	}
	return b.db.CommitBatch(ctx, batch)
}

// purgeTerminal deletes done or dead-letter records last updated before
// cutoffMs, together with their location index entries. Returns the number
// purged.
func (b *Broker) purgeTerminal(ctx context.Context, queue string, prefix []byte, cutoffMs int64) (int, error) {
	iter, err := b.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	batch := b.db.NewBatch()
	defer batch.Close()
	purged := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		t, ok := decodeTask(iter.Value())
		if !ok || t.UpdatedAtMs >= cutoffMs {
			continue
		}
		if err := batch.Delete(append([]byte(nil), iter.Key()...), nil); err != nil {
			return purged, err
		}
		if err := batch.Delete(locKey(t.ID.String()), nil); err != nil {
			return purged, err
		}
		purged++
	}
	if purged > 0 {
		if err := b.db.CommitBatch(ctx, batch); err != nil {
			return purged, err
		}
	}
	return purged, nil
}
