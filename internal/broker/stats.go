package broker

import (
	"context"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// QueueStats is a point-in-time snapshot of one queue.
type QueueStats struct {
	Queue        string `json:"queue"`
	Depth        int    `json:"depth"`
	Delayed      int    `json:"delayed"`
	Leases       int    `json:"leases"`
	DeadLettered int    `json:"dead_lettered"`
	FailedTotal  uint64 `json:"failed_total"`
	RetriedTotal uint64 `json:"retried_total"`
}

// Depth returns the number of immediately claimable tasks in a queue.
func (b *Broker) Depth(queue string) (int, error) {
	if _, ok := b.queue(queue); !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownQueue, queue)
	}
	return int(b.readMeta(queue).avail), nil
}

// Stats gathers a snapshot for one queue. Lease, delayed and dead-letter
// counts are prefix scans; depth and counters come from queue metadata.
func (b *Broker) Stats(_ context.Context, queue string) (QueueStats, error) {
	if _, ok := b.queue(queue); !ok {
		return QueueStats{}, fmt.Errorf("%w: %q", ErrUnknownQueue, queue)
	}
	meta := b.readMeta(queue)
	stats := QueueStats{
		Queue:        queue,
		Depth:        int(meta.avail),
		FailedTotal:  meta.failed,
		RetriedTotal: meta.retried,
	}
	var err error
	if stats.Leases, err = b.countPrefix(leasePrefix(queue)); err != nil {
		return stats, err
	}
	if stats.Delayed, err = b.countPrefix(delayPrefix(queue)); err != nil {
		return stats, err
	}
	if stats.DeadLettered, err = b.countPrefix(dlqPrefix(queue)); err != nil {
		return stats, err
	}
	return stats, nil
}

func (b *Broker) countPrefix(prefix []byte) (int, error) {
	iter, err := b.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upperBound(prefix)})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	n := 0
	for ok := iter.First(); ok; ok = iter.Next() {
		n++
	}
	return n, nil
}
