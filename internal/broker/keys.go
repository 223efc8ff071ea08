package broker

import (
	"encoding/binary"
	"fmt"
)

// Key prefixes for broker data structures.
const (
	prefixTask     = "task/"      // Task records
	prefixReady    = "ready/"     // FIFO availability index
	prefixDelay    = "delay/"     // Delayed visibility index (backoff)
	prefixLease    = "lease/"     // Active leases
	prefixLeaseIdx = "lease_idx/" // Lease expiry index
	prefixDLQ      = "dlq/"       // Dead-letter records
	prefixDone     = "done/"      // Succeeded records (retention buffer)
)

// queuePrefix returns the base prefix for a queue.
// Format: q/{queue}/
func queuePrefix(queue string) string {
	return fmt.Sprintf("q/%s/", queue)
}

// metaKey returns the metadata key for a queue.
// Format: q/{queue}/meta
func metaKey(queue string) []byte {
	return []byte(queuePrefix(queue) + "meta")
}

// taskKey returns the task record key.
// Format: q/{queue}/task/{seq}
func taskKey(queue string, seq uint64) []byte {
	return seqSuffixed(queuePrefix(queue)+prefixTask, seq)
}

// readyKey returns the FIFO availability index key. Sequences sort big-endian
// so iteration order is submission order.
// Format: q/{queue}/ready/{seq}
func readyKey(queue string, seq uint64) []byte {
	return seqSuffixed(queuePrefix(queue)+prefixReady, seq)
}

// delayKey returns the delayed visibility index key.
// Format: q/{queue}/delay/{fire_ms}/{seq}
func delayKey(queue string, fireMs int64, seq uint64) []byte {
	prefix := queuePrefix(queue) + prefixDelay
	key := make([]byte, len(prefix)+8+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(fireMs))
	binary.BigEndian.PutUint64(key[len(prefix)+8:], seq)
	return key
}

// leaseKey returns the lease record key.
// Format: q/{queue}/lease/{seq}
func leaseKey(queue string, seq uint64) []byte {
	return seqSuffixed(queuePrefix(queue)+prefixLease, seq)
}

// leaseIdxKey returns the lease expiry index key.
// Format: q/{queue}/lease_idx/{expires_ms}/{seq}
func leaseIdxKey(queue string, expiresMs int64, seq uint64) []byte {
	prefix := queuePrefix(queue) + prefixLeaseIdx
	key := make([]byte, len(prefix)+8+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], uint64(expiresMs))
	binary.BigEndian.PutUint64(key[len(prefix)+8:], seq)
	return key
}

// dlqKey returns the dead-letter record key.
// Format: q/{queue}/dlq/{seq}
func dlqKey(queue string, seq uint64) []byte {
	return seqSuffixed(queuePrefix(queue)+prefixDLQ, seq)
}

// doneKey returns the succeeded-record key.
// Format: q/{queue}/done/{seq}
func doneKey(queue string, seq uint64) []byte {
	return seqSuffixed(queuePrefix(queue)+prefixDone, seq)
}

// locKey returns the global task location index key.
// Format: task_loc/{id}
func locKey(id string) []byte {
	return []byte("task_loc/" + id)
}

// readyPrefix returns the scan prefix for the availability index.
func readyPrefix(queue string) []byte {
	return []byte(queuePrefix(queue) + prefixReady)
}

// delayPrefix returns the scan prefix for the delayed index.
func delayPrefix(queue string) []byte {
	return []byte(queuePrefix(queue) + prefixDelay)
}

// leasePrefix returns the scan prefix for lease records.
func leasePrefix(queue string) []byte {
	return []byte(queuePrefix(queue) + prefixLease)
}

// leaseIdxPrefix returns the scan prefix for the lease expiry index.
func leaseIdxPrefix(queue string) []byte {
	return []byte(queuePrefix(queue) + prefixLeaseIdx)
}

// dlqPrefix returns the scan prefix for dead-letter records.
func dlqPrefix(queue string) []byte {
	return []byte(queuePrefix(queue) + prefixDLQ)
}

// donePrefix returns the scan prefix for succeeded records.
func donePrefix(queue string) []byte {
	return []byte(queuePrefix(queue) + prefixDone)
}

// seqSuffixed appends a big-endian sequence to a string prefix.
func seqSuffixed(prefix string, seq uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

// upperBound returns the exclusive upper bound for scanning a prefix.
func upperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix)+1)
	copy(end, prefix)
	end[len(prefix)] = 0xFF
	return end
}

// seqFromKey extracts the trailing big-endian sequence from an index key.
func seqFromKey(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key[len(key)-8:])
}
