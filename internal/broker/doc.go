// Package broker implements the durable task queue with lease-based delivery.
//
// Each named queue holds tasks of one priority class. A task is delivered to
// exactly one worker at a time via a time-bounded lease; delivery overall is
// at-least-once, so handlers must be idempotent.
//
// # Keyspace
//
// Per-queue keys live under q/{queue}/:
//
//	meta                       lastSeq(8) | avail(4) | failed(8) | retried(8)
//	task/{seq}                 task record (JSON framed with crc32c)
//	ready/{seq}                FIFO availability index
//	delay/{fire_ms}/{seq}      backoff / delayed visibility index
//	lease/{seq}                lease record (worker id, expiry, attempts)
//	lease_idx/{expires_ms}/{seq} lease expiry index for sweeping
//	dlq/{seq}                  dead-letter records
//	done/{seq}                 succeeded records (retention buffer)
//
// plus a global task_loc/{id} index mapping a task ID to its queue, sequence
// and lifecycle area.
//
// # Task lifecycle
//
//  1. Submit: record written, ready-indexed, loc-indexed
//  2. Claim: FIFO head leased to a worker, attempts incremented
//  3. Ack: record moved to done buffer, lease released
//  4. Fail: retry scheduled with exponential backoff, or dead-lettered when
//     the failure is permanent or attempts are exhausted
//  5. Lease expiry: sweeper returns the task to the ready index at its
//     original sequence, preserving FIFO position
//
// All mutations commit as single Pebble batches under a per-queue lock, so
// concurrent claimers never receive the same task.
package broker
