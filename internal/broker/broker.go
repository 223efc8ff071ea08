package broker

import (
	"encoding/binary"
	"sort"
	"sync"
	"time"

	pebblestore "github.com/PhoenixWild29/APFA-Prod-sub001/internal/storage/pebble"
	"github.com/PhoenixWild29/APFA-Prod-sub001/pkg/log"
)

// Options configures broker behavior. Zero values fall back to defaults.
type Options struct {
	// MaxAttempts bounds executions per task; once reached, failures
	// dead-letter instead of retrying.
	MaxAttempts int
	// BackoffBase and BackoffMax bound the exponential retry delay.
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// LeaseDuration is the default claim lease.
	LeaseDuration time.Duration
	// PayloadMaxBytes caps submitted payload size.
	PayloadMaxBytes int
	// DoneRetention and DeadLetterRetention bound how long terminal records
	// are kept before the sweeper purges them.
	DoneRetention       time.Duration
	DeadLetterRetention time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 60 * time.Second
	}
	if o.LeaseDuration <= 0 {
		o.LeaseDuration = 30 * time.Second
	}
	if o.PayloadMaxBytes <= 0 {
		o.PayloadMaxBytes = 1 << 20
	}
	if o.DoneRetention <= 0 {
		o.DoneRetention = 24 * time.Hour
	}
	if o.DeadLetterRetention <= 0 {
		o.DeadLetterRetention = 7 * 24 * time.Hour
	}
	return o
}

// Broker owns the durable queue state. All mutation goes through Submit,
// Claim, Ack, Fail, Cancel and ReclaimExpired; each commits as one Pebble
// batch under the owning queue's lock.
type Broker struct {
	db     *pebblestore.DB
	logger log.Logger
	opts   Options

	queues map[string]*queueState

	sweepMu   sync.Mutex
	sweepStop chan struct{}
	sweepWG   sync.WaitGroup
}

// queueState serializes mutations of one queue and caches its sequence.
type queueState struct {
	mu      sync.Mutex
	lastSeq uint64
}

// queueMeta is the decoded per-queue metadata record.
type queueMeta struct {
	lastSeq uint64
	avail   uint32
	failed  uint64
	retried uint64
}

func encodeMeta(m queueMeta) []byte {
	var buf [28]byte
	binary.BigEndian.PutUint64(buf[0:8], m.lastSeq)
	binary.BigEndian.PutUint32(buf[8:12], m.avail)
	binary.BigEndian.PutUint64(buf[12:20], m.failed)
	binary.BigEndian.PutUint64(buf[20:28], m.retried)
	return buf[:]
}

func decodeMeta(b []byte) queueMeta {
	var m queueMeta
	if len(b) >= 8 {
		m.lastSeq = binary.BigEndian.Uint64(b[0:8])
	}
	if len(b) >= 12 {
		m.avail = binary.BigEndian.Uint32(b[8:12])
	}
	if len(b) >= 20 {
		m.failed = binary.BigEndian.Uint64(b[12:20])
	}
	if len(b) >= 28 {
		m.retried = binary.BigEndian.Uint64(b[20:28])
	}
	return m
}

// New opens a broker over db for the given queue names, restoring sequence
// counters from metadata.
func New(db *pebblestore.DB, queueNames []string, opts Options, logger log.Logger) (*Broker, error) {
	if logger == nil {
		logger = log.NewLogger(log.WithLevel(log.InfoLevel))
	}
	b := &Broker{
		db:     db,
		logger: logger.WithComponent("broker"),
		opts:   opts.withDefaults(),
		queues: make(map[string]*queueState, len(queueNames)),
	}
	for _, name := range queueNames {
		qs := &queueState{}
		if meta, err := db.Get(metaKey(name)); err == nil {
			qs.lastSeq = decodeMeta(meta).lastSeq
		}
		b.queues[name] = qs
	}
	return b, nil
}

// Close stops background work. The underlying DB is owned by the caller.
func (b *Broker) Close() {
	b.StopSweeper()
}

// Queues returns the configured queue names in sorted order.
func (b *Broker) Queues() []string {
	names := make([]string, 0, len(b.queues))
	for name := range b.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Options returns the effective broker options.
func (b *Broker) Options() Options { return b.opts }

func (b *Broker) queue(name string) (*queueState, bool) {
	qs, ok := b.queues[name]
	return qs, ok
}

func (b *Broker) readMeta(queue string) queueMeta {
	meta, err := b.db.Get(metaKey(queue))
	if err != nil {
		return queueMeta{}
	}
	return decodeMeta(meta)
}

// backoffDelay computes the retry delay for a task that has executed
// `attempt` times: base * 2^(attempt-1), capped at max. Deterministic so
// retry visibility is predictable.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
