package broker

import (
	"context"
	"math/rand"
	"time"

	"github.com/PhoenixWild29/APFA-Prod-sub001/pkg/log"
)

// StartSweeper runs the background maintenance loop: reclaiming expired
// leases every interval and purging terminal records past retention. A small
// jitter is added to the interval so multiple instances do not sweep in
// lockstep.
func (b *Broker) StartSweeper(interval time.Duration, maxPerTick int) {
	b.sweepMu.Lock()
	defer b.sweepMu.Unlock()
	if b.sweepStop != nil {
		return
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if maxPerTick <= 0 {
		maxPerTick = 1024
	}
	stop := make(chan struct{})
	b.sweepStop = stop
	b.sweepWG.Add(1)
	go func() {
		defer b.sweepWG.Done()
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		lastPurge := time.Now()
		for {
			select {
			case <-stop:
				return
			case <-time.After(interval + time.Duration(rng.Int63n(int64(interval/10+1)))):
				nowMs := time.Now().UnixMilli()
				if n, err := b.ReclaimExpired(context.Background(), nowMs, maxPerTick); err != nil {
					b.logger.Error("lease reclaim failed", log.Err(err))
				} else if n > 0 {
					b.logger.Info("reclaimed expired leases", log.Int("count", n))
				}
				// Retention purges are cheap but not free; run them once a
				// minute rather than every tick.
				if time.Since(lastPurge) >= time.Minute {
					lastPurge = time.Now()
					b.purgeRetention(nowMs)
				}
			}
		}
	}()
}

// StopSweeper stops the background sweeper. Safe to call more than once and
// from concurrent goroutines.
func (b *Broker) StopSweeper() {
	b.sweepMu.Lock()
	stop := b.sweepStop
	b.sweepStop = nil
	b.sweepMu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	b.sweepWG.Wait()
}

func (b *Broker) purgeRetention(nowMs int64) {
	ctx := context.Background()
	doneCutoff := nowMs - b.opts.DoneRetention.Milliseconds()
	dlqCutoff := nowMs - b.opts.DeadLetterRetention.Milliseconds()
	for _, queue := range b.Queues() {
		if n, err := b.purgeTerminal(ctx, queue, donePrefix(queue), doneCutoff); err != nil {
			b.logger.Error("done purge failed", log.Str("queue", queue), log.Err(err))
		} else if n > 0 {
			b.logger.Debug("purged succeeded records", log.Str("queue", queue), log.Int("count", n))
		}
		if n, err := b.purgeTerminal(ctx, queue, dlqPrefix(queue), dlqCutoff); err != nil {
			b.logger.Error("dead-letter purge failed", log.Str("queue", queue), log.Err(err))
		} else if n > 0 {
			b.logger.Debug("purged dead-letter records", log.Str("queue", queue), log.Int("count", n))
		}
	}
}
