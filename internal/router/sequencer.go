package router

import "sync"

// Sequencer decides the queue order a worker tries on each claim attempt.
// Normally it yields highest class first. After maxConsecutive claims in a
// row were served from above the lowest class, the next attempt puts the
// lowest class first so sustained high-priority load cannot starve it.
//
// Callers report the outcome of each successful claim via Served; attempts
// that found nothing do not move the counter.
type Sequencer struct {
	mu             sync.Mutex
	queues         []string // highest class first
	maxConsecutive int
	streak         int // consecutive claims served from a non-lowest class
}

// DefaultMaxConsecutive bounds how many higher-class claims may run
// back to back before the lowest class gets a forced turn.
const DefaultMaxConsecutive = 4

// NewSequencer builds a Sequencer over queues ordered highest class first.
func NewSequencer(queues []string, maxConsecutive int) *Sequencer {
	if maxConsecutive <= 0 {
		maxConsecutive = DefaultMaxConsecutive
	}
	qs := make([]string, len(queues))
	copy(qs, queues)
	return &Sequencer{queues: qs, maxConsecutive: maxConsecutive}
}

// Next returns the queue order for the upcoming claim attempt.
func (s *Sequencer) Next() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.queues))
	if s.streak >= s.maxConsecutive && len(s.queues) > 1 {
		// Lowest class jumps the line; the rest keep their order.
		out[0] = s.queues[len(s.queues)-1]
		copy(out[1:], s.queues[:len(s.queues)-1])
		return out
	}
	copy(out, s.queues)
	return out
}

// Served records which queue a claim was actually filled from.
func (s *Sequencer) Served(queue string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queues) > 0 && queue == s.queues[len(s.queues)-1] {
		s.streak = 0
		return
	}
	s.streak++
}
