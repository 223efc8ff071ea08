package router

import (
	"errors"
	"testing"

	"github.com/PhoenixWild29/APFA-Prod-sub001/internal/broker"
)

func TestRouteByPriority(t *testing.T) {
	r := New(DefaultRoutingKeys)
	cases := []struct {
		priority broker.Priority
		queue    string
	}{
		{broker.PriorityHigh, "high"},
		{broker.PriorityDefault, "default"},
		{broker.PriorityLow, "low"},
	}
	for _, tc := range cases {
		q, err := r.Route("ingestion", tc.priority)
		if err != nil {
			t.Fatalf("route %s: %v", tc.priority, err)
		}
		if q != tc.queue {
			t.Fatalf("route %s: got %q want %q", tc.priority, q, tc.queue)
		}
	}
}

func TestRouteUnknownKey(t *testing.T) {
	r := New(DefaultRoutingKeys)
	_, err := r.Route("no-such-key", broker.PriorityDefault)
	if !errors.Is(err, broker.ErrUnknownRoutingKey) {
		t.Fatalf("got %v, want ErrUnknownRoutingKey", err)
	}

	r.Register("no-such-key")
	if _, err := r.Route("no-such-key", broker.PriorityDefault); err != nil {
		t.Fatalf("route after register: %v", err)
	}
}

func TestQueuesHighestFirst(t *testing.T) {
	r := New(DefaultRoutingKeys)
	got := r.Queues()
	want := []string{"high", "default", "low"}
	if len(got) != len(want) {
		t.Fatalf("queues: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("queues: got %v want %v", got, want)
		}
	}
}

func TestSequencerPrefersHighestClass(t *testing.T) {
	s := NewSequencer([]string{"high", "default", "low"}, 4)
	order := s.Next()
	if order[0] != "high" || order[2] != "low" {
		t.Fatalf("order: %v", order)
	}
}

func TestSequencerForcesLowestAfterStreak(t *testing.T) {
	s := NewSequencer([]string{"high", "low"}, 2)

	for i := 0; i < 2; i++ {
		if order := s.Next(); order[0] != "high" {
			t.Fatalf("attempt %d: order %v", i, order)
		}
		s.Served("high")
	}
	// Streak hit the bound; the next attempt must try low first.
	order := s.Next()
	if order[0] != "low" {
		t.Fatalf("expected forced low, got %v", order)
	}
	s.Served("low")

	// Serving the lowest class resets the streak.
	if order := s.Next(); order[0] != "high" {
		t.Fatalf("expected high after reset, got %v", order)
	}
}

// Three high and three low tasks with a bound of two: a low task must be
// served within the first three claims.
func TestSequencerBoundedStarvationScenario(t *testing.T) {
	pending := map[string]int{"high": 3, "low": 3}
	s := NewSequencer([]string{"high", "low"}, 2)

	var served []string
	for len(served) < 6 {
		for _, q := range s.Next() {
			if pending[q] == 0 {
				continue
			}
			pending[q]--
			served = append(served, q)
			s.Served(q)
			break
		}
	}

	lowAt := -1
	for i, q := range served {
		if q == "low" {
			lowAt = i
			break
		}
	}
	if lowAt < 0 || lowAt > 2 {
		t.Fatalf("low first served at claim %d, order %v", lowAt+1, served)
	}
}

func TestSequencerEmptyQueueDoesNotAdvanceStreak(t *testing.T) {
	s := NewSequencer([]string{"high", "low"}, 1)
	// No Served calls: attempts that found nothing leave the order alone.
	for i := 0; i < 5; i++ {
		if order := s.Next(); order[0] != "high" {
			t.Fatalf("attempt %d: order %v", i, order)
		}
	}
}
