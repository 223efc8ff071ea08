package broker

import (
	"testing"

	"github.com/google/uuid"
)

func TestTaskRecordRoundtrip(t *testing.T) {
	task := &Task{
		ID:         uuid.New(),
		RoutingKey: "ingestion",
		Payload:    []byte(`{"doc":"x"}`),
		Priority:   PriorityHigh,
		Status:     StatusQueued,
		Queue:      "high",
		Seq:        7,
	}
	enc, err := encodeTask(task)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	dec, ok := decodeTask(enc)
	if !ok {
		t.Fatalf("decode failed")
	}
	if dec.ID != task.ID || dec.Seq != 7 || string(dec.Payload) != string(task.Payload) {
		t.Fatalf("mismatch: %+v", dec)
	}
}

func TestTaskRecordCRCFail(t *testing.T) {
	enc, err := encodeTask(&Task{ID: uuid.New(), Payload: []byte("p")})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	enc[0] ^= 0xFF
	if _, ok := decodeTask(enc); ok {
		t.Fatalf("expected crc fail")
	}
}

func TestParsePriority(t *testing.T) {
	cases := map[string]Priority{"high": PriorityHigh, "": PriorityDefault, "Default": PriorityDefault, "low": PriorityLow}
	for in, want := range cases {
		got, err := ParsePriority(in)
		if err != nil || got != want {
			t.Fatalf("parse %q: got %v err %v", in, got, err)
		}
	}
	if _, err := ParsePriority("urgent"); err == nil {
		t.Fatalf("expected error for unknown priority")
	}
}
