package runtime

import (
	"context"
	"testing"

	cfgpkg "github.com/PhoenixWild29/APFA-Prod-sub001/internal/config"
	dispatchsvc "github.com/PhoenixWild29/APFA-Prod-sub001/internal/services/dispatch"
	pebblestore "github.com/PhoenixWild29/APFA-Prod-sub001/internal/storage/pebble"
)

func TestOpenCloseHealth(t *testing.T) {
	dir := t.TempDir()
	rt, err := Open(Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways, Config: cfgpkg.Default()})
	if err != nil {
		t.Fatalf("open runtime: %v", err)
	}
	defer rt.Close()
	if err := rt.CheckHealth(context.Background()); err != nil {
		t.Fatalf("health: %v", err)
	}
}

func TestSubmitThroughFacade(t *testing.T) {
	dir := t.TempDir()
	rt, err := Open(Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways, Config: cfgpkg.Default()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()

	ctx := context.Background()
	id, err := rt.Service().Submit(ctx, dispatchsvc.SubmitRequest{RoutingKey: "ingestion", Payload: []byte(`{"doc":1}`)})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	task, err := rt.Service().Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if task.Queue != "default" {
		t.Fatalf("queue: %q", task.Queue)
	}
	if depth, _ := rt.Broker().Depth("default"); depth != 1 {
		t.Fatalf("depth: %d", depth)
	}
}
