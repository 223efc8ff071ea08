// Package runtime wires storage, config, the broker and the dispatch
// facade into a single-node instance. It exposes Open/Close, basic health
// checks, and accessors used by the HTTP server and CLI.
//
// Example:
//
//	cfg := config.Default()
//	rt, _ := runtime.Open(runtime.Options{DataDir: "./data", Fsync: pebblestore.FsyncModeAlways, Config: cfg})
//	defer rt.Close()
//	_ = rt.CheckHealth(context.Background())
//	id, _ := rt.Service().Submit(ctx, dispatchsvc.SubmitRequest{RoutingKey: "ingestion", Payload: payload})
package runtime
