package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if len(cfg.RoutingKeys) != 3 {
		t.Fatalf("default routing keys: %v", cfg.RoutingKeys)
	}
	if cfg.Broker.MaxAttempts != 5 {
		t.Fatalf("max attempts default")
	}
	if cfg.Broker.LeaseDuration.Std() != 30*time.Second {
		t.Fatalf("lease duration default")
	}
	if cfg.Worker.MaxConsecutive != 4 {
		t.Fatalf("max consecutive default")
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "dispatch.json")
	data := []byte(`{"routingKeys":["ingestion"],"broker":{"maxAttempts":3,"backoffBase":"1s","leaseDuration":"10s"},"worker":{"workers":8}}`)
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.RoutingKeys) != 1 || cfg.RoutingKeys[0] != "ingestion" {
		t.Fatalf("routing keys: %v", cfg.RoutingKeys)
	}
	if cfg.Broker.MaxAttempts != 3 {
		t.Fatalf("max attempts: %d", cfg.Broker.MaxAttempts)
	}
	if cfg.Broker.BackoffBase.Std() != time.Second {
		t.Fatalf("backoff base: %v", cfg.Broker.BackoffBase.Std())
	}
	if cfg.Worker.Workers != 8 {
		t.Fatalf("workers: %d", cfg.Worker.Workers)
	}
	// Fields the file omits keep their defaults.
	if cfg.Broker.BackoffMax.Std() != 60*time.Second {
		t.Fatalf("backoff max lost default: %v", cfg.Broker.BackoffMax.Std())
	}
}

func TestDurationAcceptsBareMilliseconds(t *testing.T) {
	var d Duration
	if err := d.UnmarshalJSON([]byte(`250`)); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Std() != 250*time.Millisecond {
		t.Fatalf("got %v", d.Std())
	}
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	os.Setenv("DISPATCH_ROUTING_KEYS", "ingestion, reindex")
	os.Setenv("DISPATCH_MAX_ATTEMPTS", "7")
	os.Setenv("DISPATCH_LEASE_DURATION", "45s")
	os.Setenv("DISPATCH_WORKERS", "16")
	t.Cleanup(func() {
		os.Unsetenv("DISPATCH_ROUTING_KEYS")
		os.Unsetenv("DISPATCH_MAX_ATTEMPTS")
		os.Unsetenv("DISPATCH_LEASE_DURATION")
		os.Unsetenv("DISPATCH_WORKERS")
	})
	FromEnv(&cfg)
	if len(cfg.RoutingKeys) != 2 || cfg.RoutingKeys[1] != "reindex" {
		t.Fatalf("env routing keys: %v", cfg.RoutingKeys)
	}
	if cfg.Broker.MaxAttempts != 7 {
		t.Fatalf("env max attempts")
	}
	if cfg.Broker.LeaseDuration.Std() != 45*time.Second {
		t.Fatalf("env lease duration")
	}
	if cfg.Worker.Workers != 16 {
		t.Fatalf("env workers")
	}
}
