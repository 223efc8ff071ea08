package serverrun

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	cfgpkg "github.com/PhoenixWild29/APFA-Prod-sub001/internal/config"
	pebblestore "github.com/PhoenixWild29/APFA-Prod-sub001/internal/storage/pebble"
)

func TestGetenvDefault(t *testing.T) {
	os.Setenv("DISPATCH_TEST_VAR", "env_value")
	t.Cleanup(func() { os.Unsetenv("DISPATCH_TEST_VAR") })

	if got := getenvDefault("DISPATCH_TEST_VAR", "default"); got != "env_value" {
		t.Fatalf("set var: %q", got)
	}
	if got := getenvDefault("DISPATCH_TEST_VAR_UNSET", "default"); got != "default" {
		t.Fatalf("unset var: %q", got)
	}
}

func TestDataDirFallback(t *testing.T) {
	opts := Options{DataDir: ""}
	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}
	if opts.DataDir == "" {
		t.Fatal("DataDir should not be empty after fallback")
	}

	storeDir := filepath.Join(opts.DataDir, "store")
	if filepath.Dir(storeDir) != filepath.Clean(opts.DataDir) {
		t.Fatalf("store dir %q not under data dir %q", storeDir, opts.DataDir)
	}
}

// TestRunIntegration verifies Run starts and shuts down cleanly. Minimal
// since Run binds a real listener.
func TestRunIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	opts := Options{
		DataDir:  t.TempDir(),
		HTTPAddr: ":0",
		Fsync:    pebblestore.FsyncModeNever,
		Config:   cfgpkg.Default(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if err := Run(ctx, opts); err != nil && err != context.DeadlineExceeded && err != context.Canceled {
		t.Fatalf("run: %v", err)
	}
}
