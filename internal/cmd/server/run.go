package serverrun

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	cfgpkg "github.com/PhoenixWild29/APFA-Prod-sub001/internal/config"
	"github.com/PhoenixWild29/APFA-Prod-sub001/internal/runtime"
	httpserver "github.com/PhoenixWild29/APFA-Prod-sub001/internal/server/http"
	pebblestore "github.com/PhoenixWild29/APFA-Prod-sub001/internal/storage/pebble"
	"github.com/PhoenixWild29/APFA-Prod-sub001/internal/worker"
	logpkg "github.com/PhoenixWild29/APFA-Prod-sub001/pkg/log"
)

func getenvDefault(key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

// small wrapper to allow testing; replaced by os.Getenv at build time
var getenv = func(key string) string { return os.Getenv(key) }

type Options struct {
	DataDir  string
	HTTPAddr string
	Fsync    pebblestore.FsyncMode
	Config   cfgpkg.Config
	// Handlers maps routing keys to executors. When non-empty an in-process
	// worker pool is started alongside the HTTP server.
	Handlers map[string]worker.Handler
}

// Run starts the HTTP server (and worker pool, when handlers are given) and
// blocks until ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	// Be robust to callers that don't pass a signal-aware context; layer a
	// local signal context over the provided one.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.DataDir == "" {
		opts.DataDir = cfgpkg.DefaultDataDir()
	}
	storeDir := filepath.Join(opts.DataDir, "store")

	// Build process-wide logger using env/ApplyConfig; defaults: level=info, format=text
	cfg := &logpkg.Config{
		Level:  getenvDefault("DISPATCH_LOG_LEVEL", "info"),
		Format: getenvDefault("DISPATCH_LOG_FORMAT", "text"),
	}
	procLogger, err := logpkg.ApplyConfig(cfg)
	if err != nil {
		lvl := logpkg.InfoLevel
		if l, e := logpkg.ParseLevel(cfg.Level); e == nil {
			lvl = l
		}
		procLogger = logpkg.NewLogger(logpkg.WithLevel(lvl), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}

	// Redirect stdlib logs (e.g., Pebble) to our logger
	logpkg.RedirectStdLog(procLogger)

	rt, err := runtime.Open(runtime.Options{DataDir: storeDir, Fsync: opts.Fsync, Config: opts.Config, Logger: procLogger})
	if err != nil {
		return err
	}
	defer rt.Close()

	procLogger.Info("Starting dispatch server",
		logpkg.Str("http", opts.HTTPAddr),
		logpkg.Str("data_dir", opts.DataDir),
		logpkg.Str("level", cfg.Level),
		logpkg.Str("format", cfg.Format),
		logpkg.Int("handlers", len(opts.Handlers)),
	)

	hsrv := httpserver.New(rt)

	var pool *worker.Pool
	if len(opts.Handlers) > 0 {
		pool = worker.NewPool(rt.Broker(), rt.Router().Queues(), opts.Config.Worker.MaxConsecutive, worker.Options{
			Workers:      opts.Config.Worker.Workers,
			PollInterval: opts.Config.Worker.PollInterval.Std(),
		}, procLogger)
		for key, h := range opts.Handlers {
			pool.Register(key, h)
		}
		pool.Start(sctx)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, opts.HTTPAddr); err != nil && sctx.Err() == nil {
			log.Printf("http error: %v", err)
		}
	}()

	<-sctx.Done()
	// Drain workers first so in-flight handlers ack before the runtime/DB
	// closes, then shut down the server.
	if pool != nil {
		pool.Stop()
	}
	hsrv.Close()
	wg.Wait()
	return nil
}
