package runtime

import (
	"context"
	"errors"

	"github.com/PhoenixWild29/APFA-Prod-sub001/internal/broker"
	cfgpkg "github.com/PhoenixWild29/APFA-Prod-sub001/internal/config"
	"github.com/PhoenixWild29/APFA-Prod-sub001/internal/router"
	dispatchsvc "github.com/PhoenixWild29/APFA-Prod-sub001/internal/services/dispatch"
	pebblestore "github.com/PhoenixWild29/APFA-Prod-sub001/internal/storage/pebble"
	"github.com/PhoenixWild29/APFA-Prod-sub001/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	DataDir string
	Fsync   pebblestore.FsyncMode
	Config  cfgpkg.Config
	Logger  log.Logger
}

// Runtime wires storage, config, broker, router and the dispatch facade for
// a single-node instance.
type Runtime struct {
	db      *pebblestore.DB
	config  cfgpkg.Config
	broker  *broker.Broker
	router  *router.Router
	service *dispatchsvc.Service
}

// Open initializes storage and the dispatch stack and starts the lease
// sweeper.
func Open(opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewLogger()
	}
	db, err := pebblestore.Open(pebblestore.Options{DataDir: opts.DataDir, Fsync: opts.Fsync})
	if err != nil {
		return nil, err
	}
	r := router.New(opts.Config.RoutingKeys)
	b, err := broker.New(db, r.Queues(), broker.Options{
		MaxAttempts:         opts.Config.Broker.MaxAttempts,
		PayloadMaxBytes:     opts.Config.Broker.PayloadMaxBytes,
		BackoffBase:         opts.Config.Broker.BackoffBase.Std(),
		BackoffMax:          opts.Config.Broker.BackoffMax.Std(),
		LeaseDuration:       opts.Config.Broker.LeaseDuration.Std(),
		DoneRetention:       opts.Config.Broker.DoneRetention.Std(),
		DeadLetterRetention: opts.Config.Broker.DeadLetterRetention.Std(),
	}, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	b.StartSweeper(opts.Config.Broker.SweepInterval.Std(), 128)

	return &Runtime{
		db:      db,
		config:  opts.Config,
		broker:  b,
		router:  r,
		service: dispatchsvc.New(b, r, logger),
	}, nil
}

// Close stops the sweeper and closes underlying resources.
func (r *Runtime) Close() error {
	if r.broker != nil {
		r.broker.StopSweeper()
		r.broker.Close()
	}
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// CheckHealth performs a simple storage health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	it.Close()
	return nil
}

// Broker exposes the underlying broker for workers and tests.
func (r *Runtime) Broker() *broker.Broker { return r.broker }

// Router returns the routing table.
func (r *Runtime) Router() *router.Router { return r.router }

// Service returns the dispatch facade used by HTTP and the CLI.
func (r *Runtime) Service() *dispatchsvc.Service { return r.service }

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
