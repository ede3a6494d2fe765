// Package runtime wires every other internal package into the running
// daemon: privilege drop, passdb chain, worker pool, failure-delay queue,
// listener set, and metrics, in the startup/shutdown order
// original_source/src/auth/main.c's main_init()/main_deinit() establish.
package runtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/infodancer/authd/internal/authcore"
	"github.com/infodancer/authd/internal/config"
	"github.com/infodancer/authd/internal/listener"
	"github.com/infodancer/authd/internal/master"
	"github.com/infodancer/authd/internal/metrics"
	"github.com/infodancer/authd/internal/passdb"
	"github.com/infodancer/authd/internal/privilege"
	"github.com/infodancer/authd/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
)

// Runtime is the top-level standalone-mode daemon: everything started by
// main_init() in original_source and torn down by main_deinit(), minus
// the signal plumbing which cmd/authd owns directly.
type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	manager *privilege.Manager
	inline  passdb.Chain // inline backends Init'd by this process; Deinit mirrors this set
	pool    *worker.Pool // nil if no blocking backend is configured
	failq   *authcore.FailureDelayQueue
	set     *listener.Set
	metrics metrics.Collector

	metricsSrv metrics.Server
}

// Options configures how New locates the worker subprocess entry point.
type Options struct {
	// ExecPath is the path to this binary, re-invoked in worker mode.
	ExecPath string
	// WorkerArgs is appended after ExecPath when spawning a worker, e.g.
	// []string{"-w", "-config", cfg.Path}.
	WorkerArgs []string
}

// New runs the privileged startup sequence (spec.md §4.1 phases c-f, with
// the logger built by the caller beforehand; there is no separate
// random-source step) and returns a Runtime ready to Run. Every phase before privilege
// drop may require root; New returns with no code path requiring root
// thereafter.
func New(cfg config.Config, logger *slog.Logger, opts Options) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}

	manager := privilege.NewManager(cfg, logger)

	chain, err := manager.PreinitPassdbs()
	if err != nil {
		return nil, fmt.Errorf("runtime: preinit passdbs: %w", err)
	}

	if err := manager.InitSchemeRegistry(); err != nil {
		return nil, fmt.Errorf("runtime: init scheme registry: %w", err)
	}

	if err := manager.CreateListeners(); err != nil {
		return nil, fmt.Errorf("runtime: create listeners: %w", err)
	}

	if err := manager.RestrictAccess(); err != nil {
		return nil, fmt.Errorf("runtime: restrict access: %w", err)
	}

	inline, blocking := splitByBlocking(chain)
	for _, db := range inline {
		if err := db.Init(); err != nil {
			return nil, fmt.Errorf("runtime: init passdb %q: %w", db.Name(), err)
		}
	}

	var pool *worker.Pool
	if len(blocking) > 0 && cfg.Worker.Count > 0 {
		pool, err = worker.NewPool(opts.ExecPath, opts.WorkerArgs, cfg.Worker.Count, cfg.Worker.MaxPending, logger)
		if err != nil {
			return nil, fmt.Errorf("runtime: start worker pool: %w", err)
		}
	}

	failq := authcore.NewFailureDelayQueue(cfg.FailureDelay.Duration())

	var disp poolDispatcher
	if pool != nil {
		disp = pool
	}
	d := newDispatcher(inline, disp)

	collector := metrics.Collector(&metrics.NoopCollector{})
	var metricsSrv metrics.Server
	if cfg.Metrics.Enabled {
		collector = metrics.NewPrometheusCollector(prometheus.DefaultRegisterer)
		metricsSrv = metrics.NewPrometheusServer(cfg.Metrics.Address, cfg.Metrics.Path)
	}

	endpoints := make([]listener.Endpoint, 0, len(manager.Listeners))
	for _, l := range manager.Listeners {
		endpoints = append(endpoints, listener.Endpoint{Kind: l.Kind, Path: l.Path, Ln: l.Ln})
	}

	set := listener.NewSet(listener.Config{
		Endpoints:        endpoints,
		ClientDispatcher: d,
		MasterDispatcher: d,
		FailureDelay:     failq,
		RequestTimeout:   cfg.Worker.RequestTimeoutDuration(),
		Inactivity:       cfg.Timeouts.InactivityTimeout(),
		MaxConnections:   0,
		Metrics:          collector,
		Logger:           logger,
	})

	return &Runtime{
		cfg:        cfg,
		logger:     logger,
		manager:    manager,
		inline:     inline,
		pool:       pool,
		failq:      failq,
		set:        set,
		metrics:    collector,
		metricsSrv: metricsSrv,
	}, nil
}

// Run blocks, serving connections until ctx is cancelled.
func (r *Runtime) Run(ctx context.Context) error {
	if r.metricsSrv != nil {
		go func() {
			if err := r.metricsSrv.Start(ctx); err != nil && err != context.Canceled {
				r.logger.Error("metrics server error", "error", err)
			}
		}()
	}

	r.logger.Info("authd started", "listeners", len(r.manager.Listeners))
	err := r.set.Run(ctx)
	if err == context.Canceled {
		return nil
	}
	return err
}

// Close tears down the runtime, mirroring original_source's
// main_deinit(): stop the failure-delay queue (pending FAIL replies are
// dropped, not sent), stop the worker pool, unlink listener sockets, then
// deinit every passdb in reverse init order.
func (r *Runtime) Close(ctx context.Context) {
	r.failq.Close()

	if r.pool != nil {
		r.pool.Close()
	}

	r.manager.Cleanup(ctx)

	for i := len(r.inline) - 1; i >= 0; i-- {
		if err := r.inline[i].Deinit(); err != nil {
			r.logger.Warn("passdb deinit failed", "backend", r.inline[i].Name(), "error", err)
		}
	}
}

var _ master.Dispatcher = (*dispatcher)(nil)
var _ authcore.Dispatcher = (*dispatcher)(nil)
