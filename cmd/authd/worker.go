package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/infodancer/authd/internal/config"
	"github.com/infodancer/authd/internal/logging"
	"github.com/infodancer/authd/internal/passdb"
	"github.com/infodancer/authd/internal/worker"
)

// workerServerFDEnv names the environment variable internal/worker.Pool
// sets on every spawned subprocess (spec.md §6: "Workers additionally
// inherit WORKER_SERVER_FD").
const workerServerFDEnv = "WORKER_SERVER_FD"

// runWorker is the worker-mode entry point (spec.md §4.5, §6 "-w"):
// build the chain of blocking passdb backends from the same
// configuration file the daemon used, then serve worker-protocol frames
// off the inherited socket until it closes.
func runWorker(flags *config.Flags) {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "worker: error loading config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel)

	chain, err := buildBlockingChain(cfg)
	if err != nil {
		logger.Error("worker: failed to build passdb chain", "error", err)
		os.Exit(1)
	}
	defer func() {
		for i := len(chain) - 1; i >= 0; i-- {
			chain[i].Deinit()
		}
	}()

	conn, err := workerConn()
	if err != nil {
		logger.Error("worker: cannot open inherited socket", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	srv := worker.NewServer(chain, logger)
	if err := srv.Serve(context.Background(), conn); err != nil {
		logger.Debug("worker: serve returned", "error", err)
	}
}

// buildBlockingChain preinits and inits only the backends whose
// Blocking() is true; the daemon process already handles non-blocking
// backends inline (internal/runtime.splitByBlocking). Backend names are
// resolved via passdb.New against whatever backend packages
// internal/runtime blank-imports, the same registry the daemon process
// itself resolves configured backends against.
func buildBlockingChain(cfg config.Config) (passdb.Chain, error) {
	chain := make(passdb.Chain, 0, len(cfg.Passdbs))
	for _, pc := range cfg.Passdbs {
		db, ok := passdb.New(pc.Backend)
		if !ok {
			return nil, fmt.Errorf("worker: unknown passdb backend %q", pc.Backend)
		}
		if !db.Blocking() {
			continue
		}
		if err := db.Preinit(pc.Args); err != nil {
			return nil, fmt.Errorf("worker: preinit %q: %w", pc.Backend, err)
		}
		if err := db.Init(); err != nil {
			return nil, fmt.Errorf("worker: init %q: %w", pc.Backend, err)
		}
		chain = append(chain, db)
	}
	return chain, nil
}

// workerConn wraps the fd named by WORKER_SERVER_FD as a net.Conn.
func workerConn() (net.Conn, error) {
	fdStr := os.Getenv(workerServerFDEnv)
	if fdStr == "" {
		return nil, fmt.Errorf("%s not set", workerServerFDEnv)
	}
	fd, err := strconv.Atoi(fdStr)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", workerServerFDEnv, fdStr, err)
	}
	f := os.NewFile(uintptr(fd), "authd-worker-server")
	conn, err := net.FileConn(f)
	if err != nil {
		return nil, fmt.Errorf("net.FileConn: %w", err)
	}
	f.Close() // net.FileConn dup'd the fd; close our handle
	return conn, nil
}
