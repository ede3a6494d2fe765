// Command authd is the standalone authentication daemon (spec.md §6):
// invoked with no flags it runs the privileged startup sequence and
// serves client/master connections until SIGINT/SIGTERM; invoked with
// -w it instead runs as a worker subprocess (see worker.go).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/infodancer/authd/internal/config"
	"github.com/infodancer/authd/internal/logging"
	"github.com/infodancer/authd/internal/runtime"
)

func main() {
	flags := config.ParseFlags()

	if flags.Worker {
		runWorker(flags)
		return
	}

	cfg, err := config.LoadWithFlags(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel)

	execPath, err := os.Executable()
	if err != nil {
		logger.Error("cannot resolve own executable path", "error", err)
		os.Exit(1)
	}

	rt, err := runtime.New(cfg, logger, runtime.Options{
		ExecPath:   execPath,
		WorkerArgs: []string{"-w", "-config", flags.ConfigPath},
	})
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	runErr := rt.Run(ctx)
	cancel()
	rt.Close(context.Background())

	if runErr != nil {
		logger.Error("authd exited with error", "error", runErr)
		os.Exit(1)
	}
	logger.Info("authd stopped")
}
