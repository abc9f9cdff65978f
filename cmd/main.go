package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"driftwatch/cli"
	"driftwatch/logger"
	"driftwatch/tracing"
)

func main() {
	os.Exit(run())
}

func run() int {
	if tracing.Enabled() {
		if err := tracing.Start(os.Getenv("DRIFTWATCH_TRACE_FILE")); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start trace: %v\n", err)
		} else {
			defer tracing.Stop()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(ctx, cancel)

	err := cli.NewRootCmd(nil).ExecuteContext(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, cli.ErrCheckFailed):
		// The ERROR report on stdout already carries the reason.
		return 1
	default:
		logger.Errorf("%v", err)
		return 1
	}
}

func handleSignals(ctx context.Context, cancelFunc context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	handleSignalEvent(ctx, cancelFunc, sigChan)
}

func handleSignalEvent(ctx context.Context, cancelFunc context.CancelFunc, sigChan <-chan os.Signal) {
	select {
	case <-sigChan:
		logger.Info("Interrupt signal received. Shutting down...")
		cancelFunc()
	case <-ctx.Done():
	}
}
