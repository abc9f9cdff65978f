//go:build trace

package tracing

import (
	"context"
	"os"
	"runtime/trace"
)

// DefaultFile receives the runtime trace when Start is given no path.
const DefaultFile = "driftwatch.trace"

var traceFile *os.File

// Start enables runtime tracing and writes trace data to path.
func Start(path string) error {
	if path == "" {
		path = DefaultFile
	}
	var err error
	traceFile, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	return trace.Start(traceFile)
}

// Stop stops runtime tracing and closes the trace file.
func Stop() {
	trace.Stop()
	if traceFile != nil {
		traceFile.Close()
		traceFile = nil
	}
}

// StartTask begins a trace task and returns the derived context and a function
// to end the task.
func StartTask(ctx context.Context, name string) (context.Context, func()) {
	ctx, task := trace.NewTask(ctx, name)
	return ctx, task.End
}

// StartRegion marks the beginning of a region in the trace and returns a
// function that ends the region when invoked.
func StartRegion(ctx context.Context, name string) func() {
	return trace.StartRegion(ctx, name).End
}

// Enabled reports whether this binary was built with tracing support.
func Enabled() bool { return true }
