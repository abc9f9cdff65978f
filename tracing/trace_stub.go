//go:build !trace

package tracing

import "context"

const DefaultFile = "driftwatch.trace"

// Start is a no-op when tracing is disabled.
func Start(string) error {
	return nil
}

// Stop is a no-op when tracing is disabled.
func Stop() {}

// StartTask is a no-op when tracing is disabled.
func StartTask(ctx context.Context, _ string) (context.Context, func()) {
	return ctx, func() {}
}

// StartRegion is a no-op when tracing is disabled.
func StartRegion(context.Context, string) func() {
	return func() {}
}

func Enabled() bool { return false }
