package tunerpc

import (
	"context"
	"fmt"
)

// WithClient manages client lifecycle with automatic cleanup.
//
// This helper creates a client, starts it with the provided options,
// executes the callback function, and ensures the child process is
// terminated via Close when done.
//
// If the callback returns an error, it is returned to the caller. A Close
// failure is logged but does not override the callback's error.
//
// Example usage:
//
//	err := tunerpc.WithClient(ctx, func(c *tunerpc.Client) error {
//	    return c.Call(ctx, "resolve", params, func(err error, result any) {
//	        // process result...
//	    })
//	},
//	    tunerpc.WithLogger(log),
//	)
func WithClient(ctx context.Context, fn func(*Client) error, opts ...Option) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	client := New(opts...)
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start client: %w", err)
	}

	defer func() {
		if err := client.Close(); err != nil {
			client.log.Warn("Failed to close client", "error", err)
		}
	}()

	return fn(client)
}
