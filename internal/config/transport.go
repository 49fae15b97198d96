package config

import "context"

// Transport defines the interface for communicating with the tune-sdk child
// process. Implement this to provide custom transports for testing, mocking,
// or alternative communication methods.
//
// The default implementation spawns a subprocess and speaks newline-delimited
// JSON over its stdio.
type Transport interface {
	// Start spawns the child process and prepares the transport for
	// communication. It must be called before any other method.
	Start(ctx context.Context) error

	// ReadMessages returns channels for receiving messages and errors.
	// The message channel yields parsed JSON objects, one per line of
	// child stdout. The error channel yields decode errors (recoverable,
	// reading continues) and the terminal process-exit error. Both
	// channels are closed when the child's stdout closes.
	ReadMessages(ctx context.Context) (<-chan map[string]any, <-chan error)

	// SendMessage writes one JSON message to the child's stdin.
	// A newline is appended if missing. Safe for concurrent use; whole
	// lines are never interleaved.
	SendMessage(ctx context.Context, data []byte) error

	// IsRunning reports whether the child process is alive.
	IsRunning() bool

	// Close terminates the child process: graceful signal first, forced
	// kill after a short grace period. Safe to call multiple times.
	Close() error
}
