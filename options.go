package tunerpc

import (
	"log/slog"

	"github.com/iovdin/tune-rpc-go/internal/config"
)

// Option configures a Client using the functional options pattern.
type Option func(*clientOptions)

// clientOptions collects everything a Client needs before Start.
type clientOptions struct {
	config.Options

	exports   map[string]Handler
	transport config.Transport
}

// applyOptions applies functional options to a fresh clientOptions.
func applyOptions(opts []Option) *clientOptions {
	options := &clientOptions{
		exports: make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(options)
	}

	return options
}

// WithLogger sets the logger for debug output.
// If not set, logging is disabled (silent operation).
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		o.Logger = logger
	}
}

// WithSDKPath sets the explicit path to the tune-sdk binary.
// If not set, the binary is discovered via the TUNE_SDK_PATH environment
// variable, the system PATH, and common install locations.
func WithSDKPath(path string) Option {
	return func(o *clientOptions) {
		o.SDKPath = path
	}
}

// WithTunePath sets the template search path passed to the child as --path.
// If not set, the TUNE_PATH environment variable is used when present.
func WithTunePath(path string) Option {
	return func(o *clientOptions) {
		o.TunePath = path
	}
}

// WithCwd sets the working directory for the child process.
func WithCwd(cwd string) Option {
	return func(o *clientOptions) {
		o.Cwd = cwd
	}
}

// WithEnv provides additional environment variables for the child process.
func WithEnv(env map[string]string) Option {
	return func(o *clientOptions) {
		o.Env = env
	}
}

// WithStderr sets a callback receiving each line of the child's stderr as
// it arrives. Lines are buffered for error reporting regardless.
func WithStderr(fn func(line string)) Option {
	return func(o *clientOptions) {
		o.Stderr = fn
	}
}

// WithExport registers a handler the child process may call. Exports are
// fixed at construction; the set of names is advertised to the child via
// an init notification when the client starts.
func WithExport(method string, handler Handler) Option {
	return func(o *clientOptions) {
		o.exports[method] = handler
	}
}

// WithExports registers several handlers at once.
func WithExports(exports map[string]Handler) Option {
	return func(o *clientOptions) {
		for method, handler := range exports {
			o.exports[method] = handler
		}
	}
}

// WithTransport injects a custom transport, bypassing subprocess spawning.
// Intended for testing and alternative communication methods.
func WithTransport(transport config.Transport) Option {
	return func(o *clientOptions) {
		o.transport = transport
	}
}
