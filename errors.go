package tunerpc

import "github.com/iovdin/tune-rpc-go/internal/errors"

// Re-export error types from the internal package

// SDKNotFoundError indicates the tune-sdk binary was not found.
type SDKNotFoundError = errors.SDKNotFoundError

// SpawnError indicates the child process could not be started.
type SpawnError = errors.SpawnError

// ProcessExitedError indicates the child process terminated unexpectedly.
type ProcessExitedError = errors.ProcessExitedError

// JSONDecodeError indicates a line of child output failed to parse as JSON.
type JSONDecodeError = errors.JSONDecodeError

// RemoteError carries the error field of a peer response, verbatim.
type RemoteError = errors.RemoteError

// TuneRPCError is the base interface for all errors raised by this module.
type TuneRPCError = errors.TuneRPCError

// Re-export sentinel errors from the internal package.
var (
	// ErrNotRunning indicates a call was attempted while the child process
	// is not running.
	ErrNotRunning = errors.ErrNotRunning

	// ErrAlreadyStarted indicates Start was called on a running client.
	ErrAlreadyStarted = errors.ErrAlreadyStarted

	// ErrClientClosed indicates the client has been closed and cannot be
	// reused.
	ErrClientClosed = errors.ErrClientClosed

	// ErrTransportNotConnected indicates the transport is not connected.
	ErrTransportNotConnected = errors.ErrTransportNotConnected
)
