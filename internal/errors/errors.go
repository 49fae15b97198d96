package errors

import (
	"errors"
	"fmt"
	"strings"
)

// TuneRPCError is the base interface for all errors raised by this module.
type TuneRPCError interface {
	error
	IsTuneRPCError() bool
}

// Compile-time verification that all error types implement TuneRPCError.
var (
	_ TuneRPCError = (*SDKNotFoundError)(nil)
	_ TuneRPCError = (*SpawnError)(nil)
	_ TuneRPCError = (*ProcessExitedError)(nil)
	_ TuneRPCError = (*JSONDecodeError)(nil)
	_ TuneRPCError = (*RemoteError)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrNotRunning indicates a call was attempted while the child process
	// is not running. It is delivered synchronously to the call's callback.
	ErrNotRunning = errors.New("process not running")

	// ErrAlreadyStarted indicates Start was called on a running client.
	ErrAlreadyStarted = errors.New("client already started")

	// ErrClientClosed indicates the client has been closed and cannot be
	// reused. Clients are single-use; create a new one with New().
	ErrClientClosed = errors.New("client closed")

	// ErrTransportNotConnected indicates the transport is not connected.
	ErrTransportNotConnected = errors.New("transport not connected")

	// ErrStdinClosed indicates stdin was closed due to context cancellation.
	ErrStdinClosed = errors.New("stdin closed")
)

// SDKNotFoundError indicates the tune-sdk binary was not found.
type SDKNotFoundError struct {
	SearchedPaths []string
}

func (e *SDKNotFoundError) Error() string {
	var b strings.Builder

	fmt.Fprintf(&b, "tune-sdk not found in: %v\n\n", e.SearchedPaths)
	b.WriteString("Setup instructions:\n")
	b.WriteString("  1. Install tune-sdk: npm install -g tune-sdk\n")
	b.WriteString("  2. Initialize configuration: tune-sdk init\n")
	b.WriteString("  3. Configure API keys in ~/.tune/.env\n")
	b.WriteString("  4. If installed but not found, set TUNE_SDK_PATH to its location")

	return b.String()
}

// IsTuneRPCError implements TuneRPCError.
func (e *SDKNotFoundError) IsTuneRPCError() bool { return true }

// SpawnError indicates the child process could not be started.
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start tune-sdk: %v", e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// IsTuneRPCError implements TuneRPCError.
func (e *SpawnError) IsTuneRPCError() bool { return true }

// ProcessExitedError indicates the child process terminated unexpectedly.
// Stderr carries the buffered error-stream output, which is usually the
// most useful diagnostic for a crashed child.
type ProcessExitedError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessExitedError) Error() string {
	if e.Stderr != "" {
		return e.Stderr
	}

	if e.Err != nil {
		return fmt.Sprintf("process exited (code %d): %v", e.ExitCode, e.Err)
	}

	return "process exited"
}

func (e *ProcessExitedError) Unwrap() error {
	return e.Err
}

// IsTuneRPCError implements TuneRPCError.
func (e *ProcessExitedError) IsTuneRPCError() bool { return true }

// JSONDecodeError indicates a line of child output failed to parse as JSON.
// The line is dropped; this error is only ever logged, never delivered to
// a pending call.
type JSONDecodeError struct {
	RawData string
	Err     error
}

func (e *JSONDecodeError) Error() string {
	return fmt.Sprintf("failed to decode JSON line: %v", e.Err)
}

func (e *JSONDecodeError) Unwrap() error {
	return e.Err
}

// IsTuneRPCError implements TuneRPCError.
func (e *JSONDecodeError) IsTuneRPCError() bool { return true }

// RemoteError carries the error field of a peer response, verbatim.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// IsTuneRPCError implements TuneRPCError.
func (e *RemoteError) IsTuneRPCError() bool { return true }
