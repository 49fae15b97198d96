// Package errors defines the error types used throughout the SDK.
//
// All module errors implement the TuneRPCError interface, which allows
// callers to distinguish SDK errors from other errors. Typed errors carry
// condition-specific context (searched paths, buffered stderr, raw data)
// and support errors.As/errors.Is through Unwrap.
package errors
