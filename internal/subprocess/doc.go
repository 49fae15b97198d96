// Package subprocess provides the child-process transport for tune-sdk.
//
// This package implements the Transport interface by spawning tune-sdk in
// rpc mode and exchanging newline-delimited JSON over its stdin/stdout.
// It handles process lifecycle, line buffering, stderr diagnostics, and
// graceful shutdown.
package subprocess
