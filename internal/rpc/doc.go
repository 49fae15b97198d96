// Package rpc implements the JSON-RPC 2.0 connection to the tune-sdk child
// process.
//
// The package provides a Conn that manages request/response correlation for
// calls sent to the child, streaming responses delivered in multiple chunks,
// and calls initiated by the child dispatched into locally exported handlers.
//
// The Conn handles:
//   - Allocating unique, strictly increasing correlation ids
//   - Routing responses to one-shot and streaming callbacks
//   - Invoking exported handlers for inbound calls and replying with the
//     result or error
//   - Rejecting all pending calls when the child exits unexpectedly
//
// Example usage:
//
//	transport := subprocess.New(log, options)
//	transport.Start(ctx)
//
//	conn := rpc.NewConn(log, transport, exports)
//	conn.Start(ctx)
//
//	conn.Call(ctx, "resolve", params, func(err error, result any) { ... })
package rpc
