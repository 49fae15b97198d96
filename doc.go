// Package tunerpc provides a Go client for the tune-sdk CLI's rpc mode.
//
// The client spawns tune-sdk as a child process and speaks JSON-RPC 2.0 over
// its standard input and output, one JSON message per line. It supports
// one-shot calls, long-lived streaming calls delivered in chunks, and calls
// initiated by the child dispatched into locally exported handlers.
//
// # Basic Usage
//
//	client := tunerpc.New(
//	    tunerpc.WithLogger(slog.Default()),
//	)
//	if err := client.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.Call(ctx, "resolve", map[string]any{"name": "assistant"},
//	    func(err error, result any) {
//	        if err != nil {
//	            log.Println("resolve failed:", err)
//	            return
//	        }
//	        fmt.Println(result)
//	    })
//
// # Streaming
//
// Streaming calls deliver partial results as the child produces them. The
// callback fires once per chunk; the chunk with Done set is the last:
//
//	client.Stream(ctx, "generate", params,
//	    func(err error, chunk tunerpc.StreamChunk) {
//	        if err != nil {
//	            return
//	        }
//	        fmt.Print(chunk.Value)
//	        if chunk.Done {
//	            fmt.Println()
//	        }
//	    })
//
// # Exports
//
// The child may call back into the client. Handlers registered at
// construction are advertised to the child via an init notification on
// startup and invoked as calls arrive:
//
//	client := tunerpc.New(
//	    tunerpc.WithExport("read", func(params any) (any, error) {
//	        // resolve a file for the child
//	        return contents, nil
//	    }),
//	)
//
// Handlers run synchronously on the connection's read loop: a slow handler
// delays all further message processing, including responses to the
// client's own outstanding calls.
//
// # Errors
//
// Callers receive call errors exclusively through the callback associated
// with the call. The client itself only errors synchronously from Start
// (binary not found, spawn failure) and from calls issued while the child
// is not running.
package tunerpc
