package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iovdin/tune-rpc-go/internal/errors"
)

// mockTransport implements Transport for testing.
type mockTransport struct {
	mu       sync.Mutex
	running  bool
	messages [][]byte
	msgChan  chan map[string]any
	errChan  chan error
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		running:  true,
		messages: make([][]byte, 0, 10),
		msgChan:  make(chan map[string]any, 10),
		errChan:  make(chan error, 1),
	}
}

func (m *mockTransport) ReadMessages(_ context.Context) (<-chan map[string]any, <-chan error) {
	return m.msgChan, m.errChan
}

func (m *mockTransport) SendMessage(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = append(m.messages, data)

	return nil
}

func (m *mockTransport) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.running
}

func (m *mockTransport) setRunning(running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.running = running
}

func (m *mockTransport) getMessages() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([][]byte, len(m.messages))
	copy(result, m.messages)

	return result
}

func (m *mockTransport) sendToConn(msg map[string]any) {
	m.msgChan <- msg
}

// exit simulates an unexpected child death: terminal error, then EOF.
func (m *mockTransport) exit(err error) {
	if err != nil {
		m.errChan <- err
	}

	close(m.errChan)
	close(m.msgChan)
}

func sentRequests(t *testing.T, transport *mockTransport) []map[string]any {
	t.Helper()

	raw := transport.getMessages()
	out := make([]map[string]any, 0, len(raw))

	for _, data := range raw {
		var msg map[string]any

		require.NoError(t, json.Unmarshal(data, &msg))
		out = append(out, msg)
	}

	return out
}

func waitLen(t *testing.T, counter func() int, want int) {
	t.Helper()

	require.Eventually(t, func() bool {
		return counter() == want
	}, time.Second, time.Millisecond)
}

func TestConn_IDsStrictlyIncreasing(t *testing.T) {
	transport := newMockTransport()
	conn := NewConn(slog.Default(), transport, nil)

	ctx := context.Background()

	const n = 20
	for i := 0; i < n; i++ {
		require.NoError(t, conn.Call(ctx, "echo", nil, func(error, any) {}))
	}

	sent := sentRequests(t, transport)
	require.Len(t, sent, n)

	prev := int64(0)
	for _, msg := range sent {
		id := int64(msg["id"].(float64))
		require.Greater(t, id, prev, "ids must be strictly increasing")
		prev = id
	}

	require.EqualValues(t, 1, int64(sent[0]["id"].(float64)), "first id is 1")
}

func TestConn_OneShotExactlyOnce(t *testing.T) {
	transport := newMockTransport()
	conn := NewConn(slog.Default(), transport, nil)

	ctx := context.Background()
	conn.Start(ctx)

	var mu sync.Mutex

	calls := 0

	var gotErr error

	var gotResult any

	require.NoError(t, conn.Call(ctx, "echo", map[string]any{"a": 1}, func(err error, result any) {
		mu.Lock()
		defer mu.Unlock()

		calls++
		gotErr = err
		gotResult = result
	}))

	resp := map[string]any{"id": float64(1), "result": map[string]any{"a": float64(1)}}
	transport.sendToConn(resp)
	// Re-delivering the same response must have no further effect
	transport.sendToConn(resp)
	transport.sendToConn(map[string]any{"id": float64(1), "error": map[string]any{"message": "late"}})

	waitLen(t, func() int { mu.Lock(); defer mu.Unlock(); return calls }, 1)

	// Give the loop a chance to misbehave before checking
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	require.Equal(t, 1, calls)
	require.NoError(t, gotErr)
	require.Equal(t, map[string]any{"a": float64(1)}, gotResult)
}

func TestConn_StreamingTermination(t *testing.T) {
	transport := newMockTransport()
	conn := NewConn(slog.Default(), transport, nil)

	ctx := context.Background()
	conn.Start(ctx)

	var mu sync.Mutex

	var chunks []StreamChunk

	require.NoError(t, conn.Stream(ctx, "generate", "prompt", func(err error, chunk StreamChunk) {
		require.NoError(t, err)

		mu.Lock()
		defer mu.Unlock()

		chunks = append(chunks, chunk)
	}))

	sent := sentRequests(t, transport)
	require.Len(t, sent, 1)
	require.Equal(t, true, sent[0]["stream"])

	transport.sendToConn(map[string]any{"id": float64(1), "result": "hel", "done": false})
	transport.sendToConn(map[string]any{"id": float64(1), "result": "lo", "done": false})
	transport.sendToConn(map[string]any{"id": float64(1), "result": "", "done": true})
	// After done=true the entry is gone; this must be ignored
	transport.sendToConn(map[string]any{"id": float64(1), "result": "late", "done": false})

	waitLen(t, func() int { mu.Lock(); defer mu.Unlock(); return len(chunks) }, 3)
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, chunks, 3)
	assert.Equal(t, StreamChunk{Value: "hel", Done: false}, chunks[0])
	assert.Equal(t, StreamChunk{Value: "lo", Done: false}, chunks[1])
	assert.Equal(t, StreamChunk{Value: "", Done: true}, chunks[2])
}

func TestConn_NotRunningRejection(t *testing.T) {
	transport := newMockTransport()
	transport.setRunning(false)

	conn := NewConn(slog.Default(), transport, nil)

	ctx := context.Background()

	invoked := false

	err := conn.Call(ctx, "echo", nil, func(err error, result any) {
		// Must run synchronously, before Call returns
		invoked = true

		require.ErrorIs(t, err, errors.ErrNotRunning)
		require.Nil(t, result)
	})

	require.ErrorIs(t, err, errors.ErrNotRunning)
	require.True(t, invoked)
	require.Empty(t, transport.getMessages(), "no write may occur")

	streamInvoked := false

	err = conn.Stream(ctx, "generate", nil, func(err error, chunk StreamChunk) {
		streamInvoked = true

		require.ErrorIs(t, err, errors.ErrNotRunning)
		require.True(t, chunk.Done)
	})

	require.ErrorIs(t, err, errors.ErrNotRunning)
	require.True(t, streamInvoked)

	// Rejected calls consume no ids: the first real call gets id 1
	transport.setRunning(true)
	require.NoError(t, conn.Call(ctx, "echo", nil, nil))

	sent := sentRequests(t, transport)
	require.Len(t, sent, 1)
	require.EqualValues(t, 1, int64(sent[0]["id"].(float64)))
}

func TestConn_ExitCascade(t *testing.T) {
	transport := newMockTransport()
	conn := NewConn(slog.Default(), transport, nil)

	ctx := context.Background()
	conn.Start(ctx)

	var mu sync.Mutex

	oneShotErrs := make([]error, 0, 2)

	var streamErrs []error

	var streamChunks []StreamChunk

	cb := func(err error, result any) {
		mu.Lock()
		defer mu.Unlock()

		require.Nil(t, result)
		oneShotErrs = append(oneShotErrs, err)
	}

	require.NoError(t, conn.Call(ctx, "first", nil, cb))
	require.NoError(t, conn.Call(ctx, "second", nil, cb))
	require.NoError(t, conn.Stream(ctx, "generate", nil, func(err error, chunk StreamChunk) {
		mu.Lock()
		defer mu.Unlock()

		streamErrs = append(streamErrs, err)
		streamChunks = append(streamChunks, chunk)
	}))

	exitErr := &errors.ProcessExitedError{ExitCode: 1, Stderr: "Error: boom"}
	transport.exit(exitErr)

	require.ErrorIs(t, conn.Wait(), exitErr)

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, oneShotErrs, 2)

	for _, err := range oneShotErrs {
		require.ErrorIs(t, err, exitErr)
		require.EqualError(t, err, "Error: boom")
	}

	require.Len(t, streamErrs, 1)
	require.ErrorIs(t, streamErrs[0], exitErr)
	require.Equal(t, []StreamChunk{{Value: "", Done: true}}, streamChunks)

	// Registries must end up empty
	conn.mu.Lock()
	defer conn.mu.Unlock()

	require.Empty(t, conn.callbacks)
	require.Empty(t, conn.streams)
}

func TestConn_StopSuppressesCascade(t *testing.T) {
	transport := newMockTransport()
	conn := NewConn(slog.Default(), transport, nil)

	ctx := context.Background()
	conn.Start(ctx)

	var mu sync.Mutex

	calls := 0

	require.NoError(t, conn.Call(ctx, "echo", nil, func(error, any) {
		mu.Lock()
		defer mu.Unlock()

		calls++
	}))

	transport.sendToConn(map[string]any{"id": float64(1), "result": "ok"})
	waitLen(t, func() int { mu.Lock(); defer mu.Unlock(); return calls }, 1)

	// Intentional shutdown: channels close without a terminal error
	transport.exit(nil)

	require.NoError(t, conn.Wait())
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	require.Equal(t, 1, calls, "resolved callback must not fire again on shutdown")
}

func TestConn_MalformedLineResilience(t *testing.T) {
	transport := newMockTransport()
	conn := NewConn(slog.Default(), transport, nil)

	ctx := context.Background()
	conn.Start(ctx)

	var mu sync.Mutex

	results := make([]any, 0, 2)

	cb := func(err error, result any) {
		require.NoError(t, err)

		mu.Lock()
		defer mu.Unlock()

		results = append(results, result)
	}

	require.NoError(t, conn.Call(ctx, "echo", nil, cb))
	require.NoError(t, conn.Call(ctx, "echo", nil, cb))

	transport.sendToConn(map[string]any{"id": float64(1), "result": "first"})
	// A malformed line between two valid responses surfaces as a decode
	// error on the error channel; it must not disturb the second response.
	transport.errChan <- &errors.JSONDecodeError{RawData: "{not json"}
	transport.sendToConn(map[string]any{"id": float64(2), "result": "second"})

	waitLen(t, func() int { mu.Lock(); defer mu.Unlock(); return len(results) }, 2)

	mu.Lock()
	defer mu.Unlock()

	require.Equal(t, []any{"first", "second"}, results)
}

func TestConn_UnknownShapesDropped(t *testing.T) {
	transport := newMockTransport()
	conn := NewConn(slog.Default(), transport, nil)

	ctx := context.Background()
	conn.Start(ctx)

	var mu sync.Mutex

	calls := 0

	require.NoError(t, conn.Call(ctx, "echo", nil, func(error, any) {
		mu.Lock()
		defer mu.Unlock()

		calls++
	}))

	// Neither a response (no result/error/done) nor a call (no method)
	transport.sendToConn(map[string]any{"id": float64(1)})
	transport.sendToConn(map[string]any{"jsonrpc": "2.0"})
	// Response for an id that was never issued
	transport.sendToConn(map[string]any{"id": float64(99), "result": "stale"})
	// Finally the real response
	transport.sendToConn(map[string]any{"id": float64(1), "result": "ok"})

	waitLen(t, func() int { mu.Lock(); defer mu.Unlock(); return calls }, 1)
}

func TestConn_InboundDispatch_RegisteredMethod(t *testing.T) {
	transport := newMockTransport()

	var gotParams any

	conn := NewConn(slog.Default(), transport, map[string]Handler{
		"read": func(params any) (any, error) {
			gotParams = params

			return map[string]any{"text": "content"}, nil
		},
	})

	ctx := context.Background()
	conn.Start(ctx)

	transport.sendToConn(map[string]any{
		"jsonrpc": "2.0",
		"id":      float64(7),
		"method":  "read",
		"params":  map[string]any{"filename": "chat.md"},
	})

	waitLen(t, func() int { return len(transport.getMessages()) }, 1)

	require.Equal(t, map[string]any{"filename": "chat.md"}, gotParams)

	replies := sentRequests(t, transport)
	require.Equal(t, map[string]any{
		"jsonrpc": "2.0",
		"id":      float64(7),
		"result":  map[string]any{"text": "content"},
	}, replies[0])
}

func TestConn_InboundDispatch_MethodNotFound(t *testing.T) {
	transport := newMockTransport()
	conn := NewConn(slog.Default(), transport, nil)

	ctx := context.Background()
	conn.Start(ctx)

	transport.sendToConn(map[string]any{"id": float64(3), "method": "resolve"})

	waitLen(t, func() int { return len(transport.getMessages()) }, 1)

	replies := sentRequests(t, transport)
	require.Equal(t, map[string]any{
		"jsonrpc": "2.0",
		"id":      float64(3),
		"error":   map[string]any{"message": "Method not found: resolve"},
	}, replies[0])
}

func TestConn_InboundDispatch_HandlerError(t *testing.T) {
	transport := newMockTransport()
	conn := NewConn(slog.Default(), transport, map[string]Handler{
		"resolve": func(any) (any, error) {
			return nil, fmt.Errorf("no such template")
		},
	})

	ctx := context.Background()
	conn.Start(ctx)

	transport.sendToConn(map[string]any{"id": float64(4), "method": "resolve"})

	waitLen(t, func() int { return len(transport.getMessages()) }, 1)

	replies := sentRequests(t, transport)
	require.Equal(t, map[string]any{"message": "no such template"}, replies[0]["error"])
}

func TestConn_InboundDispatch_HandlerPanic(t *testing.T) {
	transport := newMockTransport()
	conn := NewConn(slog.Default(), transport, map[string]Handler{
		"resolve": func(any) (any, error) {
			panic("boom")
		},
	})

	ctx := context.Background()
	conn.Start(ctx)

	transport.sendToConn(map[string]any{"id": float64(5), "method": "resolve"})

	waitLen(t, func() int { return len(transport.getMessages()) }, 1)

	replies := sentRequests(t, transport)
	require.Equal(t, map[string]any{"message": "handler panic: boom"}, replies[0]["error"])

	// The read loop survives a panicking handler
	transport.sendToConn(map[string]any{"id": float64(6), "method": "resolve"})
	waitLen(t, func() int { return len(transport.getMessages()) }, 2)
}

func TestConn_InboundDispatch_NotificationNoReply(t *testing.T) {
	transport := newMockTransport()

	handled := make(chan struct{})

	conn := NewConn(slog.Default(), transport, map[string]Handler{
		"log": func(any) (any, error) {
			close(handled)

			return "ignored", nil
		},
	})

	ctx := context.Background()
	conn.Start(ctx)

	// No id: notification, no reply even though the handler returns a value
	transport.sendToConn(map[string]any{"method": "log", "params": "hello"})

	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}

	time.Sleep(10 * time.Millisecond)
	require.Empty(t, transport.getMessages())
}

func TestConn_PeerErrorPropagated(t *testing.T) {
	transport := newMockTransport()
	conn := NewConn(slog.Default(), transport, nil)

	ctx := context.Background()
	conn.Start(ctx)

	errCh := make(chan error, 1)

	require.NoError(t, conn.Call(ctx, "generate", nil, func(err error, result any) {
		require.Nil(t, result)
		errCh <- err
	}))

	transport.sendToConn(map[string]any{
		"id":    float64(1),
		"error": map[string]any{"message": "model not available"},
	})

	select {
	case err := <-errCh:
		var remote *errors.RemoteError

		require.ErrorAs(t, err, &remote)
		require.Equal(t, "model not available", remote.Message)
	case <-time.After(time.Second):
		t.Fatal("callback was not invoked")
	}
}

func TestConn_RoundTrip(t *testing.T) {
	transport := newMockTransport()
	conn := NewConn(slog.Default(), transport, nil)

	ctx := context.Background()
	conn.Start(ctx)

	resultCh := make(chan any, 1)

	require.NoError(t, conn.Call(ctx, "echo", map[string]any{"a": 1}, func(err error, result any) {
		require.NoError(t, err)
		resultCh <- result
	}))

	sent := sentRequests(t, transport)
	require.Len(t, sent, 1)
	require.Equal(t, map[string]any{
		"jsonrpc": "2.0",
		"id":      float64(1),
		"method":  "echo",
		"params":  map[string]any{"a": float64(1)},
		"stream":  false,
	}, sent[0])

	transport.sendToConn(map[string]any{"id": float64(1), "result": map[string]any{"a": float64(1)}})

	select {
	case result := <-resultCh:
		require.Equal(t, map[string]any{"a": float64(1)}, result)
	case <-time.After(time.Second):
		t.Fatal("callback was not invoked")
	}
}

func TestConn_NotifyConsumesID(t *testing.T) {
	transport := newMockTransport()
	conn := NewConn(slog.Default(), transport, nil)

	ctx := context.Background()

	require.NoError(t, conn.Notify(ctx, "init", []string{"resolve", "read"}))
	require.NoError(t, conn.Call(ctx, "echo", nil, func(error, any) {}))

	sent := sentRequests(t, transport)
	require.Len(t, sent, 2)
	require.EqualValues(t, 1, int64(sent[0]["id"].(float64)))
	require.EqualValues(t, 2, int64(sent[1]["id"].(float64)))

	// Fire-and-forget leaves no registry entry
	conn.mu.Lock()
	defer conn.mu.Unlock()

	require.Len(t, conn.callbacks, 1)
}
