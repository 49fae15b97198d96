package rpc

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/iovdin/tune-rpc-go/internal/errors"
)

// Handler processes a call initiated by the child process. It receives the
// decoded params and returns a result or an error; the error text is sent
// back to the peer when the call carried an id.
type Handler func(params any) (any, error)

// Callback receives the outcome of a one-shot call: exactly one invocation,
// with either a non-nil error or the decoded result.
type Callback func(err error, result any)

// StreamChunk is one payload of a streaming call. Done is true on the final
// chunk only.
type StreamChunk struct {
	Value any
	Done  bool
}

// StreamCallback receives successive chunks of a streaming call. It is
// invoked one or more times; the invocation with Done=true is the last.
type StreamCallback func(err error, chunk StreamChunk)

// Transport defines the minimal interface needed for connection operations.
//
// This interface is satisfied by the subprocess Transport but allows for
// testing with mock transports.
type Transport interface {
	ReadMessages(ctx context.Context) (<-chan map[string]any, <-chan error)
	SendMessage(ctx context.Context, data []byte) error
	IsRunning() bool
}

// Conn is one client-side JSON-RPC session bound to one child process.
//
// The Conn owns the correlation id counter, the pending-call registry, and
// the export table. A single read loop decodes child output and dispatches
// responses to pending callbacks and inbound calls to exported handlers.
// Handlers run synchronously on the read loop, so messages are processed
// strictly in the order the child emits them; a slow handler stalls further
// inbound processing until it returns.
type Conn struct {
	log       *slog.Logger
	transport Transport
	exports   map[string]Handler

	// mu guards id allocation and the registries. Registration happens on
	// caller goroutines, resolution on the read loop.
	mu        sync.Mutex
	nextID    int64
	callbacks map[int64]Callback
	streams   map[int64]StreamCallback

	// Lifecycle management
	closeOnce sync.Once
	done      chan struct{}
	eg        *errgroup.Group
}

// NewConn creates a connection over the given transport.
//
// The exports map binds method names to handlers for calls initiated by the
// child. It is copied; the export table is immutable for the connection's
// lifetime.
func NewConn(log *slog.Logger, transport Transport, exports map[string]Handler) *Conn {
	exp := make(map[string]Handler, len(exports))
	maps.Copy(exp, exports)

	return &Conn{
		log:       log.With("component", "rpc"),
		transport: transport,
		exports:   exp,
		nextID:    1,
		callbacks: make(map[int64]Callback, 10),
		streams:   make(map[int64]StreamCallback, 10),
		done:      make(chan struct{}),
	}
}

// ExportedMethods returns the names in the export table, sorted order not
// guaranteed. Used for the init handshake advertisement.
func (c *Conn) ExportedMethods() []string {
	names := make([]string, 0, len(c.exports))
	for name := range c.exports {
		names = append(names, name)
	}

	return names
}

// Start begins reading messages from the transport and dispatching them.
//
// Start must be called before any responses or inbound calls will be
// processed. The read loop stops when the transport's channels close or the
// context is cancelled.
func (c *Conn) Start(ctx context.Context) {
	c.log.Debug("Starting connection read loop")

	messages, errs := c.transport.ReadMessages(ctx)

	c.eg, _ = errgroup.WithContext(context.Background())
	c.eg.Go(func() error {
		return c.readLoop(ctx, messages, errs)
	})
}

// Done returns a channel that is closed when the read loop stops.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the read loop stops and returns the terminal error, if
// any. After an unexpected child exit this is the ProcessExitedError that
// was also delivered to every pending callback.
func (c *Conn) Wait() error {
	if c.eg == nil {
		return nil
	}

	return c.eg.Wait()
}

// Call issues a one-shot call. The callback is invoked exactly once: with
// the peer's response, with a process-exit error, or synchronously with
// ErrNotRunning when the child is not running (in which case no id is
// consumed and nothing is written).
//
// A nil callback makes the call fire-and-forget: an id is consumed and the
// request is written, but no registry entry is kept.
//
// If the write fails, the registry entry is removed and the callback
// receives the write error; the same error is returned.
func (c *Conn) Call(ctx context.Context, method string, params any, callback Callback) error {
	if !c.transport.IsRunning() {
		if callback != nil {
			callback(errors.ErrNotRunning, nil)
		}

		return errors.ErrNotRunning
	}

	c.mu.Lock()

	id := c.nextID
	c.nextID++

	if callback != nil {
		c.callbacks[id] = callback
	}

	c.mu.Unlock()

	if err := c.write(ctx, &Request{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	}); err != nil {
		if cb := c.takeCallback(id); cb != nil {
			cb(err, nil)
		}

		return err
	}

	return nil
}

// Stream issues a streaming call. The callback is invoked for every chunk
// the peer sends; the chunk with Done=true is the last, after which the
// registry entry is removed. Like Call, a not-running child rejects the
// callback synchronously with ErrNotRunning.
func (c *Conn) Stream(ctx context.Context, method string, params any, callback StreamCallback) error {
	if !c.transport.IsRunning() {
		if callback != nil {
			callback(errors.ErrNotRunning, StreamChunk{Done: true})
		}

		return errors.ErrNotRunning
	}

	c.mu.Lock()

	id := c.nextID
	c.nextID++

	if callback != nil {
		c.streams[id] = callback
	}

	c.mu.Unlock()

	if err := c.write(ctx, &Request{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
		Stream:  true,
	}); err != nil {
		if scb := c.takeStream(id); scb != nil {
			scb(err, StreamChunk{Done: true})
		}

		return err
	}

	return nil
}

// Notify issues a fire-and-forget call with no callback.
func (c *Conn) Notify(ctx context.Context, method string, params any) error {
	return c.Call(ctx, method, params, nil)
}

func (c *Conn) write(ctx context.Context, req *Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	c.log.Debug("Sending request", "id", req.ID, "method", req.Method, "stream", req.Stream)

	if err := c.transport.SendMessage(ctx, data); err != nil {
		c.log.Warn("Failed to send request", "id", req.ID, "method", req.Method, "error", err)

		return fmt.Errorf("send request: %w", err)
	}

	return nil
}

func (c *Conn) takeCallback(id int64) Callback {
	c.mu.Lock()
	defer c.mu.Unlock()

	cb, ok := c.callbacks[id]
	if ok {
		delete(c.callbacks, id)
	}

	return cb
}

func (c *Conn) takeStream(id int64) StreamCallback {
	c.mu.Lock()
	defer c.mu.Unlock()

	scb, ok := c.streams[id]
	if ok {
		delete(c.streams, id)
	}

	return scb
}

// readLoop consumes the transport channels until they close, dispatching
// each decoded message. Returns the terminal error when the child exited
// unexpectedly, nil on intentional shutdown.
func (c *Conn) readLoop(
	ctx context.Context,
	messages <-chan map[string]any,
	errs <-chan error,
) error {
	defer c.closeDone()
	defer c.log.Debug("Connection read loop stopped")

	var exitErr error

	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				// Drain remaining errors so a buffered terminal error is
				// not lost to select ordering.
				if errs != nil {
					for err := range errs {
						exitErr = c.classifyError(err, exitErr)
					}
				}

				c.finish(exitErr)

				return exitErr
			}

			c.handleMessage(ctx, msg)

		case err, ok := <-errs:
			if !ok {
				errs = nil

				continue
			}

			exitErr = c.classifyError(err, exitErr)
		}
	}
}

// classifyError folds a transport error into the terminal error. Decode
// errors are logged and dropped: malformed input never reaches a caller.
func (c *Conn) classifyError(err error, exitErr error) error {
	if err == nil {
		return exitErr
	}

	var decodeErr *errors.JSONDecodeError
	if ok := stderrors.As(err, &decodeErr); ok {
		c.log.Debug("Dropped malformed line", "raw", decodeErr.RawData)

		return exitErr
	}

	if exitErr == nil {
		return err
	}

	return exitErr
}

// finish rejects all pending calls with the terminal error and clears the
// registries. With a nil error (intentional shutdown) the registries are
// cleared without invoking anything: the caller asked for the stop.
func (c *Conn) finish(exitErr error) {
	c.mu.Lock()

	callbacks := c.callbacks
	streams := c.streams
	c.callbacks = make(map[int64]Callback)
	c.streams = make(map[int64]StreamCallback)

	c.mu.Unlock()

	if exitErr == nil {
		return
	}

	if len(callbacks) > 0 || len(streams) > 0 {
		c.log.Warn("Rejecting pending calls after process exit",
			"one_shot", len(callbacks),
			"streaming", len(streams),
		)
	}

	for id, cb := range callbacks {
		c.invokeCallback(id, cb, exitErr, nil)
	}

	for id, scb := range streams {
		c.invokeStream(id, scb, exitErr, StreamChunk{Value: "", Done: true})
	}
}

// handleMessage classifies one decoded message and routes it. Unrecognized
// shapes are dropped.
func (c *Conn) handleMessage(ctx context.Context, msg map[string]any) {
	if isResponse(msg) {
		c.handleResponse(msg)

		return
	}

	if method, ok := msg["method"].(string); ok && method != "" {
		c.handleInboundCall(ctx, msg, method)

		return
	}

	c.log.Debug("Dropping message with unknown shape")
}

// handleResponse resolves the pending call registered under the response id.
// Unknown or stale ids are ignored.
func (c *Conn) handleResponse(msg map[string]any) {
	id, ok := responseID(msg)
	if !ok {
		c.log.Debug("Dropping response with non-numeric id")

		return
	}

	errVal := remoteError(msg["error"])
	result := msg["result"]

	if cb := c.takeCallback(id); cb != nil {
		c.invokeCallback(id, cb, errVal, result)

		return
	}

	c.mu.Lock()
	scb, isStream := c.streams[id]
	done, _ := msg["done"].(bool)

	if isStream && done {
		delete(c.streams, id)
	}

	c.mu.Unlock()

	if isStream {
		c.invokeStream(id, scb, errVal, StreamChunk{Value: result, Done: done})

		return
	}

	c.log.Debug("Dropping response for unknown id", "id", id)
}

// handleInboundCall invokes the exported handler for a call initiated by
// the child. It runs synchronously on the read loop. When the call carried
// an id, the handler's result or error is written back; a call without an
// id is a notification and produces no reply regardless of outcome.
func (c *Conn) handleInboundCall(ctx context.Context, msg map[string]any, method string) {
	id, hasID := msg["id"]
	if id == nil {
		hasID = false
	}

	params := msg["params"]

	c.log.Debug("Inbound call", "method", method, "has_id", hasID)

	handler, exists := c.exports[method]
	if !exists {
		c.log.Debug("No handler exported for method", "method", method)

		if hasID {
			c.writeErrorReply(ctx, id, fmt.Sprintf("Method not found: %s", method))
		}

		return
	}

	result, err := invokeHandler(handler, params)

	if !hasID {
		return
	}

	if err != nil {
		c.writeErrorReply(ctx, id, err.Error())

		return
	}

	c.writeResultReply(ctx, id, result)
}

// invokeHandler runs an exported handler, converting a panic into an error
// so a misbehaving handler cannot kill the read loop.
func invokeHandler(handler Handler, params any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()

	return handler(params)
}

// invokeCallback delivers a one-shot outcome, recovering panics so a
// misbehaving callback cannot kill the read loop.
func (c *Conn) invokeCallback(id int64, cb Callback, err error, result any) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Callback panicked", "id", id, "panic", r)
		}
	}()

	cb(err, result)
}

func (c *Conn) invokeStream(id int64, scb StreamCallback, err error, chunk StreamChunk) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Stream callback panicked", "id", id, "panic", r)
		}
	}()

	scb(err, chunk)
}

func (c *Conn) writeResultReply(ctx context.Context, id any, result any) {
	data, err := json.Marshal(&resultReply{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Result:  result,
	})
	if err != nil {
		c.log.Error("Failed to marshal result reply", "error", err)

		return
	}

	if err := c.transport.SendMessage(ctx, data); err != nil {
		c.log.Warn("Failed to send result reply", "error", err)
	}
}

func (c *Conn) writeErrorReply(ctx context.Context, id any, message string) {
	data, err := json.Marshal(&errorReply{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   replyError{Message: message},
	})
	if err != nil {
		c.log.Error("Failed to marshal error reply", "error", err)

		return
	}

	if err := c.transport.SendMessage(ctx, data); err != nil {
		c.log.Warn("Failed to send error reply", "error", err)
	}
}

func (c *Conn) closeDone() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
