package tunerpc

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/iovdin/tune-rpc-go/internal/config"
	"github.com/iovdin/tune-rpc-go/internal/errors"
	"github.com/iovdin/tune-rpc-go/internal/rpc"
	"github.com/iovdin/tune-rpc-go/internal/subprocess"
)

// Handler processes a call initiated by the child process.
type Handler = rpc.Handler

// Callback receives the outcome of a one-shot call.
type Callback = rpc.Callback

// StreamCallback receives successive chunks of a streaming call.
type StreamCallback = rpc.StreamCallback

// StreamChunk is one payload of a streaming call.
type StreamChunk = rpc.StreamChunk

// Client is one client-side session bound to one tune-sdk child process.
//
// A Client owns its child process exclusively: the process handle and its
// streams are never shared across Clients. Clients are single-use; after
// Close, create a new one with New.
type Client struct {
	log     *slog.Logger
	options *clientOptions

	mu        sync.Mutex
	transport config.Transport
	conn      *rpc.Conn
	started   bool
	closed    bool
}

// New creates a client in a not-started state. Call Start to spawn the
// child process.
func New(opts ...Option) *Client {
	options := applyOptions(opts)

	log := options.Logger
	if log == nil {
		log = NopLogger()
	}

	// One ULID per client so concurrent clients are distinguishable in logs.
	log = log.With("client_id", ulid.Make().String())

	return &Client{
		log:     log,
		options: options,
	}
}

// Start spawns the tune-sdk child process and begins reading its output.
//
// On success the client transitions to running and immediately advertises
// its exported method names to the child via an init notification; failure
// of that notification is not fatal. On failure the client remains
// unstarted with no partial state and Start may be called again.
//
// Returns SDKNotFoundError if the binary cannot be located, SpawnError if
// the process fails to start.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.ErrClientClosed
	}

	if c.started {
		return errors.ErrAlreadyStarted
	}

	transport := c.options.transport
	if transport == nil {
		transport = subprocess.New(c.log, &c.options.Options)
	}

	if err := transport.Start(ctx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}

	conn := rpc.NewConn(c.log, transport, c.options.exports)
	conn.Start(ctx)

	c.transport = transport
	c.conn = conn
	c.started = true

	// Best-effort advertisement of exported methods to the peer.
	methods := conn.ExportedMethods()
	slices.Sort(methods)

	if err := conn.Notify(ctx, "init", methods); err != nil {
		c.log.Debug("init notification failed", "error", err)
	}

	c.log.Info("Client started", "exports", methods)

	return nil
}

// Call issues a one-shot call. The callback is invoked exactly once: with
// the peer's response, with a process-exit error, or synchronously with
// ErrNotRunning when the child is not running. A nil callback makes the
// call fire-and-forget.
func (c *Client) Call(ctx context.Context, method string, params any, callback Callback) error {
	conn, err := c.activeConn()
	if err != nil {
		if callback != nil {
			callback(err, nil)
		}

		return err
	}

	return conn.Call(ctx, method, params, callback)
}

// Stream issues a streaming call. The callback fires once per chunk; the
// chunk with Done set is the last.
func (c *Client) Stream(ctx context.Context, method string, params any, callback StreamCallback) error {
	conn, err := c.activeConn()
	if err != nil {
		if callback != nil {
			callback(err, StreamChunk{Done: true})
		}

		return err
	}

	return conn.Stream(ctx, method, params, callback)
}

// Notify issues a fire-and-forget call with no callback.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	conn, err := c.activeConn()
	if err != nil {
		return err
	}

	return conn.Notify(ctx, method, params)
}

func (c *Client) activeConn() (*rpc.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started || c.closed || c.conn == nil {
		return nil, errors.ErrNotRunning
	}

	return c.conn, nil
}

// IsRunning reports whether the child process is alive.
func (c *Client) IsRunning() bool {
	c.mu.Lock()
	transport := c.transport
	c.mu.Unlock()

	return transport != nil && transport.IsRunning()
}

// Done returns a channel that is closed when the connection's read loop
// stops, whether from Close or from the child exiting on its own. Returns
// nil if the client was never started.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	return c.conn.Done()
}

// Close terminates the child process and waits for the read loop to stop.
//
// Pending calls are dropped without their callbacks being invoked: the
// caller asked for the shutdown. Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()

	if c.closed || !c.started {
		c.closed = true
		c.mu.Unlock()

		return nil
	}

	c.closed = true
	transport := c.transport
	conn := c.conn

	c.mu.Unlock()

	c.log.Info("Closing client")

	err := transport.Close()

	// Wait for the read loop so no callback fires after Close returns.
	// The terminal error, if any, already reached the pending callbacks.
	_ = conn.Wait()

	return err
}
