package subprocess

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/iovdin/tune-rpc-go/internal/cli"
	"github.com/iovdin/tune-rpc-go/internal/config"
	"github.com/iovdin/tune-rpc-go/internal/errors"
)

const (
	// maxScanTokenSize is the maximum buffer size for reading output lines.
	maxScanTokenSize = 1024 * 1024 // 1MB
	// maxStderrBufferSize caps the stderr diagnostics buffer. Stderr reading
	// continues indefinitely (the callback receives all lines), but the
	// buffer stops growing after this limit to prevent unbounded memory
	// usage.
	maxStderrBufferSize = 1024 * 1024 // 1MB
	// stopGraceTimeout is how long Close waits after a termination signal
	// before force-killing the child.
	stopGraceTimeout = 500 * time.Millisecond
)

// Transport implements config.Transport by spawning a tune-sdk subprocess.
type Transport struct {
	log            *slog.Logger
	options        *config.Options
	sdkPath        string
	args           []string
	env            []string
	cwd            string
	cmd            *exec.Cmd
	stdin          io.WriteCloser
	stdout         io.ReadCloser
	stderr         io.ReadCloser
	stderrCallback func(string)
	mu             sync.Mutex // Protects stdin writes and lifecycle fields
	closing        bool       // Whether Close() has been called (intentional shutdown)
	stdinClosed    bool       // Whether stdin was closed (e.g. due to context cancellation)
	exited         bool       // Whether the child has been observed to exit
	waitDone       chan struct{}
}

// Compile-time verification that Transport implements the Transport interface.
var _ config.Transport = (*Transport)(nil)

// New creates a transport for the given options.
//
// Binary discovery is deferred to Start(), which searches for tune-sdk in
// the following order:
//  1. The explicit path in options.SDKPath (if provided)
//  2. The TUNE_SDK_PATH environment variable
//  3. The system PATH
//  4. Common installation directories
//
// Start() returns SDKNotFoundError if the binary cannot be located.
func New(log *slog.Logger, options *config.Options) *Transport {
	return &Transport{
		log:            log.With("component", "transport"),
		options:        options,
		stderrCallback: options.Stderr,
		waitDone:       make(chan struct{}),
	}
}

// Start spawns the tune-sdk subprocess.
//
// This method discovers the binary, builds command arguments, and spawns
// the process with stdin, stdout, and stderr redirected as pipes.
//
// Returns SDKNotFoundError if the binary cannot be located, or SpawnError
// if the process fails to start. On failure no partial state is left
// behind; Start may be retried.
func (t *Transport) Start(ctx context.Context) error {
	t.log.Info("Starting tune-sdk subprocess")

	discoverer := cli.NewDiscoverer(&cli.Config{
		SDKPath: t.options.SDKPath,
		Logger:  t.log,
	})

	sdkPath, err := discoverer.Discover()
	if err != nil {
		return fmt.Errorf("discover tune-sdk: %w", err)
	}

	t.sdkPath = sdkPath

	t.args = cli.BuildArgs(t.options)
	t.log.Debug("Built command arguments", "args", t.args)

	t.env = cli.BuildEnvironment(t.options)

	t.cwd = t.options.Cwd
	if t.cwd == "" {
		t.cwd, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
	}

	t.log.Debug("Set working directory", "cwd", t.cwd)

	//nolint:gosec // G204: Subprocess launching with dynamic args is expected for CLI invocation
	cmd := exec.CommandContext(ctx, t.sdkPath, t.args...)
	cmd.Dir = t.cwd
	cmd.Env = t.env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		t.log.Error("Failed to create stdin pipe", "error", err)

		return &errors.SpawnError{Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.log.Error("Failed to create stdout pipe", "error", err)

		return &errors.SpawnError{Err: fmt.Errorf("stdout pipe: %w", err)}
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		t.log.Error("Failed to create stderr pipe", "error", err)

		return &errors.SpawnError{Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		t.log.Error("Failed to start tune-sdk process", "error", err)

		return &errors.SpawnError{Err: fmt.Errorf("start process: %w", err)}
	}

	t.mu.Lock()
	t.stdin = stdin
	t.stdout = stdout
	t.stderr = stderr
	t.cmd = cmd
	t.mu.Unlock()

	t.log.Info("tune-sdk subprocess started", "pid", cmd.Process.Pid)

	return nil
}

// ReadMessages reads JSON messages from the child's stdout.
//
// This method starts a goroutine that reads line-delimited JSON from the
// child's stdout. Each line is parsed as a JSON object and sent to the
// messages channel. A second goroutine drains stderr into a bounded
// diagnostics buffer.
//
// Decode errors for individual lines are sent to the error channel but do
// not stop message processing. When the child exits while the transport is
// not closing, a terminal ProcessExitedError carrying the buffered stderr
// is sent before both channels are closed. During an intentional Close()
// the channels close without a terminal error.
func (t *Transport) ReadMessages(
	ctx context.Context,
) (<-chan map[string]any, <-chan error) {
	messages := make(chan map[string]any)
	errs := make(chan error, 1)

	var stderrWg sync.WaitGroup

	var stderrBuffer strings.Builder

	var stderrMu sync.Mutex

	// Stderr must be fully drained before Wait().
	// See: https://pkg.go.dev/os/exec#Cmd.StderrPipe

	stderrWg.Add(1)

	go func() {
		defer stderrWg.Done()
		// Relies on process exit to close the pipe and unblock Scan().
		scanner := bufio.NewScanner(t.stderr)
		for scanner.Scan() {
			line := strings.TrimRight(scanner.Text(), " \t\r")

			stderrMu.Lock()

			if stderrBuffer.Len() < maxStderrBufferSize {
				if stderrBuffer.Len() > 0 {
					stderrBuffer.WriteString("\n")
				}

				stderrBuffer.WriteString(line)
			}

			stderrMu.Unlock()

			if t.stderrCallback != nil {
				t.stderrCallback(line)
			}
		}

		if err := scanner.Err(); err != nil {
			t.log.Debug("Stderr scanner error", "error", err)
		}
	}()

	go func() {
		defer close(messages)
		defer close(errs)
		defer t.log.Debug("ReadMessages goroutine stopped")

		scanner := bufio.NewScanner(t.stdout)
		buf := make([]byte, maxScanTokenSize)
		scanner.Buffer(buf, maxScanTokenSize)

		for scanner.Scan() {
			select {
			case <-ctx.Done():
				t.log.Debug("Context cancelled during scan", "error", ctx.Err())

				errs <- ctx.Err()

				return
			default:
			}

			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var msg map[string]any

			if err := json.Unmarshal(line, &msg); err != nil {
				t.log.Debug("Dropping undecodable line", "error", err, "line", string(line))

				// Recoverable: reported for logging, reading continues.
				select {
				case errs <- &errors.JSONDecodeError{RawData: string(line), Err: err}:
				default:
				}

				continue
			}

			select {
			case messages <- msg:
			case <-ctx.Done():
				t.log.Debug("Context cancelled during message send", "error", ctx.Err())

				errs <- ctx.Err()

				return
			}
		}

		if err := scanner.Err(); err != nil {
			t.log.Debug("Scanner error while reading output", "error", err)
		}

		// Stderr goroutine must finish before Wait()
		stderrWg.Wait()

		t.log.Debug("Waiting for tune-sdk process to exit")

		waitErr := t.cmd.Wait()

		t.mu.Lock()
		t.exited = true
		isClosing := t.closing
		t.mu.Unlock()

		close(t.waitDone)

		if isClosing {
			t.log.Debug("tune-sdk process terminated during shutdown")

			return
		}

		stderrMu.Lock()
		stderrOutput := stderrBuffer.String()
		stderrMu.Unlock()

		exitCode := 0

		var exitErr *exec.ExitError
		if ok := stderrors.As(waitErr, &exitErr); ok {
			exitCode = exitErr.ExitCode()
		}

		t.log.Warn("tune-sdk process exited unexpectedly",
			"exit_code", exitCode,
			"stderr_len", len(stderrOutput),
		)

		errs <- &errors.ProcessExitedError{
			ExitCode: exitCode,
			Stderr:   stderrOutput,
			Err:      waitErr,
		}
	}()

	return messages, errs
}

// SendMessage writes one JSON message to the child's stdin.
//
// The data should be a complete JSON message; a trailing newline is appended
// if missing. This method is safe for concurrent use and respects context
// cancellation even during blocking writes.
//
// If the context is cancelled during a blocked write, stdin is closed to
// unblock the goroutine. Subsequent calls return ErrStdinClosed.
func (t *Transport) SendMessage(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stdin == nil {
		return errors.ErrTransportNotConnected
	}

	if t.stdinClosed {
		return errors.ErrStdinClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	t.log.Debug("Sending message", "data_len", len(data))

	// Copy rather than append so the caller's backing array is not mutated
	if len(data) == 0 || data[len(data)-1] != '\n' {
		newData := make([]byte, len(data)+1)
		copy(newData, data)
		newData[len(data)] = '\n'
		data = newData
	}

	// Write in goroutine to respect context cancellation
	done := make(chan error, 1)

	go func() {
		_, err := t.stdin.Write(data)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.log.Error("Failed to write message", "error", err)

			return fmt.Errorf("write to stdin: %w", err)
		}

		return nil

	case <-ctx.Done():
		t.log.Debug("Context cancelled during write, closing stdin")

		if t.stdin != nil {
			_ = t.stdin.Close()
			t.stdinClosed = true
		}

		select {
		case <-done:
		case <-time.After(1 * time.Second):
			t.log.Warn("Write goroutine did not exit after stdin close, potential leak")
		}

		return ctx.Err()
	}
}

// IsRunning reports whether the child process is alive.
func (t *Transport) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.cmd != nil && t.cmd.Process != nil && !t.exited
}

// Close terminates the child process.
//
// The closing flag is set first so the reader loop does not treat the exit
// as a failure. The child receives SIGTERM and is given a short grace
// period to exit before being killed. Close is idempotent and always
// releases the stdin handle, even if termination errors.
func (t *Transport) Close() error {
	t.mu.Lock()

	t.closing = true

	if t.stdin != nil && !t.stdinClosed {
		_ = t.stdin.Close()
		t.stdinClosed = true
	}

	cmd := t.cmd
	alive := cmd != nil && cmd.Process != nil && !t.exited

	t.mu.Unlock()

	if !alive {
		return nil
	}

	t.log.Debug("Terminating tune-sdk process", "pid", cmd.Process.Pid)

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Signal delivery failed (already gone or not signalable): force kill.
		return t.kill(cmd)
	}

	select {
	case <-t.waitDone:
		t.log.Debug("tune-sdk process exited within grace period")

		return nil
	case <-time.After(stopGraceTimeout):
		t.log.Debug("Grace period elapsed, killing tune-sdk process")

		return t.kill(cmd)
	}
}

func (t *Transport) kill(cmd *exec.Cmd) error {
	if err := cmd.Process.Kill(); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill tune-sdk process (pid %d): %w", cmd.Process.Pid, err)
	}

	return nil
}
