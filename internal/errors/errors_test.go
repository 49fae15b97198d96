package errors

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSDKNotFoundError(t *testing.T) {
	err := &SDKNotFoundError{
		SearchedPaths: []string{"$PATH", "/usr/local/bin/tune-sdk"},
	}

	require.Contains(t, err.Error(), "tune-sdk not found in: [$PATH /usr/local/bin/tune-sdk]")
	require.Contains(t, err.Error(), "npm install -g tune-sdk")
	require.True(t, err.IsTuneRPCError())
}

func TestSpawnError(t *testing.T) {
	root := errors.New("fork/exec: no such file or directory")
	err := &SpawnError{Err: root}

	require.Equal(t, "failed to start tune-sdk: fork/exec: no such file or directory", err.Error())
	require.ErrorIs(t, err, root)
	require.True(t, err.IsTuneRPCError())
}

func TestProcessExitedError_StderrWins(t *testing.T) {
	root := errors.New("exit status 1")
	err := &ProcessExitedError{
		ExitCode: 1,
		Stderr:   "Error: OPENAI_KEY not set",
		Err:      root,
	}

	require.Equal(t, "Error: OPENAI_KEY not set", err.Error())
	require.ErrorIs(t, err, root)
	require.True(t, err.IsTuneRPCError())
}

func TestProcessExitedError_NoStderr(t *testing.T) {
	root := errors.New("signal: killed")
	err := &ProcessExitedError{
		ExitCode: 9,
		Err:      root,
	}

	require.Equal(t, "process exited (code 9): signal: killed", err.Error())
	require.ErrorIs(t, err, root)
}

func TestProcessExitedError_Empty(t *testing.T) {
	err := &ProcessExitedError{}

	require.Equal(t, "process exited", err.Error())
	require.NoError(t, err.Unwrap())
}

func TestJSONDecodeError(t *testing.T) {
	root := errors.New("unexpected end of JSON input")
	err := &JSONDecodeError{
		RawData: `{"id":1,`,
		Err:     root,
	}

	require.True(t, strings.HasPrefix(err.Error(), "failed to decode JSON line:"))
	require.ErrorIs(t, err, root)
	require.True(t, err.IsTuneRPCError())
}

func TestRemoteError(t *testing.T) {
	err := &RemoteError{Message: "Method not found: resolve"}

	require.Equal(t, "Method not found: resolve", err.Error())
	require.True(t, err.IsTuneRPCError())
}
