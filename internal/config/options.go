// Package config provides configuration types shared across the SDK.
package config

import "log/slog"

// Options configures how the tune-sdk child process is launched.
type Options struct {
	// Logger is the slog logger for debug output.
	// If nil, logging is disabled (silent operation).
	Logger *slog.Logger

	// SDKPath is an explicit path to the tune-sdk binary.
	// If empty, the binary is discovered via TUNE_SDK_PATH, PATH,
	// and common install locations.
	SDKPath string

	// TunePath is passed to the child as --path. If empty, the TUNE_PATH
	// environment variable is used when set.
	TunePath string

	// Cwd sets the working directory for the child process.
	Cwd string

	// Env provides additional environment variables for the child process.
	Env map[string]string

	// Stderr, if set, receives each line of the child's stderr as it
	// arrives. Lines are buffered for error reporting regardless.
	Stderr func(string)
}
