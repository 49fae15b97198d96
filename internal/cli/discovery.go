package cli

import (
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/iovdin/tune-rpc-go/internal/errors"
)

// Config holds configuration for binary discovery.
type Config struct {
	// SDKPath is an explicit binary path that skips the search.
	// If empty, discovery searches TUNE_SDK_PATH, PATH, and common
	// install locations.
	SDKPath string

	// Logger is an optional logger for discovery operations.
	// If nil, a default no-op logger is used.
	Logger *slog.Logger
}

// Discoverer locates the tune-sdk binary.
type Discoverer interface {
	// Discover returns the path to the tune-sdk binary or an error.
	Discover() (string, error)
}

type discoverer struct {
	cfg *Config
	log *slog.Logger
}

// Compile-time verification that discoverer implements Discoverer.
var _ Discoverer = (*discoverer)(nil)

// NewDiscoverer creates a new binary discoverer with the given configuration.
func NewDiscoverer(cfg *Config) Discoverer {
	if cfg == nil {
		cfg = &Config{}
	}

	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
	}

	return &discoverer{
		cfg: cfg,
		log: log,
	}
}

// Discover locates the tune-sdk binary.
//
// Search order:
//  1. The explicit path in Config.SDKPath (if provided)
//  2. The TUNE_SDK_PATH environment variable
//  3. The system PATH
//  4. Common installation directories
func (d *discoverer) Discover() (string, error) {
	// If explicit path provided, use it and only it
	if d.cfg.SDKPath != "" {
		return d.resolveExplicit(d.cfg.SDKPath)
	}

	searchedPaths := make([]string, 0, 5)

	// TUNE_SDK_PATH overrides PATH search
	if envPath := os.Getenv("TUNE_SDK_PATH"); envPath != "" {
		d.log.Debug("Using TUNE_SDK_PATH", "path", envPath)

		return d.resolveExplicit(envPath)
	}

	// Search in PATH
	d.log.Debug("Searching for 'tune-sdk' in PATH")

	if path, err := exec.LookPath("tune-sdk"); err == nil {
		d.log.Debug("Found 'tune-sdk' in PATH", "path", path)

		return path, nil
	}

	searchedPaths = append(searchedPaths, "$PATH")

	// Check common locations
	commonPaths := []string{
		"/usr/local/bin/tune-sdk",
		"/usr/bin/tune-sdk",
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		commonPaths = append(commonPaths,
			filepath.Join(homeDir, ".local/bin/tune-sdk"),
			filepath.Join(homeDir, ".npm-global/bin/tune-sdk"),
		)
	}

	for _, path := range commonPaths {
		searchedPaths = append(searchedPaths, path)
		d.log.Debug("Checking common path", "path", path)

		if _, err := os.Stat(path); err == nil {
			d.log.Debug("Found tune-sdk at common path", "path", path)

			return path, nil
		}
	}

	d.log.Warn("tune-sdk not found in any searched paths", "searched_paths", searchedPaths)

	return "", &errors.SDKNotFoundError{SearchedPaths: searchedPaths}
}

// resolveExplicit validates an explicitly configured path. Tilde expansion
// matches what the original editor integrations accept in their settings.
func (d *discoverer) resolveExplicit(path string) (string, error) {
	if len(path) > 1 && path[0] == '~' && path[1] == os.PathSeparator {
		if homeDir, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(homeDir, path[2:])
		}
	}

	if filepath.IsAbs(path) {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}

		d.log.Debug("Explicit SDK path not found", "path", path)

		return "", &errors.SDKNotFoundError{SearchedPaths: []string{path}}
	}

	// A bare command name: resolve through PATH.
	if resolved, err := exec.LookPath(path); err == nil {
		return resolved, nil
	}

	return "", &errors.SDKNotFoundError{SearchedPaths: []string{path}}
}
