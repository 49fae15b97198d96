package cli

import (
	"fmt"
	"os"

	"github.com/iovdin/tune-rpc-go/internal/config"
)

// BuildArgs constructs the tune-sdk command arguments.
//
// The child is always started in rpc mode. When a template search path is
// configured (option or TUNE_PATH environment variable), it is forwarded
// via --path.
func BuildArgs(options *config.Options) []string {
	args := []string{"rpc"}

	tunePath := options.TunePath
	if tunePath == "" {
		tunePath = os.Getenv("TUNE_PATH")
	}

	if tunePath != "" {
		args = append(args, "--path", tunePath)
	}

	return args
}

// BuildEnvironment constructs the environment variables for the child process.
func BuildEnvironment(options *config.Options) []string {
	// Start with current environment
	env := os.Environ()

	env = append(env, "TUNE_SDK_ENTRYPOINT=rpc-go")

	// Add or override with user-provided environment variables
	for key, value := range options.Env {
		env = append(env, fmt.Sprintf("%s=%s", key, value))
	}

	return env
}
