// Package runtime provides the Runtime interface for entry point execution
// backends.
package runtime

import (
	"context"
	"io"
)

// ContainerProjectDir is where container backends expect the project code.
const ContainerProjectDir = "/mlflow/projects/code"

// Runtime defines the interface for executing entry point commands.
// Implementations include local processes, Docker and Kubernetes.
type Runtime interface {
	// Start begins execution of a command and returns a handle.
	Start(ctx context.Context, opts StartOptions) (Handle, error)
}

// StartOptions contains the parameters for starting a command.
type StartOptions struct {
	// Name identifies the execution in container and job names.
	Name    string
	Image   string
	Command []string
	Env     map[string]string
	// WorkDir is the project directory on the host.
	WorkDir string
	// Volumes maps host paths to container paths. Ignored by the local runtime.
	Volumes map[string]string
}

// ExitResult is the outcome of a finished execution.
type ExitResult struct {
	ExitCode int
	Error    error
}

// Handle represents a running execution.
type Handle interface {
	// Wait blocks until the execution completes and returns its exit code.
	Wait(ctx context.Context) (ExitResult, error)

	// Stop forcefully terminates the execution.
	Stop(ctx context.Context) error

	// StreamLogs returns a reader for the combined stdout/stderr.
	StreamLogs(ctx context.Context) (io.ReadCloser, error)
}
