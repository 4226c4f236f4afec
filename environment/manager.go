package environment

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// State represents the lifecycle state of an environment.
//
// CREATED -> (install success) -> READY -> (cleanup) -> DESTROYED.
// DESTROYED is terminal; the environment id is invalid afterwards.
type State string

const (
	StateCreated   State = "CREATED"
	StateReady     State = "READY"
	StateDestroyed State = "DESTROYED"
)

// Record describes one isolated dependency environment.
type Record struct {
	ID        string    `yaml:"id"`
	Root      string    `yaml:"root"`
	State     State     `yaml:"state"`
	Packages  []string  `yaml:"packages"`
	CreatedAt time.Time `yaml:"created_at"`
}

// Manager provisions and destroys per-project isolated dependency
// environments.
//
// CreateEnvironment allocates an environment at a deterministic path
// keyed by the project id and rejects a second create for the same
// project with a duplicate error. InstallDependencies invokes the
// environment's package manager synchronously; a non-zero exit fails
// with a dependency error carrying the captured output, with no retry.
// CleanupEnvironment deletes the environment's filesystem state; it is
// not idempotent and fails with not-found once removed.
type Manager interface {
	CreateEnvironment(ctx context.Context, projectID string) (string, error)
	InstallDependencies(ctx context.Context, envID string, dependencies []string) error
	CleanupEnvironment(ctx context.Context, envID string) error
	Inspect(envID string) (Record, error)
}

// CommandRunner defines an interface for executing system commands
type CommandRunner interface {
	RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error)
}

// RealCommandRunner implements CommandRunner using actual exec commands
type RealCommandRunner struct{}

// RunCommand executes the given command with arguments
func (RealCommandRunner) RunCommand(ctx context.Context, args []string) (stdout, stderr string, exitCode int, err error) {
	if len(args) < 1 {
		return "", "", 0, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // arguments are engine-controlled

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err = cmd.Run()

	exitCode = 0
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			exitCode = exitError.ExitCode()
		} else {
			return "", "", 0, err
		}
	}

	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// FileSystem defines an interface for file system operations
type FileSystem interface {
	MkdirAll(path string, perm os.FileMode) error
	WriteFile(filename string, data []byte, perm os.FileMode) error
	RemoveAll(path string) error
	FileExists(path string) (bool, error)
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

func (RealFileSystem) FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}
