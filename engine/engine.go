package engine

import (
	"context"
	"os"

	"github.com/google/uuid"

	"github.com/runbed/runbed/model"
)

// Engine runs a project's entry file inside an isolated, resource-bounded
// sandbox and tracks its lifecycle asynchronously.
//
// Execute never blocks waiting for completion; callers poll Status for
// the classified state. Terminate signals the sandbox to stop within a
// bounded grace period and forces termination afterwards. Cleanup is
// best-effort: it force-stops and releases every tracked sandbox and is
// intended for shutdown.
type Engine interface {
	Execute(ctx context.Context, projectID uuid.UUID, entryFile string) (*model.ExecutionRecord, error)
	Status(ctx context.Context, executionID uuid.UUID) (*model.ExecutionRecord, error)
	Terminate(ctx context.Context, executionID uuid.UUID) error
	Cleanup(ctx context.Context)
}

// FileSystem defines an interface for the file system operations the
// engine performs while materializing and reclaiming snapshots.
type FileSystem interface {
	MkdirAll(path string, perm os.FileMode) error
	WriteFile(filename string, data []byte, perm os.FileMode) error
	RemoveAll(path string) error
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

// File permission constants. Snapshot files are read-only to the running
// program.
const (
	DirPermission  = 0o755
	FilePermission = 0o444
)
