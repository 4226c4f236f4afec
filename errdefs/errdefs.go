package errdefs

import (
	"errors"
	"fmt"
)

// Sentinel conditions. Wrap them with the helpers below so call sites
// can classify failures with errors.Is regardless of message text.
var (
	// ErrNotFound marks lookups of unknown project, file, execution or
	// environment ids.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate marks id collisions on create.
	ErrDuplicate = errors.New("already exists")
)

// NotFoundf returns a not-found error with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// Duplicatef returns a duplicate error with a formatted message.
func Duplicatef(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrDuplicate)
}

// IsNotFound reports whether err is a not-found condition.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsDuplicate reports whether err is a duplicate condition.
func IsDuplicate(err error) bool { return errors.Is(err, ErrDuplicate) }

// StorageError wraps a failure of a storage collaborator.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

// ExecutionError wraps a sandbox that failed to start or run.
type ExecutionError struct {
	Op  string
	Err error
}

func (e *ExecutionError) Error() string { return fmt.Sprintf("execution %s: %v", e.Op, e.Err) }
func (e *ExecutionError) Unwrap() error { return e.Err }

// ResourceError marks an execution that exceeded its resource limits.
type ResourceError struct {
	Limit string
	Err   error
}

func (e *ResourceError) Error() string { return fmt.Sprintf("resource limit %s exceeded: %v", e.Limit, e.Err) }
func (e *ResourceError) Unwrap() error { return e.Err }

// EnvironmentError wraps a failure to provision or tear down an
// isolated dependency environment.
type EnvironmentError struct {
	EnvID string
	Err   error
}

func (e *EnvironmentError) Error() string { return fmt.Sprintf("environment %s: %v", e.EnvID, e.Err) }
func (e *EnvironmentError) Unwrap() error { return e.Err }

// DependencyError is returned when a package manager invocation exits
// non-zero. Output carries the captured error output of the install.
type DependencyError struct {
	EnvID    string
	ExitCode int
	Output   string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency install failed in %s (exit %d): %s", e.EnvID, e.ExitCode, e.Output)
}

// SecurityError is returned when a dependency specifier is rejected by
// policy before it ever reaches the package manager.
type SecurityError struct {
	Package string
	Reason  string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("package %q rejected: %s", e.Package, e.Reason)
}

// IsExecution reports whether err is an execution error.
func IsExecution(err error) bool {
	var e *ExecutionError
	return errors.As(err, &e)
}

// IsDependency reports whether err is a dependency-install error.
func IsDependency(err error) bool {
	var e *DependencyError
	return errors.As(err, &e)
}

// IsSecurity reports whether err is a security policy rejection.
func IsSecurity(err error) bool {
	var e *SecurityError
	return errors.As(err, &e)
}

// IsStorage reports whether err is a storage collaborator failure.
func IsStorage(err error) bool {
	var e *StorageError
	return errors.As(err, &e)
}
