package errdefs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelHelpers(t *testing.T) {
	t.Run("NotFound", func(t *testing.T) {
		err := NotFoundf("execution %s", "abc")
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
		assert.False(t, IsDuplicate(err))
		assert.Contains(t, err.Error(), "execution abc")
	})

	t.Run("Duplicate", func(t *testing.T) {
		err := Duplicatef("environment %s", "env-1")
		require.Error(t, err)
		assert.True(t, IsDuplicate(err))
		assert.False(t, IsNotFound(err))
	})

	t.Run("WrappedSentinelSurvives", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", NotFoundf("project x"))
		assert.True(t, IsNotFound(err))
	})
}

func TestTypedErrors(t *testing.T) {
	t.Run("Execution", func(t *testing.T) {
		inner := errors.New("daemon unreachable")
		err := &ExecutionError{Op: "create sandbox", Err: inner}
		assert.True(t, IsExecution(err))
		assert.True(t, errors.Is(err, inner))
		assert.Contains(t, err.Error(), "create sandbox")
	})

	t.Run("Storage", func(t *testing.T) {
		err := &StorageError{Op: "get project", Err: errors.New("connection reset")}
		assert.True(t, IsStorage(err))
		assert.False(t, IsExecution(err))
	})

	t.Run("Dependency", func(t *testing.T) {
		err := &DependencyError{EnvID: "env-1", ExitCode: 1, Output: "No matching distribution"}
		assert.True(t, IsDependency(err))
		assert.Contains(t, err.Error(), "No matching distribution")
		assert.Contains(t, err.Error(), "exit 1")
	})

	t.Run("Security", func(t *testing.T) {
		err := &SecurityError{Package: "evilpkg", Reason: "package is denied by policy"}
		assert.True(t, IsSecurity(err))
		assert.False(t, IsDependency(err))
		assert.Contains(t, err.Error(), "evilpkg")
	})

	t.Run("WrappedTypedErrorSurvives", func(t *testing.T) {
		err := fmt.Errorf("install: %w", &DependencyError{EnvID: "env-1", ExitCode: 2})
		assert.True(t, IsDependency(err))
	})
}
