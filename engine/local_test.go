package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/runbed/runbed/config"
	"github.com/runbed/runbed/errdefs"
	"github.com/runbed/runbed/model"
	"github.com/runbed/runbed/storage"
)

func newLocalEngine(t *testing.T) (*LocalEngine, *storage.MemoryStore, *config.EngineConfig) {
	t.Helper()
	cfg := &config.EngineConfig{
		Backend:      "local",
		Interpreter:  "sh",
		Memory:       "512m",
		CPUs:         1.0,
		WorkspaceDir: t.TempDir(),
		StopGraceSec: 1,
	}
	store := storage.NewMemoryStore()
	return NewLocalEngine(zaptest.NewLogger(t), cfg, store), store, cfg
}

func awaitTerminal(t *testing.T, eng Engine, id uuid.UUID) *model.ExecutionRecord {
	t.Helper()
	var record *model.ExecutionRecord
	require.Eventually(t, func() bool {
		snapshot, err := eng.Status(context.Background(), id)
		if err != nil {
			return false
		}
		record = snapshot
		return snapshot.Status.Terminal()
	}, 10*time.Second, 20*time.Millisecond)
	return record
}

func TestLocalEngineLifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("HelloWorldCompletes", func(t *testing.T) {
		eng, store, _ := newLocalEngine(t)
		projectID := seedProject(t, store, map[string]string{
			"run.sh": "echo 'Hello, World!'\n",
		})

		record, err := eng.Execute(ctx, projectID, "run.sh")
		require.NoError(t, err)
		assert.Equal(t, model.StatusRunning, record.Status)
		assert.Nil(t, record.ExitCode)

		final := awaitTerminal(t, eng, record.ID)
		assert.Equal(t, model.StatusCompleted, final.Status)
		require.NotNil(t, final.ExitCode)
		assert.Equal(t, 0, *final.ExitCode)
		assert.Equal(t, "Hello, World!\n", final.Stdout)
		require.NotNil(t, final.CompletedAt)
		assert.False(t, final.CompletedAt.Before(final.StartedAt))
	})

	t.Run("NonZeroExitIsError", func(t *testing.T) {
		eng, store, _ := newLocalEngine(t)
		projectID := seedProject(t, store, map[string]string{
			"run.sh": "echo 'boom' >&2\nexit 3\n",
		})

		record, err := eng.Execute(ctx, projectID, "run.sh")
		require.NoError(t, err)

		final := awaitTerminal(t, eng, record.ID)
		assert.Equal(t, model.StatusError, final.Status)
		require.NotNil(t, final.ExitCode)
		assert.Equal(t, 3, *final.ExitCode)
		assert.Equal(t, "boom\n", final.Stderr)
	})

	t.Run("TerminalStatusIsStable", func(t *testing.T) {
		eng, store, _ := newLocalEngine(t)
		projectID := seedProject(t, store, map[string]string{"run.sh": "true\n"})

		record, err := eng.Execute(ctx, projectID, "run.sh")
		require.NoError(t, err)

		first := awaitTerminal(t, eng, record.ID)
		second, err := eng.Status(ctx, record.ID)
		require.NoError(t, err)
		assert.Equal(t, first.Status, second.Status)
		assert.Equal(t, *first.ExitCode, *second.ExitCode)
		assert.True(t, first.CompletedAt.Equal(*second.CompletedAt))
	})

	t.Run("MissingEntryFile", func(t *testing.T) {
		eng, store, _ := newLocalEngine(t)
		projectID := seedProject(t, store, map[string]string{"run.sh": ""})

		_, err := eng.Execute(ctx, projectID, "other.sh")
		require.Error(t, err)
		assert.True(t, errdefs.IsNotFound(err))
	})

	t.Run("EmptyProject", func(t *testing.T) {
		eng, _, _ := newLocalEngine(t)

		_, err := eng.Execute(ctx, uuid.New(), "run.sh")
		require.Error(t, err)
		assert.True(t, errdefs.IsNotFound(err))
	})
}

func TestLocalEngineTerminate(t *testing.T) {
	ctx := context.Background()

	t.Run("StopsLoopingExecution", func(t *testing.T) {
		eng, store, _ := newLocalEngine(t)
		projectID := seedProject(t, store, map[string]string{
			"run.sh": "while true; do sleep 0.1; done\n",
		})

		record, err := eng.Execute(ctx, projectID, "run.sh")
		require.NoError(t, err)

		require.NoError(t, eng.Terminate(ctx, record.ID))

		final, err := eng.Status(ctx, record.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusError, final.Status)
		require.NotNil(t, final.ExitCode)
		assert.NotEqual(t, 0, *final.ExitCode)
		require.NotNil(t, final.CompletedAt)

		// Idempotent once terminal.
		require.NoError(t, eng.Terminate(ctx, record.ID))
	})

	t.Run("UnknownExecution", func(t *testing.T) {
		eng, _, _ := newLocalEngine(t)

		err := eng.Terminate(ctx, uuid.New())
		require.Error(t, err)
		assert.True(t, errdefs.IsNotFound(err))
	})

	t.Run("CompletedExecutionIsNoOp", func(t *testing.T) {
		eng, store, _ := newLocalEngine(t)
		projectID := seedProject(t, store, map[string]string{"run.sh": "true\n"})

		record, err := eng.Execute(ctx, projectID, "run.sh")
		require.NoError(t, err)
		awaitTerminal(t, eng, record.ID)

		require.NoError(t, eng.Terminate(ctx, record.ID))

		final, err := eng.Status(ctx, record.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusCompleted, final.Status)
	})
}

func TestLocalEngineCleanup(t *testing.T) {
	ctx := context.Background()
	eng, store, cfg := newLocalEngine(t)
	projectID := seedProject(t, store, map[string]string{
		"run.sh": "while true; do sleep 0.1; done\n",
	})

	record, err := eng.Execute(ctx, projectID, "run.sh")
	require.NoError(t, err)

	eng.Cleanup(ctx)

	_, err = eng.Status(ctx, record.ID)
	assert.True(t, errdefs.IsNotFound(err))

	entries, err := os.ReadDir(cfg.WorkspaceDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLocalEngineConcurrentExecutions(t *testing.T) {
	ctx := context.Background()
	eng, store, cfg := newLocalEngine(t)

	projectA := seedProject(t, store, map[string]string{"run.sh": "echo A\n"})
	projectB := seedProject(t, store, map[string]string{"run.sh": "echo B\n"})

	recordA, err := eng.Execute(ctx, projectA, "run.sh")
	require.NoError(t, err)
	recordB, err := eng.Execute(ctx, projectB, "run.sh")
	require.NoError(t, err)

	// Independent scratch spaces.
	assert.NotEqual(t,
		filepath.Join(cfg.WorkspaceDir, recordA.ID.String()),
		filepath.Join(cfg.WorkspaceDir, recordB.ID.String()))

	finalA := awaitTerminal(t, eng, recordA.ID)
	finalB := awaitTerminal(t, eng, recordB.ID)
	assert.Equal(t, "A\n", finalA.Stdout)
	assert.Equal(t, "B\n", finalB.Stdout)
	assert.Equal(t, model.StatusCompleted, finalA.Status)
	assert.Equal(t, model.StatusCompleted, finalB.Status)
}
