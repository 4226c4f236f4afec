package integration

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/runbed/runbed/config"
	"github.com/runbed/runbed/engine"
	"github.com/runbed/runbed/environment"
	"github.com/runbed/runbed/errdefs"
	"github.com/runbed/runbed/logger"
	"github.com/runbed/runbed/model"
	"github.com/runbed/runbed/storage"
)

// TestIntegrationConfigLogger tests that a validated config feeds logger
// initialization for every supported mode.
func TestIntegrationConfigLogger(t *testing.T) {
	for _, mode := range []string{"production", "development"} {
		t.Run(mode, func(t *testing.T) {
			cfg := &config.Config{
				Logging: config.LoggingConfig{Mode: mode, Level: "info"},
			}
			log, err := logger.New(cfg.Logging.Mode, cfg.Logging.Level)
			require.NoError(t, err)
			require.NotNil(t, log)
			_ = log.Sync()
		})
	}
}

// TestIntegrationStorageEngine runs a full execution lifecycle against
// the in-memory store and the process-backed engine: create project
// files, execute, poll to completion, verify the captured output.
func TestIntegrationStorageEngine(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	cfg := &config.EngineConfig{
		Backend:      "local",
		Interpreter:  "sh",
		Memory:       "512m",
		CPUs:         1.0,
		WorkspaceDir: t.TempDir(),
		StopGraceSec: 1,
	}

	project, err := store.CreateProject(ctx, model.Project{
		ID:        uuid.New(),
		Name:      "hello",
		OwnerID:   "owner-1",
		Language:  model.LanguagePython,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	_, err = store.CreateFile(ctx, model.File{
		ID:        uuid.New(),
		ProjectID: project.ID,
		Path:      "run.sh",
		Content:   "echo 'Hello, World!'\n",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	eng := engine.NewLocalEngine(zaptest.NewLogger(t), cfg, store)
	defer eng.Cleanup(ctx)

	record, err := eng.Execute(ctx, project.ID, "run.sh")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRunning, record.Status)

	var final *model.ExecutionRecord
	require.Eventually(t, func() bool {
		snapshot, err := eng.Status(ctx, record.ID)
		if err != nil {
			return false
		}
		final = snapshot
		return snapshot.Status.Terminal()
	}, 10*time.Second, 20*time.Millisecond)

	assert.Equal(t, model.StatusCompleted, final.Status)
	require.NotNil(t, final.ExitCode)
	assert.Equal(t, 0, *final.ExitCode)
	assert.Equal(t, "Hello, World!\n", final.Stdout)

	// Deleting the project cascades its files; the finished execution
	// record is unaffected.
	require.NoError(t, store.DeleteProject(ctx, project.ID))
	files, err := store.ListFiles(ctx, project.ID)
	require.NoError(t, err)
	assert.Empty(t, files)

	again, err := eng.Status(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, again.Status)
}

// TestIntegrationEnvironmentLifecycle drives the documented environment
// lifecycle end to end with a scripted package manager.
func TestIntegrationEnvironmentLifecycle(t *testing.T) {
	ctx := context.Background()
	cfg := &config.EnvironmentConfig{
		BaseDir:        t.TempDir(),
		Python:         "python3",
		DeniedPackages: []string{"pickle-exec"},
	}
	manager := environment.NewVenvManager(zaptest.NewLogger(t), cfg,
		environment.WithCommandRunner(scriptedRunner{}))

	envID, err := manager.CreateEnvironment(ctx, "proj-42")
	require.NoError(t, err)

	require.NoError(t, manager.InstallDependencies(ctx, envID, []string{"pytest"}))

	record, err := manager.Inspect(envID)
	require.NoError(t, err)
	assert.Equal(t, environment.StateReady, record.State)
	assert.Equal(t, []string{"pytest"}, record.Packages)

	require.NoError(t, manager.CleanupEnvironment(ctx, envID))

	err = manager.InstallDependencies(ctx, envID, []string{"pytest"})
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err))
}

type scriptedRunner struct{}

func (scriptedRunner) RunCommand(context.Context, []string) (string, string, int, error) {
	return "", "", 0, nil
}
