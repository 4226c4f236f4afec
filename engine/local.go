package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/runbed/runbed/config"
	"github.com/runbed/runbed/errdefs"
	"github.com/runbed/runbed/model"
	"github.com/runbed/runbed/storage"
)

// LocalEngine implements Engine with plain host processes (WARNING: no
// hard isolation, development only). The contract matches DockerEngine:
// detached launch, poll-driven status, grace-then-kill termination.
type LocalEngine struct {
	logger *zap.Logger
	cfg    *config.EngineConfig
	files  storage.FileStorage
	fs     FileSystem

	mu    sync.Mutex
	execs map[uuid.UUID]*localExecution
}

type localExecution struct {
	record     *model.ExecutionRecord
	cmd        *exec.Cmd
	stdout     *syncBuffer
	stderr     *syncBuffer
	scratchDir string
	done       chan struct{}
}

// syncBuffer guards concurrent writes from the running process against
// reads from Status.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// NewLocalEngine creates a process-backed execution engine.
func NewLocalEngine(logger *zap.Logger, cfg *config.EngineConfig, files storage.FileStorage) *LocalEngine {
	return &LocalEngine{
		logger: logger,
		cfg:    cfg,
		files:  files,
		fs:     RealFileSystem{},
		execs:  make(map[uuid.UUID]*localExecution),
	}
}

// Execute materializes the snapshot and starts the interpreter as a
// detached process, returning a RUNNING record immediately.
func (e *LocalEngine) Execute(ctx context.Context, projectID uuid.UUID, entryFile string) (*model.ExecutionRecord, error) {
	files, err := e.files.ListFiles(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errdefs.NotFoundf("project %s has no files", projectID)
	}
	entry, err := safeRelPath(entryFile)
	if err != nil {
		return nil, &errdefs.ExecutionError{Op: "resolve entry file", Err: err}
	}
	if !containsEntry(files, entry) {
		return nil, errdefs.NotFoundf("entry file %s in project %s", entryFile, projectID)
	}

	executionID := uuid.New()
	scratchDir := filepath.Join(e.cfg.WorkspaceDir, executionID.String())

	if err := materializeSnapshot(e.fs, scratchDir, files); err != nil {
		e.reclaimScratch(scratchDir)
		return nil, &errdefs.ExecutionError{Op: "materialize snapshot", Err: err}
	}

	stdout := &syncBuffer{}
	stderr := &syncBuffer{}
	//nolint:gosec // running the configured interpreter is the engine's purpose
	cmd := exec.Command(e.cfg.Interpreter, filepath.Join(scratchDir, entry))
	cmd.Dir = scratchDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		e.reclaimScratch(scratchDir)
		return nil, &errdefs.ExecutionError{Op: "start process", Err: err}
	}

	record := &model.ExecutionRecord{
		ID:        executionID,
		ProjectID: projectID,
		Status:    model.StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	entryExec := &localExecution{
		record:     record,
		cmd:        cmd,
		stdout:     stdout,
		stderr:     stderr,
		scratchDir: scratchDir,
		done:       make(chan struct{}),
	}

	e.mu.Lock()
	e.execs[executionID] = entryExec
	e.mu.Unlock()

	go e.reap(entryExec)

	e.logger.Info("execution started",
		zap.String("execution", executionID.String()),
		zap.String("project", projectID.String()),
		zap.Int("pid", cmd.Process.Pid))

	return record.Clone(), nil
}

// reap waits for the process and publishes the terminal state. It is
// the single writer of the record's terminal fields unless a Terminate
// resolved the record first.
func (e *LocalEngine) reap(entry *localExecution) {
	_ = entry.cmd.Wait()

	e.mu.Lock()
	if !entry.record.Status.Terminal() {
		exitCode := entry.cmd.ProcessState.ExitCode()
		completedAt := time.Now().UTC()
		entry.record.ExitCode = &exitCode
		entry.record.CompletedAt = &completedAt
		entry.record.Stdout = entry.stdout.String()
		entry.record.Stderr = entry.stderr.String()
		if exitCode == 0 {
			entry.record.Status = model.StatusCompleted
		} else {
			entry.record.Status = model.StatusError
		}
		entry.record.Usage.CPUTime = entry.cmd.ProcessState.UserTime() + entry.cmd.ProcessState.SystemTime()
		if rusage, ok := entry.cmd.ProcessState.SysUsage().(*syscall.Rusage); ok {
			entry.record.Usage.MemoryBytes = uint64(rusage.Maxrss) * 1024
		}
	}
	e.mu.Unlock()

	close(entry.done)
}

// Status returns a snapshot of the record. Terminal records are cached;
// live ones reflect the output captured so far.
func (e *LocalEngine) Status(_ context.Context, executionID uuid.UUID) (*model.ExecutionRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, exists := e.execs[executionID]
	if !exists {
		return nil, errdefs.NotFoundf("execution %s", executionID)
	}
	if !entry.record.Status.Terminal() {
		entry.record.Stdout = entry.stdout.String()
		entry.record.Stderr = entry.stderr.String()
	}
	return entry.record.Clone(), nil
}

// Terminate interrupts the process, waits the grace period, then kills
// it. The reaper publishes the terminal ERROR state.
func (e *LocalEngine) Terminate(_ context.Context, executionID uuid.UUID) error {
	e.mu.Lock()
	entry, exists := e.execs[executionID]
	if !exists {
		e.mu.Unlock()
		return errdefs.NotFoundf("execution %s", executionID)
	}
	if entry.record.Status.Terminal() {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	if err := entry.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		if killErr := entry.cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			return &errdefs.ExecutionError{Op: "terminate", Err: killErr}
		}
	}

	select {
	case <-entry.done:
	case <-time.After(e.cfg.StopGrace()):
		if err := entry.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			e.logger.Warn("failed to kill process after grace period",
				zap.String("execution", executionID.String()), zap.Error(err))
		}
		<-entry.done
	}

	// A process stopped by SIGTERM or SIGKILL reports a non-zero exit,
	// so the reaper has already classified the record as ERROR.
	e.logger.Info("execution terminated", zap.String("execution", executionID.String()))
	return nil
}

// Cleanup kills and releases every tracked process and scratch dir.
// Best-effort: failures are logged and never propagated.
func (e *LocalEngine) Cleanup(_ context.Context) {
	e.mu.Lock()
	entries := make(map[uuid.UUID]*localExecution, len(e.execs))
	live := make(map[uuid.UUID]bool, len(e.execs))
	for id, entry := range e.execs {
		entries[id] = entry
		live[id] = !entry.record.Status.Terminal()
	}
	e.execs = make(map[uuid.UUID]*localExecution)
	e.mu.Unlock()

	for id, entry := range entries {
		if live[id] {
			if err := entry.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				e.logger.Warn("cleanup: failed to kill process",
					zap.String("execution", id.String()), zap.Error(err))
			}
			<-entry.done
		}
		if err := e.fs.RemoveAll(entry.scratchDir); err != nil {
			e.logger.Warn("cleanup: failed to remove scratch dir",
				zap.String("execution", id.String()),
				zap.String("path", entry.scratchDir),
				zap.Error(err))
		}
	}
}

func (e *LocalEngine) reclaimScratch(scratchDir string) {
	if err := e.fs.RemoveAll(scratchDir); err != nil {
		e.logger.Warn("failed to reclaim scratch dir", zap.String("path", scratchDir), zap.Error(err))
	}
}
