package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"

	"github.com/runbed/runbed/config"
	"github.com/runbed/runbed/errdefs"
	"github.com/runbed/runbed/model"
	"github.com/runbed/runbed/storage"
)

// containerAPI is the slice of the Docker client the engine uses.
// *client.Client satisfies it; tests substitute a fake.
type containerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerStatsOneShot(ctx context.Context, containerID string) (container.StatsResponseReader, error)
}

// execution pairs an execution record with the sandbox handle that the
// engine exclusively owns. Handles never leave the package.
type execution struct {
	record      *model.ExecutionRecord
	containerID string
	scratchDir  string
}

// DockerEngine implements Engine on the Docker API. Each execution runs
// in a detached container bound to a read-only snapshot of the project's
// files, with a memory ceiling and a fixed CPU budget. A Podman daemon
// exposing the same API is driven through WithAPIHost.
type DockerEngine struct {
	logger *zap.Logger
	cfg    *config.EngineConfig
	files  storage.FileStorage
	api    containerAPI
	fs     FileSystem
	host   string

	mu    sync.Mutex
	execs map[uuid.UUID]*execution
}

// DockerEngineOption defines a functional option for DockerEngine
type DockerEngineOption func(*DockerEngine)

// WithContainerAPI sets the container API client for DockerEngine
func WithContainerAPI(api containerAPI) DockerEngineOption {
	return func(e *DockerEngine) {
		e.api = api
	}
}

// WithFileSystem sets the FileSystem for DockerEngine
func WithFileSystem(fs FileSystem) DockerEngineOption {
	return func(e *DockerEngine) {
		e.fs = fs
	}
}

// WithAPIHost points the engine at a non-default daemon socket, such as
// a Podman system service.
func WithAPIHost(host string) DockerEngineOption {
	return func(e *DockerEngine) {
		e.host = host
	}
}

// NewDockerEngine creates a Docker-backed execution engine.
func NewDockerEngine(logger *zap.Logger, cfg *config.EngineConfig, files storage.FileStorage, opts ...DockerEngineOption) (*DockerEngine, error) {
	engine := &DockerEngine{
		logger: logger,
		cfg:    cfg,
		files:  files,
		fs:     RealFileSystem{},
		execs:  make(map[uuid.UUID]*execution),
	}

	for _, opt := range opts {
		opt(engine)
	}

	if engine.api == nil {
		clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
		if engine.host != "" {
			clientOpts = append(clientOpts, client.WithHost(engine.host))
		}
		api, err := client.NewClientWithOpts(clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create container runtime client: %w", err)
		}
		engine.api = api
	}

	return engine, nil
}

// Execute snapshots the project's files, launches a sandbox bound to the
// snapshot and returns immediately with a RUNNING record. If sandbox
// creation fails the partial scratch space is reclaimed and no record is
// retained.
func (e *DockerEngine) Execute(ctx context.Context, projectID uuid.UUID, entryFile string) (*model.ExecutionRecord, error) {
	files, err := e.files.ListFiles(ctx, projectID)
	if err != nil {
		// Collaborator failures propagate unmodified.
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

	containerConfig := &container.Config{
		Image:      e.cfg.Image,
		Cmd:        []string{e.cfg.Interpreter, path.Join("/code", filepath.ToSlash(entry))},
		WorkingDir: "/code",
	}
	hostConfig := &container.HostConfig{
		Binds: []string{scratchDir + ":/code:ro"},
		Resources: container.Resources{
			Memory:   e.cfg.MemoryBytes(),
			NanoCPUs: e.cfg.NanoCPUs(),
		},
		NetworkMode: "none",
	}

	resp, err := e.api.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "runbed-exec-"+executionID.String())
	if err != nil {
		e.reclaimScratch(scratchDir)
		return nil, &errdefs.ExecutionError{Op: "create sandbox", Err: err}
	}

	if err := e.api.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if rmErr := e.api.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); rmErr != nil {
			e.logger.Warn("failed to remove container after start failure",
				zap.String("container", shortID(resp.ID)), zap.Error(rmErr))
		}
		e.reclaimScratch(scratchDir)
		return nil, &errdefs.ExecutionError{Op: "start sandbox", Err: err}
	}

	record := &model.ExecutionRecord{
		ID:        executionID,
		ProjectID: projectID,
		Status:    model.StatusRunning,
		StartedAt: time.Now().UTC(),
	}

	e.mu.Lock()
	e.execs[executionID] = &execution{
		record:      record,
		containerID: resp.ID,
		scratchDir:  scratchDir,
	}
	e.mu.Unlock()

	e.logger.Info("execution started",
		zap.String("execution", executionID.String()),
		zap.String("project", projectID.String()),
		zap.String("container", shortID(resp.ID)))

	return record.Clone(), nil
}

// Status queries the sandbox's live state and classifies it. Terminal
// records are served from cache, so repeated calls are idempotent.
// Transient runtime failures degrade the record to ERROR instead of
// surfacing to the caller.
func (e *DockerEngine) Status(ctx context.Context, executionID uuid.UUID) (*model.ExecutionRecord, error) {
	e.mu.Lock()
	entry, exists := e.execs[executionID]
	if !exists {
		e.mu.Unlock()
		return nil, errdefs.NotFoundf("execution %s", executionID)
	}
	if entry.record.Status.Terminal() {
		snapshot := entry.record.Clone()
		e.mu.Unlock()
		return snapshot, nil
	}
	containerID := entry.containerID
	e.mu.Unlock()

	inspect, err := e.api.ContainerInspect(ctx, containerID)
	if err != nil {
		return e.degrade(executionID, fmt.Sprintf("error getting execution status: %v", err)), nil
	}

	stdout, stderr, err := e.fetchLogs(ctx, containerID)
	if err != nil {
		return e.degrade(executionID, fmt.Sprintf("error getting execution logs: %v", err)), nil
	}

	var usage model.ResourceUsage
	if inspect.State != nil && inspect.State.Running {
		usage = e.sampleUsage(ctx, containerID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// A concurrent Terminate may have resolved the record while the
	// inspect was in flight; terminal state wins.
	if entry.record.Status.Terminal() {
		return entry.record.Clone(), nil
	}

	if inspect.State == nil || inspect.State.Running {
		entry.record.Stdout = stdout
		entry.record.Stderr = stderr
		if usage.MemoryBytes > entry.record.Usage.MemoryBytes {
			entry.record.Usage.MemoryBytes = usage.MemoryBytes
		}
		if usage.CPUTime > entry.record.Usage.CPUTime {
			entry.record.Usage.CPUTime = usage.CPUTime
		}
		return entry.record.Clone(), nil
	}

	exitCode := inspect.State.ExitCode
	entry.record.Stdout = stdout
	entry.record.Stderr = stderr
	if inspect.State.OOMKilled {
		entry.record.Stderr += "\nmemory limit exceeded"
	}
	entry.record.ExitCode = &exitCode
	completedAt := parseFinishedAt(inspect.State.FinishedAt)
	entry.record.CompletedAt = &completedAt
	if exitCode == 0 {
		entry.record.Status = model.StatusCompleted
	} else {
		entry.record.Status = model.StatusError
	}

	return entry.record.Clone(), nil
}

// Terminate signals the sandbox to stop within the configured grace
// period, falling back to a force kill, and resolves the record to
// ERROR. Terminating an already terminal execution is a no-op.
func (e *DockerEngine) Terminate(ctx context.Context, executionID uuid.UUID) error {
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
	containerID := entry.containerID
	e.mu.Unlock()

	grace := int(e.cfg.StopGrace().Seconds())
	if err := e.api.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &grace}); err != nil {
		if killErr := e.api.ContainerKill(ctx, containerID, "SIGKILL"); killErr != nil {
			return &errdefs.ExecutionError{Op: "terminate", Err: errors.Join(err, killErr)}
		}
	}

	exitCode := -1
	completedAt := time.Now().UTC()
	var stdout, stderr string
	gotLogs := false
	if inspect, err := e.api.ContainerInspect(ctx, containerID); err == nil && inspect.State != nil {
		exitCode = inspect.State.ExitCode
		completedAt = parseFinishedAt(inspect.State.FinishedAt)
	}
	if out, errOut, err := e.fetchLogs(ctx, containerID); err == nil {
		stdout, stderr = out, errOut
		gotLogs = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if entry.record.Status.Terminal() {
		return nil
	}
	entry.record.Status = model.StatusError
	entry.record.ExitCode = &exitCode
	entry.record.CompletedAt = &completedAt
	if gotLogs {
		entry.record.Stdout = stdout
		entry.record.Stderr = stderr
	}

	e.logger.Info("execution terminated",
		zap.String("execution", executionID.String()),
		zap.String("container", shortID(containerID)))

	return nil
}

// Cleanup force-stops and releases every tracked sandbox and its scratch
// space. Individual failures are logged and never propagated so
// reclamation is never blocked.
func (e *DockerEngine) Cleanup(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, entry := range e.execs {
		if err := e.api.ContainerRemove(ctx, entry.containerID, container.RemoveOptions{Force: true}); err != nil {
			e.logger.Warn("cleanup: failed to remove container",
				zap.String("execution", id.String()),
				zap.String("container", shortID(entry.containerID)),
				zap.Error(err))
		}
		if err := e.fs.RemoveAll(entry.scratchDir); err != nil {
			e.logger.Warn("cleanup: failed to remove scratch dir",
				zap.String("execution", id.String()),
				zap.String("path", entry.scratchDir),
				zap.Error(err))
		}
	}
	e.execs = make(map[uuid.UUID]*execution)
}

// degrade resolves an execution to a terminal ERROR after a sandbox
// query failure, keeping the not-found contract intact for later calls.
func (e *DockerEngine) degrade(executionID uuid.UUID, reason string) *model.ExecutionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, exists := e.execs[executionID]
	if !exists {
		// Raced with Cleanup; synthesize nothing, return a bare ERROR view.
		return &model.ExecutionRecord{ID: executionID, Status: model.StatusError}
	}
	if entry.record.Status.Terminal() {
		return entry.record.Clone()
	}

	exitCode := 1
	completedAt := time.Now().UTC()
	entry.record.Status = model.StatusError
	entry.record.Stderr = reason
	entry.record.ExitCode = &exitCode
	entry.record.CompletedAt = &completedAt

	e.logger.Warn("execution degraded to error", zap.String("execution", executionID.String()), zap.String("reason", reason))

	return entry.record.Clone()
}

func (e *DockerEngine) fetchLogs(ctx context.Context, containerID string) (stdout, stderr string, err error) {
	reader, err := e.api.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", err
	}
	defer reader.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, reader); err != nil {
		return "", "", err
	}
	return stdoutBuf.String(), stderrBuf.String(), nil
}

// sampleUsage takes a one-shot stats reading. Best-effort: a failed
// sample leaves the previous metrics in place.
func (e *DockerEngine) sampleUsage(ctx context.Context, containerID string) model.ResourceUsage {
	var usage model.ResourceUsage

	stats, err := e.api.ContainerStatsOneShot(ctx, containerID)
	if err != nil {
		e.logger.Debug("stats sample failed", zap.String("container", shortID(containerID)), zap.Error(err))
		return usage
	}
	defer stats.Body.Close()

	var payload container.StatsResponse
	if err := json.NewDecoder(stats.Body).Decode(&payload); err != nil {
		e.logger.Debug("stats decode failed", zap.String("container", shortID(containerID)), zap.Error(err))
		return usage
	}

	usage.MemoryBytes = payload.MemoryStats.MaxUsage
	if usage.MemoryBytes == 0 {
		usage.MemoryBytes = payload.MemoryStats.Usage
	}
	usage.CPUTime = time.Duration(payload.CPUStats.CPUUsage.TotalUsage)
	return usage
}

func (e *DockerEngine) reclaimScratch(scratchDir string) {
	if err := e.fs.RemoveAll(scratchDir); err != nil {
		e.logger.Warn("failed to reclaim scratch dir", zap.String("path", scratchDir), zap.Error(err))
	}
}

// parseFinishedAt converts the runtime's exit timestamp, falling back to
// the current time if it is absent or malformed.
func parseFinishedAt(finishedAt string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, finishedAt)
	if err != nil || t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

// shortID returns a shortened container ID for logging
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
