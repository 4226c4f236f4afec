package environment

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/runbed/runbed/config"
	"github.com/runbed/runbed/errdefs"
)

const (
	manifestName  = "env.yaml"
	dirPermission = 0o755
	manifestPerm  = 0o644
)

// VenvManager implements Manager with Python virtual environments. Each
// environment lives at a deterministic path keyed by the project id and
// exclusively owns its filesystem subtree.
type VenvManager struct {
	logger *zap.Logger
	cfg    *config.EnvironmentConfig
	runner CommandRunner
	fs     FileSystem

	mu   sync.Mutex
	envs map[string]*Record
}

// VenvManagerOption defines a functional option for VenvManager
type VenvManagerOption func(*VenvManager)

// WithCommandRunner sets the CommandRunner for VenvManager
func WithCommandRunner(runner CommandRunner) VenvManagerOption {
	return func(m *VenvManager) {
		m.runner = runner
	}
}

// WithFileSystem sets the FileSystem for VenvManager
func WithFileSystem(fs FileSystem) VenvManagerOption {
	return func(m *VenvManager) {
		m.fs = fs
	}
}

// NewVenvManager creates a virtual-environment manager with default
// implementations and optional interfaces.
func NewVenvManager(logger *zap.Logger, cfg *config.EnvironmentConfig, opts ...VenvManagerOption) *VenvManager {
	manager := &VenvManager{
		logger: logger,
		cfg:    cfg,
		runner: RealCommandRunner{},
		fs:     RealFileSystem{},
		envs:   make(map[string]*Record),
	}

	for _, opt := range opts {
		opt(manager)
	}

	return manager
}

// EnvID returns the deterministic environment id for a project.
func EnvID(projectID string) string {
	return "env-" + projectID
}

// CreateEnvironment allocates an isolated environment for the project.
// A second create for the same project is rejected with a duplicate
// error; the caller must clean up the existing environment first.
func (m *VenvManager) CreateEnvironment(ctx context.Context, projectID string) (string, error) {
	envID := EnvID(projectID)
	root := filepath.Join(m.cfg.BaseDir, envID)

	m.mu.Lock()
	if _, exists := m.envs[envID]; exists {
		m.mu.Unlock()
		return "", errdefs.Duplicatef("environment %s", envID)
	}
	m.mu.Unlock()

	exists, err := m.fs.FileExists(root)
	if err != nil {
		return "", &errdefs.EnvironmentError{EnvID: envID, Err: err}
	}
	if exists {
		return "", errdefs.Duplicatef("environment %s at %s", envID, root)
	}

	if err := m.fs.MkdirAll(root, dirPermission); err != nil {
		return "", &errdefs.EnvironmentError{EnvID: envID, Err: err}
	}

	_, stderr, exitCode, err := m.runner.RunCommand(ctx, []string{m.cfg.Python, "-m", "venv", root})
	if err != nil {
		m.reclaimRoot(envID, root)
		return "", &errdefs.EnvironmentError{EnvID: envID, Err: err}
	}
	if exitCode != 0 {
		m.reclaimRoot(envID, root)
		return "", &errdefs.EnvironmentError{EnvID: envID, Err: fmt.Errorf("venv creation exited %d: %s", exitCode, stderr)}
	}

	record := &Record{
		ID:        envID,
		Root:      root,
		State:     StateCreated,
		CreatedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.envs[envID] = record
	m.mu.Unlock()

	if err := m.writeManifest(record); err != nil {
		m.logger.Warn("failed to write environment manifest", zap.String("environment", envID), zap.Error(err))
	}

	m.logger.Info("environment created", zap.String("environment", envID), zap.String("root", root))
	return envID, nil
}

// InstallDependencies invokes pip with the given specifiers, verbatim,
// after the denylist check. May be called repeatedly while the
// environment is not destroyed; a non-zero exit fails with a dependency
// error carrying the captured output. No automatic retry.
func (m *VenvManager) InstallDependencies(ctx context.Context, envID string, dependencies []string) error {
	m.mu.Lock()
	record, exists := m.envs[envID]
	if !exists {
		m.mu.Unlock()
		return errdefs.NotFoundf("environment %s", envID)
	}
	root := record.Root
	m.mu.Unlock()

	for _, dep := range dependencies {
		if err := m.checkSpecifier(dep); err != nil {
			return err
		}
	}
	if len(dependencies) == 0 {
		return nil
	}

	pip := filepath.Join(root, "bin", "pip")
	args := append([]string{pip, "install"}, dependencies...)
	_, stderr, exitCode, err := m.runner.RunCommand(ctx, args)
	if err != nil {
		return &errdefs.EnvironmentError{EnvID: envID, Err: err}
	}
	if exitCode != 0 {
		return &errdefs.DependencyError{EnvID: envID, ExitCode: exitCode, Output: stderr}
	}

	m.mu.Lock()
	record.State = StateReady
	record.Packages = append(record.Packages, dependencies...)
	snapshot := *record
	m.mu.Unlock()

	if err := m.writeManifest(&snapshot); err != nil {
		m.logger.Warn("failed to write environment manifest", zap.String("environment", envID), zap.Error(err))
	}

	m.logger.Info("dependencies installed",
		zap.String("environment", envID),
		zap.Strings("packages", dependencies))
	return nil
}

// CleanupEnvironment deletes the environment's filesystem state and
// invalidates its id. Not idempotent: a second call fails not-found.
func (m *VenvManager) CleanupEnvironment(_ context.Context, envID string) error {
	m.mu.Lock()
	record, exists := m.envs[envID]
	if !exists {
		m.mu.Unlock()
		return errdefs.NotFoundf("environment %s", envID)
	}
	delete(m.envs, envID)
	record.State = StateDestroyed
	root := record.Root
	m.mu.Unlock()

	if err := m.fs.RemoveAll(root); err != nil {
		return &errdefs.EnvironmentError{EnvID: envID, Err: err}
	}

	m.logger.Info("environment destroyed", zap.String("environment", envID))
	return nil
}

// Inspect returns a copy of the environment's record.
func (m *VenvManager) Inspect(envID string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, exists := m.envs[envID]
	if !exists {
		return Record{}, errdefs.NotFoundf("environment %s", envID)
	}
	snapshot := *record
	snapshot.Packages = append([]string(nil), record.Packages...)
	return snapshot, nil
}

// checkSpecifier rejects dependency specifiers the security policy
// disallows: denied names, and path or URL installs.
func (m *VenvManager) checkSpecifier(spec string) error {
	trimmed := strings.TrimSpace(spec)
	if trimmed == "" {
		return &errdefs.SecurityError{Package: spec, Reason: "empty specifier"}
	}
	if strings.ContainsAny(trimmed, "/\\:") {
		return &errdefs.SecurityError{Package: spec, Reason: "path and URL installs are not allowed"}
	}

	name := trimmed
	if idx := strings.Index(name, "=="); idx >= 0 {
		name = name[:idx]
	}
	name = strings.ToLower(strings.TrimSpace(name))

	for _, denied := range m.cfg.DeniedPackages {
		if strings.ToLower(denied) == name {
			return &errdefs.SecurityError{Package: spec, Reason: "package is denied by policy"}
		}
	}
	return nil
}

// reclaimRoot removes a partially created environment directory so the
// id stays available for a later create.
func (m *VenvManager) reclaimRoot(envID, root string) {
	if err := m.fs.RemoveAll(root); err != nil {
		m.logger.Warn("failed to reclaim environment dir", zap.String("environment", envID), zap.Error(err))
	}
}

func (m *VenvManager) writeManifest(record *Record) error {
	data, err := yaml.Marshal(record)
	if err != nil {
		return err
	}
	return m.fs.WriteFile(filepath.Join(record.Root, manifestName), data, manifestPerm)
}
