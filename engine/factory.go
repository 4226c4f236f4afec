package engine

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/runbed/runbed/config"
	"github.com/runbed/runbed/storage"
)

// New creates the execution engine named by the configuration.
func New(logger *zap.Logger, cfg *config.Config, files storage.FileStorage) (Engine, error) {
	switch cfg.Engine.Backend {
	case "docker":
		return NewDockerEngine(logger, &cfg.Engine, files)
	case "podman":
		// Podman speaks the Docker API; only the socket differs.
		return NewDockerEngine(logger, &cfg.Engine, files, WithAPIHost(cfg.Engine.PodmanSocket))
	case "local":
		return NewLocalEngine(logger, &cfg.Engine, files), nil
	default:
		return nil, fmt.Errorf("unsupported backend: %s", cfg.Engine.Backend)
	}
}
