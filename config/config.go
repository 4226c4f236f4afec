package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Logging      LoggingConfig     `mapstructure:"logging"`
	Engine       EngineConfig      `mapstructure:"engine"`
	Environments EnvironmentConfig `mapstructure:"environments"`
	Storage      StorageConfig     `mapstructure:"storage"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// EngineConfig holds execution engine configuration
type EngineConfig struct {
	Backend      string  `mapstructure:"backend"`
	Image        string  `mapstructure:"image"`
	Interpreter  string  `mapstructure:"interpreter"`
	Memory       string  `mapstructure:"memory"`
	CPUs         float64 `mapstructure:"cpus"`
	WorkspaceDir string  `mapstructure:"workspace_dir"`
	StopGraceSec int     `mapstructure:"stop_grace_sec"`
	PodmanSocket string  `mapstructure:"podman_socket"`
}

// EnvironmentConfig holds runtime environment manager configuration
type EnvironmentConfig struct {
	BaseDir        string   `mapstructure:"base_dir"`
	Python         string   `mapstructure:"python"`
	DeniedPackages []string `mapstructure:"denied_packages"`
}

// StorageConfig holds storage collaborator configuration
type StorageConfig struct {
	Backend        string `mapstructure:"backend"`
	PostgresURL    string `mapstructure:"postgres_url"`
	PingTimeoutSec int    `mapstructure:"ping_timeout_sec"`
	MaxOpenConns   int    `mapstructure:"max_open_conns"`
	MaxIdleConns   int    `mapstructure:"max_idle_conns"`
	ConnLifeMin    int    `mapstructure:"conn_lifetime_min"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Set default values
	viper.SetDefault("logging.mode", "production")
	viper.SetDefault("logging.level", "info")

	viper.SetDefault("engine.backend", "docker")
	viper.SetDefault("engine.image", "python:3.11-slim")
	viper.SetDefault("engine.interpreter", "python")
	viper.SetDefault("engine.memory", "512m")
	viper.SetDefault("engine.cpus", 1.0)
	viper.SetDefault("engine.workspace_dir", filepath.Join(os.TempDir(), "runbed", "executions"))
	viper.SetDefault("engine.stop_grace_sec", 5)
	viper.SetDefault("engine.podman_socket", "unix:///run/podman/podman.sock")

	viper.SetDefault("environments.base_dir", filepath.Join(os.TempDir(), "runbed", "envs"))
	viper.SetDefault("environments.python", "python3")
	viper.SetDefault("environments.denied_packages", []string{})

	viper.SetDefault("storage.backend", "memory")
	viper.SetDefault("storage.postgres_url", "")
	viper.SetDefault("storage.ping_timeout_sec", 2)
	viper.SetDefault("storage.max_open_conns", 10)
	viper.SetDefault("storage.max_idle_conns", 5)
	viper.SetDefault("storage.conn_lifetime_min", 30)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	supportedBackends := map[string]bool{
		"docker": true,
		"podman": true,
		"local":  true,
	}
	if !supportedBackends[c.Engine.Backend] {
		return fmt.Errorf("unsupported engine.backend: %s", c.Engine.Backend)
	}

	if _, err := units.RAMInBytes(c.Engine.Memory); err != nil {
		return fmt.Errorf("invalid engine.memory %q: %w", c.Engine.Memory, err)
	}
	if c.Engine.CPUs <= 0 {
		return fmt.Errorf("engine.cpus must be positive, got: %v", c.Engine.CPUs)
	}
	if c.Engine.StopGraceSec < 0 {
		return fmt.Errorf("engine.stop_grace_sec must be non-negative, got: %d", c.Engine.StopGraceSec)
	}
	if c.Engine.WorkspaceDir == "" {
		return fmt.Errorf("engine.workspace_dir must not be empty")
	}

	if c.Environments.BaseDir == "" {
		return fmt.Errorf("environments.base_dir must not be empty")
	}
	if c.Environments.Python == "" {
		return fmt.Errorf("environments.python must not be empty")
	}

	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("storage.postgres_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unsupported storage.backend: %s", c.Storage.Backend)
	}

	return nil
}

// MemoryBytes returns the engine memory ceiling in bytes.
func (e *EngineConfig) MemoryBytes() int64 {
	bytes, err := units.RAMInBytes(e.Memory)
	if err != nil {
		// Validate rejects unparseable values before the engine runs.
		return 0
	}
	return bytes
}

// NanoCPUs returns the engine CPU budget in Docker's nano-CPU unit.
func (e *EngineConfig) NanoCPUs() int64 {
	return int64(e.CPUs * 1e9)
}

// StopGrace returns the termination grace period as a duration.
func (e *EngineConfig) StopGrace() time.Duration {
	return time.Duration(e.StopGraceSec) * time.Second
}

// PingTimeout returns the storage ping timeout as a duration.
func (s *StorageConfig) PingTimeout() time.Duration {
	return time.Duration(s.PingTimeoutSec) * time.Second
}

// ConnLifetime returns the storage connection lifetime as a duration.
func (s *StorageConfig) ConnLifetime() time.Duration {
	return time.Duration(s.ConnLifeMin) * time.Minute
}
