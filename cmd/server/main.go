package main

import (
	"context"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/runbed/runbed/config"
	"github.com/runbed/runbed/engine"
	"github.com/runbed/runbed/environment"
	"github.com/runbed/runbed/logger"
	"github.com/runbed/runbed/storage"
)

func main() {
	// Optional local overrides; absence is not an error.
	_ = godotenv.Load()

	app := fx.New(
		// Provide dependencies
		fx.Provide(
			// Config
			config.New,

			// Logger with configuration
			logger.NewFromConfig,

			// Storage collaborators based on config
			func(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config) (*storage.Stores, error) {
				stores, err := storage.New(context.Background(), log, cfg)
				if err != nil {
					return nil, err
				}
				lc.Append(fx.Hook{
					OnStop: func(context.Context) error {
						return stores.Close()
					},
				})
				return stores, nil
			},
			func(stores *storage.Stores) storage.FileStorage { return stores.Files },
			func(stores *storage.Stores) storage.ProjectStorage { return stores.Projects },

			// Execution engine based on config
			engine.New,

			// Runtime environment manager
			func(log *zap.Logger, cfg *config.Config) environment.Manager {
				return environment.NewVenvManager(log, &cfg.Environments)
			},
		),

		// Release every sandbox on shutdown; cleanup is best-effort.
		fx.Invoke(
			func(lc fx.Lifecycle, log *zap.Logger, cfg *config.Config, eng engine.Engine, _ environment.Manager) {
				lc.Append(fx.Hook{
					OnStop: func(ctx context.Context) error {
						eng.Cleanup(ctx)
						return nil
					},
				})
				log.Info("runbed started", zap.String("engine_backend", cfg.Engine.Backend))
			},
		),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Start the application
	app.Run()
}
