// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files. It covers logging, the execution
// engine's sandbox backend and resource limits, the runtime environment
// manager, and the storage collaborators.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Engine backend: %s\n", cfg.Engine.Backend)
package config
