// Package environment manages per-project isolated dependency
// environments.
//
// The VenvManager provisions Python virtual environments at
// deterministic paths keyed by project id, installs dependency
// specifiers through the environment's pip, and destroys environments
// on cleanup. Each environment exclusively owns its filesystem subtree
// and carries an env.yaml manifest describing its state and installed
// packages.
//
// Usage:
//
//	mgr := environment.NewVenvManager(logger, &cfg.Environments)
//	envID, err := mgr.CreateEnvironment(ctx, projectID.String())
//	err = mgr.InstallDependencies(ctx, envID, []string{"pytest"})
//	err = mgr.CleanupEnvironment(ctx, envID)
package environment
