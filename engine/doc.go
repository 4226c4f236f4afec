// Package engine provides the sandboxed execution core.
//
// The engine materializes a read-only snapshot of a project's files,
// launches the entry program inside an isolated sandbox under a memory
// ceiling and a fixed CPU budget, tracks and classifies the sandbox's
// live state, supports forced termination within a bounded grace
// period, and reclaims resources at shutdown. It supports a Docker
// backend (also driving Podman through its Docker-compatible socket)
// and a local process backend for development.
//
// Executions are decoupled from the caller's control flow: Execute
// returns immediately with a RUNNING record and callers poll Status.
// Status transitions are monotonic (QUEUED -> RUNNING -> {COMPLETED,
// ERROR}); terminal records are cached and idempotent.
//
// Usage:
//
//	eng, err := engine.New(logger, cfg, stores.Files)
//	record, err := eng.Execute(ctx, projectID, "main.py")
//	record, err = eng.Status(ctx, record.ID)
package engine
