// Package main is the entry point for the runbed daemon.
//
// runbed is a local sandboxed code-execution platform: it snapshots a
// project's files, runs a designated entry file inside an isolated,
// resource-bounded sandbox, tracks the execution asynchronously, and
// reports captured output and exit status. The daemon wires the
// execution engine, the runtime environment manager and the storage
// collaborators together with fx and keeps them alive until shutdown,
// at which point every tracked sandbox is force-stopped and its scratch
// space reclaimed.
//
// The application uses Uber's fx framework for dependency injection and
// lifecycle management, with zap for structured logging and viper for
// configuration.
package main
