// Package storage defines the persistence contracts for projects and
// files and provides the backends selected at construction.
//
// The execution engine is a pure consumer of these contracts: it reads
// a project's files once, at sandbox-creation time, and never mutates
// stored data. Two backends ship with the platform: an in-memory store
// for tests and embedders, and a PostgreSQL store for durable metadata.
//
// Usage:
//
//	stores, err := storage.New(ctx, logger, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer stores.Close()
//	files, err := stores.Files.ListFiles(ctx, projectID)
package storage
