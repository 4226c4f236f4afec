// Package errdefs defines the error taxonomy of the execution platform.
//
// It provides sentinel errors for not-found and duplicate conditions,
// typed errors for storage, execution, resource, environment, dependency
// and security failures, and predicate helpers so callers classify
// errors without matching message strings.
package errdefs
