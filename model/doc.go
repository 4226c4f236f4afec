// Package model defines the shared data types of the execution platform.
//
// The model package holds the project and file representations consumed
// from the storage collaborators, the execution record the engine
// maintains for every sandbox, and the string-backed status and language
// enumerations with their fixed serialization values.
package model
