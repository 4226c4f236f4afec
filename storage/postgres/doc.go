// Package postgres implements the storage contracts on PostgreSQL.
//
// The backend uses database/sql over the pgx stdlib driver. Unique
// constraint violations map to the duplicate condition and missing rows
// map to the not-found condition, so callers observe the same error
// taxonomy as with the in-memory backend.
package postgres
