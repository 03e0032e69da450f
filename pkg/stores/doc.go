// Package stores archives finished operations in SQLite. Each operation is
// stored with its ordered phase log and every attempt of every phase, so a
// failed update can be inspected long after the process exited.
package stores
