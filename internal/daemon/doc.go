// Package daemon wires the background worker to the local HTTP status API
// and enforces single-instance execution with a file lock.
package daemon
