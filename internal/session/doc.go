// Package session tracks the status of one interactive generation session in
// a single JSON file.
//
// The tracker is a reporting surface, not a queue: callers overwrite the file
// when a session starts, mutate it as variations progress, and poll it (or the
// daemon's HTTP API) for status. Exactly one session is tracked at a time; a
// new session replaces the previous record. Completed and failed counters
// never exceed the variation total.
//
// The tracker never retries anything. Retry behaviour lives in the queue.
package session
