// Package flags implements the filesystem handoff contract between content
// tooling and the worker: one JSON flag file per article signals "article
// ready, images pending" and carries the generation payload.
//
// The worker sweeps the flags directory on each poll, converts flags into
// queue jobs, and clears them. Writers replace flags atomically so a sweep
// never observes a partial file.
package flags
