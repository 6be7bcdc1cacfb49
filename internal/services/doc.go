// Package services defines shared utilities consumed by the worker and
// external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, session IDs, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that keep failure
//     classification consistent across subprocess and HTTP clients.
//
// Use these helpers when wiring new integrations so operational behaviour
// (error handling, observability, retries) stays uniform across the system.
package services
