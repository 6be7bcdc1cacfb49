// Package queue persists image-generation jobs in SQLite and exposes helpers
// for driving their lifecycle.
//
// The Store manages database connections, schema initialization, stats
// queries, and the partitioned job surface (pending, processing, completed,
// failed). A job lives in exactly one partition at all times; partition moves
// are single atomic UPDATEs, and claiming the next pending job transitions it
// to processing in the same statement that selects it.
//
// The database is treated as transient storage for in-flight jobs rather than
// a long-term archive. Schema changes bump the version in schema.go; users
// clear the database to adopt the new schema.
//
// Treat this package as the single source of truth for queue semantics; when
// you add new statuses or payload fields, update schema.sql and bump
// schemaVersion.
package queue
