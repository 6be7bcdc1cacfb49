// Package notifications delivers job and session events via ntfy.
//
// The default implementation publishes to the topic configured in
// config.toml and degrades to a no-op when no topic is set. Per-category
// toggles (jobs, sessions, errors) let operators silence routine lifecycle
// messages while keeping failure alerts.
//
// All worker and daemon code depends only on the Service interface, so an
// alternative transport only needs to implement it.
package notifications
