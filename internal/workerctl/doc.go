// Package workerctl manages the detached daemon process from the CLI:
// pid-file bookkeeping, a kill(pid, 0) liveness probe, detached launch,
// and graceful or forced termination.
package workerctl
