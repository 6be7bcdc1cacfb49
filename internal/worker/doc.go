// Package worker runs the background generation loop.
//
// The loop claims one job at a time from the queue, runs the generator
// subprocess, hands the outputs to the CMS integrator, and records the
// outcome through Complete or Fail. Progress is mirrored into the session
// tracker when a job carries a session id, and flag files are swept into
// queue jobs on every poll.
//
// Shutdown is graceful: cancelling the loop context stops polling, but an
// in-flight job runs to completion. Only the generator's hard timeout
// kills the subprocess.
package worker
