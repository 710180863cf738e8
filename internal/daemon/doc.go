// Package daemon coordinates the long-running quacwatch process.
//
// It wires configuration, share mounts, one stability detector per watch
// target, the job materializer, the lifecycle runner, the history store and
// the optional metrics/status endpoint into a single lifecycle, with
// flock-based locking to prevent multiple instances on one state directory.
//
// Keep orchestration logic here: detection, materialization and pipeline
// execution live in their own packages while the daemon focuses on startup,
// shutdown, and high level coordination.
package daemon
