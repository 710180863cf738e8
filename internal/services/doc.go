// Package services defines shared utilities consumed by the watcher, the job
// materializer and the lifecycle runner.
//
// Key responsibilities:
//   - Context helpers that stamp job keys, watch targets, stage names, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures can be
//     classified consistently in logs, metrics, and the history store.
package services
