// Package runner drives job directories through READY, WORKING, FINISHED
// and FAILED.
//
// The runner polls the jobs directory and is woken early by filesystem
// events when a READY marker appears. Claiming a job is a marker rename; a
// successful pipeline run is reconciled into the target output folder and the
// source name is appended to the target ledger. Failed jobs are left in place
// for inspection and are only retried after operator action.
package runner
