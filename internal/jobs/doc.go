// Package jobs owns the on-disk job directory: its layout, lifecycle markers,
// metadata document, and materialization from a detected source file.
//
// A job lives in <jobs_dir>/<key>/ where key is derived from the source path.
// The directory holds exactly one marker file naming its state. Creating the
// directory is the mutex against duplicate jobs and renaming the marker is the
// state transition; nothing else coordinates writers.
package jobs
