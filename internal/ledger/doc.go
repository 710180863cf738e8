// Package ledger implements the two deduplication records consulted before a
// file is handed to the job materializer.
//
// Ledger is the persistent, human-editable list of processed file names kept
// in each target's output folder (ignore.txt). Appends happen under an
// exclusive flock on a sibling lock file and always use O_APPEND, so lines are
// never rewritten by the daemon. Deleting a line by hand re-enables
// processing of that file on the next detector cycle.
//
// EnqueuedSet is the run-local record of names already handed off during the
// current process lifetime. It is mirrored to a file under the state
// directory for inspection and is reset every time the daemon starts.
package ledger
