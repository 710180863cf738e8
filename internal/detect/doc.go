// Package detect implements the per-target stability detector.
//
// A Detector lists the top-level entries of one input folder on a fixed
// interval and remembers the size of every matching entry for one cycle. An
// entry becomes a Candidate when its size is unchanged between two
// consecutive scans, is non-zero, and its name is neither in the run-local
// enqueued set nor in the target's persistent ledger. Candidates are passed to
// a Handoff (the job materializer); a failed handoff makes the name eligible
// again on the next cycle.
//
// Bruker acquisitions arrive as directories ending in ".d". A pattern ending
// in ".raw" implicitly also matches the corresponding ".d" name, and the size
// of such a directory is the recursive sum of the files inside it.
package detect
