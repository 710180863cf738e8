// Package pipeline resolves the Nextflow executable and launches one workflow
// run per job, capturing its combined output in the job's log directory.
package pipeline
