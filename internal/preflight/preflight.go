package preflight

import (
	"context"

	"quacwatch/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	results = append(results,
		CheckDirectoryAccess("Jobs directory", cfg.Paths.JobsDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
	)

	for _, target := range cfg.Watch.Targets {
		results = append(results,
			CheckReadable("Watch input "+target.Input, target.Input),
			CheckDirectoryAccess("Watch output "+target.Output, target.Output),
		)
	}

	results = append(results,
		CheckFile("Pipeline script", cfg.Pipeline.Script),
		CheckFile("Parameter template", cfg.Pipeline.Template),
	)

	// Reference folders are optional; an unset token renders empty.
	if cfg.Reference.FastaDir != "" {
		results = append(results, CheckReadable("FASTA references", cfg.Reference.FastaDir))
	}
	if cfg.Reference.SpikeDir != "" {
		results = append(results, CheckReadable("Spike-in references", cfg.Reference.SpikeDir))
	}

	for _, share := range cfg.Mounts.Shares {
		results = append(results, CheckShareReachable(ctx, share))
	}

	return results
}

// Failed filters results down to the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
