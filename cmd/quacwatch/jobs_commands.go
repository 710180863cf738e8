package main

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"quacwatch/internal/history"
	"quacwatch/internal/jobs"
	"quacwatch/internal/logging"
	"quacwatch/internal/staging"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and manage job directories",
	}

	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsRequeueCommand(ctx))
	jobsCmd.AddCommand(newJobsHistoryCommand(ctx))
	jobsCmd.AddCommand(newJobsDiskCommand(ctx))
	jobsCmd.AddCommand(newJobsCleanCommand(ctx))

	return jobsCmd
}

type jobRow struct {
	Key       string    `json:"key"`
	State     string    `json:"state"`
	Source    string    `json:"source,omitempty"`
	Target    string    `json:"target,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
	ExitCode  string    `json:"exit_code,omitempty"`
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var stateFilters []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List job directories and their state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			wanted := make(map[jobs.State]bool, len(stateFilters))
			for _, raw := range stateFilters {
				state, ok := jobs.ParseState(raw)
				if !ok {
					return fmt.Errorf("unknown state %q", raw)
				}
				wanted[state] = true
			}

			summaries, err := jobs.List(cfg.Paths.JobsDir, cfg.Pipeline.ParamsFileName)
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			rows := make([]jobRow, 0, len(summaries))
			for _, s := range summaries {
				if len(wanted) > 0 && !wanted[s.State] {
					continue
				}
				row := jobRow{Key: s.Layout.Key, State: string(s.State), UpdatedAt: s.UpdatedAt}
				if s.Metadata != nil {
					row.Source = s.Metadata.Source.Name
					row.Target = s.Metadata.Target.ID
				}
				if code, ok := s.ExitCode(); ok {
					row.ExitCode = code
				}
				rows = append(rows, row)
			}

			if ctx.JSONMode() {
				return writeJSON(cmd, rows)
			}
			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, "No jobs found")
				return nil
			}
			table := make([][]string, 0, len(rows))
			for _, row := range rows {
				table = append(table, []string{
					shortKey(row.Key),
					row.State,
					valueOrDash(row.Source),
					valueOrDash(row.Target),
					formatAge(row.UpdatedAt),
					valueOrDash(row.ExitCode),
				})
			}
			fmt.Fprint(out, renderTable(
				[]string{"Key", "State", "Source", "Target", "Updated", "Exit"},
				table,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
			))
			fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&stateFilters, "state", "s", nil, "Filter by state (ready, working, finished, failed, incomplete)")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <key>",
		Short: "Show one job's metadata and marker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, err := ctx.resolveJob(args[0])
			if err != nil {
				return err
			}
			summary, err := jobs.Inspect(layout)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("job %s not found", layout.Key)
				}
				return fmt.Errorf("inspect job: %w", err)
			}

			if ctx.JSONMode() {
				payload := map[string]any{
					"key":          layout.Key,
					"state":        summary.State,
					"dir":          layout.Dir(),
					"updated_at":   summary.UpdatedAt,
					"metadata":     summary.Metadata,
					"marker":       summary.Fields,
					"pipeline_log": layout.LatestPipelineLog(),
				}
				return writeJSON(cmd, payload)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Key:        %s\n", layout.Key)
			fmt.Fprintf(out, "State:      %s\n", summary.State)
			fmt.Fprintf(out, "Directory:  %s\n", layout.Dir())
			fmt.Fprintf(out, "Updated:    %s\n", formatAge(summary.UpdatedAt))
			if meta := summary.Metadata; meta != nil {
				fmt.Fprintf(out, "Source:     %s (%s)\n", meta.Source.Path, formatSize(meta.Source.Size))
				fmt.Fprintf(out, "Target:     %s -> %s\n", meta.Target.Input, meta.Target.Output)
				fmt.Fprintf(out, "Created:    %s\n", meta.CreatedAt.Format(time.RFC3339))
				fmt.Fprintf(out, "Params:     %s\n", meta.ParamsPath)
				if meta.References.Fasta != "" {
					fmt.Fprintf(out, "FASTA:      %s\n", meta.References.Fasta)
				}
				if meta.References.Spike != "" {
					fmt.Fprintf(out, "Spike-in:   %s\n", meta.References.Spike)
				}
			}
			if log := layout.LatestPipelineLog(); log != "" {
				fmt.Fprintf(out, "Log:        %s\n", log)
			}
			if len(summary.Fields) > 0 {
				fmt.Fprintf(out, "\n%s\n", jobs.MarkerName(summary.State))
				for _, field := range summary.Fields {
					fmt.Fprintf(out, "  %s\n", field.String())
				}
			}
			return nil
		},
	}
}

func newJobsRequeueCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <key>",
		Short: "Return a working or failed job to the ready queue",
		Long: `Return a WORKING or FAILED job to READY so the runner launches it again.

The job's output and work folders are emptied first. Only requeue a WORKING job
when no pipeline is running for it, typically after a daemon restart.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			layout, err := ctx.resolveJob(args[0])
			if err != nil {
				return err
			}
			previous, err := jobs.Requeue(layout, time.Now().UTC().Format(time.RFC3339))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued %s (was %s)\n", layout.Key, previous)
			return nil
		},
	}
}

func newJobsHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var key string
	var runID string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded pipeline runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := history.Open(cfg.HistoryPath())
			if err != nil {
				return err
			}
			defer store.Close()

			var runs []*history.Run
			if id := strings.TrimSpace(runID); id != "" {
				run, err := store.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				if run == nil {
					return fmt.Errorf("run %s not found", id)
				}
				if ctx.JSONMode() {
					return writeJSON(cmd, run)
				}
				printRun(cmd, run)
				return nil
			}
			if strings.TrimSpace(key) != "" {
				layout, err := ctx.resolveJob(key)
				if err != nil {
					return err
				}
				runs, err = store.ForJob(cmd.Context(), layout.Key)
				if err != nil {
					return err
				}
			} else {
				runs, err = store.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
			}

			if ctx.JSONMode() {
				if runs == nil {
					runs = []*history.Run{}
				}
				return writeJSON(cmd, runs)
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				exit := "-"
				if run.ExitCode != nil {
					exit = strconv.Itoa(*run.ExitCode)
				}
				rows = append(rows, []string{
					shortKey(run.JobKey),
					valueOrDash(run.SourceName),
					run.State,
					exit,
					formatAge(run.StartedAt),
					formatDuration(run.Duration()),
					valueOrDash(run.ErrorClass),
				})
			}
			fmt.Fprint(out, renderTable(
				[]string{"Key", "Source", "State", "Exit", "Started", "Duration", "Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
			))
			fmt.Fprintln(out)
			if stats, err := store.Stats(cmd.Context()); err == nil && len(stats) > 0 {
				states := make([]string, 0, len(stats))
				for state := range stats {
					states = append(states, state)
				}
				sort.Strings(states)
				parts := make([]string, 0, len(states))
				for _, state := range states {
					parts = append(parts, fmt.Sprintf("%s=%d", state, stats[state]))
				}
				fmt.Fprintf(out, "All runs: %s\n", strings.Join(parts, " "))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show")
	cmd.Flags().StringVar(&key, "job", "", "Only show runs of this job key")
	cmd.Flags().StringVar(&runID, "run", "", "Show a single run by run ID")
	return cmd
}

func printRun(cmd *cobra.Command, run *history.Run) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:        %s\n", run.RunID)
	fmt.Fprintf(out, "Job:        %s\n", run.JobKey)
	fmt.Fprintf(out, "Source:     %s\n", valueOrDash(run.SourcePath))
	fmt.Fprintf(out, "State:      %s\n", run.State)
	if run.ExitCode != nil {
		fmt.Fprintf(out, "Exit code:  %d\n", *run.ExitCode)
	}
	fmt.Fprintf(out, "Started:    %s\n", run.StartedAt.Format(time.RFC3339))
	if !run.FinishedAt.IsZero() {
		fmt.Fprintf(out, "Duration:   %s\n", formatDuration(run.Duration()))
	}
	if run.Command != "" {
		fmt.Fprintf(out, "Command:    %s\n", run.Command)
	}
	if run.LogPath != "" {
		fmt.Fprintf(out, "Log:        %s\n", run.LogPath)
	}
	if run.ResultDir != "" {
		fmt.Fprintf(out, "Results:    %s\n", run.ResultDir)
	}
	if run.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:      %s (%s)\n", run.ErrorMessage, valueOrDash(run.ErrorClass))
	}
}

func newJobsDiskCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "disk",
		Short: "Show disk usage of job directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			dirs, err := staging.ListDirectories(cfg.Paths.JobsDir)
			if err != nil {
				return fmt.Errorf("list job directories: %w", err)
			}

			var totalSize int64
			for _, dir := range dirs {
				totalSize += dir.Size
			}
			if ctx.JSONMode() {
				if dirs == nil {
					dirs = []staging.DirInfo{}
				}
				return writeJSON(cmd, map[string]any{
					"jobs_dir":         cfg.Paths.JobsDir,
					"directories":      dirs,
					"total_size_bytes": totalSize,
				})
			}

			out := cmd.OutOrStdout()
			if len(dirs) == 0 {
				fmt.Fprintln(out, "No job directories found")
				return nil
			}
			fmt.Fprintf(out, "Jobs directory: %s\n\n", cfg.Paths.JobsDir)
			rows := make([][]string, 0, len(dirs))
			for _, dir := range dirs {
				rows = append(rows, []string{shortKey(dir.Name), string(dir.State), formatAge(dir.ModTime), formatSize(dir.Size)})
			}
			fmt.Fprint(out, renderTable(
				[]string{"Key", "State", "Age", "Size"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight},
			))
			fmt.Fprintf(out, "\nTotal: %d directories, %s\n", len(dirs), formatSize(totalSize))
			return nil
		},
	}
}

func newJobsCleanCommand(ctx *commandContext) *cobra.Command {
	var olderThanDays int

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Remove incomplete and old finished job directories",
		Long: `Remove job directories that hold no marker (left by an interrupted
materialization) and, with --older-than, finished job directories whose
marker is older than the given number of days.

Failed and working jobs are never removed; delete them by hand once inspected.
The command refuses to run while the daemon holds its lock.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			lock := flock.New(cfg.LockPath())
			locked, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire daemon lock: %w", err)
			}
			if !locked {
				return errors.New("daemon is running; stop it before cleaning job directories")
			}
			defer func() { _ = lock.Unlock() }()

			logger := logging.NewNop()
			result := staging.CleanIncomplete(cmd.Context(), cfg.Paths.JobsDir, logger)
			if olderThanDays > 0 {
				stale := staging.CleanStale(cmd.Context(), cfg.Paths.JobsDir, time.Duration(olderThanDays)*24*time.Hour, logger)
				result.Removed = append(result.Removed, stale.Removed...)
				result.Errors = append(result.Errors, stale.Errors...)
			}

			if ctx.JSONMode() {
				errs := make([]string, 0, len(result.Errors))
				for _, e := range result.Errors {
					errs = append(errs, fmt.Sprintf("%s: %v", e.Path, e.Error))
				}
				return writeJSON(cmd, map[string]any{"removed": len(result.Removed), "errors": errs})
			}
			out := cmd.OutOrStdout()
			if len(result.Removed) == 0 && len(result.Errors) == 0 {
				fmt.Fprintln(out, "No job directories to clean")
				return nil
			}
			for _, path := range result.Removed {
				fmt.Fprintf(out, "  Removed %s\n", filepath.Base(path))
			}
			for _, e := range result.Errors {
				fmt.Fprintf(out, "  Error: %s: %v\n", e.Path, e.Error)
			}
			fmt.Fprintf(out, "Removed %d job directories, %d errors\n", len(result.Removed), len(result.Errors))
			return nil
		},
	}

	cmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Also remove finished jobs older than this many days")
	return cmd
}
