package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"quacwatch/internal/history"
	"quacwatch/internal/jobs"
	"quacwatch/internal/logging"
	"quacwatch/internal/pipeline"
	"quacwatch/internal/services"
)

// attempt carries the state of one pipeline run of a job.
type attempt struct {
	layout  jobs.Layout
	runID   string
	started time.Time
	meta    *jobs.Metadata
	cmd     pipeline.Command
	logger  *slog.Logger
}

// process claims a READY job and runs it to FINISHED or FAILED. It returns
// the final state, or "" when the job was not claimed.
func (r *Runner) process(ctx context.Context, layout jobs.Layout) jobs.State {
	logger := r.logger.With(logging.String(logging.FieldJobKey, layout.Key))

	if err := jobs.Transition(layout, jobs.StateReady, jobs.StateWorking); err != nil {
		if errors.Is(err, jobs.ErrTransitionLost) {
			logger.Debug("job already claimed", logging.Error(err))
		} else {
			logging.WarnWithContext(logger, "job claim failed", "job_claim_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check permissions on the job directory"),
			)
		}
		return ""
	}

	// Bookkeeping must complete even when shutdown cancels ctx mid-run.
	bg := context.WithoutCancel(ctx)
	bg = services.WithJobKey(bg, layout.Key)

	a := &attempt{
		layout:  layout,
		runID:   uuid.NewString(),
		started: r.now(),
	}
	logger = logger.With(logging.String(logging.FieldCorrelationID, a.runID))
	var closer io.Closer
	if tee, c, err := logging.NewFileTee(logger, layout.EventsPath()); err == nil {
		logger, closer = tee, c
	} else {
		logger.Debug("job event log unavailable", logging.Error(err))
	}
	if closer != nil {
		defer closer.Close()
	}
	a.logger = logger

	if err := jobs.AppendMarker(layout, jobs.StateWorking,
		jobs.Field(jobs.KeyStarted, a.started.UTC().Format(time.RFC3339)),
		jobs.Field(jobs.KeyRunID, a.runID),
	); err != nil {
		logger.Warn("working marker not updated", logging.Error(err))
	}

	meta, err := jobs.ReadMetadata(layout)
	if err != nil {
		return r.fail(bg, a, pipeline.LaunchFailedExitCode,
			services.Wrap(services.ErrPipeline, "runner", "read metadata", layout.MetadataPath(), err))
	}
	a.meta = &meta
	a.logger = a.logger.With(
		logging.String(logging.FieldTarget, meta.Target.ID),
		logging.String("source", meta.Source.Name),
	)
	r.recordStart(bg, a)

	cmd, err := r.launcher.Build(layout)
	if err != nil {
		return r.fail(bg, a, pipeline.LaunchFailedExitCode, err)
	}
	a.cmd = cmd
	if err := jobs.AppendMarker(layout, jobs.StateWorking,
		jobs.Field(jobs.KeyCommand, cmd.String()),
		jobs.Field(jobs.KeyLog, cmd.LogPath),
	); err != nil {
		a.logger.Warn("working marker not updated", logging.Error(err))
	}

	a.logger.Info("pipeline started",
		logging.String("command", cmd.String()),
		logging.String("binary_source", string(cmd.Source)),
		logging.String("log_path", cmd.LogPath),
		logging.String(logging.FieldEventType, "pipeline_started"),
	)

	result, err := r.launcher.Run(ctx, cmd)
	if err != nil {
		return r.fail(bg, a, result.ExitCode, err)
	}
	if result.ExitCode != 0 {
		return r.fail(bg, a, result.ExitCode,
			services.Wrap(services.ErrPipeline, "runner", "pipeline run", fmt.Sprintf("exited with code %d", result.ExitCode), nil))
	}
	return r.finish(bg, a)
}

func (r *Runner) finish(ctx context.Context, a *attempt) jobs.State {
	resultDir, err := r.reconcile(ctx, a)
	if err != nil {
		r.metrics.ReconcileFailed()
		logging.ErrorWithContext(a.logger, "reconciliation failed; job stays WORKING", "reconcile_failed",
			logging.Error(err),
			logging.String("error_class", services.Classify(err)),
			logging.String(logging.FieldErrorHint, "fix the output folder, then requeue the job"),
			logging.String(logging.FieldImpact, "results not published and source not marked processed"),
		)
		r.recordFinish(ctx, a, history.Outcome{
			State:        string(jobs.StateWorking),
			ExitCode:     0,
			ErrorClass:   services.Classify(err),
			ErrorMessage: err.Error(),
		})
		return jobs.StateWorking
	}

	finished := r.now()
	if err := jobs.AppendMarker(a.layout, jobs.StateWorking,
		jobs.Field(jobs.KeyFinished, finished.UTC().Format(time.RFC3339)),
		jobs.Field(jobs.KeyExitCode, "0"),
		jobs.Field("result_dir", resultDir),
	); err != nil {
		a.logger.Warn("working marker not updated", logging.Error(err))
	}
	if err := jobs.Transition(a.layout, jobs.StateWorking, jobs.StateFinished); err != nil {
		logging.ErrorWithContext(a.logger, "finished marker not written", "job_transition_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "rename .working to .finished manually"),
		)
		return jobs.StateWorking
	}

	duration := finished.Sub(a.started)
	r.metrics.JobCompleted(string(jobs.StateFinished), duration)
	r.recordFinish(ctx, a, history.Outcome{
		State:      string(jobs.StateFinished),
		ExitCode:   0,
		ResultDir:  resultDir,
		FinishedAt: finished,
	})
	a.logger.Info("job finished",
		logging.String("result_dir", resultDir),
		logging.Duration("duration", duration),
		logging.String(logging.FieldEventType, "job_finished"),
	)
	if r.finished != nil && a.meta != nil {
		r.finished(*a.meta)
	}
	return jobs.StateFinished
}

func (r *Runner) fail(ctx context.Context, a *attempt, exitCode int, cause error) jobs.State {
	finished := r.now()
	if err := jobs.AppendMarker(a.layout, jobs.StateWorking,
		jobs.Field(jobs.KeyFinished, finished.UTC().Format(time.RFC3339)),
		jobs.Field(jobs.KeyExitCode, strconv.Itoa(exitCode)),
		jobs.Field(jobs.KeyError, cause.Error()),
	); err != nil {
		a.logger.Warn("working marker not updated", logging.Error(err))
	}
	if err := jobs.Transition(a.layout, jobs.StateWorking, jobs.StateFailed); err != nil {
		logging.ErrorWithContext(a.logger, "failed marker not written", "job_transition_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "rename .working to .failed manually"),
		)
		return jobs.StateWorking
	}

	published := ""
	if r.publishErrors {
		published = r.publishErrorLog(a)
	}

	duration := finished.Sub(a.started)
	r.metrics.JobCompleted(string(jobs.StateFailed), duration)
	r.recordFinish(ctx, a, history.Outcome{
		State:        string(jobs.StateFailed),
		ExitCode:     exitCode,
		ErrorClass:   services.Classify(cause),
		ErrorMessage: cause.Error(),
		FinishedAt:   finished,
	})
	logging.ErrorWithContext(a.logger, "job failed", "job_failed",
		logging.Error(cause),
		logging.Int("exit_code", exitCode),
		logging.String("error_class", services.Classify(cause)),
		logging.String("error_log", published),
		logging.Duration("duration", duration),
		logging.String(logging.FieldErrorHint, "inspect the pipeline log, then delete or requeue the job"),
		logging.String(logging.FieldImpact, "source is not retried automatically"),
	)
	return jobs.StateFailed
}

func (r *Runner) recordStart(ctx context.Context, a *attempt) {
	if r.history == nil || a.meta == nil {
		return
	}
	err := r.history.RecordStart(ctx, history.Run{
		RunID:      a.runID,
		JobKey:     a.layout.Key,
		TargetID:   a.meta.Target.ID,
		SourceName: a.meta.Source.Name,
		SourcePath: a.meta.Source.Path,
		State:      string(jobs.StateWorking),
		StartedAt:  a.started,
	})
	if err != nil {
		a.logger.Warn("history not recorded", logging.Error(err))
	}
}

func (r *Runner) recordFinish(ctx context.Context, a *attempt, outcome history.Outcome) {
	if r.history == nil || a.meta == nil {
		return
	}
	outcome.Command = a.cmd.String()
	if a.cmd.Binary == "" {
		outcome.Command = ""
	}
	outcome.LogPath = a.cmd.LogPath
	if err := r.history.RecordFinish(ctx, a.runID, outcome); err != nil {
		a.logger.Warn("history not recorded", logging.Error(err))
	}
}
