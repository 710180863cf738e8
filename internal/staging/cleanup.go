package staging

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"quacwatch/internal/fileutil"
	"quacwatch/internal/jobs"
	"quacwatch/internal/logging"
)

// CleanStaleResult contains the outcome of a job directory cleanup operation.
type CleanStaleResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// CleanStale removes FINISHED job directories whose marker is older than
// maxAge. READY, WORKING and FAILED jobs are never touched.
func CleanStale(ctx context.Context, jobsDir string, maxAge time.Duration, logger *slog.Logger) CleanStaleResult {
	result := CleanStaleResult{}

	jobsDir = strings.TrimSpace(jobsDir)
	if jobsDir == "" || maxAge <= 0 {
		return result
	}

	summaries, err := jobs.List(jobsDir, "")
	if err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: jobsDir, Error: err})
		return result
	}

	cutoff := time.Now().Add(-maxAge)
	for _, summary := range summaries {
		if ctx.Err() != nil {
			break
		}
		if summary.State != jobs.StateFinished || !summary.UpdatedAt.Before(cutoff) {
			continue
		}
		dirPath := summary.Layout.Dir()
		if err := os.RemoveAll(dirPath); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			if logger != nil {
				logger.Warn("failed to remove finished job directory",
					logging.String("path", dirPath),
					logging.Error(err),
					logging.String(logging.FieldEventType, "job_cleanup_failed"),
					logging.String(logging.FieldErrorHint, "check paths.jobs_dir permissions"),
					logging.String(logging.FieldImpact, "disk space not reclaimed"),
				)
			}
			continue
		}
		result.Removed = append(result.Removed, dirPath)
		if logger != nil {
			logger.Info("removed finished job directory",
				logging.String(logging.FieldJobKey, summary.Layout.Key),
				logging.Duration("age", time.Since(summary.UpdatedAt)),
				logging.String(logging.FieldEventType, "job_cleanup"),
			)
		}
	}

	return result
}

// CleanIncomplete removes job directories that never received a marker. Such
// directories are left by a crash during materialization and would otherwise
// block the source from ever being queued again. Call it only while no
// materializer is running.
func CleanIncomplete(ctx context.Context, jobsDir string, logger *slog.Logger) CleanStaleResult {
	result := CleanStaleResult{}

	jobsDir = strings.TrimSpace(jobsDir)
	if jobsDir == "" {
		return result
	}

	summaries, err := jobs.List(jobsDir, "")
	if err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: jobsDir, Error: err})
		return result
	}

	for _, summary := range summaries {
		if ctx.Err() != nil {
			break
		}
		if summary.State != jobs.StateIncomplete {
			continue
		}
		dirPath := summary.Layout.Dir()
		if err := os.RemoveAll(dirPath); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dirPath, Error: err})
			if logger != nil {
				logger.Warn("failed to remove incomplete job directory",
					logging.String("path", dirPath),
					logging.Error(err),
					logging.String(logging.FieldEventType, "job_cleanup_failed"),
					logging.String(logging.FieldErrorHint, "remove the directory manually"),
					logging.String(logging.FieldImpact, "source cannot be queued again until removed"),
				)
			}
			continue
		}
		result.Removed = append(result.Removed, dirPath)
		if logger != nil {
			logger.Info("removed incomplete job directory",
				logging.String(logging.FieldJobKey, summary.Layout.Key),
				logging.String(logging.FieldEventType, "job_cleanup"),
			)
		}
	}

	return result
}

// ListDirectories returns all job directories with their size and state.
func ListDirectories(jobsDir string) ([]DirInfo, error) {
	jobsDir = strings.TrimSpace(jobsDir)
	if jobsDir == "" {
		return nil, nil
	}

	summaries, err := jobs.List(jobsDir, "")
	if err != nil {
		return nil, err
	}

	dirs := make([]DirInfo, 0, len(summaries))
	for _, summary := range summaries {
		size, _ := fileutil.DirSize(summary.Layout.Dir())
		dirs = append(dirs, DirInfo{
			Name:    summary.Layout.Key,
			Path:    summary.Layout.Dir(),
			State:   summary.State,
			ModTime: summary.UpdatedAt,
			Size:    size,
		})
	}

	return dirs, nil
}

// DirInfo contains metadata about a job directory.
type DirInfo struct {
	Name    string     `json:"name"`
	Path    string     `json:"path"`
	State   jobs.State `json:"state"`
	ModTime time.Time  `json:"mod_time"`
	Size    int64      `json:"size_bytes"`
}
