package runner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"quacwatch/internal/fileutil"
	"quacwatch/internal/logging"
	"quacwatch/internal/services"
)

const maxResultDirAttempts = 1000

// nextflowLogName is the trace log Nextflow writes into its working directory.
const nextflowLogName = ".nextflow.log"

// reconcile publishes a successful run: it copies output/ into a fresh folder
// below the target output, appends the source to the ledger and empties the
// job's input, output and work folders.
func (r *Runner) reconcile(ctx context.Context, a *attempt) (string, error) {
	meta := a.meta
	resultDir, err := uniqueResultDir(meta.Target.Output, SourceStem(meta.Source.Name), r.now())
	if err != nil {
		return "", services.Wrap(services.ErrReconcile, "reconcile", "create result folder", meta.Target.Output, err)
	}
	if err := fileutil.CopyTree(a.layout.OutputDir(), resultDir); err != nil {
		if rmErr := os.RemoveAll(resultDir); rmErr != nil {
			a.logger.Warn("partial result folder not removed", logging.String("result_dir", resultDir), logging.Error(rmErr))
		}
		return "", services.Wrap(services.ErrReconcile, "reconcile", "copy results", resultDir, err)
	}

	ledgerPath := meta.LedgerPath
	if ledgerPath == "" {
		ledgerPath = filepath.Join(meta.Target.Output, "ignore.txt")
	}
	if _, err := r.ledgerFor(ledgerPath).Append(ctx, meta.Source.Name); err != nil {
		return resultDir, services.Wrap(services.ErrReconcile, "reconcile", "append ledger", ledgerPath, err)
	}

	for _, dir := range []string{a.layout.InputDir(), a.layout.OutputDir(), a.layout.WorkDir()} {
		if err := fileutil.EmptyDir(dir); err != nil {
			a.logger.Warn("job folder not emptied", logging.String("path", dir), logging.Error(err))
		}
	}
	return resultDir, nil
}

// SourceStem strips the final extension: "sample1.raw" becomes "sample1".
func SourceStem(name string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if stem == "" {
		return name
	}
	return stem
}

// uniqueResultDir creates and returns the first free folder among <stem>,
// <stem>-<timestamp>, <stem>-2, <stem>-3 and so on. An existing folder is
// never reused.
func uniqueResultDir(root, stem string, now time.Time) (string, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", err
	}
	candidates := []string{stem, stem + "-" + now.Format("20060102-150405")}
	for i := 0; i < maxResultDirAttempts; i++ {
		var name string
		if i < len(candidates) {
			name = candidates[i]
		} else {
			name = stem + "-" + strconv.Itoa(i)
		}
		path := filepath.Join(root, name)
		err := os.Mkdir(path, 0o755)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("no free result folder for %q after %d attempts", stem, maxResultDirAttempts)
}

// publishErrorLog copies the Nextflow trace log, or the captured pipeline
// output when no trace exists, to <output>/<stem>.error.log. It returns the
// published path or "".
func (r *Runner) publishErrorLog(a *attempt) string {
	if a.meta == nil || a.meta.Target.Output == "" {
		return ""
	}
	source := filepath.Join(a.layout.Dir(), nextflowLogName)
	if _, err := os.Stat(source); err != nil {
		source = a.cmd.LogPath
		if source == "" {
			source = a.layout.LatestPipelineLog()
		}
	}
	if source == "" {
		return ""
	}
	if _, err := os.Stat(source); err != nil {
		return ""
	}
	dest := filepath.Join(a.meta.Target.Output, SourceStem(a.meta.Source.Name)+".error.log")
	if err := fileutil.CopyFile(source, dest); err != nil {
		a.logger.Warn("error log not published",
			logging.String("error_log", dest),
			logging.Error(err),
			logging.String(logging.FieldImpact, "inspect the log inside the job directory instead"),
		)
		return ""
	}
	return dest
}
