package detect

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"quacwatch/internal/fileutil"
	"quacwatch/internal/ledger"
	"quacwatch/internal/logging"
	"quacwatch/internal/metrics"
	"quacwatch/internal/services"
)

// Observation is the size of one entry seen during a scan.
type Observation struct {
	Name       string
	Size       int64
	IsDir      bool
	ObservedAt time.Time
}

// Candidate is a stable entry ready to be handed to the materializer.
type Candidate struct {
	Path   string
	Name   string
	Size   int64
	IsDir  bool
	Target Target
}

// Handoff receives a candidate. A nil error means the candidate is queued (or
// was already queued); any error makes the name eligible again next cycle.
type Handoff func(ctx context.Context, candidate Candidate) error

// PreScanFunc runs before every scan. Errors are logged and never stop the scan.
type PreScanFunc func(ctx context.Context) error

// Options tunes a Detector.
type Options struct {
	Interval time.Duration
	PreScan  PreScanFunc
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// Detector watches one target folder.
type Detector struct {
	target   Target
	ledger   *ledger.Ledger
	enqueued *ledger.EnqueuedSet
	handoff  Handoff
	logger   *slog.Logger
	interval time.Duration
	preScan  PreScanFunc
	metrics  *metrics.Metrics
	now      func() time.Time

	previous map[string]Observation
	// rejected holds names already reported as unrecordable.
	rejected map[string]struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a detector for target.
func New(target Target, led *ledger.Ledger, enqueued *ledger.EnqueuedSet, handoff Handoff, logger *slog.Logger, opts Options) *Detector {
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger = logging.NewComponentLogger(logger, "detector").With(logging.String(logging.FieldTarget, target.ID))
	return &Detector{
		target:   target,
		ledger:   led,
		enqueued: enqueued,
		handoff:  handoff,
		logger:   logger,
		interval: interval,
		preScan:  opts.PreScan,
		metrics:  opts.Metrics,
		now:      now,
		rejected: make(map[string]struct{}),
	}
}

// Target returns the watched target.
func (d *Detector) Target() Target {
	return d.target
}

// Start launches the detector loop. The first cycle runs immediately.
func (d *Detector) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return errors.New("detector already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true

	d.wg.Add(1)
	go d.loop(runCtx)
	return nil
}

// Stop cancels the loop and waits for the current cycle to finish.
func (d *Detector) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	cancel := d.cancel
	d.running = false
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
}

func (d *Detector) loop(ctx context.Context) {
	defer d.wg.Done()

	d.logger.Info("detector started",
		logging.String("input_dir", d.target.Input),
		logging.String("output_dir", d.target.Output),
		logging.Any("patterns", d.target.Patterns),
		logging.Duration("interval", d.interval),
		logging.String(logging.FieldEventType, "detector_started"),
	)

	d.Cycle(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Cycle(ctx)
		}
	}
}

// Cycle performs one scan and hands off every stable candidate. It returns
// the candidates that were handed off successfully.
func (d *Detector) Cycle(ctx context.Context) []Candidate {
	if ctx.Err() != nil {
		return nil
	}
	if d.preScan != nil {
		if err := d.preScan(ctx); err != nil {
			logging.WarnWithContext(d.logger, "pre-scan check failed; scanning anyway", "prescan_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the share mount for this input folder"),
				logging.String(logging.FieldImpact, "scan may fail if the input folder is unavailable"),
			)
		}
	}

	current, err := d.Scan()
	d.metrics.ScanCompleted(d.target.ID, err)
	if err != nil {
		logging.WarnWithContext(d.logger, "scan failed; keeping previous snapshot", "scan_failed",
			logging.Error(err),
			logging.String("input_dir", d.target.Input),
			logging.String(logging.FieldErrorHint, "verify the input folder exists and is readable"),
			logging.String(logging.FieldImpact, "no new files detected for this target until the folder is readable"),
		)
		return nil
	}

	previous := d.previous
	d.previous = current

	processed, err := d.ledger.Load()
	if err != nil {
		logging.WarnWithContext(d.logger, "ledger unreadable; skipping handoff this cycle", "ledger_read_failed",
			logging.Error(err),
			logging.String("ledger_path", d.ledger.Path()),
			logging.String(logging.FieldErrorHint, "check permissions on the output folder"),
			logging.String(logging.FieldImpact, "stable files wait until the ledger can be read"),
		)
		return nil
	}

	d.releaseProcessed(processed)

	stable := stableEntries(previous, current)
	emitted := make([]Candidate, 0, len(stable))
	for _, obs := range stable {
		if ctx.Err() != nil {
			break
		}
		if d.enqueued.Contains(obs.Name) || ledger.Matches(processed, obs.Name) {
			continue
		}
		if !d.recordable(obs.Name) {
			continue
		}
		candidate := Candidate{
			Path:   filepath.Join(d.target.Input, obs.Name),
			Name:   obs.Name,
			Size:   obs.Size,
			IsDir:  obs.IsDir,
			Target: d.target,
		}
		if d.emit(ctx, candidate) {
			emitted = append(emitted, candidate)
		}
	}
	return emitted
}

// Release removes name from the enqueued set once its job is done, so the
// ledger alone decides whether the source is emitted again.
func (d *Detector) Release(name string) {
	if err := d.enqueued.Remove(name); err != nil {
		d.logger.Debug("enqueued-set mirror not updated", logging.Error(err))
	}
}

// releaseProcessed drops names from the enqueued set once the ledger records
// them, so a later removal of the ledger line re-enables the name without a
// restart.
func (d *Detector) releaseProcessed(processed map[string]struct{}) {
	for _, name := range d.enqueued.Names() {
		if !ledger.Matches(processed, name) {
			continue
		}
		if err := d.enqueued.Remove(name); err != nil {
			d.logger.Debug("enqueued-set mirror not updated", logging.Error(err))
		}
	}
}

// recordable reports whether name can be written to the ledger. Names that
// cannot would be processed on every cycle, so they are skipped and reported
// once.
func (d *Detector) recordable(name string) bool {
	err := ledger.ValidateName(name)
	if err == nil {
		return true
	}
	if _, seen := d.rejected[name]; !seen {
		d.rejected[name] = struct{}{}
		logging.WarnWithContext(d.logger, "skipping source whose name cannot be recorded", "candidate_rejected",
			logging.String("source", name),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "rename the file without leading '#' or surrounding spaces"),
			logging.String(logging.FieldImpact, "source is never processed under this name"),
		)
	}
	return false
}

func (d *Detector) emit(ctx context.Context, candidate Candidate) bool {
	if _, err := d.enqueued.Add(candidate.Name); err != nil {
		d.logger.Debug("enqueued-set mirror not updated", logging.Error(err))
	}
	d.logger.Info("stable file detected",
		logging.String("source", candidate.Name),
		logging.Int64("size_bytes", candidate.Size),
		logging.Bool("acquisition_dir", candidate.IsDir),
		logging.String(logging.FieldEventType, "candidate_detected"),
	)
	d.metrics.CandidateEmitted(d.target.ID)

	if err := d.handoff(ctx, candidate); err != nil {
		if rmErr := d.enqueued.Remove(candidate.Name); rmErr != nil {
			d.logger.Debug("enqueued-set mirror not updated", logging.Error(rmErr))
		}
		logging.WarnWithContext(d.logger, "handoff failed; will retry next cycle", "handoff_failed",
			logging.String("source", candidate.Name),
			logging.Error(err),
			logging.String("error_class", services.Classify(err)),
			logging.String(logging.FieldErrorHint, "check free space and permissions in paths.jobs_dir"),
			logging.String(logging.FieldImpact, "file is retried on the next scan"),
		)
		return false
	}
	return true
}

// Scan lists the matching top-level entries of the input folder.
func (d *Detector) Scan() (map[string]Observation, error) {
	entries, err := os.ReadDir(d.target.Input)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "detect", "list input", d.target.Input, err)
	}
	now := d.now()
	observations := make(map[string]Observation, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !matches(d.target.Patterns, name) {
			continue
		}
		path := filepath.Join(d.target.Input, name)
		info, err := os.Stat(path)
		if err != nil {
			// Vanished between listing and stat.
			continue
		}
		obs := Observation{Name: name, ObservedAt: now}
		switch {
		case info.Mode().IsRegular():
			obs.Size = info.Size()
		case info.IsDir() && isAcquisitionDir(name):
			size, err := fileutil.DirSize(path)
			if err != nil {
				continue
			}
			obs.Size = size
			obs.IsDir = true
		default:
			continue
		}
		observations[name] = obs
	}
	return observations, nil
}

// stableEntries returns entries with a non-zero size that did not change
// between the two snapshots, sorted by name.
func stableEntries(previous, current map[string]Observation) []Observation {
	stable := make([]Observation, 0)
	for name, obs := range current {
		prev, ok := previous[name]
		if !ok || prev.Size != obs.Size || prev.IsDir != obs.IsDir || obs.Size <= 0 {
			continue
		}
		stable = append(stable, obs)
	}
	sort.Slice(stable, func(i, j int) bool { return stable[i].Name < stable[j].Name })
	return stable
}
