package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"quacwatch/internal/config"
	"quacwatch/internal/deps"
	"quacwatch/internal/detect"
	"quacwatch/internal/history"
	"quacwatch/internal/jobs"
	"quacwatch/internal/ledger"
	"quacwatch/internal/logging"
	"quacwatch/internal/metrics"
	"quacwatch/internal/mount"
	"quacwatch/internal/preflight"
	"quacwatch/internal/runner"
	"quacwatch/internal/staging"
)

// Options overrides collaborators, mostly for tests.
type Options struct {
	Metrics       *metrics.Metrics
	History       *history.Store
	Launcher      runner.Launcher
	ShutdownGrace time.Duration
	DisableWatch  bool
}

// Daemon coordinates the background services and enforces single-instance execution.
type Daemon struct {
	cfg          *config.Config
	logger       *slog.Logger
	metrics      *metrics.Metrics
	history      *history.Store
	ownsHistory  bool
	mounter      *mount.Mounter
	materializer *jobs.Materializer
	runner       *runner.Runner
	server       *metrics.Server

	lockPath string
	lock     *flock.Flock

	mu           sync.Mutex
	detectors    []*detect.Detector
	mountResults []mount.Result
	startedAt    time.Time

	running atomic.Bool
	cancel  context.CancelFunc
}

// TargetStatus describes one watch target.
type TargetStatus struct {
	ID      string `json:"id"`
	Input   string `json:"input"`
	Output  string `json:"output"`
	Pattern string `json:"pattern"`
}

// MountStatus is the last ensure result for one share.
type MountStatus struct {
	Name       string `json:"name"`
	Mountpoint string `json:"mountpoint"`
	Result     string `json:"result"`
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	StartedAt    time.Time      `json:"started_at,omitzero"`
	LockFilePath string         `json:"lock_file"`
	JobsDir      string         `json:"jobs_dir"`
	HistoryPath  string         `json:"history_db"`
	Jobs         map[string]int `json:"jobs"`
	Targets      []TargetStatus `json:"targets"`
	Mounts       []MountStatus  `json:"mounts,omitempty"`
	Dependencies []deps.Status  `json:"dependencies"`
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Daemon, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("daemon requires config and logger")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}

	store := opts.History
	ownsHistory := false
	if store == nil {
		opened, err := history.Open(cfg.HistoryPath())
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		store = opened
		ownsHistory = true
	}

	d := &Daemon{
		cfg:          cfg,
		logger:       logger,
		metrics:      m,
		history:      store,
		ownsHistory:  ownsHistory,
		mounter:      mount.New(cfg.Mounts, logger, m),
		materializer: jobs.NewMaterializer(cfg, logger, m),
		lockPath:     cfg.LockPath(),
		lock:         flock.New(cfg.LockPath()),
	}
	d.runner = runner.New(cfg, logger, runner.Options{
		Launcher:      opts.Launcher,
		History:       store,
		Metrics:       m,
		ShutdownGrace: opts.ShutdownGrace,
		DisableWatch:  opts.DisableWatch,
		OnFinished:    d.releaseSource,
	})
	d.server = metrics.NewServer(cfg.Metrics.Bind, m, logger)
	registerAPI(d.server, d, logger)
	return d, nil
}

// Start acquires the daemon lock, mounts shares and launches the detectors
// and the runner.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another quacwatch daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.start(runCtx); err != nil {
		cancel()
		d.stopWorkers()
		_ = d.lock.Unlock()
		return err
	}
	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("quacwatch daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("targets", len(d.cfg.Watch.Targets)),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

func (d *Daemon) start(ctx context.Context) error {
	for _, target := range d.cfg.Watch.Targets {
		if err := os.MkdirAll(target.Output, 0o755); err != nil {
			return fmt.Errorf("create output folder %q: %w", target.Output, err)
		}
	}

	staging.CleanIncomplete(ctx, d.cfg.Paths.JobsDir, d.logger)

	for _, result := range preflight.Failed(preflight.RunAll(ctx, d.cfg)) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "affected targets or jobs may fail until fixed"),
		)
	}

	results, err := d.mounter.EnsureAll(ctx)
	d.mu.Lock()
	d.mountResults = results
	d.mu.Unlock()
	if err != nil {
		return fmt.Errorf("mount shares: %w", err)
	}

	detectors := make([]*detect.Detector, 0, len(d.cfg.Watch.Targets))
	for _, cfgTarget := range d.cfg.Watch.Targets {
		target := detect.NewTarget(cfgTarget)
		enqueued, err := ledger.NewEnqueuedSet(d.cfg.EnqueuedSetPath(cfgTarget))
		if err != nil {
			return fmt.Errorf("target %s: %w", target.ID, err)
		}
		detectors = append(detectors, detect.New(target, ledger.NewWithLockDir(target.LedgerPath(), d.cfg.LedgerLockDir()), enqueued, d.handoff, d.logger, detect.Options{
			Interval: d.cfg.WatchInterval(),
			PreScan:  d.mounter.GuardFor(cfgTarget.Input),
			Metrics:  d.metrics,
		}))
	}

	if err := d.runner.Start(ctx); err != nil {
		return fmt.Errorf("start runner: %w", err)
	}
	d.mu.Lock()
	d.detectors = detectors
	d.startedAt = time.Now()
	d.mu.Unlock()
	for _, detector := range detectors {
		if err := detector.Start(ctx); err != nil {
			return fmt.Errorf("start detector %s: %w", detector.Target().ID, err)
		}
	}

	if err := d.server.Start(ctx); err != nil {
		logging.WarnWithContext(d.logger, "metrics endpoint unavailable", "metrics_listen_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check metrics.bind for conflicts"),
			logging.String(logging.FieldImpact, "metrics and status API are not served"),
		)
	}
	return nil
}

// releaseSource clears a finished source from its detector's enqueued set.
func (d *Daemon) releaseSource(meta jobs.Metadata) {
	d.mu.Lock()
	detectors := d.detectors
	d.mu.Unlock()
	for _, detector := range detectors {
		if detector.Target().ID == meta.Target.ID {
			detector.Release(meta.Source.Name)
			return
		}
	}
}

// handoff materializes a candidate and nudges the runner.
func (d *Daemon) handoff(ctx context.Context, candidate detect.Candidate) error {
	if err := d.materializer.Handoff(ctx, candidate); err != nil {
		return err
	}
	d.runner.Wake()
	return nil
}

// Stop stops background processing, unmounts shares when configured and
// releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.stopWorkers()
	if d.mounter.UnmountOnExit() {
		d.mounter.UnmountAll(context.Background())
	}
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "next start may report another instance until the file is removed"),
		)
	}
	d.running.Store(false)
	d.logger.Info("quacwatch daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

func (d *Daemon) stopWorkers() {
	d.mu.Lock()
	detectors := d.detectors
	d.detectors = nil
	d.mu.Unlock()
	for _, detector := range detectors {
		detector.Stop()
	}
	d.runner.Stop()
	d.server.Stop()
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.ownsHistory && d.history != nil {
		return d.history.Close()
	}
	return nil
}

// Runner exposes the lifecycle runner.
func (d *Daemon) Runner() *runner.Runner {
	return d.runner
}

// MetricsAddr reports the bound metrics address, empty when disabled.
func (d *Daemon) MetricsAddr() string {
	return d.server.Addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(_ context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockFilePath: d.lockPath,
		JobsDir:      d.cfg.Paths.JobsDir,
		HistoryPath:  d.cfg.HistoryPath(),
		Dependencies: preflight.CheckSystemDeps(d.cfg),
	}
	if summaries, err := jobs.List(d.cfg.Paths.JobsDir, d.cfg.Pipeline.ParamsFileName); err == nil {
		status.Jobs = jobs.CountByState(summaries)
	}
	for _, target := range d.cfg.Watch.Targets {
		status.Targets = append(status.Targets, TargetStatus{
			ID:      target.ID(),
			Input:   target.Input,
			Output:  target.Output,
			Pattern: target.Pattern,
		})
	}
	d.mu.Lock()
	status.StartedAt = d.startedAt
	for _, result := range d.mountResults {
		status.Mounts = append(status.Mounts, MountStatus{
			Name:       result.Name,
			Mountpoint: result.Mountpoint,
			Result:     result.String(),
		})
	}
	d.mu.Unlock()
	return status
}
