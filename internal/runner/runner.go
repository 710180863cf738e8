package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"quacwatch/internal/config"
	"quacwatch/internal/history"
	"quacwatch/internal/jobs"
	"quacwatch/internal/ledger"
	"quacwatch/internal/logging"
	"quacwatch/internal/metrics"
	"quacwatch/internal/pipeline"
	"quacwatch/internal/staging"
)

const (
	defaultShutdownGrace = 10 * time.Second
	retentionInterval    = time.Hour
)

// Launcher builds and runs the pipeline for a job.
type Launcher interface {
	Build(layout jobs.Layout) (pipeline.Command, error)
	Run(ctx context.Context, cmd pipeline.Command) (pipeline.Result, error)
}

// Options tunes a Runner.
type Options struct {
	Launcher      Launcher
	History       *history.Store
	Metrics       *metrics.Metrics
	Now           func() time.Time
	ShutdownGrace time.Duration
	// DisableWatch turns off filesystem wake-ups; polling still runs.
	DisableWatch bool
	// OnFinished is called after a job reaches FINISHED.
	OnFinished func(meta jobs.Metadata)
}

// Runner processes READY jobs.
type Runner struct {
	jobsDir        string
	paramsFileName string
	pollInterval   time.Duration
	maxParallel    int
	publishErrors  bool
	retention      time.Duration

	launcher Launcher
	history  *history.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	grace    time.Duration
	watch    bool
	finished func(meta jobs.Metadata)

	ledgersMu sync.Mutex
	ledgers   map[string]*ledger.Ledger
	lockDir   string

	inFlightMu sync.Mutex
	inFlight   map[string]struct{}

	wake      chan struct{}
	slots     chan struct{}
	lastPrune time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	jobsWG  sync.WaitGroup
}

// New constructs a runner from configuration.
func New(cfg *config.Config, logger *slog.Logger, opts Options) *Runner {
	launcher := opts.Launcher
	if launcher == nil {
		launcher = pipeline.NewLauncher(cfg.Pipeline)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	grace := opts.ShutdownGrace
	if grace <= 0 {
		grace = defaultShutdownGrace
	}
	maxParallel := cfg.Runner.MaxParallel
	if maxParallel < 1 {
		maxParallel = 1
	}
	poll := cfg.RunnerPollInterval()
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Runner{
		jobsDir:        cfg.Paths.JobsDir,
		lockDir:        cfg.LedgerLockDir(),
		paramsFileName: cfg.Pipeline.ParamsFileName,
		pollInterval:   poll,
		maxParallel:    maxParallel,
		publishErrors:  cfg.Runner.PublishErrorLogs,
		retention:      time.Duration(cfg.Runner.JobRetentionDays) * 24 * time.Hour,
		launcher:       launcher,
		history:        opts.History,
		metrics:        opts.Metrics,
		logger:         logging.NewComponentLogger(logger, "runner"),
		now:            now,
		grace:          grace,
		finished:       opts.OnFinished,
		watch:          !opts.DisableWatch,
		ledgers:        make(map[string]*ledger.Ledger),
		inFlight:       make(map[string]struct{}),
		wake:           make(chan struct{}, 1),
		slots:          make(chan struct{}, maxParallel),
	}
}

// Start launches the runner loop.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("runner already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	if r.watch {
		if w, err := newReadyWatcher(r.jobsDir, r.Wake, r.logger); err != nil {
			logging.WarnWithContext(r.logger, "job directory watch unavailable; polling only", "runner_watch_unavailable",
				logging.Error(err),
				logging.String(logging.FieldImpact, "new jobs start within one poll interval"),
			)
		} else {
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				w.run(runCtx)
			}()
		}
	}

	r.wg.Add(1)
	go r.loop(runCtx)
	return nil
}

// Stop stops accepting jobs and waits briefly for running pipelines. A
// pipeline still running after the grace period keeps its job WORKING.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	r.wg.Wait()

	done := make(chan struct{})
	go func() {
		r.jobsWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(r.grace):
		logging.WarnWithContext(r.logger, "pipeline still running at shutdown; job stays WORKING", "runner_shutdown_inflight",
			logging.Any("job_keys", r.inFlightKeys()),
			logging.String(logging.FieldErrorHint, "after restart, inspect the job and run `quacwatch jobs requeue <key>` if needed"),
			logging.String(logging.FieldImpact, "results of the running pipeline are not reconciled"),
		)
	}
}

// Wake triggers an early poll.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()

	r.logger.Info("runner started",
		logging.String("jobs_dir", r.jobsDir),
		logging.Duration("poll_interval", r.pollInterval),
		logging.Int("max_parallel", r.maxParallel),
		logging.String(logging.FieldEventType, "runner_started"),
	)
	r.reportStaleWorking()

	for {
		r.RunOnce(ctx)
		r.maybePrune(ctx)

		select {
		case <-ctx.Done():
			return
		case <-r.wake:
		case <-time.After(r.pollInterval):
		}
	}
}

// RunOnce dispatches every READY job found now, oldest first. It blocks while
// all max_parallel slots are busy, so with one slot jobs run strictly in order.
func (r *Runner) RunOnce(ctx context.Context) {
	ready, err := jobs.Ready(r.jobsDir, r.paramsFileName)
	if err != nil {
		logging.WarnWithContext(r.logger, "jobs directory unreadable", "runner_discovery_failed",
			logging.Error(err),
			logging.String("jobs_dir", r.jobsDir),
			logging.String(logging.FieldErrorHint, "check paths.jobs_dir permissions"),
		)
		return
	}
	for _, layout := range ready {
		if ctx.Err() != nil {
			return
		}
		if !r.markInFlight(layout.Key) {
			continue
		}
		select {
		case r.slots <- struct{}{}:
		case <-ctx.Done():
			r.clearInFlight(layout.Key)
			return
		}
		r.jobsWG.Add(1)
		go func(layout jobs.Layout) {
			defer func() {
				<-r.slots
				r.clearInFlight(layout.Key)
				r.jobsWG.Done()
				r.refreshStateGauge()
			}()
			r.process(ctx, layout)
		}(layout)
	}
	r.refreshStateGauge()
}

// Wait blocks until every dispatched job has finished.
func (r *Runner) Wait() {
	r.jobsWG.Wait()
}

func (r *Runner) markInFlight(key string) bool {
	r.inFlightMu.Lock()
	defer r.inFlightMu.Unlock()
	if _, ok := r.inFlight[key]; ok {
		return false
	}
	r.inFlight[key] = struct{}{}
	return true
}

func (r *Runner) clearInFlight(key string) {
	r.inFlightMu.Lock()
	delete(r.inFlight, key)
	r.inFlightMu.Unlock()
}

func (r *Runner) inFlightKeys() []string {
	r.inFlightMu.Lock()
	defer r.inFlightMu.Unlock()
	keys := make([]string, 0, len(r.inFlight))
	for key := range r.inFlight {
		keys = append(keys, key)
	}
	return keys
}

// reportStaleWorking logs jobs left WORKING by a previous process. They are
// not healed automatically.
func (r *Runner) reportStaleWorking() {
	working, err := jobs.Working(r.jobsDir, r.paramsFileName)
	if err != nil {
		return
	}
	for _, layout := range working {
		fields, _ := jobs.ReadMarker(layout, jobs.StateWorking)
		started, _ := jobs.LastValue(fields, jobs.KeyStarted)
		logging.WarnWithContext(r.logger, "job left WORKING by a previous run", "job_stale_working",
			logging.String(logging.FieldJobKey, layout.Key),
			logging.String("started", started),
			logging.String(logging.FieldErrorHint, "inspect the job and run `quacwatch jobs requeue "+layout.Key+"` to retry"),
			logging.String(logging.FieldImpact, "job will not be processed until requeued"),
		)
	}
}

func (r *Runner) refreshStateGauge() {
	if r.metrics == nil {
		return
	}
	summaries, err := jobs.List(r.jobsDir, r.paramsFileName)
	if err != nil {
		return
	}
	r.metrics.SetJobStates(jobs.CountByState(summaries))
}

func (r *Runner) maybePrune(ctx context.Context) {
	if r.retention <= 0 {
		return
	}
	now := r.now()
	if !r.lastPrune.IsZero() && now.Sub(r.lastPrune) < retentionInterval {
		return
	}
	r.lastPrune = now
	staging.CleanStale(ctx, r.jobsDir, r.retention, r.logger)
	if r.history != nil {
		if removed, err := r.history.Prune(ctx, now.Add(-r.retention)); err != nil {
			r.logger.Warn("history prune failed", logging.Error(err))
		} else if removed > 0 {
			r.logger.Info("history pruned", logging.Int64("removed", removed))
		}
	}
}

func (r *Runner) ledgerFor(path string) *ledger.Ledger {
	r.ledgersMu.Lock()
	defer r.ledgersMu.Unlock()
	if l, ok := r.ledgers[path]; ok {
		return l
	}
	l := ledger.NewWithLockDir(path, r.lockDir)
	r.ledgers[path] = l
	return l
}
