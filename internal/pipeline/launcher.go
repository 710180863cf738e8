package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"quacwatch/internal/config"
	"quacwatch/internal/jobs"
	"quacwatch/internal/services"
)

// LaunchFailedExitCode is recorded when the process could not be started.
const LaunchFailedExitCode = -1

// Command is one fully resolved pipeline invocation.
type Command struct {
	Binary  string
	Source  Source
	Args    []string
	Dir     string
	LogPath string
}

// String renders the command line for markers and logs.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, quote(c.Binary))
	for _, arg := range c.Args {
		parts = append(parts, quote(arg))
	}
	return strings.Join(parts, " ")
}

func quote(value string) string {
	if value == "" || strings.ContainsAny(value, " \t\"'") {
		return strconv.Quote(value)
	}
	return value
}

// Result describes a completed run.
type Result struct {
	ExitCode int
	Duration time.Duration
	LogPath  string
}

// Executor abstracts process execution for testability. It returns the exit
// code of a process that ran; a non-nil error means the process never ran.
type Executor interface {
	Run(ctx context.Context, cmd Command) (int, error)
}

// Option configures the launcher.
type Option func(*Launcher)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(l *Launcher) {
		if exec != nil {
			l.exec = exec
		}
	}
}

// WithClock overrides the time source used for log names and durations.
func WithClock(now func() time.Time) Option {
	return func(l *Launcher) {
		if now != nil {
			l.now = now
		}
	}
}

// Launcher builds and runs `nextflow run` for job directories.
type Launcher struct {
	configured string
	script     string
	profile    string
	extraArgs  []string
	exec       Executor
	now        func() time.Time
}

// NewLauncher constructs a launcher from the pipeline configuration.
func NewLauncher(cfg config.Pipeline, opts ...Option) *Launcher {
	l := &Launcher{
		configured: cfg.NextflowBin,
		script:     cfg.Script,
		profile:    cfg.Profile,
		extraArgs:  append([]string(nil), cfg.ExtraArgs...),
		exec:       commandExecutor{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Build resolves the executable and assembles the command for a job. A
// missing script or parameter file is a launch failure.
func (l *Launcher) Build(layout jobs.Layout) (Command, error) {
	if strings.TrimSpace(l.script) == "" {
		return Command{}, services.Wrap(services.ErrConfiguration, "pipeline", "build command", "pipeline.script is not set", nil)
	}
	if _, err := os.Stat(l.script); err != nil {
		return Command{}, services.Wrap(services.ErrPipeline, "pipeline", "stat script", l.script, err)
	}
	if _, err := os.Stat(layout.ParamsPath()); err != nil {
		return Command{}, services.Wrap(services.ErrPipeline, "pipeline", "stat params file", layout.ParamsPath(), err)
	}

	binary, source := Resolve(l.configured)
	args := []string{"run"}
	if l.profile != "" {
		args = append(args, "-profile", l.profile)
	}
	args = append(args, l.script, "-params-file", layout.ParamsPath())
	args = append(args, l.extraArgs...)

	return Command{
		Binary:  binary,
		Source:  source,
		Args:    args,
		Dir:     layout.Dir(),
		LogPath: layout.PipelineLogPath(l.now()),
	}, nil
}

// Run executes cmd and waits for it. A non-zero exit is reported through
// Result.ExitCode; the error is set only when the process could not run.
func (l *Launcher) Run(ctx context.Context, cmd Command) (Result, error) {
	started := l.now()
	code, err := l.exec.Run(ctx, cmd)
	result := Result{ExitCode: code, Duration: l.now().Sub(started), LogPath: cmd.LogPath}
	if err != nil {
		result.ExitCode = LaunchFailedExitCode
		return result, services.Wrap(services.ErrPipeline, "pipeline", "launch", cmd.Binary, err)
	}
	return result, nil
}

type commandExecutor struct{}

// Run starts the process in its own process group with stdout and stderr
// appended to cmd.LogPath. The process is not bound to ctx: a daemon shutdown
// leaves it running and its job stays WORKING.
func (commandExecutor) Run(_ context.Context, cmd Command) (int, error) {
	logFile, err := os.OpenFile(cmd.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return LaunchFailedExitCode, fmt.Errorf("open pipeline log: %w", err)
	}
	defer logFile.Close()
	fmt.Fprintf(logFile, "# %s\n# cwd: %s\n", cmd.String(), cmd.Dir)

	proc := exec.Command(cmd.Binary, cmd.Args...) //nolint:gosec
	proc.Dir = cmd.Dir
	proc.Stdout = logFile
	proc.Stderr = logFile
	proc.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := proc.Start(); err != nil {
		fmt.Fprintf(logFile, "# launch failed: %v\n", err)
		return LaunchFailedExitCode, fmt.Errorf("start command: %w", err)
	}
	if err := proc.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return LaunchFailedExitCode, fmt.Errorf("wait command: %w", err)
	}
	return 0, nil
}
