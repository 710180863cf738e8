package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize(baseDir string) error {
	if err := c.normalizePaths(baseDir); err != nil {
		return err
	}
	if err := c.normalizeWatch(baseDir); err != nil {
		return err
	}
	if err := c.normalizePipeline(baseDir); err != nil {
		return err
	}
	if err := c.normalizeReference(baseDir); err != nil {
		return err
	}
	c.normalizeRunner()
	if err := c.normalizeMounts(baseDir); err != nil {
		return err
	}
	c.normalizeLogging()
	c.Metrics.Bind = strings.TrimSpace(c.Metrics.Bind)
	return nil
}

func (c *Config) normalizePaths(baseDir string) error {
	var err error
	if strings.TrimSpace(c.Paths.JobsDir) == "" {
		c.Paths.JobsDir = defaultJobsDir
	}
	if c.Paths.JobsDir, err = resolvePath(c.Paths.JobsDir, baseDir); err != nil {
		return fmt.Errorf("paths.jobs_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = resolvePath(c.Paths.LogDir, baseDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = resolvePath(c.Paths.StateDir, baseDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeWatch(baseDir string) error {
	if c.Watch.IntervalSeconds <= 0 {
		c.Watch.IntervalSeconds = defaultWatchIntervalSeconds
	}
	c.Watch.DefaultPattern = strings.TrimSpace(c.Watch.DefaultPattern)
	if c.Watch.DefaultPattern == "" {
		c.Watch.DefaultPattern = defaultWatchPattern
	}
	for i := range c.Watch.Targets {
		target := &c.Watch.Targets[i]
		var err error
		if target.Input, err = resolvePath(target.Input, baseDir); err != nil {
			return fmt.Errorf("watch.targets[%d].input: %w", i, err)
		}
		if target.Output, err = resolvePath(target.Output, baseDir); err != nil {
			return fmt.Errorf("watch.targets[%d].output: %w", i, err)
		}
		target.Pattern = strings.TrimSpace(target.Pattern)
		if target.Pattern == "" {
			target.Pattern = c.Watch.DefaultPattern
		}
	}
	return nil
}

func (c *Config) normalizePipeline(baseDir string) error {
	var err error
	bin := strings.TrimSpace(c.Pipeline.NextflowBin)
	// Bare command names stay as-is so they are looked up on PATH.
	if strings.ContainsRune(bin, '/') || strings.HasPrefix(bin, "~") {
		if bin, err = resolvePath(bin, baseDir); err != nil {
			return fmt.Errorf("pipeline.nextflow_bin: %w", err)
		}
	}
	c.Pipeline.NextflowBin = bin
	if c.Pipeline.Script, err = resolvePath(c.Pipeline.Script, baseDir); err != nil {
		return fmt.Errorf("pipeline.script: %w", err)
	}
	if c.Pipeline.Template, err = resolvePath(c.Pipeline.Template, baseDir); err != nil {
		return fmt.Errorf("pipeline.template: %w", err)
	}
	c.Pipeline.Profile = strings.TrimSpace(c.Pipeline.Profile)
	if c.Pipeline.Profile == "" {
		c.Pipeline.Profile = defaultPipelineProfile
	}
	c.Pipeline.ParamsFileName = strings.TrimSpace(c.Pipeline.ParamsFileName)
	if c.Pipeline.ParamsFileName == "" {
		c.Pipeline.ParamsFileName = defaultParamsFileName
	}
	args := make([]string, 0, len(c.Pipeline.ExtraArgs))
	for _, arg := range c.Pipeline.ExtraArgs {
		if arg = strings.TrimSpace(arg); arg != "" {
			args = append(args, arg)
		}
	}
	c.Pipeline.ExtraArgs = args
	return nil
}

func (c *Config) normalizeReference(baseDir string) error {
	var err error
	if c.Reference.FastaDir, err = resolvePath(c.Reference.FastaDir, baseDir); err != nil {
		return fmt.Errorf("reference.fasta_dir: %w", err)
	}
	if c.Reference.SpikeDir, err = resolvePath(c.Reference.SpikeDir, baseDir); err != nil {
		return fmt.Errorf("reference.spike_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeRunner() {
	if c.Runner.PollIntervalSeconds <= 0 {
		c.Runner.PollIntervalSeconds = defaultRunnerPollSeconds
	}
	if c.Runner.MaxParallel <= 0 {
		c.Runner.MaxParallel = defaultRunnerMaxParallel
	}
	if c.Runner.JobRetentionDays < 0 {
		c.Runner.JobRetentionDays = 0
	}
}

func (c *Config) normalizeMounts(baseDir string) error {
	for i := range c.Mounts.Shares {
		share := &c.Mounts.Shares[i]
		share.Name = strings.TrimSpace(share.Name)
		share.Host = strings.TrimSpace(share.Host)
		share.Share = strings.Trim(strings.TrimSpace(share.Share), "/")
		share.Username = strings.TrimSpace(share.Username)
		share.PasswordEnv = strings.TrimSpace(share.PasswordEnv)
		share.Domain = strings.TrimSpace(share.Domain)
		share.Vers = strings.TrimSpace(share.Vers)
		share.ExtraOpts = strings.Trim(strings.TrimSpace(share.ExtraOpts), ",")
		var err error
		if share.Mountpoint, err = resolvePath(share.Mountpoint, baseDir); err != nil {
			return fmt.Errorf("mounts.shares[%d].mountpoint: %w", i, err)
		}
		if share.Name == "" {
			share.Name = share.Share
		}
		if strings.TrimSpace(share.FileMode) == "" {
			share.FileMode = defaultMountFileMode
		}
		if strings.TrimSpace(share.DirMode) == "" {
			share.DirMode = defaultMountDirMode
		}
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
