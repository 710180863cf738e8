package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateIntervals(); err != nil {
		return err
	}
	if err := c.validateTargets(); err != nil {
		return err
	}
	if err := c.validateMounts(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateMetrics(); err != nil {
		return err
	}
	return nil
}

// ValidateRuntime checks the settings the daemon needs on top of Validate: at
// least one watch target and a pipeline to launch. CLI inspection commands run
// without them.
func (c *Config) ValidateRuntime() error {
	if len(c.Watch.Targets) == 0 {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/quacwatch/config.toml"
		}
		return fmt.Errorf("watch.targets must include at least one target. Edit %s (create with 'quacwatch config init')", defaultPath)
	}
	if strings.TrimSpace(c.Pipeline.Script) == "" {
		return errors.New("pipeline.script must be set")
	}
	if strings.TrimSpace(c.Pipeline.Template) == "" {
		return errors.New("pipeline.template must be set")
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.JobsDir == "" {
		return errors.New("paths.jobs_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	if c.Paths.StateDir == "" {
		return errors.New("paths.state_dir must be set")
	}
	return nil
}

func (c *Config) validateIntervals() error {
	return ensurePositiveMap(map[string]int{
		"watch.interval_seconds":       c.Watch.IntervalSeconds,
		"runner.poll_interval_seconds": c.Runner.PollIntervalSeconds,
		"runner.max_parallel":          c.Runner.MaxParallel,
	})
}

func (c *Config) validateTargets() error {
	seen := make(map[string]int, len(c.Watch.Targets))
	for i, target := range c.Watch.Targets {
		if target.Input == "" {
			return fmt.Errorf("watch.targets[%d].input must be set", i)
		}
		if target.Output == "" {
			return fmt.Errorf("watch.targets[%d].output must be set", i)
		}
		if target.Input == target.Output {
			return fmt.Errorf("watch.targets[%d]: input and output must differ", i)
		}
		if target.Input == c.Paths.JobsDir || target.Output == c.Paths.JobsDir {
			return fmt.Errorf("watch.targets[%d]: folders must not be paths.jobs_dir", i)
		}
		id := target.ID()
		if prev, ok := seen[id]; ok {
			return fmt.Errorf("watch.targets[%d] duplicates watch.targets[%d] (%s)", i, prev, id)
		}
		seen[id] = i
	}
	return nil
}

func (c *Config) validateMounts() error {
	for i, share := range c.Mounts.Shares {
		prefix := fmt.Sprintf("mounts.shares[%d]", i)
		if share.Host == "" {
			return fmt.Errorf("%s.host must be set", prefix)
		}
		if share.Share == "" {
			return fmt.Errorf("%s.share must be set", prefix)
		}
		if share.Mountpoint == "" {
			return fmt.Errorf("%s.mountpoint must be set", prefix)
		}
		if share.Username == "" {
			return fmt.Errorf("%s.username must be set", prefix)
		}
		if share.Password != "" && share.PasswordEnv != "" {
			return fmt.Errorf("%s: set password or password_env, not both", prefix)
		}
		if err := validateOctal(share.FileMode); err != nil {
			return fmt.Errorf("%s.file_mode: %w", prefix, err)
		}
		if err := validateOctal(share.DirMode); err != nil {
			return fmt.Errorf("%s.dir_mode: %w", prefix, err)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q (want console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateMetrics() error {
	if c.Metrics.Bind == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Metrics.Bind); err != nil {
		return fmt.Errorf("metrics.bind: %w", err)
	}
	return nil
}

func validateOctal(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if _, err := strconv.ParseUint(value, 8, 32); err != nil {
		return fmt.Errorf("invalid octal mode %q", value)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
