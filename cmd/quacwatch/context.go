package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"quacwatch/internal/config"
	"quacwatch/internal/jobs"
	"quacwatch/internal/ledger"
)

type commandContext struct {
	configFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, _, err := config.Load(c.configFlagValue())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = path
	})
	return c.config, c.configErr
}

func (c *commandContext) configFlagValue() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

// JSONMode reports whether --json was passed.
func (c *commandContext) JSONMode() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// resolveJob accepts a full content key or an unambiguous prefix.
func (c *commandContext) resolveJob(arg string) (jobs.Layout, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return jobs.Layout{}, err
	}
	arg = strings.ToLower(strings.TrimSpace(arg))
	if arg == "" {
		return jobs.Layout{}, fmt.Errorf("job key is required")
	}
	if jobs.ValidKey(arg) {
		return jobs.NewLayout(cfg.Paths.JobsDir, arg, cfg.Pipeline.ParamsFileName), nil
	}
	summaries, err := jobs.List(cfg.Paths.JobsDir, cfg.Pipeline.ParamsFileName)
	if err != nil {
		return jobs.Layout{}, fmt.Errorf("list jobs: %w", err)
	}
	var matches []jobs.Layout
	for _, s := range summaries {
		if strings.HasPrefix(s.Layout.Key, arg) {
			matches = append(matches, s.Layout)
		}
	}
	switch len(matches) {
	case 0:
		return jobs.Layout{}, fmt.Errorf("no job matches %q", arg)
	case 1:
		return matches[0], nil
	default:
		return jobs.Layout{}, fmt.Errorf("job prefix %q is ambiguous (%d matches)", arg, len(matches))
	}
}

// resolveTarget accepts a target ID, input folder or output folder.
func (c *commandContext) resolveTarget(arg string) (config.WatchTarget, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return config.WatchTarget{}, err
	}
	arg = strings.TrimSpace(arg)
	expanded, _ := config.ExpandPath(arg)
	for _, target := range cfg.Watch.Targets {
		if arg == target.ID() || expanded == target.Output || expanded == target.Input {
			return target, nil
		}
	}
	if expanded == "" {
		return config.WatchTarget{}, fmt.Errorf("target is required")
	}
	// Unconfigured output folders still have a ledger worth editing.
	return config.WatchTarget{Output: expanded}, nil
}

// resolveLedger opens the ledger of the target named by arg, sharing the
// daemon's lock folder.
func (c *commandContext) resolveLedger(arg string) (*ledger.Ledger, error) {
	target, err := c.resolveTarget(arg)
	if err != nil {
		return nil, err
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return ledger.NewWithLockDir(target.LedgerPath(), cfg.LedgerLockDir()), nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
