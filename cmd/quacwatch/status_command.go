package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"quacwatch/internal/config"
	"quacwatch/internal/daemonrun"
	"quacwatch/internal/deps"
	"quacwatch/internal/jobs"
	"quacwatch/internal/preflight"
)

type statusReport struct {
	ConfigPath   string               `json:"config_path"`
	DaemonPID    int                  `json:"daemon_pid"`
	Jobs         map[string]int       `json:"jobs"`
	Dependencies []deps.Status        `json:"dependencies"`
	Checks       []preflight.Result   `json:"checks"`
	Metrics      preflight.Result     `json:"metrics"`
	Targets      []config.WatchTarget `json:"targets"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, dependency and folder health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			report := buildStatusReport(cmd, ctx, cfg)
			if ctx.JSONMode() {
				return writeJSON(cmd, report)
			}
			printStatusReport(cmd, report)
			return nil
		},
	}
}

func buildStatusReport(cmd *cobra.Command, ctx *commandContext, cfg *config.Config) statusReport {
	report := statusReport{
		ConfigPath:   ctx.configPath,
		DaemonPID:    daemonrun.ReadPID(cfg.PIDPath()),
		Dependencies: preflight.CheckSystemDeps(cfg),
		Checks:       preflight.RunAll(cmd.Context(), cfg),
		Metrics:      preflight.CheckMetricsFromConfig(cmd.Context(), cfg),
		Targets:      cfg.Watch.Targets,
	}
	if summaries, err := jobs.List(cfg.Paths.JobsDir, cfg.Pipeline.ParamsFileName); err == nil {
		report.Jobs = jobs.CountByState(summaries)
	}
	return report
}

func printStatusReport(cmd *cobra.Command, report statusReport) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	var lines []string
	lines = append(lines, renderSectionHeader("Daemon", colorize)...)
	if report.DaemonPID > 0 {
		lines = append(lines, renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d)", report.DaemonPID), colorize))
	} else {
		lines = append(lines, renderStatusLine("Daemon", statusInfo, "Not running", colorize))
	}
	lines = append(lines, metricsStatusLine(report.Metrics, colorize))
	if report.ConfigPath != "" {
		lines = append(lines, renderStatusLine("Config", statusInfo, report.ConfigPath, colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Dependencies", colorize)...)
	for _, dep := range report.Dependencies {
		lines = append(lines, dependencyStatusLine(dep, colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Checks", colorize)...)
	for _, check := range report.Checks {
		lines = append(lines, checkStatusLine(check, colorize))
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Jobs", colorize)...)
	for _, state := range jobs.AllStates {
		count := report.Jobs[string(state)]
		kind := statusInfo
		switch {
		case state == jobs.StateFailed && count > 0:
			kind = statusWarn
		case state == jobs.StateIncomplete && count > 0:
			kind = statusWarn
		}
		lines = append(lines, renderStatusLine(titleCase(string(state)), kind, fmt.Sprintf("%d", count), colorize))
	}

	fmt.Fprintln(out, strings.Join(lines, "\n"))
}

func dependencyStatusLine(dep deps.Status, colorize bool) string {
	if dep.Available {
		return renderStatusLine(dep.Name, statusOK, dep.Command, colorize)
	}
	kind := statusError
	if dep.Optional {
		kind = statusWarn
	}
	detail := dep.Detail
	if dep.Description != "" {
		detail = fmt.Sprintf("%s (%s)", detail, dep.Description)
	}
	return renderStatusLine(dep.Name, kind, detail, colorize)
}

func checkStatusLine(check preflight.Result, colorize bool) string {
	if check.Passed {
		return renderStatusLine(check.Name, statusOK, check.Detail, colorize)
	}
	return renderStatusLine(check.Name, statusError, check.Detail, colorize)
}

func metricsStatusLine(result preflight.Result, colorize bool) string {
	switch {
	case result.Passed && result.Detail == "Disabled":
		return renderStatusLine("Metrics", statusInfo, result.Detail, colorize)
	case result.Passed:
		return renderStatusLine("Metrics", statusOK, result.Detail, colorize)
	default:
		return renderStatusLine("Metrics", statusWarn, result.Detail, colorize)
	}
}
