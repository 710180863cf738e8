package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"quacwatch/internal/logging"
	"quacwatch/internal/mount"
)

type mountRow struct {
	Name       string `json:"name"`
	Mountpoint string `json:"mountpoint"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
}

func newMountCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "mount",
		Short: "Mount every configured CIFS share",
		Long: `Mount every share listed under [[mounts.shares]] the same way the daemon
does at startup. Requires root. Shares that are already mounted and listable
are left untouched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, OutputPaths: []string{"stderr"}})
			if err != nil {
				return err
			}
			mounter := mount.New(cfg.Mounts, logger, nil)
			if !mounter.Enabled() {
				fmt.Fprintln(cmd.OutOrStdout(), "No shares configured")
				return nil
			}
			results, mountErr := mounter.EnsureAll(cmd.Context())

			if ctx.JSONMode() {
				rows := make([]mountRow, 0, len(results))
				for _, r := range results {
					row := mountRow{Name: r.Name, Mountpoint: r.Mountpoint, OK: r.OK()}
					if r.Err != nil {
						row.Error = r.Err.Error()
					}
					rows = append(rows, row)
				}
				if err := writeJSON(cmd, rows); err != nil {
					return err
				}
				return mountErr
			}
			out := cmd.OutOrStdout()
			for _, r := range results {
				fmt.Fprintf(out, "%s: %s\n", r.Name, r.String())
			}
			return mountErr
		},
	}
}

func newUnmountCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "unmount",
		Short: "Unmount every configured share that is currently mounted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if os.Geteuid() != 0 {
				return fmt.Errorf("unmounting shares requires root")
			}
			logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, OutputPaths: []string{"stderr"}})
			if err != nil {
				return err
			}
			mount.New(cfg.Mounts, logger, nil).UnmountAll(cmd.Context())
			return nil
		},
	}
}
