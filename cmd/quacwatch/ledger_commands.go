package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLedgerCommand(ctx *commandContext) *cobra.Command {
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and edit a target's processed-file ledger",
		Long: `Every output folder carries an ignore.txt ledger naming the sources whose
results were already published. Removing an entry lets the detector queue
that source again on its next cycle.`,
	}

	ledgerCmd.AddCommand(&cobra.Command{
		Use:   "list <target>",
		Short: "List ledger entries (target ID, input folder or output folder)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := ctx.resolveLedger(args[0])
			if err != nil {
				return err
			}
			entries, err := l.Entries()
			if err != nil {
				return fmt.Errorf("read ledger: %w", err)
			}
			if ctx.JSONMode() {
				if entries == nil {
					entries = []string{}
				}
				return writeJSON(cmd, map[string]any{"path": l.Path(), "entries": entries})
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintf(out, "Ledger %s is empty\n", l.Path())
				return nil
			}
			for _, entry := range entries {
				fmt.Fprintln(out, entry)
			}
			return nil
		},
	})

	ledgerCmd.AddCommand(&cobra.Command{
		Use:   "remove <target> <name>",
		Short: "Remove an entry so the source is processed again",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := ctx.resolveLedger(args[0])
			if err != nil {
				return err
			}
			removed, err := l.Remove(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !removed {
				fmt.Fprintf(out, "%s is not in %s\n", args[1], l.Path())
				return nil
			}
			fmt.Fprintf(out, "Removed %s from %s\n", args[1], l.Path())
			return nil
		},
	})

	return ledgerCmd
}
