package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newSagasCommand(ctx *commandContext) *cobra.Command {
	sagasCmd := &cobra.Command{
		Use:   "sagas",
		Short: "Inspect submission sagas",
	}
	sagasCmd.AddCommand(newSagasOrphansCommand(ctx))
	sagasCmd.AddCommand(newSagasSweepCommand(ctx))
	return sagasCmd
}

func newSagasOrphansCommand(ctx *commandContext) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "List provider jobs that were refunded because they were never recorded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			sagas, err := a.Services.Sagas.ListOrphaned(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if ctx.jsonFlag {
				return writeJSON(cmd, sagas)
			}
			out := cmd.OutOrStdout()
			if len(sagas) == 0 {
				fmt.Fprintln(out, "Orphaned sagas: none")
				return nil
			}
			for _, s := range sagas {
				fmt.Fprintf(out, "%s  user=%s  external=%s  amount=%d  at=%s  %s\n",
					s.ID, s.OwnerUserID, s.ExternalJobID, s.Amount, s.UpdatedAt.Format(time.RFC3339), s.Error)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows")
	return cmd
}

func newSagasSweepCommand(ctx *commandContext) *cobra.Command {
	var staleAfter time.Duration
	var limit int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Close sagas left open longer than --stale-after",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := a.Services.Sagas.Sweep(cmd.Context(), staleAfter, limit)
			if err != nil {
				return err
			}
			if ctx.jsonFlag {
				return writeJSON(cmd, res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "compensated=%d orphaned=%d completed=%d failed=%d\n",
				res.Compensated, res.Orphaned, res.Completed, res.Failed)
			return nil
		},
	}
	cmd.Flags().DurationVar(&staleAfter, "stale-after", 10*time.Minute, "Minimum saga age")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum sagas per state")
	return cmd
}
