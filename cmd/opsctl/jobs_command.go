package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	types "github.com/yungbote/dubbing-backend/internal/domain"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and repair dubbing jobs",
	}
	jobsCmd.AddCommand(newJobsOverrideCommand(ctx))
	jobsCmd.AddCommand(newJobsRefreshCommand(ctx))
	return jobsCmd
}

func newJobsOverrideCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "override <job-id> <output-url>",
		Short: "Mark a job succeeded with a manually supplied output URL",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id %q: %w", args[0], err)
			}
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			job, err := a.Services.Reconciler.Override(cmd.Context(), jobID, args[1])
			if err != nil {
				return err
			}
			if ctx.jsonFlag {
				return writeJSON(cmd, job)
			}
			printJob(cmd, job)
			return nil
		},
	}
}

func newJobsRefreshCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Run one reconcile pass over every in-flight job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			updated, ran, err := a.Services.Reconciler.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.jsonFlag {
				return writeJSON(cmd, map[string]any{"ran": ran, "updated": updated})
			}
			if !ran {
				fmt.Fprintln(cmd.OutOrStdout(), "Another reconcile pass is running; nothing done")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %d job(s)\n", len(updated))
			for _, job := range updated {
				printJob(cmd, job)
			}
			return nil
		},
	}
}

func printJob(cmd *cobra.Command, job *types.Job) {
	out := cmd.OutOrStdout()
	output := "-"
	if job.OutputURL != nil {
		output = *job.OutputURL
	}
	fmt.Fprintf(out, "%s  %-9s  %s  %s\n", job.ID, job.Status, job.OutputSource, output)
}
