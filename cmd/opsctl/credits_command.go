package main

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	types "github.com/yungbote/dubbing-backend/internal/domain"
	"github.com/yungbote/dubbing-backend/internal/platform/dbctx"
)

func newCreditsCommand(ctx *commandContext) *cobra.Command {
	creditsCmd := &cobra.Command{
		Use:   "credits",
		Short: "Inspect and adjust credit balances",
	}
	creditsCmd.AddCommand(newCreditsBalanceCommand(ctx))
	creditsCmd.AddCommand(newCreditsGrantCommand(ctx))
	return creditsCmd
}

func newCreditsBalanceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <user-id>",
		Short: "Show a user's balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id %q: %w", args[0], err)
			}
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			bal, err := a.Services.Ledger.Balance(dbctx.Context{Ctx: cmd.Context()}, userID)
			if err != nil {
				return err
			}
			if ctx.jsonFlag {
				return writeJSON(cmd, map[string]any{"user_id": userID, "balance": bal})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %d credits\n", userID, bal)
			return nil
		},
	}
}

func newCreditsGrantCommand(ctx *commandContext) *cobra.Command {
	var description string
	var reference string

	cmd := &cobra.Command{
		Use:   "grant <user-id> <amount>",
		Short: "Add credits to a user's balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid user id %q: %w", args[0], err)
			}
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || amount <= 0 {
				return fmt.Errorf("amount must be a positive integer, got %q", args[1])
			}
			a, err := ctx.ensureApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := a.Services.Ledger.Credit(dbctx.Context{Ctx: cmd.Context()}, userID, amount, types.TransactionGrant, description, reference)
			if err != nil {
				return err
			}
			if ctx.jsonFlag {
				return writeJSON(cmd, res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Granted %d credits to %s; balance %d\n", amount, userID, res.Balance)
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "Operator grant", "Ledger description")
	cmd.Flags().StringVar(&reference, "reference", "", "Idempotency reference; a repeated reference is refused")
	return cmd
}
