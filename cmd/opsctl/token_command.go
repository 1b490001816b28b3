package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newTokenCommand(ctx *commandContext) *cobra.Command {
	var admin bool
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint an access token for a user",
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
			token, err := a.Services.Auth.IssueToken(userID, admin)
			if err != nil {
				return err
			}
			if ctx.jsonFlag {
				return writeJSON(cmd, map[string]any{"token": token, "expires_in": a.Services.Auth.GetAccessTTL().Seconds()})
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().BoolVar(&admin, "admin", false, "Include the admin claim")
	return cmd
}
