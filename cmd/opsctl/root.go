package main

import (
	"context"
	"sync"

	"github.com/spf13/cobra"

	"github.com/yungbote/dubbing-backend/internal/app"
)

type openFunc func(ctx context.Context) (*app.App, error)

func openApp(ctx context.Context) (*app.App, error) { return app.New(ctx) }

// commandContext opens the app lazily so help and flag errors need no
// database.
type commandContext struct {
	open     openFunc
	closeApp func(*app.App)
	jsonFlag bool

	once sync.Once
	app  *app.App
	err  error
}

func (c *commandContext) ensureApp(ctx context.Context) (*app.App, error) {
	c.once.Do(func() {
		c.app, c.err = c.open(ctx)
	})
	return c.app, c.err
}

func (c *commandContext) close() {
	if c.app == nil {
		return
	}
	c.closeApp(c.app)
	c.app = nil
}

// execute runs the command tree and closes the app whether or not the
// command failed.
func execute(ctx context.Context, rootCmd *cobra.Command, cc *commandContext) error {
	defer cc.close()
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(open openFunc) (*cobra.Command, *commandContext) {
	ctx := &commandContext{open: open, closeApp: (*app.App).Close}

	rootCmd := &cobra.Command{
		Use:           "opsctl",
		Short:         "Operator tools for the dubbing backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().BoolVar(&ctx.jsonFlag, "json", false, "Print results as JSON")

	rootCmd.AddCommand(newJobsCommand(ctx))
	rootCmd.AddCommand(newCreditsCommand(ctx))
	rootCmd.AddCommand(newSagasCommand(ctx))
	rootCmd.AddCommand(newTokenCommand(ctx))

	return rootCmd, ctx
}
