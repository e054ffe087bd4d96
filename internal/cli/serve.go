package cli

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"inboxd/internal/di"
	"inboxd/internal/structures"
)

func newServeCmd(flags *structures.CliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Subscribe to the sources and serve the inbox HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, cleanup, err := di.InitApp(flags)
			if err != nil {
				return err
			}
			defer cleanup()
			return app.Run(ctx)
		},
	}
}
