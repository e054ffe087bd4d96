package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"inboxd/internal/counter"
	"inboxd/internal/providers"
	"inboxd/internal/state"
	"inboxd/internal/structures"
)

func newBadgeCmd(flags *structures.CliFlags) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "badge",
		Short: "Print the unread counter, following changes",
		Long:  "Reads the shared unread counter slot. With --once it prints the current value and exits, otherwise it polls and prints every change.",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := providers.NewConfigProvider(flags)
			if err != nil {
				return err
			}
			kv, err := state.OpenKV(conf.State.DSN)
			if err != nil {
				return err
			}
			defer kv.Close()

			if once {
				n, err := counter.Read(kv)
				if err != nil {
					return err
				}
				return printBadge(cmd.OutOrStdout(), n)
			}

			logger, err := providers.NewLogProvider(conf)
			if err != nil {
				return err
			}
			defer logger.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return followBadge(ctx, counter.NewPoller(kv, conf.Counter.PollInterval, logger), cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "print the current count and exit")
	return cmd
}

func followBadge(ctx context.Context, poller *counter.Poller, out io.Writer) error {
	var writeErr error
	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	poller.Run(pollCtx, func(n int) {
		if err := printBadge(out, n); err != nil {
			writeErr = err
			cancel()
		}
	})
	return writeErr
}

func printBadge(out io.Writer, n int) error {
	_, err := fmt.Fprintf(out, "unread: %d\n", n)
	return err
}
