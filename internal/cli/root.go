package cli

import (
	"github.com/spf13/cobra"

	"inboxd/internal/structures"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	flags := &structures.CliFlags{}
	cmd := &cobra.Command{
		Use:           "inboxd",
		Short:         "Guardian inbox aggregation daemon",
		Long:          "inboxd merges per-student notifications and the guardian activity log into one feed and keeps read, seen and deleted state plus the unread counter.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "c", "config/inboxd.yaml", "path to the YAML config file")
	cmd.PersistentFlags().BoolVarP(&flags.DebugMode, "debug", "d", false, "mirror logs to stderr")

	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newBadgeCmd(flags))
	cmd.AddCommand(newTokenCmd())
	return cmd
}

// NewRootCmdForTest returns the root command for testing.
func NewRootCmdForTest() *cobra.Command {
	return newRootCmd()
}

func Execute() error {
	return newRootCmd().Execute()
}
