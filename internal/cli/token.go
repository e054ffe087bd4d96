package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"inboxd/internal/credential"
)

func newTokenCmd() *cobra.Command {
	var service string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the realtime store token in the OS keyring",
	}
	cmd.PersistentFlags().StringVar(&service, "service", "inboxd", "keyring service name (remote.keyringService)")

	cmd.AddCommand(&cobra.Command{
		Use:   "set <token>",
		Short: "Store the bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ring, err := credential.Open(service)
			if err != nil {
				return err
			}
			if err := credential.Store(ring, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token stored in keyring service %q\n", service)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Report whether a token is stored",
		RunE: func(cmd *cobra.Command, args []string) error {
			ring, err := credential.Open(service)
			if err != nil {
				return err
			}
			token, err := credential.Lookup(ring)
			if err != nil {
				return err
			}
			if token == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "no token stored")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token stored (%d chars)\n", len(token))
			return nil
		},
	})
	return cmd
}
