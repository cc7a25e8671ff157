package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLabelsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "labels",
		Short: "List the labels (gmail) or mailboxes (imap) of the account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			provider, closeProvider, err := openProvider(cmd.Context(), s.cfg, cmd.ErrOrStderr(), s.logger)
			if err != nil {
				return err
			}
			defer func() {
				_ = closeProvider()
			}()

			labels, err := provider.Labels(cmd.Context())
			if err != nil {
				return fmt.Errorf("list labels: %w", err)
			}
			if len(labels) == 0 {
				s.logger.Warn("no labels found")
				return nil
			}

			out := cmd.OutOrStdout()
			for _, l := range labels {
				fmt.Fprintf(out, "%s - %s\n", l.Name, l.ID)
			}
			return nil
		},
	}
}
