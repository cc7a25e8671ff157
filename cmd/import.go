package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-export/config"
	"github.com/dhcgn/mail-export/mbox"
	"github.com/dhcgn/mail-export/progress"
)

func newImportMboxCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-mbox <file>",
		Short: "Split an mbox archive into raw .eml files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			total, err := mbox.CountMessages(args[0])
			if err != nil {
				return err
			}
			if total == 0 {
				return fmt.Errorf("mbox %s holds no messages", args[0])
			}

			f, err := newFilter(s.cfg)
			if err != nil {
				return err
			}

			started := time.Now()
			bar := progress.New("Importing", 0, s.cfg.LogLevel)
			importer, err := mbox.New(mbox.Options{Path: args[0], OutputDir: s.cfg.RawDir, Filter: f}, s.logger, bar)
			if err != nil {
				return err
			}
			summary, err := importer.Import(cmd.Context())
			bar.Stop()

			progress.PrintSummary(s.cfg.LogLevel, "Import", time.Since(started), []progress.Line{
				{Label: "Messages", Value: total},
				{Label: "Saved", Value: summary.Saved},
				{Label: "Duplicates", Value: summary.Duplicates},
				{Label: "Filtered", Value: summary.Filtered},
				{Label: "Failed", Value: summary.Failed},
				{Label: "Directory", Value: s.cfg.RawDir},
			}, nil)
			return err
		},
	}

	config.RegisterFilterFlags(cmd)
	return cmd
}
