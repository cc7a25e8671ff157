package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-export/combine"
	"github.com/dhcgn/mail-export/progress"
)

func newCombineCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "combine",
		Short: "Combine the JSON records into one array sorted by id",
		Long: "Combine the JSON records into one array sorted by id. The result is written to\n" +
			"the backup directory with a timestamp and to the output file. An explicit\n" +
			"--output writes only that file.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			started := time.Now()
			combiner := combine.New(s.logger, nil)

			var summary combine.Summary
			if s.cfg.OutputSet {
				summary, err = combiner.Combine(s.cfg.RecordDir, s.cfg.Output)
			} else {
				summary, err = combiner.CombineWithBackup(s.cfg.RecordDir, s.cfg.Output, s.cfg.BackupDir, started)
			}
			if err != nil {
				return err
			}

			lines := []progress.Line{
				{Label: "Included", Value: summary.Included},
				{Label: "Failed", Value: summary.Failed},
				{Label: "Output", Value: summary.Output},
			}
			if summary.Backup != "" {
				lines = append(lines, progress.Line{Label: "Backup", Value: summary.Backup})
			}
			progress.PrintSummary(s.cfg.LogLevel, "Combine", time.Since(started), lines, nil)
			return nil
		},
	}
}
