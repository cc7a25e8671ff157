package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-export/config"
	"github.com/dhcgn/mail-export/progress"
	"github.com/dhcgn/mail-export/runner"
)

func newProcessCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Convert the raw messages and combine the records in one run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			f, err := newFilter(s.cfg)
			if err != nil {
				return err
			}

			r := runner.New(runner.Options{
				RawDir:     s.cfg.RawDir,
				RecordDir:  s.cfg.RecordDir,
				OutputFile: s.cfg.Output,
				BackupDir:  s.cfg.BackupDir,
				Filter:     f,
			}, s.logger, nil)

			res := r.Run(cmd.Context())
			if res.ExitCode() != 0 {
				return res.Err
			}

			progress.PrintSummary(s.cfg.LogLevel, "Process", res.Duration, []progress.Line{
				{Label: "Converted", Value: fmt.Sprintf("%d of %d", res.Convert.Converted, res.Convert.Found)},
				{Label: "Records", Value: s.cfg.RecordDir},
				{Label: "Combined file", Value: res.Combine.Output},
				{Label: "Latest backup", Value: res.Combine.Backup},
			}, nil)
			return nil
		},
	}

	config.RegisterFilterFlags(cmd)
	return cmd
}
