package cmd

import (
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-export/config"
	"github.com/dhcgn/mail-export/convert"
	"github.com/dhcgn/mail-export/filter"
	"github.com/dhcgn/mail-export/progress"
)

func newConvertCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert raw .eml files into one JSON record per message",
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

			started := time.Now()
			bar := progress.New("Converting", 0, s.cfg.LogLevel)
			converter := convert.New(convert.Options{
				InputDir:  s.cfg.RawDir,
				OutputDir: s.cfg.RecordDir,
				Filter:    f,
			}, s.logger, bar)
			summary, err := converter.ConvertAll(cmd.Context())
			bar.Stop()
			if err != nil {
				return err
			}

			lines := []progress.Line{
				{Label: "Found", Value: summary.Found},
				{Label: "Converted", Value: summary.Converted},
				{Label: "Filtered", Value: summary.Filtered},
				{Label: "Failed", Value: summary.Failed},
				{Label: "Directory", Value: s.cfg.RecordDir},
			}
			progress.PrintSummary(s.cfg.LogLevel, "Convert", time.Since(started), append(lines, filterLines(f)...), nil)
			return nil
		},
	}

	config.RegisterFilterFlags(cmd)
	return cmd
}

func filterLines(f *filter.Filter) []progress.Line {
	if f == nil {
		return nil
	}
	hits := f.Hits()
	patterns := make([]string, 0, len(hits))
	for p := range hits {
		patterns = append(patterns, p)
	}
	sort.Strings(patterns)

	lines := make([]progress.Line, 0, len(patterns))
	for _, p := range patterns {
		lines = append(lines, progress.Line{Label: "Pattern " + p, Value: hits[p]})
	}
	return lines
}
