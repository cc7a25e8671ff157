package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-export/config"
	"github.com/dhcgn/mail-export/fetch"
	"github.com/dhcgn/mail-export/progress"
)

func newDownloadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download the newest messages of a label as raw .eml files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := newSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.cfg.ValidateDownload(); err != nil {
				return err
			}

			provider, closeProvider, err := openProvider(cmd.Context(), s.cfg, cmd.ErrOrStderr(), s.logger)
			if err != nil {
				return err
			}
			defer func() {
				_ = closeProvider()
			}()

			s.logger.Info("starting download", "provider", s.cfg.Provider, "label", s.cfg.Label, "count", s.cfg.Count, "to", s.cfg.RawDir)

			started := time.Now()
			bar := progress.New("Downloading", 0, s.cfg.LogLevel)
			fetcher := fetch.New(provider, fetch.DirSink{Dir: s.cfg.RawDir}, s.logger, bar)
			summary, err := fetcher.Fetch(cmd.Context(), s.cfg.Label, s.cfg.Count)
			bar.Stop()

			progress.PrintSummary(s.cfg.LogLevel, "Download", time.Since(started), []progress.Line{
				{Label: "Listed", Value: summary.Listed},
				{Label: "Saved", Value: summary.Saved},
				{Label: "Failed", Value: summary.Failed},
				{Label: "Directory", Value: s.cfg.RawDir},
			}, nil)

			if err != nil {
				return err
			}
			if summary.Failed > 0 && summary.Saved == 0 {
				return fmt.Errorf("none of %d messages could be downloaded", summary.Failed)
			}
			return nil
		},
	}

	config.RegisterDownloadFlags(cmd)
	return cmd
}
