// Package cmd holds the cobra commands of mail-export.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-export/config"
	"github.com/dhcgn/mail-export/filter"
)

// NewRootCommand builds the mail-export command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "mail-export",
		Short:         "Download a mailbox label and export it as one sorted JSON file",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	config.RegisterFlags(root)

	root.AddCommand(
		newLabelsCommand(),
		newDownloadCommand(),
		newConvertCommand(),
		newCombineCommand(),
		newProcessCommand(),
		newImportMboxCommand(),
	)
	return root
}

// session is the loaded configuration and logger of one command invocation.
type session struct {
	cfg     config.Config
	logger  *slog.Logger
	cleanup func() error
}

func (s *session) Close() {
	_ = s.cleanup()
}

func newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := config.LoadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger, cleanup, err := setupLogger(cfg, cmd.OutOrStdout())
	if err != nil {
		return nil, err
	}

	slog.SetDefault(logger)
	logger.Debug("starting mail-export", "command", cmd.Name())

	return &session{cfg: cfg, logger: logger, cleanup: cleanup}, nil
}

func newFilter(cfg config.Config) (*filter.Filter, error) {
	opts := filter.Options{
		IncludeHeader: cfg.IncludeHeader,
		IncludeBody:   cfg.IncludeBody,
		ExcludeHeader: cfg.ExcludeHeader,
		ExcludeBody:   cfg.ExcludeBody,
	}
	if !opts.Active() {
		return nil, nil
	}
	return filter.New(opts)
}

func setupLogger(cfg config.Config, stdout io.Writer) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("mail-export-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(stdout, opts)
	return slog.New(handler), cleanup, nil
}
