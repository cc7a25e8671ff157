package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"google.golang.org/api/option"

	"github.com/dhcgn/mail-export/config"
	"github.com/dhcgn/mail-export/fetch"
	"github.com/dhcgn/mail-export/gmail"
	"github.com/dhcgn/mail-export/imap"
	"github.com/dhcgn/mail-export/state"
)

// openProvider connects to the configured provider. The returned close
// function must be called when done.
func openProvider(ctx context.Context, cfg config.Config, prompt io.Writer, logger *slog.Logger) (fetch.Provider, func() error, error) {
	if err := cfg.ValidateProvider(); err != nil {
		return nil, nil, err
	}

	switch cfg.Provider {
	case config.ProviderIMAP:
		p, err := imap.NewProvider(imap.Options{
			Host:               cfg.IMAPHost,
			Port:               cfg.IMAPPort,
			Username:           cfg.IMAPUser,
			Password:           cfg.IMAPPass,
			UseTLS:             cfg.UseTLS,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("imap.NewProvider: %w", err)
		}
		return p, p.Close, nil

	default:
		oauthCfg, err := gmail.LoadOAuthConfig(cfg.Credentials)
		if err != nil {
			return nil, nil, err
		}
		tokens, err := state.New(cfg.TokenStore, cfg.Token)
		if err != nil {
			return nil, nil, fmt.Errorf("token store: %w", err)
		}
		src, err := gmail.TokenSource(ctx, oauthCfg, tokens, gmail.LoopbackLogin(prompt), logger)
		if err != nil {
			return nil, nil, err
		}
		p, err := gmail.NewProvider(ctx, logger, option.WithTokenSource(src))
		if err != nil {
			return nil, nil, fmt.Errorf("gmail.NewProvider: %w", err)
		}
		return p, func() error { return nil }, nil
	}
}
