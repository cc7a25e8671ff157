package gmail

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/dhcgn/mail-export/state"
)

// LoginFunc obtains a fresh token interactively.
type LoginFunc func(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error)

// LoadOAuthConfig reads the OAuth client secrets file downloaded from the
// Google Cloud console and requests read-only Gmail access.
func LoadOAuthConfig(credentialsPath string) (*oauth2.Config, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read client credentials: %w", err)
	}
	cfg, err := google.ConfigFromJSON(data, gmailapi.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse client credentials: %w", err)
	}
	return cfg, nil
}

// TokenSource restores the stored token, refreshing it when expired. When no
// usable token exists login is run and its result stored. Every token handed
// out later, including automatic refreshes, is written back to tokens.
func TokenSource(ctx context.Context, cfg *oauth2.Config, tokens state.TokenStore, login LoginFunc, logger *slog.Logger) (oauth2.TokenSource, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tok, err := tokens.Load()
	switch {
	case errors.Is(err, state.ErrTokenNotFound):
		logger.Info("no stored token, starting interactive login")
	case err != nil:
		logger.Warn("stored token unusable, starting interactive login", "err", err)
	}

	var src oauth2.TokenSource
	if tok != nil {
		src = cfg.TokenSource(ctx, tok)
		if _, err := src.Token(); err != nil {
			logger.Warn("token refresh failed, starting interactive login", "err", err)
			tok, src = nil, nil
		}
	}

	if src == nil {
		tok, err = login(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("interactive login: %w", err)
		}
		if err := tokens.Save(tok); err != nil {
			return nil, fmt.Errorf("save token: %w", err)
		}
		src = cfg.TokenSource(ctx, tok)
	}

	return &persistingSource{src: src, tokens: tokens, last: tok.AccessToken, logger: logger}, nil
}

type persistingSource struct {
	mu     sync.Mutex
	src    oauth2.TokenSource
	tokens state.TokenStore
	last   string
	logger *slog.Logger
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tok, err := p.src.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != p.last {
		if err := p.tokens.Save(tok); err != nil {
			p.logger.Warn("persist refreshed token failed", "err", err)
		} else {
			p.logger.Debug("persisted refreshed token", "expiry", tok.Expiry)
		}
		p.last = tok.AccessToken
	}
	return tok, nil
}

// LoopbackLogin runs the installed-app authorization code flow with a
// redirect to a temporary listener on 127.0.0.1. The authorization URL is
// written to out for the user to open.
func LoopbackLogin(out io.Writer) LoginFunc {
	return func(ctx context.Context, base *oauth2.Config) (*oauth2.Token, error) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, fmt.Errorf("listen for redirect: %w", err)
		}

		cfg := *base
		cfg.RedirectURL = "http://" + ln.Addr().String() + "/"

		stateToken, err := randomState()
		if err != nil {
			_ = ln.Close()
			return nil, err
		}
		verifier := oauth2.GenerateVerifier()

		type result struct {
			code string
			err  error
		}
		results := make(chan result, 1)
		deliver := func(r result) {
			select {
			case results <- r:
			default:
			}
		}

		srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			switch {
			case q.Get("state") != stateToken:
				http.Error(w, "state mismatch", http.StatusBadRequest)
				return
			case q.Get("error") != "":
				http.Error(w, "authorization denied", http.StatusForbidden)
				deliver(result{err: fmt.Errorf("authorization denied: %s", q.Get("error"))})
				return
			case q.Get("code") == "":
				http.Error(w, "missing code", http.StatusBadRequest)
				return
			}
			fmt.Fprintln(w, "Authorization complete. You can close this window.")
			deliver(result{code: q.Get("code")})
		})}
		go func() {
			_ = srv.Serve(ln)
		}()
		defer srv.Close()

		authURL := cfg.AuthCodeURL(stateToken, oauth2.AccessTypeOffline, oauth2.S256ChallengeOption(verifier))
		fmt.Fprintf(out, "Open the following link in your browser to authorize access:\n%s\n", authURL)

		var res result
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res = <-results:
		}
		if res.err != nil {
			return nil, res.err
		}

		tok, err := cfg.Exchange(ctx, res.code, oauth2.VerifierOption(verifier))
		if err != nil {
			return nil, fmt.Errorf("exchange authorization code: %w", err)
		}
		return tok, nil
	}
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
