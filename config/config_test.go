package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nalgeon/be"
	"github.com/spf13/cobra"
)

func newCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test"}
	RegisterFlags(cmd)
	RegisterDownloadFlags(cmd)
	RegisterFilterFlags(cmd)
	be.Err(t, cmd.ParseFlags(args), nil)
	return cmd
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig(newCommand(t))
	be.Err(t, err, nil)

	be.Equal(t, cfg.RawDir, "emails")
	be.Equal(t, cfg.RecordDir, "emails_json")
	be.Equal(t, cfg.Output, "all_emails.json")
	be.Equal(t, cfg.OutputSet, false)
	be.Equal(t, cfg.BackupDir, "email_backups")
	be.Equal(t, cfg.Provider, ProviderGmail)
	be.Equal(t, cfg.Label, "INBOX")
	be.Equal(t, cfg.Count, 100)
	be.Equal(t, cfg.Credentials, "credentials.json")
	be.Equal(t, cfg.Token, "token.json")
	be.Equal(t, cfg.TokenStore, "file")
	be.Equal(t, cfg.IMAPPort, 993)
	be.Equal(t, cfg.UseTLS, true)
	be.Equal(t, cfg.LogLevel, "info")
}

func TestLoadConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "mail-export.yaml")
	content := "label: FromFile\ncount: 7\nraw-dir: file-raw\nrecord-dir: file-records\n"
	be.Err(t, os.WriteFile(file, []byte(content), 0o644), nil)

	t.Setenv("MAIL_EXPORT_COUNT", "42")
	t.Setenv("MAIL_EXPORT_RAW_DIR", "env-raw")

	cfg, err := LoadConfig(newCommand(t, "--config", file, "--raw-dir", "flag-raw"))
	be.Err(t, err, nil)

	be.Equal(t, cfg.RawDir, "flag-raw")
	be.Equal(t, cfg.Count, 42)
	be.Equal(t, cfg.Label, "FromFile")
	be.Equal(t, cfg.RecordDir, "file-records")
}

func TestLoadConfig_OutputOverride(t *testing.T) {
	cfg, err := LoadConfig(newCommand(t, "-o", "custom.json"))
	be.Err(t, err, nil)
	be.Equal(t, cfg.Output, "custom.json")
	be.Equal(t, cfg.OutputSet, true)
}

func TestLoadConfig_FilterPatternsKeepCommas(t *testing.T) {
	cfg, err := LoadConfig(newCommand(t, "--exclude-body", `a{1,3}`))
	be.Err(t, err, nil)
	be.Equal(t, len(cfg.ExcludeBody), 1)
	be.Equal(t, cfg.ExcludeBody[0], `a{1,3}`)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"log level", []string{"--log-level", "loud"}, "--log-level"},
		{"filter modes", []string{"--include-header", "a", "--exclude-body", "b"}, "mutually exclusive"},
		{"missing config file", []string{"--config", "/does/not/exist.yaml"}, "read config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(newCommand(t, tt.args...))
			be.Err(t, err, tt.want)
		})
	}
}

func TestLoadConfig_WarningAlias(t *testing.T) {
	cfg, err := LoadConfig(newCommand(t, "--log-level", "WARNING"))
	be.Err(t, err, nil)
	be.Equal(t, cfg.LogLevel, "warn")
}

func TestValidateProvider(t *testing.T) {
	t.Setenv("IMAP_PASS", "")

	cfg, err := LoadConfig(newCommand(t, "--provider", "imap", "--imap-host", "imap.example.com"))
	be.Err(t, err, nil)
	be.Err(t, cfg.ValidateProvider(), "--imap-user")

	cfg.IMAPUser = "me"
	be.Err(t, cfg.ValidateProvider(), "IMAP password")

	t.Setenv("IMAP_PASS", "secret")
	cfg, err = LoadConfig(newCommand(t, "--provider", "imap", "--imap-host", "imap.example.com", "--imap-user", "me"))
	be.Err(t, err, nil)
	be.Equal(t, cfg.IMAPPass, "secret")
	be.Err(t, cfg.ValidateProvider(), nil)

	cfg.IMAPPort = 70000
	be.Err(t, cfg.ValidateProvider(), "--imap-port")

	cfg.Provider = "pop3"
	be.Err(t, cfg.ValidateProvider(), "--provider")
}

func TestValidateDownload(t *testing.T) {
	cfg, err := LoadConfig(newCommand(t, "--count=-1"))
	be.Err(t, err, nil)
	be.Err(t, cfg.ValidateDownload(), "--count")

	cfg.Count = 5
	cfg.TokenStore = "vault"
	be.Err(t, cfg.ValidateDownload(), "--token-store")

	cfg.TokenStore = "keyring"
	be.Err(t, cfg.ValidateDownload(), nil)
}
