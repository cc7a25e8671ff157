package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "MAIL_EXPORT"

const (
	ProviderGmail = "gmail"
	ProviderIMAP  = "imap"
)

// Config captures every option of the exporter after flags, environment and
// the optional config file have been merged.
type Config struct {
	RawDir    string
	RecordDir string
	Output    string
	// OutputSet reports whether --output was given explicitly.
	OutputSet bool
	BackupDir string

	Provider    string
	Label       string
	Count       int
	Credentials string
	Token       string
	TokenStore  string

	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool

	LogLevel string
	LogDir   string

	IncludeHeader []string
	IncludeBody   []string
	ExcludeHeader []string
	ExcludeBody   []string
}

var defaults = map[string]any{
	"raw-dir":              "emails",
	"record-dir":           "emails_json",
	"output":               "all_emails.json",
	"backup-dir":           "email_backups",
	"provider":             ProviderGmail,
	"label":                "INBOX",
	"count":                100,
	"credentials":          "credentials.json",
	"token":                "token.json",
	"token-store":          "file",
	"imap-port":            993,
	"use-tls":              true,
	"insecure-skip-verify": false,
	"log-level":            "info",
}

// RegisterFlags attaches the flags shared by every subcommand to root.
func RegisterFlags(root *cobra.Command) {
	flags := root.PersistentFlags()
	flags.String("config", "", "Optional YAML config file")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs to a timestamped file in this directory")
	flags.String("raw-dir", "emails", "Directory of raw .eml messages")
	flags.String("record-dir", "emails_json", "Directory of converted .json records")
	flags.StringP("output", "o", "all_emails.json", "Combined JSON output file")
	flags.String("backup-dir", "email_backups", "Directory for timestamped snapshots of the combined file")
	flags.String("provider", ProviderGmail, "Mail provider: gmail or imap")
	flags.String("credentials", "credentials.json", "OAuth client secrets file (gmail)")
	flags.String("token", "token.json", "OAuth token file, or keyring key when --token-store=keyring (gmail)")
	flags.String("token-store", "file", "Where to keep the OAuth token: file or keyring")
	flags.String("imap-host", "", "IMAP server hostname")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
}

// RegisterDownloadFlags attaches the flags of the download command.
func RegisterDownloadFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.IntP("count", "c", 100, "Maximum number of messages to download")
	flags.StringP("label", "l", "INBOX", "Label (gmail) or mailbox (imap) to download")
}

// RegisterFilterFlags attaches the regex filter flags.
func RegisterFilterFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringArray("include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
}

// LoadConfig merges the parsed flags of cmd with MAIL_EXPORT_* environment
// variables, the --config file and the defaults, in that order of precedence.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flags); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := Config{
		RawDir:             filepath.Clean(v.GetString("raw-dir")),
		RecordDir:          filepath.Clean(v.GetString("record-dir")),
		Output:             filepath.Clean(v.GetString("output")),
		OutputSet:          flags.Changed("output"),
		BackupDir:          filepath.Clean(v.GetString("backup-dir")),
		Provider:           strings.ToLower(strings.TrimSpace(v.GetString("provider"))),
		Label:              strings.TrimSpace(v.GetString("label")),
		Count:              v.GetInt("count"),
		Credentials:        v.GetString("credentials"),
		Token:              v.GetString("token"),
		TokenStore:         strings.ToLower(v.GetString("token-store")),
		IMAPHost:           v.GetString("imap-host"),
		IMAPPort:           v.GetInt("imap-port"),
		IMAPUser:           v.GetString("imap-user"),
		IMAPPass:           v.GetString("imap-pass"),
		UseTLS:             v.GetBool("use-tls"),
		InsecureSkipVerify: v.GetBool("insecure-skip-verify"),
		LogLevel:           strings.ToLower(v.GetString("log-level")),
		LogDir:             v.GetString("log-dir"),
		IncludeHeader:      stringArray(v, flags, "include-header"),
		IncludeBody:        stringArray(v, flags, "include-body"),
		ExcludeHeader:      stringArray(v, flags, "exclude-header"),
		ExcludeBody:        stringArray(v, flags, "exclude-body"),
	}

	if cfg.IMAPPass == "" {
		cfg.IMAPPass = os.Getenv("IMAP_PASS")
	}

	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Regex lists are read from the flag itself when given, because viper splits
// array flag values on commas.
func stringArray(v *viper.Viper, flags *pflag.FlagSet, name string) []string {
	if f := flags.Lookup(name); f != nil && f.Changed {
		values, err := flags.GetStringArray(name)
		if err == nil {
			return values
		}
	}
	return v.GetStringSlice(name)
}

func validateConfig(cfg Config) error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	includeActive := len(cfg.IncludeHeader) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeHeader) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	if cfg.Output == "." || cfg.Output == "" {
		return fmt.Errorf("--output must name a file")
	}

	return nil
}

// ValidateProvider checks the options needed to talk to the mail provider.
func (c Config) ValidateProvider() error {
	switch c.Provider {
	case ProviderGmail:
		if c.Credentials == "" {
			return fmt.Errorf("--credentials is required for the gmail provider")
		}
		switch c.TokenStore {
		case "file", "keyring":
		default:
			return fmt.Errorf("invalid --token-store: %s", c.TokenStore)
		}
		if c.Token == "" {
			return fmt.Errorf("--token is required for the gmail provider")
		}
	case ProviderIMAP:
		if c.IMAPHost == "" {
			return fmt.Errorf("--imap-host is required")
		}
		if c.IMAPUser == "" {
			return fmt.Errorf("--imap-user is required")
		}
		if c.IMAPPass == "" {
			return fmt.Errorf("IMAP password must be provided via --imap-pass or IMAP_PASS env var")
		}
		if c.IMAPPort <= 0 || c.IMAPPort > 65535 {
			return fmt.Errorf("--imap-port must be between 1 and 65535")
		}
	default:
		return fmt.Errorf("invalid --provider: %s", c.Provider)
	}
	return nil
}

// ValidateDownload checks the options of the download command.
func (c Config) ValidateDownload() error {
	if c.Count < 0 {
		return fmt.Errorf("--count must not be negative")
	}
	if c.Label == "" {
		return fmt.Errorf("--label is required")
	}
	return c.ValidateProvider()
}
