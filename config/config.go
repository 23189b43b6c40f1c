package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Danamir/imap-attachment-extractor/daterange"
	"github.com/Danamir/imap-attachment-extractor/mailbox"
	"github.com/Danamir/imap-attachment-extractor/sizeunit"
	"github.com/Danamir/imap-attachment-extractor/transform"
)

// EnvPrefix namespaces environment overrides: IMAP_AEX_HOST, IMAP_AEX_MAX_SIZE, ...
const EnvPrefix = "IMAP_AEX"

var (
	ErrNoDateCriteria = errors.New("date criteria not found, use --all to fetch all messages")
	ErrMissingHost    = errors.New("--host is required")
	ErrMissingLogin   = errors.New("--login is required")
)

// Connection holds what is needed to log in to the server.
type Connection struct {
	Host               string
	Port               int
	Login              string
	Password           string
	InsecureSkipVerify bool
}

// Config captures all options required to run the extractor.
type Config struct {
	Connection

	ConfigFile        string
	Folder            string
	Date              string
	All               bool
	Range             daterange.Range
	ExtractDir        string
	NoSubdir          bool
	IgnoreInboxSubdir bool
	MaxSize           string
	Threshold         int64
	Flagged           transform.Policy
	ExtractOnly       bool
	InlineImages      bool
	DryRun            bool
	Debug             bool
	Verbose           bool
	IncludeHeader     []string
	IncludeBody       []string
	ExcludeHeader     []string
	ExcludeBody       []string
	BackupMbox        string
	Journal           string
	LogLevel          string
	LogDir            string
	NoProgress        bool
}

// ExtractionDir is the directory attachments of the configured folder are
// written to, given the server's hierarchy delimiter.
func (c Config) ExtractionDir(delim rune) string {
	if c.NoSubdir {
		return c.ExtractDir
	}
	sub := mailbox.SubdirPath(mailbox.Canonical(c.Folder), delim, c.IgnoreInboxSubdir)
	if sub == "" {
		return c.ExtractDir
	}
	return filepath.Join(c.ExtractDir, sub)
}

// RegisterConnectionFlags attaches the login flags shared by every subcommand.
func RegisterConnectionFlags(cmd *cobra.Command) error {
	defaultConfigFile, err := defaultConfigPath()
	if err != nil {
		return err
	}

	flags := cmd.PersistentFlags()
	flags.String("conf", defaultConfigFile, "YAML configuration file, keys named after flags")
	flags.String("host", "", "IMAP server hostname (or first argument)")
	flags.Int("port", 993, "IMAP server port (TLS)")
	flags.String("login", "", "IMAP login (or second argument)")
	flags.String("password", "", "IMAP password (falls back to "+EnvPrefix+"_PASSWORD, the keyring, then a prompt)")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs to a timestamped file in this directory")
	flags.BoolP("verbose", "v", false, "Verbose output, same as --log-level=debug")
	return nil
}

// RegisterFlags attaches the extraction flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	defaultJournal, err := defaultJournalPath()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	flags.StringP("folder", "f", "INBOX", "Folder to process, decoded or in modified UTF-7")
	flags.StringP("date", "d", "", "Date definition [<>]date[ to date], date as YYYY, YYYY-MM or YYYY-MM-DD")
	flags.Bool("all", false, "Process all messages of the folder when no --date is given")
	flags.StringP("extract-dir", "e", "./", "Root directory for extracted attachments")
	flags.Bool("no-subdir", false, "Do not create a sub-directory per folder")
	flags.Bool("ignore-inbox-subdir", false, "Drop the leading Inbox directory for sub-folders of INBOX")
	flags.StringP("max-size", "m", "100K", "Attachments larger than this are extracted (e.g. 500K, 2M)")
	flags.String("flagged", string(transform.PolicySkip), "Flagged messages: skip, extract (keep attachments) or detach")
	flags.Bool("extract-only", false, "Extract attachments without rewriting any message")
	flags.Bool("inline-images", false, "Treat inline images as attachments")
	flags.BoolP("dry-run", "n", false, "Write nothing locally and change nothing on the server")
	flags.Bool("debug", false, "Append rewritten messages but never delete the originals")
	flags.StringArray("include-header", nil, "Regex allow-list applied to message headers (mutually exclusive with exclude flags)")
	flags.StringArray("include-body", nil, "Regex allow-list applied to message bodies (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-header", nil, "Regex block-list applied to message headers (mutually exclusive with include flags)")
	flags.StringArray("exclude-body", nil, "Regex block-list applied to message bodies (mutually exclusive with include flags)")
	flags.String("backup-mbox", "", "Append every original message to this mbox file before rewriting it")
	flags.String("journal", defaultJournal, "JSONL journal of extracted files, empty to disable")
	flags.Bool("no-progress", false, "Disable the progress bar")
	return nil
}

// LoadDotEnv loads environment overrides from path when the file exists.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadConnection resolves the login flags only, for commands that do not extract.
func LoadConnection(cmd *cobra.Command, args []string) (Connection, string, error) {
	v, err := newViper(cmd)
	if err != nil {
		return Connection{}, "", err
	}
	conn, err := connection(v, args)
	if err != nil {
		return Connection{}, "", err
	}
	return conn, normalizeLevel(v), nil
}

// LoadConfig merges flags, environment and the config file into a validated Config.
// An explicitly set flag wins over the environment, which wins over the file.
func LoadConfig(cmd *cobra.Command, args []string) (Config, error) {
	v, err := newViper(cmd)
	if err != nil {
		return Config{}, err
	}

	conn, err := connection(v, args)
	if err != nil {
		return Config{}, err
	}

	flags := cmd.Flags()
	cfg := Config{
		Connection:        conn,
		ConfigFile:        v.ConfigFileUsed(),
		Folder:            strings.TrimSpace(v.GetString("folder")),
		Date:              strings.TrimSpace(v.GetString("date")),
		All:               v.GetBool("all"),
		NoSubdir:          v.GetBool("no-subdir"),
		IgnoreInboxSubdir: v.GetBool("ignore-inbox-subdir"),
		MaxSize:           v.GetString("max-size"),
		ExtractOnly:       v.GetBool("extract-only"),
		InlineImages:      v.GetBool("inline-images"),
		DryRun:            v.GetBool("dry-run"),
		Debug:             v.GetBool("debug"),
		Verbose:           v.GetBool("verbose"),
		IncludeHeader:     patterns(v, flags, "include-header"),
		IncludeBody:       patterns(v, flags, "include-body"),
		ExcludeHeader:     patterns(v, flags, "exclude-header"),
		ExcludeBody:       patterns(v, flags, "exclude-body"),
		BackupMbox:        expandHome(v.GetString("backup-mbox")),
		Journal:           expandHome(v.GetString("journal")),
		LogLevel:          normalizeLevel(v),
		LogDir:            expandHome(v.GetString("log-dir")),
		NoProgress:        v.GetBool("no-progress"),
	}

	if cfg.Folder == "" {
		cfg.Folder = "INBOX"
	}

	if cfg.Threshold, err = sizeunit.Parse(cfg.MaxSize); err != nil {
		return Config{}, fmt.Errorf("--max-size: %w", err)
	}

	if cfg.Flagged, err = transform.ParsePolicy(v.GetString("flagged")); err != nil {
		return Config{}, fmt.Errorf("--flagged: %w", err)
	}

	if cfg.Date != "" {
		if cfg.Range, err = daterange.Compile(cfg.Date); err != nil {
			return Config{}, fmt.Errorf("--date: %w", err)
		}
	}

	extractDir := expandHome(v.GetString("extract-dir"))
	if extractDir == "" {
		extractDir = "."
	}
	if cfg.ExtractDir, err = filepath.Abs(extractDir); err != nil {
		return Config{}, fmt.Errorf("--extract-dir: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	if err := validateConnection(cfg.Connection); err != nil {
		return err
	}
	if cfg.Date == "" && !cfg.All {
		return ErrNoDateCriteria
	}
	if cfg.Threshold < 0 {
		return fmt.Errorf("--max-size must not be negative")
	}
	includeActive := len(cfg.IncludeHeader) > 0 || len(cfg.IncludeBody) > 0
	excludeActive := len(cfg.ExcludeHeader) > 0 || len(cfg.ExcludeBody) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

func validateConnection(conn Connection) error {
	if conn.Host == "" {
		return ErrMissingHost
	}
	if conn.Login == "" {
		return ErrMissingLogin
	}
	if conn.Port <= 0 || conn.Port > 65535 {
		return fmt.Errorf("--port must be between 1 and 65535")
	}
	return nil
}

func connection(v *viper.Viper, args []string) (Connection, error) {
	conn := Connection{
		Host:               strings.TrimSpace(v.GetString("host")),
		Port:               v.GetInt("port"),
		Login:              strings.TrimSpace(v.GetString("login")),
		Password:           v.GetString("password"),
		InsecureSkipVerify: v.GetBool("insecure-skip-verify"),
	}
	if len(args) > 0 && conn.Host == "" {
		conn.Host = strings.TrimSpace(args[0])
	}
	if len(args) > 1 && conn.Login == "" {
		conn.Login = strings.TrimSpace(args[1])
	}
	if err := validateConnection(conn); err != nil {
		return Connection{}, err
	}
	return conn, nil
}

func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	path := expandHome(v.GetString("conf"))
	if path == "" {
		return v, nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		explicit := cmd.Flags().Changed("conf")
		if !explicit && (errors.Is(err, fs.ErrNotExist) || errors.As(err, &notFound)) {
			return v, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return v, nil
}

// patterns reads a regex list. Flag values are taken verbatim since viper
// would split them on commas.
func patterns(v *viper.Viper, flags *pflag.FlagSet, name string) []string {
	if flags.Changed(name) {
		values, err := flags.GetStringArray(name)
		if err == nil {
			return values
		}
	}
	return v.GetStringSlice(name)
}

func normalizeLevel(v *viper.Viper) string {
	if v.GetBool("verbose") {
		return "debug"
	}
	level := strings.ToLower(strings.TrimSpace(v.GetString("log-level")))
	if level == "warning" {
		level = "warn"
	}
	return level
}

func expandHome(path string) string {
	path = strings.TrimSpace(path)
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func defaultConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func defaultJournalPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "journal.jsonl"), nil
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "imap-aex"), nil
}
