package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/dhcgn/maildir-archiver/policy"
)

const (
	NormalizerFormail = "formail"
	NormalizerBuiltin = "builtin"
)

const (
	ModeArchive = "archive"
	ModeRemove  = "remove"
	ModeIMAP    = "imap"
)

// Config captures all options required to run the archiver. Values come from
// an optional YAML file, overridden by explicitly set command-line flags.
type Config struct {
	MaildirPath        string   `yaml:"dir"`
	ArchivePath        string   `yaml:"archive"`
	Remove             bool     `yaml:"remove"`
	Confirm            bool     `yaml:"confirm"`
	IncludeNew         bool     `yaml:"new"`
	AgeDays            int      `yaml:"age"`
	Normalizer         string   `yaml:"normalizer"`
	FormailPath        string   `yaml:"formail_path"`
	IMAPHost           string   `yaml:"imap_host"`
	IMAPPort           int      `yaml:"imap_port"`
	IMAPUser           string   `yaml:"imap_user"`
	IMAPPass           string   `yaml:"imap_pass"`
	UseTLS             bool     `yaml:"use_tls"`
	InsecureSkipVerify bool     `yaml:"insecure_skip_verify"`
	TargetFolder       string   `yaml:"target_folder"`
	JournalPath        string   `yaml:"journal"`
	MetricsFile        string   `yaml:"metrics_file"`
	Schedule           string   `yaml:"schedule"`
	LogLevel           string   `yaml:"log_level"`
	LogDir             string   `yaml:"log_dir"`
	Progress           bool     `yaml:"progress"`
	ProtectHeader      []string `yaml:"protect_header"`
	ProtectBody        []string `yaml:"protect_body"`
	OnlyHeader         []string `yaml:"only_header"`
	OnlyBody           []string `yaml:"only_body"`

	ConfigFile string `yaml:"-"`
	EnvFile    string `yaml:"-"`
}

// Defaults returns the values used for every option not set elsewhere.
func Defaults() Config {
	return Config{
		AgeDays:      30,
		Normalizer:   NormalizerFormail,
		FormailPath:  "formail",
		IMAPPort:     993,
		UseTLS:       true,
		TargetFolder: "Archive",
		LogLevel:     "info",
	}
}

// DryRun reports whether the run only previews its decisions.
func (c Config) DryRun() bool {
	return !c.Confirm
}

// Mode names where retired messages go.
func (c Config) Mode() string {
	switch {
	case c.Remove:
		return ModeRemove
	case c.IMAPHost != "":
		return ModeIMAP
	default:
		return ModeArchive
	}
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) {
	d := Defaults()

	flags := cmd.Flags()
	flags.StringP("dir", "d", "", "The maildir to process and search for old messages")
	flags.StringP("archive", "a", "", "Mbox file receiving old messages (.gz or .zst to compress)")
	flags.BoolP("remove", "r", false, "Remove messages instead of archiving")
	flags.BoolP("confirm", "c", false, "Apply changes; without it the run is a dry run")
	flags.BoolP("new", "n", false, "Process unread messages too")
	flags.IntP("age", "A", d.AgeDays, "Age in days")
	flags.String("normalizer", d.Normalizer, "Header normalizer: formail or builtin")
	flags.String("formail-path", d.FormailPath, "formail binary used by the formail normalizer")
	flags.String("imap-host", "", "Archive to this IMAP server instead of a file")
	flags.Int("imap-port", d.IMAPPort, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
	flags.Bool("use-tls", d.UseTLS, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("target-folder", d.TargetFolder, "IMAP folder receiving archived mail")
	flags.String("journal", "", "Append a JSON line per retired message to this file")
	flags.String("metrics-file", "", "Write run counters in Prometheus text format to this file")
	flags.String("schedule", "", "Cron expression; run repeatedly until interrupted")
	flags.String("log-level", d.LogLevel, "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs to a timestamped file in this directory")
	flags.Bool("progress", false, "Show a progress bar and a summary table")
	flags.StringArray("protect-header", nil, "Regex on message headers; matching messages are never retired (mutually exclusive with only flags)")
	flags.StringArray("protect-body", nil, "Regex on message bodies; matching messages are never retired (mutually exclusive with only flags)")
	flags.StringArray("only-header", nil, "Regex on message headers; only matching messages are retired (mutually exclusive with protect flags)")
	flags.StringArray("only-body", nil, "Regex on message bodies; only matching messages are retired (mutually exclusive with protect flags)")
	flags.String("config", "", "YAML config file; explicitly set flags take precedence")
	flags.String("env-file", "", "dotenv file loaded before reading IMAP_PASS")
}

// LoadConfig converts the parsed Cobra flags into a Config struct with validation.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()
	cfg := Defaults()

	var err error
	if cfg.ConfigFile, err = flags.GetString("config"); err != nil {
		return Config{}, err
	}
	if cfg.EnvFile, err = flags.GetString("env-file"); err != nil {
		return Config{}, err
	}

	if cfg.ConfigFile != "" {
		if err := loadFile(cfg.ConfigFile, &cfg); err != nil {
			return Config{}, err
		}
	}
	if cfg.EnvFile != "" {
		if err := godotenv.Load(cfg.EnvFile); err != nil {
			return Config{}, fmt.Errorf("failed to load env file %q: %w", cfg.EnvFile, err)
		}
	}

	if err := applyFlags(flags, &cfg); err != nil {
		return Config{}, err
	}

	if cfg.IMAPPass == "" {
		cfg.IMAPPass = os.Getenv("IMAP_PASS")
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	cfg.Normalizer = strings.ToLower(strings.TrimSpace(cfg.Normalizer))
	cfg.MaildirPath = cleanPath(cfg.MaildirPath)
	cfg.ArchivePath = cleanPath(cfg.ArchivePath)
	cfg.JournalPath = cleanPath(cfg.JournalPath)
	cfg.MetricsFile = cleanPath(cfg.MetricsFile)
	cfg.LogDir = cleanPath(cfg.LogDir)

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}
	return nil
}

func applyFlags(flags *pflag.FlagSet, cfg *Config) error {
	for name, dst := range map[string]*string{
		"dir":           &cfg.MaildirPath,
		"archive":       &cfg.ArchivePath,
		"normalizer":    &cfg.Normalizer,
		"formail-path":  &cfg.FormailPath,
		"imap-host":     &cfg.IMAPHost,
		"imap-user":     &cfg.IMAPUser,
		"imap-pass":     &cfg.IMAPPass,
		"target-folder": &cfg.TargetFolder,
		"journal":       &cfg.JournalPath,
		"metrics-file":  &cfg.MetricsFile,
		"schedule":      &cfg.Schedule,
		"log-level":     &cfg.LogLevel,
		"log-dir":       &cfg.LogDir,
	} {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetString(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	for name, dst := range map[string]*bool{
		"remove":               &cfg.Remove,
		"confirm":              &cfg.Confirm,
		"new":                  &cfg.IncludeNew,
		"use-tls":              &cfg.UseTLS,
		"insecure-skip-verify": &cfg.InsecureSkipVerify,
		"progress":             &cfg.Progress,
	} {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetBool(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	for name, dst := range map[string]*int{
		"age":       &cfg.AgeDays,
		"imap-port": &cfg.IMAPPort,
	} {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetInt(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	for name, dst := range map[string]*[]string{
		"protect-header": &cfg.ProtectHeader,
		"protect-body":   &cfg.ProtectBody,
		"only-header":    &cfg.OnlyHeader,
		"only-body":      &cfg.OnlyBody,
	} {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetStringArray(name)
		if err != nil {
			return err
		}
		*dst = v
	}

	return nil
}

func validateConfig(cfg Config) error {
	if cfg.MaildirPath == "" {
		return fmt.Errorf("--dir is required")
	}

	targets := 0
	for _, set := range []bool{cfg.ArchivePath != "", cfg.Remove, cfg.IMAPHost != ""} {
		if set {
			targets++
		}
	}
	switch targets {
	case 0:
		return fmt.Errorf("one of --archive, --remove or --imap-host is required")
	case 1:
	default:
		return fmt.Errorf("you can either archive or remove, not both: --archive, --remove and --imap-host are mutually exclusive")
	}

	if cfg.AgeDays < 0 {
		return fmt.Errorf("--age must not be negative")
	}
	if limit := policy.MaxAgeDays(time.Now()); cfg.AgeDays > limit {
		return fmt.Errorf("--age must not exceed %d days", limit)
	}

	switch cfg.Normalizer {
	case NormalizerFormail:
		if strings.TrimSpace(cfg.FormailPath) == "" {
			return fmt.Errorf("--formail-path is empty")
		}
	case NormalizerBuiltin:
	default:
		return fmt.Errorf("invalid --normalizer: %s", cfg.Normalizer)
	}

	if cfg.IMAPHost != "" {
		if cfg.IMAPUser == "" {
			return fmt.Errorf("--imap-user is required with --imap-host")
		}
		if cfg.IMAPPass == "" {
			return fmt.Errorf("IMAP password must be provided via --imap-pass or IMAP_PASS env var")
		}
		if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
			return fmt.Errorf("--imap-port must be between 1 and 65535")
		}
	}

	onlyActive := len(cfg.OnlyHeader) > 0 || len(cfg.OnlyBody) > 0
	protectActive := len(cfg.ProtectHeader) > 0 || len(cfg.ProtectBody) > 0
	if onlyActive && protectActive {
		return fmt.Errorf("only and protect flags are mutually exclusive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

func cleanPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	return filepath.Clean(p)
}
