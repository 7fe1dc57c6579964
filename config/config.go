package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variables that mirror every flag,
// e.g. RIMAP_LOG_LEVEL for --log-level.
const EnvPrefix = "RIMAP"

// DockerRoot is the fixed output root used by --docker.
const DockerRoot = "/mails"

// Config captures all command-line options required to run the archiver.
type Config struct {
	ConfigPath         string
	Format             Format
	Docker             bool
	DryRun             bool
	Port               int
	Transport          string
	InsecureSkipVerify bool
	Timeout            time.Duration
	StateDir           string
	LogLevel           string
	LogDir             string
	IncludeMailbox     []string
	ExcludeMailbox     []string
}

// RegisterFlags attaches all CLI flags to the provided command.
func RegisterFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	flags.Bool("docker", false, "Write all accounts below "+DockerRoot+" instead of their configured local_dir")
	flags.String("format", string(FormatAuto), "Account file format: auto, csv, keyvalue")
	flags.Bool("dry-run", false, "Derive filenames and report what would be downloaded without writing")
	flags.Int("port", 993, "IMAP server port")
	flags.String("transport", "tls", "IMAP transport: tls, starttls, insecure")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.Duration("timeout", 2*time.Minute, "Timeout for dialing and for each IMAP command")
	flags.String("state-dir", "", "Directory for the Message-ID manifest; empty disables it")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Also write logs to a timestamped file in this directory")
	flags.StringSlice("include-mailbox", nil, "Regex allow-list applied to mailbox names (mutually exclusive with --exclude-mailbox)")
	flags.StringSlice("exclude-mailbox", nil, "Regex block-list applied to mailbox names (mutually exclusive with --include-mailbox)")
	return nil
}

// LoadConfig converts the parsed Cobra flags, overlaid on RIMAP_* environment
// variables, into a Config with validation.
func LoadConfig(cmd *cobra.Command, configPath string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	logLevel := strings.ToLower(v.GetString("log-level"))
	if logLevel == "warning" {
		logLevel = "warn"
	}

	stateDir := v.GetString("state-dir")
	if stateDir != "" {
		stateDir = filepath.Clean(stateDir)
	}

	cfg := Config{
		ConfigPath:         strings.TrimSpace(configPath),
		Format:             Format(strings.ToLower(v.GetString("format"))),
		Docker:             v.GetBool("docker"),
		DryRun:             v.GetBool("dry-run"),
		Port:               v.GetInt("port"),
		Transport:          strings.ToLower(v.GetString("transport")),
		InsecureSkipVerify: v.GetBool("insecure-skip-verify"),
		Timeout:            v.GetDuration("timeout"),
		StateDir:           stateDir,
		LogLevel:           logLevel,
		LogDir:             v.GetString("log-dir"),
		IncludeMailbox:     v.GetStringSlice("include-mailbox"),
		ExcludeMailbox:     v.GetStringSlice("exclude-mailbox"),
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	if cfg.ConfigPath == "" {
		return &ConfigError{Msg: "config path is required"}
	}
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		return &ConfigError{Path: cfg.ConfigPath, Msg: "cannot read config file", Err: err}
	}
	switch cfg.Format {
	case FormatAuto, FormatCSV, FormatKeyValue:
	default:
		return &ConfigError{Msg: fmt.Sprintf("invalid --format: %s", cfg.Format)}
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return &ConfigError{Msg: "--port must be between 1 and 65535"}
	}
	switch cfg.Transport {
	case "tls", "starttls", "insecure":
	default:
		return &ConfigError{Msg: fmt.Sprintf("invalid --transport: %s", cfg.Transport)}
	}
	if cfg.Timeout <= 0 {
		return &ConfigError{Msg: "--timeout must be positive"}
	}
	if len(cfg.IncludeMailbox) > 0 && len(cfg.ExcludeMailbox) > 0 {
		return &ConfigError{Msg: "--include-mailbox and --exclude-mailbox are mutually exclusive"}
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return &ConfigError{Msg: fmt.Sprintf("invalid --log-level: %s", cfg.LogLevel)}
	}

	return nil
}
