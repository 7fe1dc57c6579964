package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/iruzo/rimap/cmd"
	"github.com/iruzo/rimap/config"
	"github.com/iruzo/rimap/filter"
	"github.com/iruzo/rimap/imap"
	"github.com/iruzo/rimap/progress"
	"github.com/iruzo/rimap/runner"
	"github.com/iruzo/rimap/state"
	"github.com/iruzo/rimap/stats"
)

const usage = "Usage: rimap <config_path> [--docker]"

func main() {
	rootCmd := &cobra.Command{
		Use:           "rimap <config_path> [--docker]",
		Short:         "Archive every message of one or more IMAP accounts to local .eml files",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				fmt.Fprintln(os.Stderr, usage)
				return nil
			}

			cfg, err := config.LoadConfig(cmd, args[0])
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			logger = logger.With("run", uuid.NewString())
			slog.SetDefault(logger)
			logger.Info("starting rimap", "config", cfg.ConfigPath, "docker", cfg.Docker, "dryRun", cfg.DryRun, "transport", cfg.Transport)

			return run(cmd.Context(), cfg, logger)
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
	rootCmd.AddCommand(cmd.NewExportCommand(), cmd.NewStatsCommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) (err error) {
	accounts, layout, err := config.LoadAccounts(cfg.ConfigPath, cfg.Format)
	if err != nil {
		return err
	}
	logger.Info("accounts loaded", "count", len(accounts))

	mailboxFilter, err := filter.New(filter.Options{Include: cfg.IncludeMailbox, Exclude: cfg.ExcludeMailbox})
	if err != nil {
		return &config.ConfigError{Msg: "invalid mailbox filter", Err: err}
	}

	var tracker state.Tracker
	if cfg.StateDir != "" {
		fileTracker, trackerErr := state.NewFileTracker(cfg.StateDir)
		if trackerErr != nil {
			return fmt.Errorf("state tracker: %w", trackerErr)
		}
		defer func() {
			logger.Info("manifest saved", "dir", cfg.StateDir, "entries", fileTracker.Snapshot().Archived)
			if closeErr := fileTracker.Close(); closeErr != nil {
				err = errors.Join(err, fmt.Errorf("close manifest: %w", closeErr))
			}
		}()
		tracker = fileTracker
	}

	dialer, err := imap.NewDialer(imap.Options{
		Port:               cfg.Port,
		Transport:          cfg.Transport,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		Timeout:            cfg.Timeout,
	}, logger)
	if err != nil {
		return err
	}

	r := runner.New(runner.Options{
		Accounts: accounts,
		Layout:   layout,
		Docker:   cfg.Docker,
		DryRun:   cfg.DryRun,
		Filter:   mailboxFilter,
		Tracker:  tracker,
	}, runner.FromIMAP(dialer), logger)
	stats.NewReporter(r, logger)
	progress.NewConsole(r, os.Stdout)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			logger.Warn("interrupted, stopping")
			r.Stop()
		case <-done:
		}
	}()

	return r.Start()
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
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

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("rimap-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stderr, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stderr, opts)
	return slog.New(handler), cleanup, nil
}
