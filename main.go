package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Danamir/imap-attachment-extractor/cmd"
	"github.com/Danamir/imap-attachment-extractor/config"
	"github.com/Danamir/imap-attachment-extractor/credential"
	"github.com/Danamir/imap-attachment-extractor/detach"
	"github.com/Danamir/imap-attachment-extractor/extract"
	"github.com/Danamir/imap-attachment-extractor/filter"
	"github.com/Danamir/imap-attachment-extractor/imap"
	"github.com/Danamir/imap-attachment-extractor/journal"
	"github.com/Danamir/imap-attachment-extractor/mbox"
	"github.com/Danamir/imap-attachment-extractor/progress"
	"github.com/Danamir/imap-attachment-extractor/replace"
	"github.com/Danamir/imap-attachment-extractor/runner"
	"github.com/Danamir/imap-attachment-extractor/stats"
	"github.com/Danamir/imap-attachment-extractor/transform"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	rootCmd := &cobra.Command{
		Use:   "imap-aex [HOST] [USER]",
		Short: "Extract attachments from IMAP messages and replace them with a detach marker",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd, args)
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

			slog.SetDefault(logger)
			logger.Info("starting imap-aex",
				"host", cfg.Host,
				"folder", cfg.Folder,
				"range", cfg.Range.String(),
				"dryRun", cfg.DryRun,
				"debug", cfg.Debug,
			)

			return run(cfg, logger)
		},
		SilenceUsage: true,
	}

	if err := config.RegisterConnectionFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
	cmd.AddCommands(rootCmd, afero.NewOsFs())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := runner.New(ctx, logger)
	logger = r.Logger()
	fsys := afero.NewOsFs()

	password, err := credential.SystemResolver(os.Stderr, logger).Password(cfg.Password, cfg.Host, cfg.Login)
	if err != nil {
		return err
	}

	session, err := imap.Dial(ctx, imap.Options{
		Host:               cfg.Host,
		Port:               cfg.Port,
		Username:           cfg.Login,
		Password:           password,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}, logger)
	if err != nil {
		return fmt.Errorf("imap.Dial: %w", err)
	}
	defer session.Release()

	delim, err := session.Delimiter(ctx, cfg.Folder)
	if err != nil {
		return err
	}
	if _, err := session.Select(ctx, cfg.Folder, cfg.DryRun); err != nil {
		return err
	}

	store, err := extract.New(fsys, extract.Options{Dir: cfg.ExtractionDir(delim), DryRun: cfg.DryRun}, logger)
	if err != nil {
		return fmt.Errorf("extract.New: %w", err)
	}

	deps := detach.Deps{
		Session: session,
		Events:  r,
		Logger:  logger,
	}

	if cfg.Journal != "" {
		j, err := journal.Open(fsys, cfg.Journal, !cfg.DryRun)
		if err != nil {
			return fmt.Errorf("journal.Open: %w", err)
		}
		defer func() {
			if err := j.Close(); err != nil {
				logger.Error("close journal", "path", j.Path(), "err", err)
			}
		}()
		deps.Journal = j
	}

	if cfg.BackupMbox != "" && !cfg.DryRun {
		backup, err := mbox.OpenBackup(fsys, cfg.BackupMbox, logger)
		if err != nil {
			return fmt.Errorf("mbox.OpenBackup: %w", err)
		}
		defer func() {
			if err := backup.Close(); err != nil {
				logger.Error("close backup", "path", backup.Path(), "err", err)
			}
		}()
		deps.Backup = backup
	}

	deps.Filter, err = filter.New(filter.Options{
		Range:         cfg.Range,
		IncludeHeader: cfg.IncludeHeader,
		IncludeBody:   cfg.IncludeBody,
		ExcludeHeader: cfg.ExcludeHeader,
		ExcludeBody:   cfg.ExcludeBody,
	})
	if err != nil {
		return fmt.Errorf("filter.New: %w", err)
	}

	deps.Transformer = transform.New(transform.Options{
		Threshold:   cfg.Threshold,
		Flagged:     cfg.Flagged,
		ExtractOnly: cfg.ExtractOnly,
	}, store, logger)
	deps.Transaction = replace.New(session, replace.Options{DryRun: cfg.DryRun, Debug: cfg.Debug}, logger)

	pipeline, err := detach.New(deps, detach.Options{
		Folder:       cfg.Folder,
		Range:        cfg.Range,
		Threshold:    cfg.Threshold,
		InlineImages: cfg.InlineImages,
		DryRun:       cfg.DryRun,
		RunID:        r.ID(),
	})
	if err != nil {
		return fmt.Errorf("detach.New: %w", err)
	}

	r.AddStage("detach", pipeline.Run)
	stats.NewReporter(r, logger)
	bar := progress.New(cfg.LogLevel, cfg.NoProgress)
	progress.NewProgressReporter(r, bar, cfg.DryRun)

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

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("imap-aex-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
