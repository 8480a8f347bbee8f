package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/flycli/fly-mcp"
	"github.com/flycli/fly-mcp/internal/config"
	"github.com/flycli/fly-mcp/servers/flutter"
)

const shutdownGrace = 10 * time.Second

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "fly-mcp",
		Short:        "Flutter scaffolding server for the Model Context Protocol",
		Version:      flutter.Version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newDoctorCmd(&configPath),
		newInitCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fly-mcp %s\n", flutter.Version)
		},
	}
}

func newServeCmd(configPath *string) *cobra.Command {
	var workspace string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the scaffolding tools on stdin/stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if workspace != "" {
				cfg.Workspace = workspace
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "workspace directory for scaffolded projects")
	return cmd
}

func runServe(ctx context.Context, cfg config.Config) error {
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	opts := []flutter.Option{flutter.WithLogger(logger)}
	if !cfg.CacheDisabled {
		cache, err := flutter.OpenCache(cfg.CachePath)
		if err != nil {
			// The server runs fine without history; it only loses the
			// Recent Scaffolds section and doctor records.
			logger.Warn("cache unavailable, continuing without it",
				slog.String("path", cfg.CachePath),
				slog.String("err", err.Error()))
		} else {
			defer cache.Close()
			opts = append(opts, flutter.WithCache(cache))
		}
	}

	scaffolder, err := flutter.NewServer(cfg.Workspace, opts...)
	if err != nil {
		return err
	}

	core := mcp.NewServer(
		mcp.Info{Name: "fly-mcp", Version: flutter.Version},
		cfg.ServerConfig(),
		mcp.WithServerLogger(logger),
	)
	if err := scaffolder.Register(core); err != nil {
		return err
	}

	stdioOpts := []mcp.StdIOOption{mcp.WithStdIOLogger(logger)}
	if cfg.MaxMessageBytes > 0 {
		stdioOpts = append(stdioOpts, mcp.WithStdIOMaxMessageBytes(cfg.MaxMessageBytes))
	}
	sess := mcp.NewStdIO(os.Stdin, os.Stdout, stdioOpts...)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	served := make(chan error, 1)
	go func() {
		served <- core.Serve(ctx, sess)
	}()

	select {
	case err := <-served:
		sess.Stop()
		return err
	case <-ctx.Done():
	}

	logger.Info("signal received, shutting down")
	sess.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := core.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown grace period expired with calls in flight",
			slog.String("err", err.Error()))
	}
	<-served
	return nil
}

func newDoctorCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment: toolchain, workspace, and cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			opts := []flutter.Option{flutter.WithLogger(newLogger(cfg))}
			if !cfg.CacheDisabled {
				if cache, err := flutter.OpenCache(cfg.CachePath); err == nil {
					defer cache.Close()
					opts = append(opts, flutter.WithCache(cache))
				}
			}
			scaffolder, err := flutter.NewServer(cfg.Workspace, opts...)
			if err != nil {
				return err
			}

			report := scaffolder.Diagnose()
			for _, check := range report.Checks {
				mark := "ok"
				if !check.OK {
					mark = "FAIL"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s", mark, check.Name)
				if check.Details != "" {
					fmt.Fprintf(cmd.OutOrStdout(), ": %s", check.Details)
				}
				fmt.Fprintln(cmd.OutOrStdout())
			}
			if !report.Healthy {
				return fmt.Errorf("environment is not healthy")
			}
			return nil
		},
	}
}

func newInitCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the defaults",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := *configPath
			if path == "" {
				path = config.Path()
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config file already exists: %s", path)
			}

			if err := config.Default().SaveTo(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
}

// newLogger builds the process logger. Output goes to stderr: stdout carries
// the protocol stream.
func newLogger(cfg config.Config) *slog.Logger {
	level, err := charmlog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = charmlog.InfoLevel
	}

	opts := charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           level,
	}
	if cfg.LogFormat == "json" {
		opts.Formatter = charmlog.JSONFormatter
	}
	return slog.New(charmlog.NewWithOptions(os.Stderr, opts))
}
