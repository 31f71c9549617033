package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirerelay/internal/app"
	"github.com/vovakirdan/wirerelay/internal/config"
	"github.com/vovakirdan/wirerelay/internal/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		overrides  config.Config
		stdinQuit  bool
	)

	cmd := &cobra.Command{
		Use:          "wirerelay-server",
		Short:        "Point-to-point chat relay over TCP",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bootLogger := log.New(overrides.LogLevel, overrides.LogFormat)

			cfg, path, err := config.Load(bootLogger, configPath)
			if err != nil {
				bootLogger.Error().Err(err).Msg("failed to load config")
				return err
			}
			cfg.UpdateFrom(overrides)

			logger := log.New(cfg.LogLevel, cfg.LogFormat)
			logger.Info().Str("config", path).Msg("configuration loaded")

			application, err := app.New(&cfg, logger)
			if err != nil {
				logger.Error().Err(err).Msg("failed to build app")
				return err
			}

			if stdinQuit {
				go watchQuit(os.Stdin, application)
			}

			logger.Info().
				Str("listen_addr", cfg.ListenAddr).
				Str("admin_addr", cfg.AdminAddr).
				Str("on_conflict", cfg.OnConflict).
				Msg("starting wirerelay server")
			if err := application.Run(cmd.Context()); err != nil {
				logger.Error().Err(err).Msg("server exited with error")
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "path to config.yaml (created with defaults when missing)")
	flags.StringVar(&overrides.ListenAddr, "listen", "", "relay TCP listen address")
	flags.StringVar(&overrides.AdminAddr, "admin", "", "admin HTTP listen address")
	flags.StringVar(&overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&overrides.LogFormat, "log-format", "", "log format (console, json)")
	flags.StringVar(&overrides.OnConflict, "on-conflict", "", "duplicate login policy (reject, replace)")
	flags.BoolVar(&overrides.NotifyOffline, "notify-offline", false, "tell senders when a recipient is offline")
	flags.StringVar(&overrides.DatabasePath, "db", "", "sqlite session journal path")
	flags.BoolVar(&stdinQuit, "stdin-quit", false, "shut down when 'quit' is read from stdin")

	return cmd
}

// watchQuit shuts the relay down when an operator types quit.
func watchQuit(in io.Reader, application *app.App) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		switch strings.TrimSpace(scanner.Text()) {
		case "quit", "exit":
			application.Shutdown()
			return
		case "":
		default:
			fmt.Fprintln(os.Stderr, "type quit to stop the relay")
		}
	}
}
