package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"docqa/app/server"
	"docqa/config"
)

// Version is set via ldflags at build time.
var Version = "dev"

var (
	cfgFile    string
	listenAddr string
)

var rootCmd = &cobra.Command{
	Use:   "docqa",
	Short: "Ask questions across the PDFs uploaded to a session",
	Long: `docqa serves a small HTTP API for uploading PDF documents into named
sessions and answering questions from the passages retrieved across all
documents of a session, with a rolling conversation memory.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if listenAddr != "" {
			cfg.ServerAddr = listenAddr
		}
		slog.SetDefault(newLogger(cfg.LogLevel, cfg.LogFormat))

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := server.NewServer(ctx, cfg)
		if err != nil {
			return err
		}

		errCh := make(chan error, 1)
		go func() { errCh <- s.Run() }()

		select {
		case err := <-errCh:
			s.Stop()
			return err
		case <-ctx.Done():
			slog.Info("Received shutdown signal, shutting down server...")
			s.Stop()
			return nil
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of docqa",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "docqa %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "docqa.yml", "config file path")
	rootCmd.Flags().StringVar(&listenAddr, "addr", "", "listen address, overrides server_addr")
	rootCmd.AddCommand(versionCmd)
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
