package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/mindlab/internal/loadtest"
	"github.com/okian/mindlab/pkg/logger"
)

// defaultRunTimeout bounds a whole command.
const defaultRunTimeout = 10 * time.Minute

func main() {
	if err := logger.Init(); err != nil {
		_, _ = os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := loadtest.NewConfig()
	root := &cobra.Command{
		Use:          "sync-load",
		Short:        "Offline client simulator for the MindLab Play sync API",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Verbose {
				return logger.SetLevelString("debug")
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfg.BaseURL, "url", cfg.BaseURL, "Base URL of the service")
	flags.StringVar(&cfg.BufferFile, "buffer", cfg.BufferFile, "Offline buffer file")
	flags.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "HTTP request timeout")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose logging")

	root.AddCommand(
		newGenerateCmd(cfg),
		newFlushCmd(cfg),
		newRunCmd(cfg),
	)
	return root
}

func addGenerateFlags(cmd *cobra.Command, cfg *loadtest.Config) {
	cmd.Flags().IntVar(&cfg.Players, "players", cfg.Players, "Simulated players")
	cmd.Flags().StringSliceVar(&cfg.Games, "games", cfg.Games, "Game ids to play")
	cmd.Flags().IntVar(&cfg.Sessions, "sessions", cfg.Sessions, "Sessions per player")
	cmd.Flags().IntVar(&cfg.Rounds, "rounds", cfg.Rounds, "Rounds per session")
}

func addFlushFlags(cmd *cobra.Command, cfg *loadtest.Config) {
	cmd.Flags().IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Events per sync request")
	cmd.Flags().IntVar(&cfg.Workers, "workers", cfg.Workers, "Concurrent flushers")
	cmd.Flags().IntVar(&cfg.Repeat, "repeat", cfg.Repeat, "Extra retransmits of every batch")
}

func newGenerateCmd(cfg *loadtest.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Append simulated sessions to the offline buffer",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultRunTimeout)
			defer cancel()
			n, err := loadtest.GenerateToBuffer(ctx, cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "buffered %d events in %s\n", n, cfg.BufferFile)
			return nil
		},
	}
	addGenerateFlags(cmd, cfg)
	return cmd
}

func newFlushCmd(cfg *loadtest.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Send the offline buffer to POST /sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultRunTimeout)
			defer cancel()
			stats, err := loadtest.FlushBuffer(ctx, cfg)
			if stats != nil {
				loadtest.DisplayStats(ctx, stats)
			}
			return err
		},
	}
	addFlushFlags(cmd, cfg)
	return cmd
}

func newRunCmd(cfg *loadtest.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate, flush with retransmits and verify leaderboards",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultRunTimeout)
			defer cancel()
			stats, err := loadtest.Run(ctx, cfg)
			if stats != nil {
				loadtest.DisplayStats(ctx, stats)
			}
			return err
		},
	}
	addGenerateFlags(cmd, cfg)
	addFlushFlags(cmd, cfg)
	return cmd
}
