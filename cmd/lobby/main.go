package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"lobby"
	"lobby/chat"
)

var (
	// Global flags
	configPath string
	verbose    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "lobby",
	Short: "lobby - page cache and chat transcript service for the community app",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := lobby.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if !verbose {
			if lvl, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
				logger = logger.WithOptions(zap.IncreaseLevel(lvl))
			}
		}

		srv, cleanup, err := initializeServer(cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize server: %w", err)
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return srv.Run(ctx)
	},
}

var windowMinutes int

var groupCmd = &cobra.Command{
	Use:   "group [messages.json]",
	Short: "Print the grouped transcript of a newest-first JSON message array",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in io.Reader = cmd.InOrStdin()
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open messages: %w", err)
			}
			defer f.Close()
			in = f
		}
		var messages []chat.Message
		if err := json.NewDecoder(in).Decode(&messages); err != nil {
			return fmt.Errorf("decode messages: %w", err)
		}
		entries := chat.Transcript(messages, time.Duration(windowMinutes)*time.Minute)
		logger.Debug("transcript built", zap.Int("messages", len(messages)), zap.Int("entries", len(entries)))
		return writeTranscript(cmd.OutOrStdout(), entries)
	},
}

// writeTranscript prints entries top to bottom as an inverted list renders
// them, i.e. oldest at the top.
func writeTranscript(w io.Writer, entries []chat.Entry) error {
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		var err error
		switch e.Kind {
		case chat.EntryDate:
			_, err = fmt.Fprintf(w, "-- %s --\n", e.Date.Format(time.RFC1123))
		case chat.EntryMessage:
			if e.Message.SameUser {
				_, err = fmt.Fprintf(w, "    %s\n", e.Message.Content)
			} else {
				_, err = fmt.Fprintf(w, "%s: %s\n", e.Message.SenderID, e.Message.Content)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	groupCmd.Flags().IntVarP(&windowMinutes, "window", "w", int(chat.DefaultWindow/time.Minute), "grouping window in minutes")

	rootCmd.AddCommand(serveCmd, groupCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
