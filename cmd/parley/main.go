package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// ============================================================================
// Root command
// ============================================================================

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley chat CLI",
	Long:  "Command-line client for Parley chat servers.\nManage configuration, log in, and chat from the terminal.",
}

func main() {
	// A .env in the working directory can override PARLEY_* settings.
	_ = godotenv.Load()

	level := slog.LevelWarn
	if os.Getenv("PARLEY_DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
