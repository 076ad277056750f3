package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Toobanaz/ai-audience-mentor/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "mentor",
	Short: "AI audience mentor",
	Long: `mentor coaches speakers on their talks and explanations.

Commands:
  serve       - HTTP API (transcribe, analyze, sessions, body metrics)
  transcribe  - segment and transcribe one WAV file
  migrate     - create the SQL schema`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (default: $MENTOR_CONFIG)")
}

// loadConfig reads the configuration and installs the JSON logger.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg.LogLevel)
	return cfg, nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
