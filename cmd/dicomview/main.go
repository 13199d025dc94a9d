package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomview/client"
	"github.com/caio-sobreiro/dicomview/config"
)

var (
	configPath string
	apiURL     string
	logLevel   string

	cfg *config.Config

	rootCmd = &cobra.Command{
		Use:   "dicomview",
		Short: "Browse, upload and view DICOM studies",
		Long: `dicomview talks to a DICOM study backend: it lists and deletes studies,
uploads files and runs a headless viewing session driven from stdin.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "dicomview.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API base URL (overrides config and "+config.EnvAPIURL+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")

	rootCmd.AddCommand(studiesCmd, uploadCmd, viewCmd, configCmd, sampleBackendCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	loaded, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if apiURL != "" {
		loaded.API.BaseURL = apiURL
	}
	if logLevel != "" {
		loaded.Log.Level = logLevel
	}
	if err := loaded.Validate(); err != nil {
		return err
	}
	cfg = loaded
	slog.SetDefault(newLogger(cmd.ErrOrStderr(), cfg))
	return nil
}

func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func newClient() (*client.Client, error) {
	return client.New(client.Config{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
		Logger:  slog.Default(),
	})
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		slog.Info("Interrupted")
	default:
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
