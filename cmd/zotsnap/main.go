package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zotsnap/zotsnap/internal/capture"
	"github.com/zotsnap/zotsnap/internal/config"
	"github.com/zotsnap/zotsnap/internal/connector"
	"github.com/zotsnap/zotsnap/internal/history"
	"github.com/zotsnap/zotsnap/internal/pipeline"
	"github.com/zotsnap/zotsnap/internal/retry"
	"github.com/zotsnap/zotsnap/internal/vault"
	"github.com/zotsnap/zotsnap/internal/zotero"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "zotsnap",
	Short: "Save web pages and PDFs into Zotero with snapshot attachments",
	Long: `zotsnap drives a running Zotero instance to save web pages and PDFs.

A page is saved through the Zotero connector, rendered to PDF with a
headless browser, attached to the created record, tagged, filed into a
collection, and placed into Zotero's storage directory.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		configured := os.Getenv("ZOTSNAP_LOG_LEVEL")
		if cfg, err := config.Load(); err == nil && cfg.Log.Level != "" {
			// Load folds ZOTSNAP_LOG_LEVEL over the stored log.level.
			configured = cfg.Log.Level
		}
		setupLogging(verbose, configured)
	},
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable debug logging")

	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(mcpCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

func setupLogging(verbose bool, configured string) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(verbose, configured),
	})))
}

// logLevel resolves the effective log level: --verbose wins, then the
// configured level.
func logLevel(verbose bool, configured string) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	switch strings.ToLower(configured) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelWarn
}

// openHistory opens the run catalog; a failure degrades to no recording.
func openHistory(cfg config.Config) *history.Store {
	store, err := history.Open(cfg.Storage.DataDir)
	if err != nil {
		printWarning("ingestion history unavailable: %v", err)
		return nil
	}
	return store
}

func buildIngestor(cfg config.Config, hist *history.Store) (*pipeline.Ingestor, error) {
	delay, err := time.ParseDuration(cfg.Ingest.Delay)
	if err != nil {
		slog.Warn("invalid ingest delay, using 2s", "value", cfg.Ingest.Delay, "error", err)
		delay = 2 * time.Second
	}

	staging := filepath.Join(os.TempDir(), "zotsnap")
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}

	return pipeline.New(pipeline.Config{
		Connector:  connector.New(cfg.Connector.Host, cfg.Connector.Port),
		Library:    zotero.New(cfg.Library.BaseURL, cfg.Library.Type, cfg.Library.ID, cfg.Library.APIKey),
		Capturer:   capture.Chromium{Binary: cfg.Capture.Binary},
		Vault:      vault.New(cfg.Storage.Root),
		History:    hist,
		StagingDir: staging,
		StartPort:  cfg.Transfer.StartPort,
		Policy:     retry.Policy{MaxAttempts: cfg.Ingest.Attempts, Delay: delay},
		Version:    version,
	}), nil
}
