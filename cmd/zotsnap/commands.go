package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zotsnap/zotsnap/internal/config"
	"github.com/zotsnap/zotsnap/internal/connector"
	"github.com/zotsnap/zotsnap/internal/history"
	"github.com/zotsnap/zotsnap/internal/pipeline"
	"github.com/zotsnap/zotsnap/internal/zotero"
)

// --- save ---

var saveCmd = &cobra.Command{
	Use:   "save <url|pdf-path>",
	Short: "Save a web page or a local PDF into Zotero",
	Long: `Save a web page or a local PDF into Zotero.

Examples:
  zotsnap save https://example.com/article --tags toread,web
  zotsnap save ./paper.pdf --collection-name "Machine Learning"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := args[0]

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		opts := optionsFromFlags(cmd, &cfg)

		hist := openHistory(cfg)
		if hist != nil {
			defer hist.Close()
		}
		ingestor, err := buildIngestor(cfg, hist)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var report pipeline.Report
		if isURL(target) {
			printStep("Saving page %s", target)
			report, err = ingestor.SaveURL(ctx, target, opts)
		} else {
			printStep("Saving PDF %s", target)
			report, err = ingestor.SavePDF(ctx, target, opts)
		}
		if err != nil {
			return err
		}

		printReport(report)
		return nil
	},
}

func init() {
	saveCmd.Flags().String("tags", "", "comma-separated tags to apply")
	saveCmd.Flags().String("collection", "", "collection key to file the record into")
	saveCmd.Flags().String("collection-name", "", "collection name to file the record into")
	saveCmd.Flags().Int("attempts", 0, "polling attempts while waiting for the record")
	saveCmd.Flags().Duration("delay", 0, "delay between polling attempts")
}

// isURL reports whether the save target is a web page rather than a file.
func isURL(target string) bool {
	return strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://")
}

// optionsFromFlags merges save flags over the configured defaults. Flags
// win when set; attempts and delay overrides are written back into cfg.
func optionsFromFlags(cmd *cobra.Command, cfg *config.Config) pipeline.Options {
	tagsStr, _ := cmd.Flags().GetString("tags")
	if tagsStr == "" {
		tagsStr = cfg.Ingest.Tags
	}
	collectionKey, _ := cmd.Flags().GetString("collection")
	if collectionKey == "" {
		collectionKey = cfg.Ingest.CollectionKey
	}
	collectionName, _ := cmd.Flags().GetString("collection-name")
	if collectionName == "" {
		collectionName = cfg.Ingest.CollectionName
	}
	if attempts, _ := cmd.Flags().GetInt("attempts"); attempts > 0 {
		cfg.Ingest.Attempts = attempts
	}
	if delay, _ := cmd.Flags().GetDuration("delay"); delay > 0 {
		cfg.Ingest.Delay = delay.String()
	}

	return pipeline.Options{
		Tags:           config.ParseTags(tagsStr),
		CollectionKey:  collectionKey,
		CollectionName: collectionName,
	}
}

func printReport(r pipeline.Report) {
	switch r.Status {
	case history.StatusCompleted:
		printSuccess("Saved")
	default:
		printWarning("Saved with issues")
	}
	printStatus("Item", "%s", r.ItemKey)
	if r.AttachmentKey != "" && r.AttachmentKey != r.ItemKey {
		printStatus("Attachment", "%s", r.AttachmentKey)
	}
	if !r.Tags.OK {
		printError("Tags not applied: %s", r.Tags.Reason)
	}
	if !r.Collection.OK {
		printError("Collection not applied: %s", r.Collection.Reason)
	}
	if r.PlacedPath != "" {
		printStatus("File", "%s", r.PlacedPath)
	}
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show Zotero connectivity and storage status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			printError("config error: %v", err)
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		conn := connector.New(cfg.Connector.Host, cfg.Connector.Port)
		if conn.Ping(ctx) {
			printStatus("Connector", "running on port %d", cfg.Connector.Port)
		} else {
			printStatus("Connector", "not running")
		}

		lib := zotero.New(cfg.Library.BaseURL, cfg.Library.Type, cfg.Library.ID, cfg.Library.APIKey)
		if lib.IsReachable(ctx) {
			printStatus("Library", "%s %s at %s", cfg.Library.Type, cfg.Library.ID, cfg.Library.BaseURL)
		} else {
			printStatus("Library", "unreachable at %s", cfg.Library.BaseURL)
		}

		if _, err := os.Stat(cfg.Storage.Root); err != nil {
			printStatus("Storage", "missing: %s", cfg.Storage.Root)
		} else {
			printStatus("Storage", "%s", cfg.Storage.Root)
		}

		printStatus("Data dir", "%s", cfg.Storage.DataDir)
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a stored configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]

		if err := config.UnsetKey(key); err != nil {
			return err
		}

		printSuccess("Unset %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent ingestion runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		store, err := history.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening history: %w", err)
		}
		defer store.Close()

		runs, err := store.RecentRuns(limit)
		if err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}

		for _, r := range runs {
			source := r.Source
			if len(source) > 60 {
				source = source[:60] + "..."
			}
			fmt.Printf("%s  %s  %-9s  %-4s  %s\n",
				colorize(colorCyan, r.ID[:8]),
				r.CreatedAt.Local().Format("2006-01-02 15:04"),
				statusLabel(r.Status),
				r.Kind,
				source,
			)
		}
		return nil
	},
}

func statusLabel(status string) string {
	switch status {
	case history.StatusCompleted:
		return colorize(colorGreen, status)
	case history.StatusPartial:
		return colorize(colorYellow, status)
	default:
		return colorize(colorRed, status)
	}
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of runs to list")
}
