package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jshapiro/conveyor/internal/artifact"
	"github.com/jshapiro/conveyor/internal/config"
)

var (
	listOwner string
	listTags  []string
	listSince time.Duration

	showContent bool

	cleanupMaxAge   time.Duration
	cleanupMaxCount int
)

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Inspect and maintain the artifact store",
}

var artifactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored artifacts",
	Long: `List stored artifacts, newest first.

Examples:
  conveyor artifacts list
  conveyor artifacts list --owner coder
  conveyor artifacts list --tag run:3f2a1b4c
  conveyor artifacts list --since 24h`,
	RunE: runArtifactsList,
}

var artifactsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one artifact's metadata and summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runArtifactsShow,
}

var artifactsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one artifact",
	Args:  cobra.ExactArgs(1),
	RunE:  runArtifactsDelete,
}

var artifactsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired and surplus artifacts",
	Long: `Remove artifacts that have outlived their TTL, then apply the age
and count ceilings. Ceilings default to the configured values; zero
disables a ceiling.

Examples:
  conveyor artifacts cleanup
  conveyor artifacts cleanup --max-age 720h
  conveyor artifacts cleanup --max-count 500`,
	RunE: runArtifactsCleanup,
}

var artifactsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print artifact IDs as they are stored",
	Long: `Watch the artifact store and print the ID of every artifact as it
lands. Useful alongside a run in another terminal. Stop with Ctrl-C.`,
	RunE: runArtifactsWatch,
}

func init() {
	artifactsListCmd.Flags().StringVar(&listOwner, "owner", "", "Only artifacts produced by this executor")
	artifactsListCmd.Flags().StringArrayVar(&listTags, "tag", nil, "Only artifacts carrying this tag (repeatable)")
	artifactsListCmd.Flags().DurationVar(&listSince, "since", 0, "Only artifacts newer than this age")

	artifactsShowCmd.Flags().BoolVar(&showContent, "content", false, "Also print the stored content")

	artifactsCleanupCmd.Flags().DurationVar(&cleanupMaxAge, "max-age", 0, "Age ceiling (overrides config)")
	artifactsCleanupCmd.Flags().IntVar(&cleanupMaxCount, "max-count", 0, "Count ceiling (overrides config)")

	artifactsCmd.AddCommand(artifactsListCmd)
	artifactsCmd.AddCommand(artifactsShowCmd)
	artifactsCmd.AddCommand(artifactsDeleteCmd)
	artifactsCmd.AddCommand(artifactsCleanupCmd)
	artifactsCmd.AddCommand(artifactsWatchCmd)
}

func runArtifactsList(cmd *cobra.Command, args []string) error {
	store, err := openConfiguredStore()
	if err != nil {
		return err
	}
	defer store.Close()

	query := artifact.FindQuery{OwnerID: listOwner, Tags: listTags}
	if listSince > 0 {
		query.Since = time.Now().Add(-listSince)
	}

	ids, err := store.Find(query)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("No artifacts found.")
		return nil
	}

	for _, id := range ids {
		meta, err := store.Get(id)
		if err != nil {
			return err
		}
		kind := "unknown"
		if summary, err := store.Summary(id); err == nil {
			kind = string(summary.Kind)
		}
		fmt.Printf("%s  %-10s  %-8s  %6d bytes  %s  %s\n",
			meta.ID, meta.OwnerID, kind, meta.Size,
			meta.CreatedAt.Format("2006-01-02 15:04"), meta.Description)
	}
	return nil
}

func runArtifactsShow(cmd *cobra.Command, args []string) error {
	store, err := openConfiguredStore()
	if err != nil {
		return err
	}
	defer store.Close()

	id := args[0]
	meta, err := store.Get(id)
	if err != nil {
		return err
	}

	fmt.Printf("ID:          %s\n", meta.ID)
	fmt.Printf("Owner:       %s\n", meta.OwnerID)
	fmt.Printf("Description: %s\n", meta.Description)
	fmt.Printf("Encoding:    %s\n", meta.Encoding)
	fmt.Printf("Size:        %d bytes\n", meta.Size)
	fmt.Printf("Hash:        %s\n", meta.ContentHash)
	if len(meta.Tags) > 0 {
		fmt.Printf("Tags:        %s\n", strings.Join(meta.Tags, ", "))
	}
	fmt.Printf("Usage count: %d\n", meta.UsageCount)
	fmt.Printf("Created:     %s\n", meta.CreatedAt.Format(time.RFC3339))
	if meta.ExpiresAt != nil {
		fmt.Printf("Expires:     %s\n", meta.ExpiresAt.Format(time.RFC3339))
	}

	if summary, err := store.Summary(id); err == nil {
		fmt.Printf("\nKind:   %s\n", summary.Kind)
		fmt.Printf("Digest: %s\n", summary.Digest)
		for _, point := range summary.KeyPoints {
			fmt.Printf("  - %s\n", point)
		}
	}

	if showContent {
		content, err := store.Load(id)
		if err != nil {
			return err
		}
		fmt.Println()
		switch v := content.(type) {
		case []byte:
			os.Stdout.Write(v)
		case string:
			fmt.Println(v)
		default:
			encoded, err := json.MarshalIndent(v, "", "  ")
			if err != nil {
				return fmt.Errorf("render content: %w", err)
			}
			fmt.Println(string(encoded))
		}
	}
	return nil
}

func runArtifactsDelete(cmd *cobra.Command, args []string) error {
	store, err := openConfiguredStore()
	if err != nil {
		return err
	}
	defer store.Close()

	removed, err := store.Delete(args[0])
	if err != nil {
		return err
	}
	if !removed {
		fmt.Printf("Artifact %s not found.\n", args[0])
		return nil
	}
	fmt.Printf("Deleted artifact %s.\n", args[0])
	return nil
}

func runArtifactsCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	maxAge := cfg.Artifacts.MaxAge
	if cleanupMaxAge > 0 {
		maxAge = cleanupMaxAge
	}
	maxCount := cfg.Artifacts.MaxCount
	if cleanupMaxCount > 0 {
		maxCount = cleanupMaxCount
	}

	removed, err := store.Cleanup(maxAge, maxCount)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d artifact(s).\n", removed)
	return nil
}

func runArtifactsWatch(cmd *cobra.Command, args []string) error {
	store, err := openConfiguredStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ids, err := store.Watch(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Watching %s (Ctrl-C to stop)\n", store.Root())
	for id := range ids {
		color.Green("stored %s", id)
	}
	return nil
}

// openConfiguredStore loads config and opens the store at its root.
func openConfiguredStore() (*artifact.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return openStore(cfg)
}
