package cmd

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/s0up4200/unpackd/filter"
	"github.com/s0up4200/unpackd/qbittorrent"
)

// testCmd represents the test command
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test connections and configuration",
	Long:  `Test the connection to qBittorrent, check that the extractor binary is reachable and validate the configured filter.`,
	RunE:  runTest,
}

func runTest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	fmt.Printf("Testing connection to qBittorrent at %s...\n", cfg.QBittorrent.URL)

	client, err := qbittorrent.NewClient(cfg.QBittorrent.URL, cfg.QBittorrent.Username, cfg.QBittorrent.Password, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to qBittorrent: %w", err)
	}
	fmt.Println("✓ Connection successful!")

	torrents, err := client.ListCompleted(ctx)
	if err != nil {
		return fmt.Errorf("failed to list torrents: %w", err)
	}
	fmt.Printf("- Completed torrents: %d\n", len(torrents))

	fmt.Printf("\nChecking extractor binary %q... ", cfg.Extraction.SevenZipPath)
	if path, err := exec.LookPath(cfg.Extraction.SevenZipPath); err != nil {
		fmt.Println("✗ not found in PATH")
	} else {
		fmt.Printf("✓ %s\n", path)
	}

	fmt.Printf("\nValidating filter expression %q... ", cfg.Filter.Expression)
	if _, err := filter.Compile(cfg.Filter.Expression); err != nil {
		fmt.Println("✗ invalid")
		return err
	}
	fmt.Println("✓ ok")

	var enabled int
	for _, a := range cfg.Arr {
		if a.Enabled {
			enabled++
			fmt.Printf("\nPost-extraction rescan: %s (%s) at %s\n", a.Name, a.Type, a.URL)
		}
	}
	if enabled == 0 {
		fmt.Println("\nPost-extraction rescan: Disabled")
	}

	return nil
}
