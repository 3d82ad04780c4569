package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/s0up4200/unpackd/store"
	"github.com/s0up4200/unpackd/store/sqlite"
)

var historyLimit int

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show finished extraction jobs",
	Long:  `List finished extraction jobs, newest first, with their outcome and failure cause.`,
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum entries to show (0 for all)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	db, err := sqlite.InitDB(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	repo := sqlite.NewJobRepository(db)

	records, err := repo.History(context.Background(), historyLimit)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Println("No finished jobs yet.")
		return nil
	}

	fmt.Printf("%-20s %-10s %-10s %s\n", "FINISHED", "STATUS", "SIZE", "NAME")
	fmt.Println(strings.Repeat("-", 80))

	for _, record := range records {
		size := "-"
		if record.Size > 0 {
			size = humanize.Bytes(uint64(record.Size))
		}

		fmt.Printf("%-20s %-10s %-10s %s\n",
			record.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			record.Status,
			size,
			record.Name,
		)

		switch record.Status {
		case store.StatusSucceeded:
			if record.DestinationPath != "" {
				fmt.Printf("  → %s\n", record.DestinationPath)
			}
		case store.StatusFailed, store.StatusSkipped:
			if record.Error != "" {
				fmt.Printf("  ✗ %s\n", record.Error)
			}
		}
	}

	return nil
}
