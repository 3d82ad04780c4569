package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the extraction daemon",
	Long: `Watch the download directory and poll qBittorrent continuously,
extracting every completed download that matches the configured filter.`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	stack, err := buildStack()
	if err != nil {
		return err
	}
	defer stack.Close()

	logger.Info().
		Str("version", version).
		Str("path", cfg.Monitor.Path).
		Msg("Starting unpackd")

	if err := stack.scheduler.Start(); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	received := <-sig

	logger.Info().Str("signal", received.String()).Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	stack.scheduler.Stop(ctx)

	return nil
}
