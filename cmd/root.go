package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/s0up4200/unpackd/archive"
	"github.com/s0up4200/unpackd/arr"
	"github.com/s0up4200/unpackd/config"
	"github.com/s0up4200/unpackd/engine"
	"github.com/s0up4200/unpackd/extractor"
	"github.com/s0up4200/unpackd/filter"
	"github.com/s0up4200/unpackd/qbittorrent"
	"github.com/s0up4200/unpackd/store"
	"github.com/s0up4200/unpackd/store/sqlite"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  zerolog.Logger

	version   = "dev"
	buildTime = "unknown"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "unpackd",
	Short: "Automatic archive extraction for completed downloads",
	Long: `unpackd watches a download directory and the qBittorrent Web API for
completed downloads, pauses each torrent, unpacks its archives with 7-Zip
and keeps a durable history of every outcome.`,
	PersistentPreRunE: initializeApp,
}

// SetVersion records the build metadata injected by the linker.
func SetVersion(v, bt string) {
	version = v
	buildTime = bt
	rootCmd.Version = fmt.Sprintf("%s (built %s)", v, bt)
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(testCmd)
}

// initializeApp loads the configuration and sets up logging
func initializeApp(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger = setupLogger(cfg.Logging)

	return nil
}

// setupLogger configures the zerolog logger
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		return zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
		NoColor:    !cfg.Color || !isatty.IsTerminal(os.Stderr.Fd()),
	}

	return zerolog.New(output).With().Timestamp().Logger()
}

// appStack bundles everything the daemon and one-shot commands wire up.
type appStack struct {
	db        *sql.DB
	repo      store.JobRepository
	torrents  *qbittorrent.Client
	engine    *engine.Engine
	scheduler *engine.Scheduler
}

func (s *appStack) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// buildStack wires the job store, clients, engine and scheduler from the
// loaded configuration.
func buildStack() (*appStack, error) {
	db, err := sqlite.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	repo := sqlite.NewJobRepository(db)

	torrents, err := qbittorrent.NewClient(cfg.QBittorrent.URL, cfg.QBittorrent.Username, cfg.QBittorrent.Password, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create qBittorrent client: %w", err)
	}

	flt, err := filter.Compile(cfg.Filter.Expression)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("invalid filter expression: %w", err)
	}

	var notifier engine.Notifier
	var instances []*arr.Instance
	for _, a := range cfg.Arr {
		if !a.Enabled {
			continue
		}
		instance, err := arr.NewInstance(a.Name, a.Type, a.URL, a.APIKey)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create %s client %q: %w", a.Type, a.Name, err)
		}
		instances = append(instances, instance)
		logger.Info().Str("instance", a.Name).Str("type", a.Type).Msg("Post-extraction rescan enabled")
	}
	if len(instances) > 0 {
		notifier = arr.NewNotifier(instances, logger)
	}

	ex := extractor.NewSevenZip(cfg.Extraction.SevenZipPath, cfg.Extraction.Timeout, logger)

	eng := engine.New(repo, torrents, archive.NewDetector(), ex, notifier, logger)
	eng.SetFilter(flt)

	scheduler := engine.NewScheduler(eng, torrents, engine.SettingsFromConfig(cfg), logger)

	return &appStack{
		db:        db,
		repo:      repo,
		torrents:  torrents,
		engine:    eng,
		scheduler: scheduler,
	}, nil
}

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the monitored directory once",
	Long:  `Walk the monitored directory a single time and run every entry through the extraction pipeline, then exit.`,
	RunE:  runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	stack, err := buildStack()
	if err != nil {
		return err
	}
	defer stack.Close()

	ctx := context.Background()

	logger.Info().Str("path", cfg.Monitor.Path).Msg("Scanning for completed downloads")

	if err := stack.scheduler.ManualScan(ctx); err != nil {
		return err
	}

	jobs, err := stack.engine.ActiveJobs(ctx)
	if err != nil {
		return err
	}
	if len(jobs) > 0 {
		fmt.Printf("\n%d download(s) still waiting for completion; run the daemon or scan again later.\n", len(jobs))
	}

	return nil
}
