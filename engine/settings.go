package engine

import (
	"time"

	"github.com/s0up4200/unpackd/config"
)

// Settings is the immutable per-cycle snapshot of everything the engine and
// scheduler read from configuration. A live settings change swaps the
// snapshot reference; it never mutates shared fields mid-job.
type Settings struct {
	MonitorPath       string
	PollInterval      time.Duration
	Debounce          time.Duration
	StabilityInterval time.Duration
	MaxFailedPolls    int

	CreateSubfolder bool
	DeleteArchives  bool
	MaxParallel     int
	GraceTimeout    time.Duration

	FilterExpression string
}

// SettingsFromConfig projects the loaded configuration onto a snapshot.
func SettingsFromConfig(cfg *config.Config) *Settings {
	return &Settings{
		MonitorPath:       cfg.Monitor.Path,
		PollInterval:      cfg.Monitor.PollInterval,
		Debounce:          cfg.Monitor.Debounce,
		StabilityInterval: cfg.Monitor.StabilityInterval,
		MaxFailedPolls:    cfg.Monitor.MaxFailedPolls,
		CreateSubfolder:   cfg.Extraction.CreateSubfolder,
		DeleteArchives:    cfg.Extraction.DeleteArchives,
		MaxParallel:       cfg.Extraction.MaxParallel,
		GraceTimeout:      cfg.Extraction.GraceTimeout,
		FilterExpression:  cfg.Filter.Expression,
	}
}
