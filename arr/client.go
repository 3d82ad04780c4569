// Package arr notifies Sonarr/Radarr instances after a successful
// extraction so the freshly unpacked files are imported without waiting for
// their own scan interval.
package arr

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golift.io/starr"
	"golift.io/starr/radarr"
	"golift.io/starr/sonarr"
)

const apiTimeout = 30 * time.Second

// commandRunner triggers a downloaded-content scan on one instance.
type commandRunner interface {
	Trigger(ctx context.Context) error
}

type radarrRunner struct {
	client *radarr.Radarr
}

func (r *radarrRunner) Trigger(ctx context.Context) error {
	_, err := r.client.SendCommandContext(ctx, &radarr.CommandRequest{Name: "DownloadedMoviesScan"})
	return err
}

type sonarrRunner struct {
	client *sonarr.Sonarr
}

func (s *sonarrRunner) Trigger(ctx context.Context) error {
	_, err := s.client.SendCommandContext(ctx, &sonarr.CommandRequest{Name: "DownloadedEpisodesScan"})
	return err
}

// Instance is one configured Sonarr or Radarr endpoint.
type Instance struct {
	name   string
	runner commandRunner
}

// Notifier fans a rescan request out to every configured instance.
// Notification failures never affect the job outcome.
type Notifier struct {
	instances []*Instance
	logger    zerolog.Logger
}

// NewInstance builds an instance for the given application kind.
func NewInstance(name, kind, url, apiKey string) (*Instance, error) {
	cfg := starr.New(apiKey, url, apiTimeout)

	switch kind {
	case "radarr":
		return &Instance{name: name, runner: &radarrRunner{client: radarr.New(cfg)}}, nil
	case "sonarr":
		return &Instance{name: name, runner: &sonarrRunner{client: sonarr.New(cfg)}}, nil
	}

	return nil, fmt.Errorf("unsupported arr type: %s", kind)
}

// NewNotifier creates a notifier over the given instances.
func NewNotifier(instances []*Instance, logger zerolog.Logger) *Notifier {
	return &Notifier{
		instances: instances,
		logger:    logger,
	}
}

// NotifyExtracted asks every instance to rescan its download folder.
func (n *Notifier) NotifyExtracted(ctx context.Context, jobName string) {
	for _, instance := range n.instances {
		if err := instance.runner.Trigger(ctx); err != nil {
			n.logger.Warn().
				Err(err).
				Str("instance", instance.name).
				Str("job", jobName).
				Msg("Failed to trigger rescan")
			continue
		}

		n.logger.Debug().
			Str("instance", instance.name).
			Str("job", jobName).
			Msg("Triggered rescan")
	}
}
