package qbittorrent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/autobrr/go-qbittorrent"
	"github.com/avast/retry-go"
	"github.com/rs/zerolog"
)

// Client wraps the qBittorrent Web API for the extraction engine. It is a
// pure I/O boundary: list, query, pause and resume torrents by hash.
type Client struct {
	client *qbittorrent.Client
	logger zerolog.Logger
	opts   clientOptions
}

// NewClient creates a client and verifies credentials by logging in. Login
// is retried with backoff since qBittorrent may still be starting up.
func NewClient(url, username, password string, logger zerolog.Logger, options ...Option) (*Client, error) {
	opts := defaultClientOptions()
	for _, opt := range options {
		opt(&opts)
	}

	client := qbittorrent.NewClient(qbittorrent.Config{
		Host:     url,
		Username: username,
		Password: password,
	})

	err := retry.Do(
		func() error { return client.Login() },
		retry.Attempts(uint(opts.maxRetries)),
		retry.Delay(opts.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return &Client{
		client: client,
		logger: logger,
		opts:   opts,
	}, nil
}

// ListCompleted returns every torrent that finished downloading. Completion
// is the remote client's own signal: full progress and no active download
// state. File sizes are never re-derived locally.
func (c *Client) ListCompleted(ctx context.Context) ([]*TorrentInfo, error) {
	torrents, err := c.listAll(ctx)
	if err != nil {
		return nil, err
	}

	var completed []*TorrentInfo
	for _, t := range torrents {
		if t.IsComplete() {
			completed = append(completed, t)
		}
	}

	c.logger.Debug().
		Int("total", len(torrents)).
		Int("completed", len(completed)).
		Msg("Listed torrents from qBittorrent")

	return completed, nil
}

// IsComplete reports whether the torrent with the given hash has finished
// downloading. A missing torrent returns ErrTorrentNotFound.
func (c *Client) IsComplete(ctx context.Context, hash string) (bool, error) {
	t, err := c.get(ctx, hash)
	if err != nil {
		return false, err
	}
	return t.IsComplete(), nil
}

// Pause pauses the torrent with the given hash.
func (c *Client) Pause(ctx context.Context, hash string) error {
	if hash == "" {
		return ErrInvalidHash
	}
	if err := c.client.PauseCtx(ctx, []string{hash}); err != nil {
		return fmt.Errorf("failed to pause torrent %s: %w", hash, err)
	}

	c.logger.Debug().Str("hash", hash).Msg("Paused torrent")

	return nil
}

// Resume resumes the torrent with the given hash.
func (c *Client) Resume(ctx context.Context, hash string) error {
	if hash == "" {
		return ErrInvalidHash
	}
	if err := c.client.ResumeCtx(ctx, []string{hash}); err != nil {
		return fmt.Errorf("failed to resume torrent %s: %w", hash, err)
	}

	c.logger.Debug().Str("hash", hash).Msg("Resumed torrent")

	return nil
}

// FindByPath finds the torrent whose content path contains the given
// filesystem path. Returns nil when no torrent maps to the path; downloads
// placed in the monitored folder by other means are still processed, keyed
// by path instead of hash.
func (c *Client) FindByPath(ctx context.Context, path string) (*TorrentInfo, error) {
	torrents, err := c.listAll(ctx)
	if err != nil {
		return nil, err
	}

	searchPath := filepath.Clean(path)

	for _, torrent := range torrents {
		torrentPath := filepath.Clean(torrent.GetFullPath())

		if torrentPath == searchPath {
			return torrent, nil
		}
		if strings.HasPrefix(searchPath, torrentPath+string(filepath.Separator)) {
			return torrent, nil
		}
	}

	return nil, nil
}

func (c *Client) listAll(ctx context.Context) ([]*TorrentInfo, error) {
	raw, err := c.client.GetTorrentsCtx(ctx, qbittorrent.TorrentFilterOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get torrents: %w", ErrConnectionFailed, err)
	}

	results := make([]*TorrentInfo, 0, len(raw))
	for _, t := range raw {
		results = append(results, convert(t))
	}

	return results, nil
}

func (c *Client) get(ctx context.Context, hash string) (*TorrentInfo, error) {
	if hash == "" {
		return nil, ErrInvalidHash
	}

	raw, err := c.client.GetTorrentsCtx(ctx, qbittorrent.TorrentFilterOptions{
		Hashes: []string{hash},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get torrent %s: %w", ErrConnectionFailed, hash, err)
	}
	if len(raw) == 0 {
		return nil, ErrTorrentNotFound
	}

	return convert(raw[0]), nil
}

func convert(t qbittorrent.Torrent) *TorrentInfo {
	return &TorrentInfo{
		Hash:         t.Hash,
		Name:         t.Name,
		SavePath:     t.SavePath,
		ContentPath:  t.ContentPath,
		State:        string(t.State),
		Size:         t.Size,
		Progress:     t.Progress,
		Category:     t.Category,
		Tags:         splitTags(t.Tags),
		AddedOn:      time.Unix(t.AddedOn, 0),
		CompletionOn: time.Unix(t.CompletionOn, 0),
	}
}

func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}
