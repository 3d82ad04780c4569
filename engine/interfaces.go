package engine

import (
	"context"

	"github.com/s0up4200/unpackd/archive"
	"github.com/s0up4200/unpackd/extractor"
	"github.com/s0up4200/unpackd/qbittorrent"
)

// TorrentClient is the capability surface the engine needs from the remote
// torrent client.
type TorrentClient interface {
	ListCompleted(ctx context.Context) ([]*qbittorrent.TorrentInfo, error)
	IsComplete(ctx context.Context, hash string) (bool, error)
	Pause(ctx context.Context, hash string) error
	Resume(ctx context.Context, hash string) error
	FindByPath(ctx context.Context, path string) (*qbittorrent.TorrentInfo, error)
}

// Detector classifies a path into extractable archive sets.
type Detector interface {
	Scan(root string) ([]*archive.Set, error)
}

// Extractor invokes the external unpacking tool.
type Extractor interface {
	Extract(ctx context.Context, primary, destDir string) (*extractor.Result, error)
}

// Notifier is told about successful extractions so downstream services can
// pick the content up.
type Notifier interface {
	NotifyExtracted(ctx context.Context, jobName string)
}
