package qbittorrent

import "time"

// TorrentInfo contains the subset of torrent state the engine cares about.
type TorrentInfo struct {
	Hash         string
	Name         string
	SavePath     string
	ContentPath  string
	State        string
	Size         int64
	Progress     float64
	Category     string
	Tags         []string
	AddedOn      time.Time
	CompletionOn time.Time
}

// downloadingStates are states in which qBittorrent is still writing to the
// torrent's files on disk.
var downloadingStates = map[string]bool{
	"downloading":        true,
	"stalledDL":          true,
	"metaDL":             true,
	"queuedDL":           true,
	"forcedDL":           true,
	"allocating":         true,
	"checkingDL":         true,
	"checkingResumeData": true,
}

// IsComplete reports whether the torrent finished downloading: full
// progress and no active download state.
func (t *TorrentInfo) IsComplete() bool {
	return t.Progress >= 1.0 && !downloadingStates[t.State]
}

// IsDownloading reports whether qBittorrent may still be writing the
// torrent's files.
func (t *TorrentInfo) IsDownloading() bool {
	return downloadingStates[t.State]
}

// GetFullPath returns the full path to the torrent content on disk.
func (t *TorrentInfo) GetFullPath() string {
	if t.ContentPath != "" {
		return t.ContentPath
	}
	return t.SavePath + "/" + t.Name
}

// HasTag reports whether the torrent carries the given tag.
func (t *TorrentInfo) HasTag(tag string) bool {
	for _, candidate := range t.Tags {
		if candidate == tag {
			return true
		}
	}
	return false
}
