// Package store defines the durable job records tracked per completed
// download and the repository contract their persistence must satisfy.
package store

import (
	"context"
	"time"
)

// Status is the position of a job in the extraction state machine.
type Status string

const (
	StatusDiscovered         Status = "discovered"
	StatusAwaitingCompletion Status = "awaiting_completion"
	StatusPaused             Status = "paused"
	StatusExtracting         Status = "extracting"
	StatusSucceeded          Status = "succeeded"
	StatusFailed             Status = "failed"
	StatusSkipped            Status = "skipped"
)

// IsTerminal reports whether no further transition can occur from s.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusSkipped
}

// Job is one unit of extraction work, keyed by torrent hash or, when no
// torrent maps to the download, by source path.
type Job struct {
	Key             string
	Name            string
	Hash            string
	SourcePath      string
	Status          Status
	ArchiveSet      []string
	DestinationPath string
	Error           string
	Size            int64
	DiscoveredAt    time.Time
	CompletedAt     time.Time
	FinishedAt      time.Time
}

// HistoryRecord is the read-only projection of a terminal job kept for
// display. Created when a job reaches a terminal status, never mutated.
type HistoryRecord struct {
	Key             string
	Name            string
	Status          Status
	SourcePath      string
	DestinationPath string
	Error           string
	Size            int64
	FinishedAt      time.Time
}

// JobRepository is the single source of truth for whether a download has
// been processed. All mutation goes through its atomic per-key operations;
// the compare-and-set transition guards the at-most-one-active-job
// invariant even under concurrent discovery of the same key.
type JobRepository interface {
	// Create inserts a new job in its initial status. Returns false without
	// error when the key already exists, terminal or active: re-discovery
	// is a no-op.
	Create(ctx context.Context, job *Job) (bool, error)

	// Get returns the job for key, or ErrJobNotFound.
	Get(ctx context.Context, key string) (*Job, error)

	// Update persists mutable job fields (archive set, destination, size,
	// timestamps). Terminal jobs are never touched.
	Update(ctx context.Context, job *Job) error

	// CompareAndSetStatus transitions key from one status to another
	// atomically. Returns false when the job was not in the expected
	// status, in which case another transition won the race.
	CompareAndSetStatus(ctx context.Context, key string, from, to Status) (bool, error)

	// Finish moves a job into a terminal status, recording the cause for
	// failures. Guarded by the same compare-and-set semantics.
	Finish(ctx context.Context, key string, from, to Status, cause string) (bool, error)

	// ListAll returns every stored job.
	ListAll(ctx context.Context) ([]*Job, error)

	// ListActive returns jobs in a non-terminal status.
	ListActive(ctx context.Context) ([]*Job, error)

	// History returns terminal jobs as read-only records, newest first,
	// up to limit (0 means no limit).
	History(ctx context.Context, limit int) ([]*HistoryRecord, error)
}
