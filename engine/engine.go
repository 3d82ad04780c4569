package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/s0up4200/unpackd/archive"
	"github.com/s0up4200/unpackd/extractor"
	"github.com/s0up4200/unpackd/filter"
	"github.com/s0up4200/unpackd/qbittorrent"
	"github.com/s0up4200/unpackd/store"
)

// Engine drives each candidate download through the extraction state
// machine exactly once. All state lives in the job repository; per-key
// transitions are serialized by its compare-and-set updates, so concurrent
// workers can safely race on the same key and exactly one wins.
type Engine struct {
	repo      store.JobRepository
	torrents  TorrentClient
	detector  Detector
	extractor Extractor
	notifier  Notifier
	logger    zerolog.Logger

	mu          sync.Mutex
	active      map[string]bool
	paused      map[string]bool
	failedPolls map[string]int
	flt         *filter.Filter

	events chan *store.HistoryRecord
}

// New creates an engine. The notifier may be nil.
func New(
	repo store.JobRepository,
	torrents TorrentClient,
	detector Detector,
	ex Extractor,
	notifier Notifier,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		repo:        repo,
		torrents:    torrents,
		detector:    detector,
		extractor:   ex,
		notifier:    notifier,
		logger:      logger,
		active:      make(map[string]bool),
		paused:      make(map[string]bool),
		failedPolls: make(map[string]int),
		events:      make(chan *store.HistoryRecord, 64),
	}
}

// SetFilter installs the torrent filter applied at discovery time.
func (e *Engine) SetFilter(flt *filter.Filter) {
	e.mu.Lock()
	e.flt = flt
	e.mu.Unlock()
}

// Events returns the history feed: one record per job reaching a terminal
// status. The channel is buffered; slow consumers miss records but can
// always catch up through History.
func (e *Engine) Events() <-chan *store.HistoryRecord {
	return e.events
}

// History returns terminal outcomes, newest first.
func (e *Engine) History(ctx context.Context, limit int) ([]*store.HistoryRecord, error) {
	return e.repo.History(ctx, limit)
}

// ActiveJobs returns jobs still moving through the state machine.
func (e *Engine) ActiveJobs(ctx context.Context) ([]*store.Job, error) {
	return e.repo.ListActive(ctx)
}

// ProcessPath runs one candidate path through discovery and then as far
// through the state machine as it can go right now. Paths whose torrent
// does not match the configured filter are ignored without creating a job.
func (e *Engine) ProcessPath(ctx context.Context, path string, st *Settings) error {
	torrent, err := e.torrents.FindByPath(ctx, path)
	if err != nil {
		return fmt.Errorf("remote lookup for %s failed: %w", path, err)
	}

	if torrent != nil && !e.matchesFilter(torrent) {
		e.logger.Debug().Str("torrent", torrent.Name).Msg("Torrent does not match filter, ignoring")
		return nil
	}

	job, err := e.discover(ctx, path, torrent)
	if err != nil || job == nil {
		return err
	}

	// Claim by the canonical job key: watcher paths and torrent hashes
	// resolve to the same key here, so path-driven and poll-driven work
	// for one download collide instead of running side by side.
	if !e.claimKey(job.Key) {
		return nil
	}
	defer e.releaseKey(job.Key)

	return e.advance(ctx, job, st)
}

// Advance applies state machine transitions to a job until it reaches a
// terminal status or has to wait for an external signal. Keys already being
// advanced by another worker are left alone.
func (e *Engine) Advance(ctx context.Context, job *store.Job, st *Settings) error {
	if !e.claimKey(job.Key) {
		return nil
	}
	defer e.releaseKey(job.Key)

	return e.advance(ctx, job, st)
}

func (e *Engine) advance(ctx context.Context, job *store.Job, st *Settings) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var (
			proceed bool
			err     error
		)

		switch job.Status {
		case store.StatusDiscovered:
			proceed, err = e.stepDiscovered(ctx, job)
		case store.StatusAwaitingCompletion:
			proceed, err = e.stepAwaitingCompletion(ctx, job, st)
		case store.StatusPaused:
			proceed, err = e.stepPaused(ctx, job, st)
		case store.StatusExtracting:
			// Extraction is only ever entered by winning the Paused
			// transition inside stepPaused. A job loaded in this status
			// was interrupted mid-extraction by a crash; RecoverOrphaned
			// resets it to Paused at startup, and until then nothing may
			// run the extractor for it a second time.
			return nil
		default:
			return nil
		}

		if err != nil || !proceed {
			return err
		}
	}
}

func (e *Engine) matchesFilter(t *qbittorrent.TorrentInfo) bool {
	e.mu.Lock()
	flt := e.flt
	e.mu.Unlock()

	if flt == nil {
		return true
	}

	matched, err := flt.Match(t)
	if err != nil {
		e.logger.Warn().Err(err).Str("torrent", t.Name).Msg("Filter evaluation failed, processing anyway")
		return true
	}
	return matched
}

// discover creates the job record for a candidate, or loads the active one
// already tracking it. Returns nil for keys that already reached a terminal
// status: re-discovery is a no-op.
func (e *Engine) discover(ctx context.Context, path string, torrent *qbittorrent.TorrentInfo) (*store.Job, error) {
	job := &store.Job{
		Key:          path,
		Name:         filepath.Base(path),
		SourcePath:   path,
		Status:       store.StatusDiscovered,
		DiscoveredAt: time.Now().UTC(),
	}
	if torrent != nil {
		job.Key = torrent.Hash
		job.Hash = torrent.Hash
		job.Name = torrent.Name
		job.SourcePath = torrent.GetFullPath()
	}

	created, err := e.repo.Create(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("failed to record discovery of %s: %w", job.Key, err)
	}

	if !created {
		existing, err := e.repo.Get(ctx, job.Key)
		if err != nil {
			return nil, err
		}
		if existing.Status.IsTerminal() {
			return nil, nil
		}
		return existing, nil
	}

	e.logger.Info().
		Str("key", job.Key).
		Str("name", job.Name).
		Str("path", job.SourcePath).
		Msg("Discovered candidate download")

	return job, nil
}

// stepDiscovered classifies the download's content. No recognizable archive
// is not a failure; the job is skipped and never looked at again.
func (e *Engine) stepDiscovered(ctx context.Context, job *store.Job) (bool, error) {
	sets, err := e.detector.Scan(job.SourcePath)
	if err != nil {
		e.finish(ctx, job, store.StatusSkipped, fmt.Sprintf("archive detection failed: %v", err))
		return false, nil
	}
	if len(sets) == 0 {
		e.finish(ctx, job, store.StatusSkipped, "no extractable archives found")
		return false, nil
	}

	job.ArchiveSet = flattenSets(sets)
	job.Size = totalSize(sets)
	if err := e.repo.Update(ctx, job); err != nil {
		return false, err
	}

	return e.transition(ctx, job, store.StatusAwaitingCompletion)
}

// stepAwaitingCompletion gates extraction on the remote completion signal
// and on the full archive set being present and stable on disk.
func (e *Engine) stepAwaitingCompletion(ctx context.Context, job *store.Job, st *Settings) (bool, error) {
	if job.Hash != "" {
		complete, err := e.torrents.IsComplete(ctx, job.Hash)
		if err != nil {
			if errors.Is(err, qbittorrent.ErrTorrentNotFound) {
				failures := e.bumpFailedPolls(job.Key)
				if failures >= st.MaxFailedPolls {
					e.finish(ctx, job, store.StatusFailed,
						fmt.Sprintf("torrent missing from client for %d consecutive polls", failures))
				}
				return false, nil
			}
			// Connectivity problems are retried on the next cycle and
			// never count against the job.
			return false, fmt.Errorf("completion check for %s failed: %w", job.Key, err)
		}
		e.clearFailedPolls(job.Key)

		if !complete {
			return false, nil
		}
	}

	// Re-scan: parts that arrived after discovery belong to the set.
	sets, err := e.detector.Scan(job.SourcePath)
	if err != nil || len(sets) == 0 {
		e.finish(ctx, job, store.StatusSkipped, "archives disappeared before extraction")
		return false, nil
	}

	for _, set := range sets {
		if !set.Contiguous() {
			e.logger.Debug().
				Str("key", job.Key).
				Str("set", set.BaseName).
				Msg("Archive set has gaps, waiting for remaining parts")
			return false, nil
		}
	}

	stable, err := e.waitStable(ctx, sets, st.StabilityInterval)
	if err != nil {
		return false, err
	}
	if !stable {
		e.logger.Debug().Str("key", job.Key).Msg("Archive set still changing on disk, waiting")
		return false, nil
	}

	job.ArchiveSet = flattenSets(sets)
	job.Size = totalSize(sets)
	job.CompletedAt = time.Now().UTC()
	if err := e.repo.Update(ctx, job); err != nil {
		return false, err
	}

	return e.transition(ctx, job, store.StatusPaused)
}

// stepPaused pauses the torrent so the extractor never reads files the
// client is still writing. A failed pause is a prominent failure: a later
// manual extraction attempt risks reading torn files. Winning the
// transition into Extracting is what authorizes running the extractor, so
// extraction happens here, in the same call that won it.
func (e *Engine) stepPaused(ctx context.Context, job *store.Job, st *Settings) (bool, error) {
	if job.Hash != "" {
		if err := e.torrents.Pause(ctx, job.Hash); err != nil {
			e.logger.Error().
				Err(err).
				Str("key", job.Key).
				Str("name", job.Name).
				Msg("Failed to pause torrent before extraction; its files may still be written to")
			e.finish(ctx, job, store.StatusFailed, fmt.Sprintf("pause request failed: %v", err))
			return false, nil
		}
		e.markPaused(job.Hash)
	}

	proceed, err := e.transition(ctx, job, store.StatusExtracting)
	if err != nil || !proceed {
		return false, err
	}

	return e.stepExtracting(ctx, job, st)
}

// stepExtracting runs the external tool on every archive set of the job.
// Whatever the outcome, the torrent is resumed afterwards so nothing stays
// paused forever.
func (e *Engine) stepExtracting(ctx context.Context, job *store.Job, st *Settings) (bool, error) {
	sets, err := e.detector.Scan(job.SourcePath)
	if err != nil || len(sets) == 0 {
		e.finishExtraction(ctx, job, store.StatusFailed, "archives disappeared during extraction")
		return false, nil
	}

	dest := resolveDestination(job, sets[0], st)
	job.DestinationPath = dest
	// The torrent stays paused on a transient store error; the job is
	// still extracting and will be re-advanced.
	if err := e.repo.Update(ctx, job); err != nil {
		return false, err
	}

	for _, set := range sets {
		e.logger.Info().
			Str("key", job.Key).
			Str("archive", set.Primary).
			Int("parts", len(set.Files)).
			Str("destination", dest).
			Msg("Extracting archive set")

		result, err := e.extractor.Extract(ctx, set.Primary, dest)
		if result != nil && result.Output != "" {
			e.logger.Debug().Str("key", job.Key).Str("output", result.Output).Msg("Extractor output")
		}
		if err != nil {
			// Partial output stays on disk for inspection.
			e.finishExtraction(ctx, job, store.StatusFailed, extractionCause(err))
			return false, nil
		}
	}

	e.finishExtraction(ctx, job, store.StatusSucceeded, "")

	if st.DeleteArchives {
		e.deleteArchives(job)
	}
	if e.notifier != nil {
		e.notifier.NotifyExtracted(ctx, job.Name)
	}

	return false, nil
}

// transition applies one compare-and-set step. Losing the race means some
// other worker owns the job now; back off without error.
func (e *Engine) transition(ctx context.Context, job *store.Job, to store.Status) (bool, error) {
	ok, err := e.repo.CompareAndSetStatus(ctx, job.Key, job.Status, to)
	if err != nil {
		return false, err
	}
	if !ok {
		e.logger.Debug().
			Str("key", job.Key).
			Str("from", string(job.Status)).
			Str("to", string(to)).
			Msg("Lost transition race, another worker owns the job")
		return false, nil
	}

	job.Status = to

	return true, nil
}

// finish writes a terminal outcome and publishes its history record.
func (e *Engine) finish(ctx context.Context, job *store.Job, to store.Status, cause string) {
	ok, err := e.repo.Finish(ctx, job.Key, job.Status, to, cause)
	if err != nil {
		e.logger.Error().Err(err).Str("key", job.Key).Msg("Failed to record terminal job status")
		return
	}
	if !ok {
		return
	}

	job.Status = to
	job.Error = cause
	job.FinishedAt = time.Now().UTC()

	event := e.logger.Info()
	if to == store.StatusFailed {
		event = e.logger.Warn()
	}
	event.
		Str("key", job.Key).
		Str("name", job.Name).
		Str("status", string(to)).
		Str("cause", cause).
		Msg("Job finished")

	e.emit(&store.HistoryRecord{
		Key:             job.Key,
		Name:            job.Name,
		Status:          job.Status,
		SourcePath:      job.SourcePath,
		DestinationPath: job.DestinationPath,
		Error:           job.Error,
		Size:            job.Size,
		FinishedAt:      job.FinishedAt,
	})
}

// finishExtraction records the outcome and then always attempts to resume
// the torrent, success or not.
func (e *Engine) finishExtraction(ctx context.Context, job *store.Job, to store.Status, cause string) {
	e.finish(ctx, job, to, cause)
	e.resumeAfterTerminal(job)
}

func (e *Engine) resumeAfterTerminal(job *store.Job) {
	if job.Hash == "" {
		return
	}

	// Detached from the job context so cancellation can't strand a
	// paused torrent.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.torrents.Resume(ctx, job.Hash); err != nil {
		e.logger.Warn().Err(err).Str("key", job.Key).Msg("Failed to resume torrent")
		return
	}
	e.clearPaused(job.Hash)
}

// RecoverOrphaned resets jobs interrupted mid-extraction back to Paused so
// the next cycle re-runs them. Call once at startup, before any worker is
// dispatched; a live job in Extracting always belongs to a running worker.
func (e *Engine) RecoverOrphaned(ctx context.Context) error {
	jobs, err := e.repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active jobs: %w", err)
	}

	for _, job := range jobs {
		if job.Status != store.StatusExtracting {
			continue
		}
		ok, err := e.repo.CompareAndSetStatus(ctx, job.Key, store.StatusExtracting, store.StatusPaused)
		if err != nil {
			return err
		}
		if ok {
			e.logger.Warn().
				Str("key", job.Key).
				Str("name", job.Name).
				Msg("Recovered job interrupted mid-extraction, will extract again")
		}
	}

	return nil
}

// ResumeAllPaused resumes every torrent this engine paused and has not yet
// resumed. Called during shutdown so nothing is left paused by a job that
// never got to finish.
func (e *Engine) ResumeAllPaused(ctx context.Context) {
	e.mu.Lock()
	hashes := make([]string, 0, len(e.paused))
	for hash := range e.paused {
		hashes = append(hashes, hash)
	}
	e.mu.Unlock()

	for _, hash := range hashes {
		if err := e.torrents.Resume(ctx, hash); err != nil {
			e.logger.Warn().Err(err).Str("hash", hash).Msg("Failed to resume torrent during shutdown")
			continue
		}
		e.clearPaused(hash)
	}
}

func (e *Engine) deleteArchives(job *store.Job) {
	for _, part := range job.ArchiveSet {
		if err := os.Remove(part); err != nil {
			e.logger.Warn().Err(err).Str("part", part).Msg("Failed to delete archive part")
			continue
		}
		e.logger.Debug().Str("part", part).Msg("Deleted archive part")
	}
}

// waitStable confirms every part's size is unchanged across two successive
// observations, the proxy for "fully written to disk".
func (e *Engine) waitStable(ctx context.Context, sets []*archive.Set, interval time.Duration) (bool, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	first := snapshotSizes(sets)
	if hasMissing(first) {
		return false, nil
	}

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(interval):
	}

	second := snapshotSizes(sets)
	if hasMissing(second) || len(first) != len(second) {
		return false, nil
	}
	for path, size := range first {
		if second[path] != size {
			return false, nil
		}
	}

	return true, nil
}

// claimKey marks a job key as being advanced by the calling worker.
// At most one worker may hold a key at a time.
func (e *Engine) claimKey(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active[key] {
		return false
	}
	e.active[key] = true
	return true
}

func (e *Engine) releaseKey(key string) {
	e.mu.Lock()
	delete(e.active, key)
	e.mu.Unlock()
}

func (e *Engine) markPaused(hash string) {
	e.mu.Lock()
	e.paused[hash] = true
	e.mu.Unlock()
}

func (e *Engine) clearPaused(hash string) {
	e.mu.Lock()
	delete(e.paused, hash)
	e.mu.Unlock()
}

func (e *Engine) bumpFailedPolls(key string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failedPolls[key]++
	return e.failedPolls[key]
}

func (e *Engine) clearFailedPolls(key string) {
	e.mu.Lock()
	delete(e.failedPolls, key)
	e.mu.Unlock()
}

func (e *Engine) emit(record *store.HistoryRecord) {
	select {
	case e.events <- record:
	default:
	}
}

// resolveDestination picks where extracted content lands: next to the
// archive, or in a subfolder named after the download with a " (N)" suffix
// when that name is already taken.
func resolveDestination(job *store.Job, set *archive.Set, st *Settings) string {
	parent := filepath.Dir(set.Primary)
	if !st.CreateSubfolder {
		return parent
	}

	base := job.Name
	if base == "" {
		base = set.BaseName
	}

	dir := filepath.Join(parent, base)
	for counter := 1; ; counter++ {
		// Any stat failure means the name is not known to be taken; use
		// it and let MkdirAll surface the real problem.
		if _, err := os.Stat(dir); err != nil {
			return dir
		}
		dir = filepath.Join(parent, fmt.Sprintf("%s (%d)", base, counter))
	}
}

func extractionCause(err error) string {
	var exErr *extractor.Error
	if errors.As(err, &exErr) {
		return fmt.Sprintf("extraction failed: %s", exErr.Cause)
	}
	return fmt.Sprintf("extraction failed: %v", err)
}

func flattenSets(sets []*archive.Set) []string {
	var files []string
	for _, set := range sets {
		files = append(files, set.Files...)
	}
	return files
}

func totalSize(sets []*archive.Set) int64 {
	var total int64
	for _, set := range sets {
		total += set.TotalSize()
	}
	return total
}

func snapshotSizes(sets []*archive.Set) map[string]int64 {
	sizes := make(map[string]int64)
	for _, set := range sets {
		for path, size := range set.Sizes() {
			sizes[path] = size
		}
	}
	return sizes
}

func hasMissing(sizes map[string]int64) bool {
	for _, size := range sizes {
		if size < 0 {
			return true
		}
	}
	return false
}
