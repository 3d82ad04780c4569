package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/s0up4200/unpackd/store"
	"github.com/s0up4200/unpackd/watcher"
)

// ErrAlreadyRunning is returned by Start when the scheduler is active.
var ErrAlreadyRunning = errors.New("scheduler already running")

// pollErrorBackoff is how long torrent listing is suspended after a failed
// poll, so a down client is not hammered every tick.
const pollErrorBackoff = 60 * time.Second

// Scheduler feeds the engine from two independent sources: filesystem
// events under the monitored directory, debounced so half-written files do
// not trigger work, and a periodic poll of the torrent client that also
// re-advances jobs waiting on an external signal. Work runs on a bounded
// worker pool.
type Scheduler struct {
	engine   *Engine
	torrents TorrentClient
	logger   zerolog.Logger

	settings atomic.Pointer[Settings]

	mu           sync.Mutex
	running      bool
	watch        *watcher.Watcher
	group        *errgroup.Group
	intakeCancel context.CancelFunc
	workCancel   context.CancelFunc
	done         chan struct{}

	pendingMu sync.Mutex
	pending   map[string]time.Time
	inflight  map[string]bool

	// Accessed only from the run goroutine.
	pollBackoffUntil time.Time
}

// NewScheduler creates a stopped scheduler with the given settings.
func NewScheduler(eng *Engine, torrents TorrentClient, st *Settings, logger zerolog.Logger) *Scheduler {
	s := &Scheduler{
		engine:   eng,
		torrents: torrents,
		logger:   logger,
		pending:  make(map[string]time.Time),
		inflight: make(map[string]bool),
	}
	s.settings.Store(st)
	return s
}

// UpdateSettings swaps in a new settings snapshot. It takes effect on the
// next cycle; a changed monitor path needs a Stop and Start.
func (s *Scheduler) UpdateSettings(st *Settings) {
	s.settings.Store(st)
}

// Start brings up the watcher, the poll loop and the worker pool.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	st := s.settings.Load()

	w, err := watcher.New(st.MonitorPath, s.logger)
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", st.MonitorPath, err)
	}

	workCtx, workCancel := context.WithCancel(context.Background())
	intakeCtx, intakeCancel := context.WithCancel(workCtx)

	group := new(errgroup.Group)
	group.SetLimit(st.MaxParallel)

	s.watch = w
	s.group = group
	s.workCancel = workCancel
	s.intakeCancel = intakeCancel
	s.done = make(chan struct{})
	s.running = true

	go w.Run(intakeCtx)
	go s.run(intakeCtx, workCtx)

	s.logger.Info().
		Str("path", st.MonitorPath).
		Dur("poll_interval", st.PollInterval).
		Int("max_parallel", st.MaxParallel).
		Msg("Monitoring started")

	return nil
}

// Stop shuts the intake down, gives in-flight extractions a grace period
// to finish, then cancels whatever is left and resumes every torrent the
// engine still holds paused.
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	intakeCancel := s.intakeCancel
	workCancel := s.workCancel
	group := s.group
	done := s.done
	s.running = false
	s.mu.Unlock()

	st := s.settings.Load()

	intakeCancel()
	<-done

	finished := make(chan struct{})
	go func() {
		// Workers never return errors; failures are logged per job.
		_ = group.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(st.GraceTimeout):
		s.logger.Warn().
			Dur("grace_timeout", st.GraceTimeout).
			Msg("Grace period expired, cancelling in-flight jobs")
		workCancel()
		<-finished
	}
	workCancel()

	s.engine.ResumeAllPaused(ctx)

	s.logger.Info().Msg("Monitoring stopped")
}

// ManualScan walks the monitored directory once and runs every entry
// through the pipeline synchronously. Entries already tracked are no-ops.
func (s *Scheduler) ManualScan(ctx context.Context) error {
	st := s.settings.Load()

	if err := s.engine.RecoverOrphaned(ctx); err != nil {
		return err
	}

	entries, err := os.ReadDir(st.MonitorPath)
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", st.MonitorPath, err)
	}

	for _, entry := range entries {
		path := filepath.Join(st.MonitorPath, entry.Name())
		if err := s.engine.ProcessPath(ctx, path, st); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			s.logger.Error().Err(err).Str("path", path).Msg("Failed to process candidate")
		}
	}

	return nil
}

func (s *Scheduler) run(intakeCtx, workCtx context.Context) {
	defer close(s.done)

	st := s.settings.Load()

	poll := time.NewTicker(st.PollInterval)
	defer poll.Stop()
	sweep := time.NewTicker(sweepInterval(st.Debounce))
	defer sweep.Stop()

	// Jobs interrupted mid-extraction by the previous process must go
	// through the pause step again before any worker picks them up.
	if err := s.engine.RecoverOrphaned(workCtx); err != nil {
		s.logger.Error().Err(err).Msg("Failed to recover interrupted jobs")
	}

	// Catch up on anything that completed while we were not running.
	s.pollCycle(workCtx)

	for {
		select {
		case <-intakeCtx.Done():
			return
		case ev, ok := <-s.watch.Events:
			if !ok {
				return
			}
			s.noteEvent(st, ev.Path)
		case err := <-s.watch.Errors:
			if errors.Is(err, watcher.ErrRootLost) {
				s.logger.Error().Err(err).Msg("Monitored directory is gone, stopping intake")
				return
			}
			s.logger.Warn().Err(err).Msg("Watcher error")
		case <-sweep.C:
			s.flushPending(workCtx)
		case <-poll.C:
			st = s.settings.Load()
			s.pollCycle(workCtx)
		}
	}
}

// pollCycle asks the client for completed torrents under the monitor root
// and re-advances every job still waiting on something.
func (s *Scheduler) pollCycle(ctx context.Context) {
	st := s.settings.Load()

	if time.Now().After(s.pollBackoffUntil) {
		torrents, err := s.torrents.ListCompleted(ctx)
		if err != nil {
			s.pollBackoffUntil = time.Now().Add(pollErrorBackoff)
			s.logger.Warn().
				Err(err).
				Dur("backoff", pollErrorBackoff).
				Msg("Completed torrent poll failed, backing off")
		} else {
			for _, t := range torrents {
				full := t.GetFullPath()
				if !underRoot(st.MonitorPath, full) {
					continue
				}
				s.dispatchPath(ctx, full, st)
			}
		}
	}

	jobs, err := s.engine.ActiveJobs(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list active jobs")
		return
	}
	for _, job := range jobs {
		s.dispatchJob(ctx, job, st)
	}
}

// dispatchPath hands a candidate path to the pool. Returns false when the
// path is already in flight or the pool is full; the caller keeps it
// pending, the next sweep or poll retries.
func (s *Scheduler) dispatchPath(ctx context.Context, path string, st *Settings) bool {
	if !s.claim(path) {
		return true
	}

	accepted := s.group.TryGo(func() error {
		defer s.release(path)
		if err := s.engine.ProcessPath(ctx, path, st); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Str("path", path).Msg("Failed to process candidate")
		}
		return nil
	})
	if !accepted {
		s.release(path)
	}
	return accepted
}

func (s *Scheduler) dispatchJob(ctx context.Context, job *store.Job, st *Settings) {
	if !s.claim(job.Key) {
		return
	}

	accepted := s.group.TryGo(func() error {
		defer s.release(job.Key)
		if err := s.engine.Advance(ctx, job, st); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Str("key", job.Key).Msg("Failed to advance job")
		}
		return nil
	})
	if !accepted {
		s.release(job.Key)
	}
}

// noteEvent records filesystem activity against the top-level candidate
// the path belongs to, restarting its debounce window.
func (s *Scheduler) noteEvent(st *Settings, path string) {
	candidate := candidateFor(st.MonitorPath, path)
	if candidate == "" {
		return
	}

	s.pendingMu.Lock()
	s.pending[candidate] = time.Now()
	s.pendingMu.Unlock()
}

// flushPending dispatches candidates whose debounce window has been quiet.
func (s *Scheduler) flushPending(ctx context.Context) {
	st := s.settings.Load()
	now := time.Now()

	s.pendingMu.Lock()
	var ready []string
	for path, last := range s.pending {
		if now.Sub(last) >= st.Debounce {
			ready = append(ready, path)
		}
	}
	s.pendingMu.Unlock()

	for _, path := range ready {
		if s.dispatchPath(ctx, path, st) {
			s.pendingMu.Lock()
			delete(s.pending, path)
			s.pendingMu.Unlock()
		}
	}
}

func (s *Scheduler) claim(key string) bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if s.inflight[key] {
		return false
	}
	s.inflight[key] = true
	return true
}

func (s *Scheduler) release(key string) {
	s.pendingMu.Lock()
	delete(s.inflight, key)
	s.pendingMu.Unlock()
}

// candidateFor maps a path inside the monitored directory to its top-level
// entry: the unit jobs are keyed on for unmapped downloads.
func candidateFor(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ""
	}
	parts := strings.SplitN(rel, string(filepath.Separator), 2)
	return filepath.Join(root, parts[0])
}

func underRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func sweepInterval(debounce time.Duration) time.Duration {
	interval := debounce / 2
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}
